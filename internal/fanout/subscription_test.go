package fanout

import (
	"testing"
	"time"
)

func TestAddAndRemoveSubscriptionSymmetry(t *testing.T) {
	m := NewManager(100)
	m.AddConnection("sock1")

	if err := m.AddSubscription("sock1", "mintA", "s1"); err != nil {
		t.Fatalf("add subscription: %v", err)
	}
	subs := m.Subscribers("mintA", "s1")
	if len(subs) != 1 || subs[0] != "sock1" {
		t.Fatalf("subscribers = %v, want [sock1]", subs)
	}

	m.RemoveSubscription("sock1", "mintA", "s1")
	subs = m.Subscribers("mintA", "s1")
	if len(subs) != 0 {
		t.Fatalf("subscribers after remove = %v, want none", subs)
	}
	if _, exists := m.mintSubscribers["mintA"]; exists {
		t.Fatal("mintSubscribers should be pruned to empty after last subscriber leaves")
	}
}

func TestAddSubscriptionIsIdempotent(t *testing.T) {
	m := NewManager(2)
	m.AddConnection("sock1")
	if err := m.AddSubscription("sock1", "mintA", "s1"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := m.AddSubscription("sock1", "mintA", "s1"); err != nil {
		t.Fatalf("second (idempotent) add: %v", err)
	}
	client := m.connections["sock1"]
	if client.SubscriptionCount != 1 {
		t.Errorf("SubscriptionCount = %d, want 1", client.SubscriptionCount)
	}
}

func TestSubscriptionLimitEnforced(t *testing.T) {
	m := NewManager(1)
	m.AddConnection("sock1")
	if err := m.AddSubscription("sock1", "mintA", "s1"); err != nil {
		t.Fatalf("add within limit: %v", err)
	}
	err := m.AddSubscription("sock1", "mintB", "s1")
	if err != ErrSubscriptionLimit {
		t.Fatalf("err = %v, want ErrSubscriptionLimit", err)
	}
}

func TestAddSubscriptionUnknownClient(t *testing.T) {
	m := NewManager(10)
	if err := m.AddSubscription("ghost", "mintA", "s1"); err != ErrClientNotFound {
		t.Fatalf("err = %v, want ErrClientNotFound", err)
	}
}

func TestRemoveClientUnwindsAllSubscriptions(t *testing.T) {
	m := NewManager(10)
	m.AddConnection("sock1")
	m.AddSubscription("sock1", "mintA", "s1")
	m.AddSubscription("sock1", "mintB", "m5")

	m.RemoveClient("sock1")

	if len(m.Subscribers("mintA", "s1")) != 0 {
		t.Error("mintA subscription should be gone after RemoveClient")
	}
	if len(m.Subscribers("mintB", "m5")) != 0 {
		t.Error("mintB subscription should be gone after RemoveClient")
	}
	if _, ok := m.connections["sock1"]; ok {
		t.Error("connection record should be removed")
	}
}

func TestInactiveClients(t *testing.T) {
	m := NewManager(10)
	m.AddConnection("sock1")
	m.connections["sock1"].LastActivity = time.Now().Add(-time.Hour)

	inactive := m.InactiveClients(time.Now(), time.Minute)
	if len(inactive) != 1 || inactive[0] != "sock1" {
		t.Fatalf("inactive = %v, want [sock1]", inactive)
	}

	m.UpdateActivity("sock1")
	inactive = m.InactiveClients(time.Now(), time.Minute)
	if len(inactive) != 0 {
		t.Fatalf("inactive after UpdateActivity = %v, want none", inactive)
	}
}

func TestSnapshotTopMints(t *testing.T) {
	m := NewManager(10)
	m.AddConnection("s1")
	m.AddConnection("s2")
	m.AddConnection("s3")
	m.AddSubscription("s1", "mintA", "s1")
	m.AddSubscription("s2", "mintA", "s1")
	m.AddSubscription("s3", "mintB", "s1")

	snap := m.Snapshot(5)
	if snap.Connections != 3 {
		t.Errorf("Connections = %d, want 3", snap.Connections)
	}
	if snap.MonitoredMints != 2 {
		t.Errorf("MonitoredMints = %d, want 2", snap.MonitoredMints)
	}
	if len(snap.TopMints) != 2 || snap.TopMints[0].Mint != "mintA" || snap.TopMints[0].Subscribers != 2 {
		t.Fatalf("TopMints = %+v, want mintA first with 2 subscribers", snap.TopMints)
	}
}
