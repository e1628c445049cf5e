package subscriber

import (
	"testing"
	"time"

	"github.com/spinpet/kline-indexer/pkg/types"
)

func TestBackoffDelayCapsAndGrows(t *testing.T) {
	base := time.Second
	cases := []struct {
		attempts uint32
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{7, 60 * time.Second}, // 2^6 = 64s, capped at 60s
	}
	for _, c := range cases {
		got := backoffDelay(base, c.attempts)
		if got < c.want {
			t.Errorf("attempts=%d: delay %v below want %v", c.attempts, got, c.want)
		}
		if got >= c.want+2*time.Second {
			t.Errorf("attempts=%d: delay %v exceeds want %v plus jitter", c.attempts, got, c.want)
		}
	}
}

func TestHasCPI(t *testing.T) {
	tests := []struct {
		logs []string
		want bool
	}{
		{[]string{"Program log: hi"}, false},
		{[]string{"Program X invoke [1]", "Program Y invoke [2]"}, true},
		{[]string{"Program X invoke [1]"}, false},
	}
	for _, tc := range tests {
		if got := hasCPI(tc.logs); got != tc.want {
			t.Errorf("hasCPI(%v) = %v, want %v", tc.logs, got, tc.want)
		}
	}
}

func TestEventsEqualBySignatureAndOrderPDA(t *testing.T) {
	a := &types.Event{Type: types.EventOpen, Signature: "sig1", Open: &types.OpenEvent{OrderPDA: "pda1"}}
	b := &types.Event{Type: types.EventOpen, Signature: "sig1", Open: &types.OpenEvent{OrderPDA: "pda1"}}
	c := &types.Event{Type: types.EventOpen, Signature: "sig1", Open: &types.OpenEvent{OrderPDA: "pda2"}}

	if !eventsEqual(a, b) {
		t.Errorf("expected equal events with same signature and order_pda")
	}
	if eventsEqual(a, c) {
		t.Errorf("expected distinct events with different order_pda")
	}
}

func TestEventsEqualTradeIgnoresOrderPDA(t *testing.T) {
	a := &types.Event{Type: types.EventTrade, Signature: "sig1", Trade: &types.TradeEvent{}}
	b := &types.Event{Type: types.EventTrade, Signature: "sig1", Trade: &types.TradeEvent{}}
	if !eventsEqual(a, b) {
		t.Errorf("expected trade events with same signature to be equal regardless of other fields")
	}
}

func TestContainsEquivalent(t *testing.T) {
	existing := []*types.Event{
		{Type: types.EventTrade, Signature: "sig1", Trade: &types.TradeEvent{}},
	}
	dup := &types.Event{Type: types.EventTrade, Signature: "sig1", Trade: &types.TradeEvent{}}
	fresh := &types.Event{Type: types.EventTrade, Signature: "sig2", Trade: &types.TradeEvent{}}

	if !containsEquivalent(existing, dup) {
		t.Errorf("expected dup to be recognized as equivalent")
	}
	if containsEquivalent(existing, fresh) {
		t.Errorf("expected fresh signature to not be equivalent")
	}
}
