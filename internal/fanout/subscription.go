// Package fanout implements the Socket.IO-compatible push protocol: clients
// subscribe to (mint, interval) pairs and receive live candle updates as
// they're produced by the storage layer, plus an initial history backfill.
package fanout

import (
	"fmt"
	"sync"
	"time"
)

// ClientConnection tracks one socket's subscriptions and liveness.
type ClientConnection struct {
	SocketID         string
	Subscriptions    map[string]struct{} // "mint:interval"
	LastActivity     time.Time
	ConnectedAt      time.Time
	SubscriptionCount int
}

// Manager is the subscription index shared by every connected socket. It
// mirrors three views of the same data under one lock: per-client
// connection state, a (mint, interval) -> client-set forward index used for
// broadcast fanout, and a client -> subscription-key reverse index used to
// clean up a client in O(its own subscriptions) rather than a full scan.
type Manager struct {
	mu sync.RWMutex

	connections         map[string]*ClientConnection
	mintSubscribers     map[string]map[string]map[string]struct{} // mint -> interval -> socketID set
	clientSubscriptions map[string]map[string]struct{}            // socketID -> subscription-key set

	maxSubscriptionsPerClient int
}

// NewManager builds an empty subscription index.
func NewManager(maxSubscriptionsPerClient int) *Manager {
	return &Manager{
		connections:         make(map[string]*ClientConnection),
		mintSubscribers:     make(map[string]map[string]map[string]struct{}),
		clientSubscriptions: make(map[string]map[string]struct{}),
		maxSubscriptionsPerClient: maxSubscriptionsPerClient,
	}
}

// AddConnection registers a newly connected socket.
func (m *Manager) AddConnection(socketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.connections[socketID] = &ClientConnection{
		SocketID:      socketID,
		Subscriptions: make(map[string]struct{}),
		LastActivity:  now,
		ConnectedAt:   now,
	}
}

func subscriptionKey(mint, interval string) string {
	return mint + ":" + interval
}

// ErrClientNotFound is returned when a subscription operation targets a
// socket that has already disconnected.
var ErrClientNotFound = fmt.Errorf("fanout: client not found")

// ErrSubscriptionLimit is returned when a client is already at its
// per-connection subscription quota.
var ErrSubscriptionLimit = fmt.Errorf("fanout: subscription limit exceeded")

// AddSubscription records socketID's interest in (mint, interval). It is
// idempotent: re-subscribing to the same pair is a no-op, not an error.
func (m *Manager) AddSubscription(socketID, mint, interval string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.connections[socketID]
	if !ok {
		return ErrClientNotFound
	}
	key := subscriptionKey(mint, interval)
	if _, already := client.Subscriptions[key]; already {
		return nil
	}
	if client.SubscriptionCount >= m.maxSubscriptionsPerClient {
		return ErrSubscriptionLimit
	}

	client.Subscriptions[key] = struct{}{}
	client.SubscriptionCount++

	if m.mintSubscribers[mint] == nil {
		m.mintSubscribers[mint] = make(map[string]map[string]struct{})
	}
	if m.mintSubscribers[mint][interval] == nil {
		m.mintSubscribers[mint][interval] = make(map[string]struct{})
	}
	m.mintSubscribers[mint][interval][socketID] = struct{}{}

	if m.clientSubscriptions[socketID] == nil {
		m.clientSubscriptions[socketID] = make(map[string]struct{})
	}
	m.clientSubscriptions[socketID][key] = struct{}{}

	return nil
}

// RemoveSubscription reverses AddSubscription. Removing a subscription that
// doesn't exist is a no-op.
func (m *Manager) RemoveSubscription(socketID, mint, interval string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeSubscriptionLocked(socketID, mint, interval)
}

func (m *Manager) removeSubscriptionLocked(socketID, mint, interval string) {
	key := subscriptionKey(mint, interval)

	if client, ok := m.connections[socketID]; ok {
		if _, had := client.Subscriptions[key]; had {
			delete(client.Subscriptions, key)
			if client.SubscriptionCount > 0 {
				client.SubscriptionCount--
			}
		}
	}

	if intervalMap, ok := m.mintSubscribers[mint]; ok {
		if clientSet, ok := intervalMap[interval]; ok {
			delete(clientSet, socketID)
			if len(clientSet) == 0 {
				delete(intervalMap, interval)
			}
		}
		if len(intervalMap) == 0 {
			delete(m.mintSubscribers, mint)
		}
	}

	if subs, ok := m.clientSubscriptions[socketID]; ok {
		delete(subs, key)
	}
}

// Subscribers returns the socket IDs currently subscribed to (mint, interval).
func (m *Manager) Subscribers(mint, interval string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	intervalMap, ok := m.mintSubscribers[mint]
	if !ok {
		return nil
	}
	clientSet, ok := intervalMap[interval]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(clientSet))
	for id := range clientSet {
		out = append(out, id)
	}
	return out
}

// RemoveClient unwinds every subscription a disconnected socket held and
// drops its connection record.
func (m *Manager) RemoveClient(socketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.clientSubscriptions[socketID]
	if ok {
		keys := make([]string, 0, len(subs))
		for k := range subs {
			keys = append(keys, k)
		}
		for _, key := range keys {
			mint, interval, ok := splitSubscriptionKey(key)
			if ok {
				m.removeSubscriptionLocked(socketID, mint, interval)
			}
		}
		delete(m.clientSubscriptions, socketID)
	}
	delete(m.connections, socketID)
}

func splitSubscriptionKey(key string) (mint, interval string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// UpdateActivity records a liveness heartbeat for socketID.
func (m *Manager) UpdateActivity(socketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.connections[socketID]; ok {
		client.LastActivity = time.Now()
	}
}

// InactiveClients returns socket IDs whose last activity is older than
// timeout, as of now.
func (m *Manager) InactiveClients(now time.Time, timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, c := range m.connections {
		if now.Sub(c.LastActivity) > timeout {
			out = append(out, id)
		}
	}
	return out
}

// Stats is a point-in-time snapshot for the performance reporter.
type Stats struct {
	Connections   int
	Subscriptions int
	MonitoredMints int
	TopMints      []MintLoad
}

// MintLoad is one entry in the top-N subscribed-mints ranking.
type MintLoad struct {
	Mint        string
	Subscribers int
}

// Snapshot computes Stats including the top topN mints by subscriber count.
func (m *Manager) Snapshot(topN int) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := 0
	for _, s := range m.clientSubscriptions {
		subs += len(s)
	}

	loads := make([]MintLoad, 0, len(m.mintSubscribers))
	for mint, intervals := range m.mintSubscribers {
		total := 0
		for _, clientSet := range intervals {
			total += len(clientSet)
		}
		loads = append(loads, MintLoad{Mint: mint, Subscribers: total})
	}
	sortMintLoadsDesc(loads)
	if len(loads) > topN {
		loads = loads[:topN]
	}

	return Stats{
		Connections:    len(m.connections),
		Subscriptions:  subs,
		MonitoredMints: len(m.mintSubscribers),
		TopMints:       loads,
	}
}

func sortMintLoadsDesc(loads []MintLoad) {
	for i := 1; i < len(loads); i++ {
		for j := i; j > 0 && loads[j].Subscribers > loads[j-1].Subscribers; j-- {
			loads[j], loads[j-1] = loads[j-1], loads[j]
		}
	}
}
