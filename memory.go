package quorumlock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryNode is a NodeClient backed by a map in this process.
type MemoryNode struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryNode() *MemoryNode {
	return &MemoryNode{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// MemoryDialer returns a Dialer that hands out one MemoryNode per node
// address, so several managers dialing the same address share state.
func MemoryDialer() Dialer {
	var mu sync.Mutex
	nodes := make(map[string]*MemoryNode)
	return func(ctx context.Context, node Node) (NodeClient, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		n, ok := nodes[node.Addr()]
		if !ok {
			n = NewMemoryNode()
			nodes[node.Addr()] = n
		}
		return memoryConn{n}, nil
	}
}

func (n *MemoryNode) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if e, ok := n.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	n.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

func (n *MemoryNode) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[key]
	if !ok {
		return false, nil
	}
	if !n.now().Before(e.expiresAt) {
		delete(n.entries, key)
		return false, nil
	}
	if e.value != value {
		return false, nil
	}
	delete(n.entries, key)
	return true, nil
}

// Get returns the live value stored for key.
func (n *MemoryNode) Get(key string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.entries[key]
	if !ok || !n.now().Before(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (n *MemoryNode) Close() error {
	return nil
}

// memoryConn keeps a shared MemoryNode open when one manager closes it.
type memoryConn struct {
	*MemoryNode
}

func (memoryConn) Close() error {
	return nil
}
