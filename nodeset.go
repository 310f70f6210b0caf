package quorumlock

import (
	"context"
	"errors"
	"sync"
)

type nodeSlot struct {
	node Node

	mu     sync.Mutex
	client NodeClient
}

// NodeSet owns one client per configured node. Clients are dialed on first
// use, cached, and closed together by Close. A failed dial is retried on the
// next use.
type NodeSet struct {
	dial  Dialer
	slots []*nodeSlot

	mu     sync.RWMutex
	closed bool
}

func newNodeSet(nodes []Node, dial Dialer) *NodeSet {
	slots := make([]*nodeSlot, len(nodes))
	for i, n := range nodes {
		slots[i] = &nodeSlot{node: n}
	}
	return &NodeSet{dial: dial, slots: slots}
}

func newNodeSetWithClients(nodes []Node, clients []NodeClient) *NodeSet {
	s := newNodeSet(nodes, nil)
	for i, c := range clients {
		s.slots[i].client = c
	}
	return s
}

func (s *NodeSet) Len() int {
	return len(s.slots)
}

func (s *NodeSet) Nodes() []Node {
	nodes := make([]Node, len(s.slots))
	for i, slot := range s.slots {
		nodes[i] = slot.node
	}
	return nodes
}

func (s *NodeSet) client(ctx context.Context, i int) (NodeClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	slot := s.slots[i]
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.client != nil {
		return slot.client, nil
	}
	if s.dial == nil {
		return nil, errors.New("no dialer configured")
	}

	dialCtx, cancel := context.WithTimeout(ctx, slot.node.timeout())
	defer cancel()
	c, err := s.dial(dialCtx, slot.node)
	if err != nil {
		return nil, err
	}
	slot.client = c
	return c, nil
}

// Connect dials every node that is not connected yet and returns the joined
// connection errors.
func (s *NodeSet) Connect(ctx context.Context) error {
	var errs []error
	for i, slot := range s.slots {
		if _, err := s.client(ctx, i); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			errs = append(errs, newNodeError(slot.node, OpConnect, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every cached client. It is safe to call more than once.
func (s *NodeSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, slot := range s.slots {
		slot.mu.Lock()
		if slot.client != nil {
			if err := slot.client.Close(); err != nil {
				errs = append(errs, err)
			}
			slot.client = nil
		}
		slot.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (s *NodeSet) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
