package quorumlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// minimum drift: one millisecond of node expiry precision plus one
// millisecond for small TTLs
const driftFloor = 2 * time.Millisecond

// Manager acquires and releases majority locks over a fixed set of nodes.
// It is safe for concurrent use; every Acquire and Release contacts all nodes.
type Manager struct {
	nodes    *NodeSet
	majority int
	opts     options
	log      *zap.Logger
	tracer   trace.Tracer
}

// New returns a Manager over nodes. Connections are made with dial on first
// use and kept until Close.
func New(nodes []Node, dial Dialer, opts ...Option) (*Manager, error) {
	if len(nodes) == 0 {
		return nil, lockError(ErrInvalidArgument, "at least one node is required")
	}
	if dial == nil {
		return nil, lockError(ErrInvalidArgument, "dialer is required")
	}
	return newManager(newNodeSet(nodes, dial), opts)
}

// NewWithClients returns a Manager over already connected clients. The
// Manager takes ownership of the clients and closes them on Close.
func NewWithClients(clients []NodeClient, opts ...Option) (*Manager, error) {
	if len(clients) == 0 {
		return nil, lockError(ErrInvalidArgument, "at least one client is required")
	}
	nodes := make([]Node, len(clients))
	for i, c := range clients {
		if c == nil {
			return nil, lockError(ErrInvalidArgument, fmt.Sprintf("client %d is nil", i))
		}
		nodes[i] = Node{Name: fmt.Sprintf("node-%d", i)}
	}
	return newManager(newNodeSetWithClients(nodes, clients), opts)
}

func newManager(nodes *NodeSet, opts []Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	switch {
	case o.retry.Count < 1:
		return nil, lockError(ErrInvalidArgument, "retry count must be >= 1")
	case o.retry.Delay < 0:
		return nil, lockError(ErrInvalidArgument, "retry delay must be >= 0")
	case o.clockDriftFactor < 0 || o.clockDriftFactor >= 1:
		return nil, lockError(ErrInvalidArgument, "clock drift factor must be in [0, 1)")
	case o.fanOut < 0:
		return nil, lockError(ErrInvalidArgument, "fan-out must be >= 0")
	}

	return &Manager{
		nodes:    nodes,
		majority: Majority(nodes.Len()),
		opts:     o,
		log:      o.logger.Named("quorumlock"),
		tracer:   newTracer(o.tracerProvider),
	}, nil
}

func (m *Manager) Majority() int {
	return m.majority
}

func (m *Manager) Nodes() []Node {
	return m.nodes.Nodes()
}

// Connect dials every node eagerly. A Manager with unreachable nodes is still
// usable as long as a majority answers.
func (m *Manager) Connect(ctx context.Context) error {
	err := m.nodes.Connect(ctx)
	var nodeErr *NodeError
	for _, e := range unwrapJoined(err) {
		if errors.As(e, &nodeErr) {
			m.reportNodeError(nodeErr)
		}
	}
	return err
}

// Close releases every node connection. Handles that are still held are not
// released; their keys expire on the nodes.
func (m *Manager) Close() error {
	return m.nodes.Close()
}

// Acquire tries to lock resource for ttl. It returns the handle and true when
// a majority of nodes granted the lock with positive validity left. When all
// rounds fail it returns (nil, false, nil). An error is returned only for
// invalid arguments, a closed manager, or when ctx is done between rounds.
func (m *Manager) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Handle, bool, error) {
	if strings.TrimSpace(resource) == "" {
		return nil, false, lockError(ErrInvalidArgument, "resource is required")
	}
	if ttl <= 0 {
		return nil, false, lockError(ErrInvalidArgument, "ttl must be > 0")
	}
	if m.nodes.isClosed() {
		return nil, false, ErrClosed
	}

	ctx, span := m.tracer.Start(ctx, "quorumlock.Acquire", trace.WithAttributes(
		resourceAttr(resource),
		attribute.Int64("quorumlock.ttl_ms", ttl.Milliseconds()),
	))
	defer span.End()

	began := time.Now()
	h, ok, err := m.acquire(ctx, resource, ttl)
	status := "not_acquired"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case ok:
		status = "acquired"
	}
	span.SetAttributes(attribute.Bool("quorumlock.acquired", ok))
	m.opts.metrics.observeAcquire(status, time.Since(began).Seconds())

	if ok {
		m.log.Info("lock acquired",
			zap.String("resource", resource),
			zap.Duration("validity", h.Validity),
		)
	}
	return h, ok, err
}

func (m *Manager) acquire(ctx context.Context, resource string, ttl time.Duration) (*Handle, bool, error) {
	attempts := m.opts.retry.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := m.opts.retry.Wait(ctx); err != nil {
				return nil, false, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		h, ok, err := m.attempt(ctx, resource, ttl, attempt)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return h, true, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

// attempt runs one round: set on every node, count grants, compute validity,
// and on failure delete the round's token from every node.
func (m *Manager) attempt(ctx context.Context, resource string, ttl time.Duration, attempt int) (*Handle, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, fmt.Errorf("generate token: %w", err)
	}

	ctx, span := m.tracer.Start(ctx, "quorumlock.attempt", trace.WithAttributes(
		resourceAttr(resource),
		attribute.Int("quorumlock.attempt", attempt),
	))
	defer span.End()

	start := m.opts.now()
	granted := m.fanOut(ctx, OpSet, func(ctx context.Context, c NodeClient) (bool, error) {
		return c.SetIfAbsent(ctx, resource, token, ttl)
	})
	end := m.opts.now()

	drift := time.Duration(float64(ttl)*m.opts.clockDriftFactor) + driftFloor
	validity := ttl - end.Sub(start) - drift

	span.SetAttributes(
		attribute.Int("quorumlock.granted", granted),
		attribute.Int("quorumlock.majority", m.majority),
		attribute.Int64("quorumlock.validity_ms", validity.Milliseconds()),
	)
	m.log.Debug("acquire round",
		zap.String("resource", resource),
		zap.Int("attempt", attempt),
		zap.Int("granted", granted),
		zap.Int("majority", m.majority),
		zap.Duration("validity", validity),
	)

	if granted >= m.majority && validity > 0 {
		m.opts.metrics.observeAttempt("granted")
		return &Handle{
			Resource:   resource,
			Token:      token,
			Validity:   validity,
			AcquiredAt: end,
		}, true, nil
	}

	if granted >= m.majority {
		m.opts.metrics.observeAttempt("expired")
	} else {
		m.opts.metrics.observeAttempt("no_quorum")
	}
	// nodes that timed out may still have stored the token
	m.fanOut(context.WithoutCancel(ctx), OpDelete, func(ctx context.Context, c NodeClient) (bool, error) {
		return c.CompareAndDelete(ctx, resource, token)
	})
	return nil, false, nil
}

// Release deletes the handle's token from every node where it is still the
// stored value. Node failures are reported through the logger, metrics and
// node error handler but never returned. The only errors are caller misuse:
// ErrInvalidHandle for a nil or malformed handle and ErrClosed after Close.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if err := h.validate(); err != nil {
		return err
	}
	if m.nodes.isClosed() {
		return ErrClosed
	}

	ctx, span := m.tracer.Start(ctx, "quorumlock.Release", trace.WithAttributes(resourceAttr(h.Resource)))
	defer span.End()

	deleted := m.fanOut(context.WithoutCancel(ctx), OpDelete, func(ctx context.Context, c NodeClient) (bool, error) {
		return c.CompareAndDelete(ctx, h.Resource, h.Token)
	})
	span.SetAttributes(attribute.Int("quorumlock.deleted", deleted))
	m.opts.metrics.observeRelease()
	m.log.Info("lock released",
		zap.String("resource", h.Resource),
		zap.Int("deleted", deleted),
	)
	return nil
}

// fanOut calls fn on every node, at most opts.fanOut at a time, and returns
// how many calls reported true. A node that fails counts as false.
func (m *Manager) fanOut(ctx context.Context, op string, fn func(context.Context, NodeClient) (bool, error)) int {
	var count atomic.Int64
	var g errgroup.Group
	if m.opts.fanOut > 0 {
		g.SetLimit(m.opts.fanOut)
	}

	for i, node := range m.nodes.Nodes() {
		g.Go(func() error {
			c, err := m.nodes.client(ctx, i)
			if err != nil {
				if !errors.Is(err, ErrClosed) {
					m.reportNodeError(newNodeError(node, OpConnect, err))
				}
				return nil
			}

			opCtx, cancel := context.WithTimeout(ctx, node.timeout())
			defer cancel()
			ok, err := fn(opCtx, c)
			if err != nil {
				m.reportNodeError(newNodeError(node, op, err))
				return nil
			}
			if ok {
				count.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(count.Load())
}

func (m *Manager) reportNodeError(e *NodeError) {
	m.log.Warn("node call failed",
		zap.String("node", e.Node),
		zap.String("op", e.Op),
		zap.Error(e.Err),
	)
	m.opts.metrics.observeNodeError(e)
	if m.opts.onNodeError != nil {
		m.opts.onNodeError(e)
	}
}

func unwrapJoined(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
