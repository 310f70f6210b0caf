package quorumlock

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultClockDriftFactor = 0.01

type options struct {
	retry            RetryPolicy
	clockDriftFactor float64
	fanOut           int
	logger           *zap.Logger
	metrics          *Metrics
	tracerProvider   trace.TracerProvider
	onNodeError      func(*NodeError)
	now              func() time.Time
}

func defaultOptions() options {
	return options{
		retry: RetryPolicy{
			Count: DefaultRetryCount,
			Delay: DefaultRetryDelay,
		},
		clockDriftFactor: DefaultClockDriftFactor,
		logger:           zap.NewNop(),
		now:              time.Now,
	}
}

// Option configures a Manager.
type Option func(*options)

func WithRetryCount(n int) Option {
	return func(o *options) { o.retry.Count = n }
}

func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retry.Delay = d }
}

// WithClockDriftFactor sets the share of the TTL reserved for clock drift
// between this process and the nodes.
func WithClockDriftFactor(f float64) Option {
	return func(o *options) { o.clockDriftFactor = f }
}

// WithFanOut limits how many nodes are contacted concurrently in one round.
// Zero means all of them; 1 contacts nodes one after another.
func WithFanOut(n int) Option {
	return func(o *options) { o.fanOut = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithNodeErrorHandler registers a callback invoked for every node failure,
// including failures during rounds that still reach a majority and failures
// during release. It never changes the outcome of an operation and may be
// called from several goroutines at once.
func WithNodeErrorHandler(fn func(*NodeError)) Option {
	return func(o *options) { o.onNodeError = fn }
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
