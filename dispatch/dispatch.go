// Package dispatch delivers finalized orders to downstream sinks with
// per-sink idempotency and bounded retry. The session orchestrator
// hands over an order snapshot exactly once at call end; everything
// after that point is this package's problem.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentplexus/orderline/internal/clock"
	"github.com/agentplexus/orderline/order"
)

// Sink accepts a finalized order record. Implementations must be safe
// for concurrent use across calls.
type Sink interface {
	// Name identifies the sink in results and logs.
	Name() string

	// Deliver sends one order record. Errors whose Temporary method
	// reports true are retried; everything else is terminal.
	Deliver(ctx context.Context, snap order.Snapshot) error
}

// RetryPolicy bounds delivery retries. Only transient failures consume
// the retry budget; terminal failures are reported immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per sink.
	MaxAttempts int

	// BaseBackoff is the wait before the second attempt; it doubles
	// on each subsequent attempt.
	BaseBackoff time.Duration

	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	return p
}

// SinkResult is the outcome of one sink's delivery.
type SinkResult struct {
	Sink     string
	Attempts int
	Err      error

	// AlreadyDelivered is true when the idempotency record suppressed
	// a duplicate send. Counts as success.
	AlreadyDelivered bool
}

// Result is the outcome of one Deliver call across all sinks.
type Result struct {
	Key   string
	Sinks []SinkResult
}

// Succeeded reports whether every sink delivered (or had already
// delivered) the order.
func (r Result) Succeeded() bool {
	for _, s := range r.Sinks {
		if s.Err != nil {
			return false
		}
	}
	return len(r.Sinks) > 0
}

type deliveryStatus int

const (
	statusInFlight deliveryStatus = iota
	statusDelivered
)

type stateKey struct {
	sink string
	key  string
}

// deliveryKey is the idempotency key for one order: the call
// identifier, the stream identifier when the call id is absent, or a
// random id as a last resort. Sinks reuse it so retries and duplicate
// deliveries carry the same id downstream.
func deliveryKey(snap order.Snapshot) string {
	if snap.CallID != "" {
		return snap.CallID
	}
	if snap.StreamID != "" {
		return snap.StreamID
	}
	return uuid.NewString()
}

// Dispatcher fans a finalized order out to its sinks. Each sink's
// delivery is independent: its own retry budget, its own idempotency
// record, no rollback across sinks. The idempotency table is the only
// state shared across calls.
type Dispatcher struct {
	sinks  []Sink
	policy RetryPolicy
	clk    clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	state map[stateKey]deliveryStatus
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithSinks appends delivery sinks.
func WithSinks(sinks ...Sink) Option {
	return func(d *Dispatcher) {
		d.sinks = append(d.sinks, sinks...)
	}
}

// WithRetryPolicy overrides the default policy (3 attempts, 1s base
// backoff doubling to a 30s cap).
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

// WithClock injects a clock for the backoff waits.
func WithClock(clk clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clk = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clk:    clock.Real(),
		logger: slog.Default(),
		state:  make(map[stateKey]deliveryStatus),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.policy = d.policy.withDefaults()
	return d
}

// Deliver sends the snapshot to every sink concurrently and blocks
// until all have finished or given up.
func (d *Dispatcher) Deliver(ctx context.Context, snap order.Snapshot) Result {
	key := deliveryKey(snap)

	results := make([]SinkResult, len(d.sinks))
	var wg sync.WaitGroup
	for i, sink := range d.sinks {
		wg.Add(1)
		go func(i int, sink Sink) {
			defer wg.Done()
			results[i] = d.deliverSink(ctx, sink, key, snap)
		}(i, sink)
	}
	wg.Wait()

	return Result{Key: key, Sinks: results}
}

// deliverSink runs the claim/retry/record cycle for one sink.
func (d *Dispatcher) deliverSink(ctx context.Context, sink Sink, key string, snap order.Snapshot) SinkResult {
	sk := stateKey{sink: sink.Name(), key: key}

	d.mu.Lock()
	if _, seen := d.state[sk]; seen {
		d.mu.Unlock()
		return SinkResult{Sink: sink.Name(), AlreadyDelivered: true}
	}
	d.state[sk] = statusInFlight
	d.mu.Unlock()

	result := SinkResult{Sink: sink.Name()}
	backoff := d.policy.BaseBackoff

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-d.clk.After(backoff):
			case <-ctx.Done():
				result.Err = ctx.Err()
				result.Attempts = attempt - 1
				d.release(sk)
				return result
			}
			backoff *= 2
			if backoff > d.policy.MaxBackoff {
				backoff = d.policy.MaxBackoff
			}
		}

		result.Attempts = attempt
		err := sink.Deliver(ctx, snap)
		if err == nil {
			d.mu.Lock()
			d.state[sk] = statusDelivered
			d.mu.Unlock()
			result.Err = nil
			return result
		}
		result.Err = err

		if !IsTransient(err) {
			break
		}
		if attempt < d.policy.MaxAttempts {
			d.logger.Warn("transient delivery failure, retrying",
				"sink", sink.Name(),
				"key", key,
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
		}
	}

	// Final failure: drop the claim so a later Deliver may try again.
	d.release(sk)
	d.logger.Error("order delivery failed",
		"sink", sink.Name(),
		"key", key,
		"attempts", result.Attempts,
		"error", result.Err,
	)
	return result
}

func (d *Dispatcher) release(sk stateKey) {
	d.mu.Lock()
	delete(d.state, sk)
	d.mu.Unlock()
}
