package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentplexus/orderline/internal/clock"
	"github.com/agentplexus/orderline/order"
)

// fakeSink records Deliver calls and returns configured errors in
// sequence; entries beyond the sequence succeed.
type fakeSink struct {
	name     string
	mu       sync.Mutex
	calls    int
	errorSeq []error
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(_ context.Context, _ order.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errorSeq) {
		return f.errorSeq[i]
	}
	return nil
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func transientErr() error {
	return &TransportError{Sink: "fake", StatusCode: 503, Message: "unavailable", Retryable: true}
}

func terminalErr() error {
	return &TransportError{Sink: "fake", StatusCode: 401, Message: "bad token", Retryable: false}
}

func testSnapshot() order.Snapshot {
	return order.Snapshot{CallID: "CA123", CustomerName: "Jane Smith", Total: 24.83}
}

func TestDeliverIdempotent(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := New(WithSinks(sink))

	first := d.Deliver(context.Background(), testSnapshot())
	if !first.Succeeded() || first.Sinks[0].Attempts != 1 {
		t.Fatalf("first = %+v", first)
	}

	second := d.Deliver(context.Background(), testSnapshot())
	if !second.Succeeded() || !second.Sinks[0].AlreadyDelivered {
		t.Fatalf("second = %+v", second)
	}
	if sink.callCount() != 1 {
		t.Errorf("sink called %d times, want 1", sink.callCount())
	}
}

func TestDeliverRetriesTransient(t *testing.T) {
	sink := &fakeSink{name: "fake", errorSeq: []error{transientErr(), transientErr(), nil}}
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := New(WithSinks(sink), WithClock(fc))

	done := make(chan Result, 1)
	go func() {
		done <- d.Deliver(context.Background(), testSnapshot())
	}()

	// First backoff (1s), then the doubled one (2s).
	fc.AwaitWaiters(1)
	fc.Advance(time.Second)
	fc.AwaitWaiters(1)
	fc.Advance(2 * time.Second)

	var res Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	if res.Sinks[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Sinks[0].Attempts)
	}
}

func TestDeliverTerminalFailsImmediately(t *testing.T) {
	sink := &fakeSink{name: "fake", errorSeq: []error{terminalErr()}}
	d := New(WithSinks(sink))

	res := d.Deliver(context.Background(), testSnapshot())
	if res.Succeeded() {
		t.Fatal("terminal failure reported success")
	}
	sr := res.Sinks[0]
	if sr.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", sr.Attempts)
	}
	var te *TransportError
	if !errors.As(sr.Err, &te) || te.StatusCode != 401 {
		t.Errorf("err = %v", sr.Err)
	}
	if sink.callCount() != 1 {
		t.Errorf("sink called %d times", sink.callCount())
	}
}

func TestDeliverExhaustsRetryBudget(t *testing.T) {
	sink := &fakeSink{name: "fake", errorSeq: []error{transientErr(), transientErr(), transientErr()}}
	d := New(WithSinks(sink), WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Nanosecond}))

	res := d.Deliver(context.Background(), testSnapshot())
	if res.Succeeded() || res.Sinks[0].Attempts != 3 {
		t.Fatalf("result = %+v", res)
	}

	// A failed delivery must not poison the idempotency record: the
	// next Deliver reaches the sink again and succeeds.
	res = d.Deliver(context.Background(), testSnapshot())
	if !res.Succeeded() || res.Sinks[0].AlreadyDelivered {
		t.Fatalf("redelivery = %+v", res)
	}
	if sink.callCount() != 4 {
		t.Errorf("sink called %d times, want 4", sink.callCount())
	}
}

func TestDeliverFanOutIndependence(t *testing.T) {
	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", errorSeq: []error{terminalErr()}}
	d := New(WithSinks(good, bad))

	res := d.Deliver(context.Background(), testSnapshot())
	if res.Succeeded() {
		t.Fatal("overall success despite failing sink")
	}

	byName := map[string]SinkResult{}
	for _, sr := range res.Sinks {
		byName[sr.Sink] = sr
	}
	if byName["good"].Err != nil {
		t.Errorf("good sink failed: %v", byName["good"].Err)
	}
	if byName["bad"].Err == nil {
		t.Error("bad sink reported success")
	}

	// Redelivery skips the sink that succeeded, retries the failed one.
	res = d.Deliver(context.Background(), testSnapshot())
	for _, sr := range res.Sinks {
		byName[sr.Sink] = sr
	}
	if !byName["good"].AlreadyDelivered {
		t.Error("good sink re-sent")
	}
	if byName["bad"].AlreadyDelivered || byName["bad"].Err != nil {
		t.Errorf("bad sink = %+v", byName["bad"])
	}
}

func TestDeliverKeyFallback(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := New(WithSinks(sink))

	res := d.Deliver(context.Background(), order.Snapshot{StreamID: "MZ999"})
	if res.Key != "MZ999" {
		t.Errorf("key = %q, want stream id", res.Key)
	}

	res = d.Deliver(context.Background(), order.Snapshot{})
	if res.Key == "" {
		t.Error("empty key with no identifiers")
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil transient")
	}
	if !IsTransient(transientErr()) {
		t.Error("503 not transient")
	}
	if IsTransient(terminalErr()) {
		t.Error("401 transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("cancellation transient")
	}
	if IsTransient(errors.New("malformed request")) {
		t.Error("unknown error transient")
	}
}
