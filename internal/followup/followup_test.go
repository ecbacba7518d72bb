package followup

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"StakePilot-Chain/internal/conversation"
	"StakePilot-Chain/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

func sampleEvent() Event {
	return NewEvent(conversation.Message{
		ID:         "__do_not_render__1",
		ThreadID:   "thread-1",
		Role:       conversation.RoleTool,
		ToolCallID: "call-1",
		Name:       "staking-transaction-result",
	})
}

func TestMemoryQueueRetriesFailedEvents(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var calls atomic.Int32
	done := make(chan Event, 1)
	go func() {
		_ = q.Consume(ctx, 1, func(_ context.Context, e Event) error {
			if calls.Add(1) < 2 {
				return errors.New("agent busy")
			}
			done <- e
			return nil
		})
	}()

	if err := q.Publish(ctx, sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case e := <-done:
		if e.Attempts != 1 || e.ToolCallID != "call-1" {
			t.Fatalf("unexpected redelivered event %+v", e)
		}
	case <-ctx.Done():
		t.Fatalf("event was not redelivered")
	}

	cancel()
	_ = q.Close()
	if err := q.Publish(context.Background(), sampleEvent()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected closed queue error, got %v", err)
	}
}

func TestMemoryQueueCloseUnblocksFullQueue(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- q.Publish(context.Background(), sampleEvent()) }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("close stalled behind a blocked publisher")
	}
	select {
	case err := <-blocked:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("expected closed queue error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked publisher was not released")
	}
}

func TestMemoryQueueRetryOnFullQueueDoesNotStall(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int32
	consumed := make(chan error, 1)
	go func() {
		consumed <- q.Consume(ctx, 1, func(context.Context, Event) error {
			if calls.Add(1) == 1 {
				started <- struct{}{}
				<-release
			}
			return errors.New("agent busy")
		})
	}()

	if err := q.Publish(ctx, sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	<-started
	if err := q.Publish(ctx, sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	close(release)
	_ = q.Close()

	select {
	case err := <-consumed:
		if err != nil {
			t.Fatalf("consume after close should return nil, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("worker stalled re-queueing into its own full queue")
	}
	if got := int(calls.Load()); got < 2 || got > 1+MaxAttempts {
		t.Fatalf("unexpected handler calls %d", got)
	}
}

func TestEventRetryLimit(t *testing.T) {
	e := sampleEvent()
	var ok bool
	for i := 0; i < MaxAttempts-1; i++ {
		if e, ok = e.Retry(); !ok {
			t.Fatalf("attempt %d should still retry", i+1)
		}
	}
	if _, ok = e.Retry(); ok {
		t.Fatalf("retry beyond limit must stop")
	}
}

func TestRedisQueueProcess(t *testing.T) {
	q := newRedisQueue(nil, RedisQueueConfig{})
	if q.queue != "stakepilot:followups" || q.wait != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", q)
	}

	raw, _ := encodeEvent(sampleEvent())
	if _, retry := q.process(context.Background(), string(raw), func(context.Context, Event) error { return nil }); retry {
		t.Fatalf("successful event must not be requeued")
	}
	next, retry := q.process(context.Background(), string(raw), func(context.Context, Event) error { return errors.New("x") })
	if !retry || next.Attempts != 1 {
		t.Fatalf("failed event should be requeued with attempts=1, got %+v %v", next, retry)
	}
	if _, retry := q.process(context.Background(), "{", nil); retry {
		t.Fatalf("malformed payload is dropped")
	}

	if _, err := NewRedisQueue(context.Background(), RedisQueueConfig{}); err == nil {
		t.Fatalf("expected error without address")
	}
}

type fakeAck struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
	reject  int
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reject++
	return nil
}

func TestRabbitMQDeliverySettlement(t *testing.T) {
	q := &RabbitMQQueue{log: discardLogger()}
	body, _ := json.Marshal(sampleEvent())
	failing := func(context.Context, Event) error { return errors.New("agent down") }

	ack := &fakeAck{}
	q.deliver(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body}, func(context.Context, Event) error { return nil })
	if ack.acked != 1 {
		t.Fatalf("successful delivery must be acked")
	}

	ack = &fakeAck{}
	q.deliver(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body}, failing)
	if ack.nacked != 1 || !ack.requeue {
		t.Fatalf("first failure should be requeued")
	}

	ack = &fakeAck{}
	q.deliver(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body, Redelivered: true}, failing)
	if ack.nacked != 1 || ack.requeue {
		t.Fatalf("redelivered failure should be dropped")
	}

	ack = &fakeAck{}
	q.deliver(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("nope")}, failing)
	if ack.reject != 1 {
		t.Fatalf("malformed delivery should be rejected")
	}

	if _, err := NewRabbitMQQueue(RabbitMQConfig{}); err == nil {
		t.Fatalf("expected error without url")
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingRecorder) ObserveFollowup(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func TestDispatcherPostsEvent(t *testing.T) {
	var got Event
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		key = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	event := sampleEvent()
	if err := NewDispatcher(srv.URL+"/hook", time.Second, WithRecorder(rec)).Handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got.ToolCallID != "call-1" || got.ThreadID != "thread-1" || key != event.ID {
		t.Fatalf("unexpected webhook body %+v key=%s", got, key)
	}
	if err := NewDispatcher(srv.URL+"/fail", time.Second, WithRecorder(rec)).Handle(context.Background(), event); err == nil {
		t.Fatalf("expected error for 503")
	}
	if err := NewDispatcher("", 0, WithRecorder(rec)).Handle(context.Background(), event); err != nil {
		t.Fatalf("log-only dispatcher: %v", err)
	}
	if rec.outcomes["delivered"] != 1 || rec.outcomes["failed"] != 1 || rec.outcomes["logged"] != 1 {
		t.Fatalf("unexpected outcomes %+v", rec.outcomes)
	}
}

func TestDispatcherRunDrainsQueue(t *testing.T) {
	q := NewMemoryQueue(2)
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		_ = json.NewDecoder(r.Body).Decode(&e)
		received <- e
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = NewDispatcher(srv.URL, time.Second).Run(ctx, q, 1) }()

	if err := q.Publish(ctx, sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case e := <-received:
		if e.MessageID != "__do_not_render__1" {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-ctx.Done():
		t.Fatalf("dispatcher did not deliver the event")
	}
}

func discardLogger() *slog.Logger { return logger.Discard() }

func TestConsumeLoopStopsOnFirstError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	boom := errors.New("broker gone")
	var steps atomic.Int32
	err := consumeLoop(ctx, 3, func(context.Context) error {
		if steps.Add(1) == 5 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected first worker error, got %v", err)
	}

	if err := consumeLoop(ctx, 2, func(context.Context) error { return errStopped }); err != nil {
		t.Fatalf("closed source must end the loop cleanly, got %v", err)
	}

	q := NewMemoryQueue(1)
	_ = q.Close()
	if err := q.Consume(ctx, 2, func(context.Context, Event) error { return nil }); err != nil {
		t.Fatalf("consuming a closed memory queue should return nil, got %v", err)
	}
}
