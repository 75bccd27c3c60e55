package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inbox_backend/internal/events"
	"inbox_backend/internal/scheduler"
	"inbox_backend/platform/logger"

	"github.com/google/uuid"
)

type published struct {
	key string
	env Envelope
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, key string, env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, env: env})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeEnqueuer struct {
	payloads []scheduler.MessageReceivedPayload
}

func (f *fakeEnqueuer) EnqueueMessageReceived(_ context.Context, p scheduler.MessageReceivedPayload) error {
	f.payloads = append(f.payloads, p)
	return nil
}

func newBus(t *testing.T, pub Publisher, enq scheduler.AutomationEnqueuer) *events.InMemoryBus {
	t.Helper()
	bus := events.NewInMemoryBus(logger.Nop())
	New(pub, enq, time.Second, logger.Nop()).RegisterHandlers(bus)
	return bus
}

func received(direction string) events.MessageReceived {
	return events.MessageReceived{
		BaseEvent: events.NewBaseEvent(),
		MessageID: uuid.New(),
		TenantID:  uuid.New(),
		Direction: direction,
		Type:      "text",
		Content:   "Bom dia!",
	}
}

func TestForwardPublishesEnvelopeUnderEventName(t *testing.T) {
	pub := &fakePublisher{}
	bus := newBus(t, pub, nil)
	event := received("inbound")

	if err := bus.PublishSync(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.sent))
	}
	got := pub.sent[0]
	if got.key != "inbox.message.received" {
		t.Fatalf("routing key = %s", got.key)
	}
	if got.env.Meta.ID != event.EventID.String() || got.env.Meta.TenantID != event.TenantID.String() {
		t.Fatalf("unexpected meta %+v", got.env.Meta)
	}
	if got.env.Meta.Source != "inbox" || got.env.Meta.Type != "inbox.message.received" {
		t.Fatalf("unexpected meta %+v", got.env.Meta)
	}
}

func TestStatusAndLeadEventsAreForwarded(t *testing.T) {
	pub := &fakePublisher{}
	bus := newBus(t, pub, nil)
	ctx := context.Background()

	_ = bus.PublishSync(ctx, events.MessageStatusChanged{BaseEvent: events.NewBaseEvent(), Status: "read"})
	_ = bus.PublishSync(ctx, events.LeadCreated{BaseEvent: events.NewBaseEvent(), Phone: "11999999999"})

	if len(pub.sent) != 2 || pub.sent[0].key != "inbox.message.status" || pub.sent[1].key != "inbox.lead.created" {
		t.Fatalf("unexpected publishes %+v", pub.sent)
	}
}

func TestHandoffOnlyForInboundMessages(t *testing.T) {
	enq := &fakeEnqueuer{}
	bus := newBus(t, nil, enq)
	ctx := context.Background()

	in := received("inbound")
	_ = bus.PublishSync(ctx, in)
	_ = bus.PublishSync(ctx, received("outbound"))

	if len(enq.payloads) != 1 {
		t.Fatalf("expected one automation task, got %d", len(enq.payloads))
	}
	if enq.payloads[0].MessageID != in.MessageID.String() || enq.payloads[0].Content != "Bom dia!" {
		t.Fatalf("unexpected payload %+v", enq.payloads[0])
	}
}

func TestPublisherFailureSurfacesToBus(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	bus := newBus(t, pub, nil)

	err := bus.PublishSync(context.Background(), received("inbound"))
	if err == nil {
		t.Fatalf("expected publish failure to be reported")
	}
}

// stalledPublisher never sees a broker confirm and waits for ctx instead.
type stalledPublisher struct {
	mu          sync.Mutex
	hadDeadline bool
}

func (s *stalledPublisher) Publish(ctx context.Context, _ string, _ Envelope) error {
	_, ok := ctx.Deadline()
	s.mu.Lock()
	s.hadDeadline = ok
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledPublisher) Close() error { return nil }

// stalledEnqueuer blocks until its ctx is done.
type stalledEnqueuer struct{}

func (stalledEnqueuer) EnqueueMessageReceived(ctx context.Context, _ scheduler.MessageReceivedPayload) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStalledSinksAreBoundedByPublishTimeout(t *testing.T) {
	pub := &stalledPublisher{}
	bus := events.NewInMemoryBus(logger.Nop())
	New(pub, stalledEnqueuer{}, 50*time.Millisecond, logger.Nop()).RegisterHandlers(bus)

	bus.Publish(context.Background(), received("inbound"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Wait(ctx); err != nil {
		t.Fatalf("handlers did not finish: %v", err)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if !pub.hadDeadline {
		t.Fatalf("expected publish context to carry a deadline")
	}
}

func TestStalledPublishReportsDeadline(t *testing.T) {
	bus := newBus(t, &stalledPublisher{}, nil)
	err := bus.PublishSync(context.Background(), received("inbound"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
