package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/services"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
)

type stubSender struct {
	mu      sync.Mutex
	channel models.NotificationChannel
	err     error
	sent    []models.DeliveryRequest
}

func (s *stubSender) Channel() models.NotificationChannel { return s.channel }

func (s *stubSender) Send(ctx context.Context, req models.DeliveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return s.err
}

func (s *stubSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordedResult struct {
	id  uuid.UUID
	err error
}

type stubRecorder struct {
	mu      sync.Mutex
	results []recordedResult
	err     error
}

func (r *stubRecorder) RecordDeliveryResult(ctx context.Context, notificationID uuid.UUID, deliveryErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, recordedResult{id: notificationID, err: deliveryErr})
	return r.err
}

func (r *stubRecorder) all() []recordedResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedResult(nil), r.results...)
}

func testDeliveryConfig() shared.DeliveryConfig {
	return shared.DeliveryConfig{
		DequeueWait:        20 * time.Millisecond,
		HTTPRequestTimeout: time.Second,
		BreakerFailureRate: 0.5,
	}
}

func newRequest(channel models.NotificationChannel) models.DeliveryRequest {
	return models.DeliveryRequest{
		NotificationID: uuid.New(),
		GrantID:        uuid.New(),
		Channel:        channel,
		Recipient:      "ana@example.com",
	}
}

func TestDeliverRecordsOutcome(t *testing.T) {
	email := &stubSender{channel: models.ChannelEmail}
	telegram := &stubSender{channel: models.ChannelTelegram, err: errors.New("chat not found")}
	recorder := &stubRecorder{}
	worker := NewDeliveryWorker(services.NewChannelDeliveryQueue(4), recorder, testDeliveryConfig(), email, telegram, nil)

	if got := worker.Channels(); len(got) != 2 || got[0] != models.ChannelEmail || got[1] != models.ChannelTelegram {
		t.Fatalf("unexpected channels %v", got)
	}

	ok := newRequest(models.ChannelEmail)
	bad := newRequest(models.ChannelTelegram)
	if err := worker.Deliver(context.Background(), ok); err != nil {
		t.Fatal(err)
	}
	if err := worker.Deliver(context.Background(), bad); err != nil {
		t.Fatal(err)
	}

	results := recorder.all()
	if len(results) != 2 {
		t.Fatalf("expected 2 recorded results, got %d", len(results))
	}
	if results[0].id != ok.NotificationID || results[0].err != nil {
		t.Errorf("expected success for %s, got %+v", ok.NotificationID, results[0])
	}
	if results[1].id != bad.NotificationID || results[1].err == nil {
		t.Errorf("expected failure for %s, got %+v", bad.NotificationID, results[1])
	}
}

func TestDeliverWithoutSender(t *testing.T) {
	recorder := &stubRecorder{}
	worker := NewDeliveryWorker(services.NewChannelDeliveryQueue(1), recorder, testDeliveryConfig())

	req := newRequest(models.ChannelTelegram)
	if err := worker.Deliver(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	results := recorder.all()
	if len(results) != 1 || !shared.HasCode(results[0].err, shared.CodeDeliveryFailed) {
		t.Fatalf("expected DELIVERY_FAILED to be recorded, got %+v", results)
	}
}

func TestDeliverReturnsRecorderError(t *testing.T) {
	recorder := &stubRecorder{err: errors.New("database down")}
	worker := NewDeliveryWorker(services.NewChannelDeliveryQueue(1), recorder, testDeliveryConfig(), &stubSender{channel: models.ChannelEmail})

	if err := worker.Deliver(context.Background(), newRequest(models.ChannelEmail)); err == nil {
		t.Fatal("expected recorder error to be returned")
	}
}

func TestBreakerOpensPerChannel(t *testing.T) {
	email := &stubSender{channel: models.ChannelEmail, err: errors.New("connection refused")}
	telegram := &stubSender{channel: models.ChannelTelegram}
	recorder := &stubRecorder{}
	worker := NewDeliveryWorker(services.NewChannelDeliveryQueue(1), recorder, testDeliveryConfig(), email, telegram)

	for i := 0; i < 12; i++ {
		_ = worker.Deliver(context.Background(), newRequest(models.ChannelEmail))
	}
	if email.calls() != 10 {
		t.Errorf("expected sender to stop being called once the breaker opened, got %d calls", email.calls())
	}

	results := recorder.all()
	last := results[len(results)-1]
	if !shared.HasCode(last.err, shared.CodeServiceUnavailable) {
		t.Errorf("expected SERVICE_UNAVAILABLE while open, got %v", last.err)
	}

	_ = worker.Deliver(context.Background(), newRequest(models.ChannelTelegram))
	if telegram.calls() != 1 {
		t.Error("telegram deliveries must not be affected by the email breaker")
	}
}

func TestRunUntilDrained(t *testing.T) {
	queue := services.NewChannelDeliveryQueue(8)
	sender := &stubSender{channel: models.ChannelEmail}
	recorder := &stubRecorder{}
	worker := NewDeliveryWorker(queue, recorder, testDeliveryConfig(), sender)

	for i := 0; i < 3; i++ {
		if err := queue.Enqueue(context.Background(), newRequest(models.ChannelEmail)); err != nil {
			t.Fatal(err)
		}
	}
	produced := make(chan struct{})
	close(produced)

	if delivered := worker.RunUntilDrained(context.Background(), produced); delivered != 3 {
		t.Fatalf("expected 3 deliveries, got %d", delivered)
	}
	if queue.Len() != 0 || len(recorder.all()) != 3 {
		t.Errorf("queue len %d, recorded %d", queue.Len(), len(recorder.all()))
	}
}

func TestRunUntilDrainedWaitsForProducer(t *testing.T) {
	queue := services.NewChannelDeliveryQueue(8)
	worker := NewDeliveryWorker(queue, &stubRecorder{}, testDeliveryConfig(), &stubSender{channel: models.ChannelEmail})

	produced := make(chan struct{})
	done := make(chan int)
	go func() {
		done <- worker.RunUntilDrained(context.Background(), produced)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := queue.Enqueue(context.Background(), newRequest(models.ChannelEmail)); err != nil {
		t.Fatal(err)
	}
	close(produced)

	select {
	case delivered := <-done:
		if delivered != 1 {
			t.Errorf("expected the late request to be delivered, got %d", delivered)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunUntilDrained did not return")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	queue := services.NewChannelDeliveryQueue(8)
	recorder := &stubRecorder{}
	worker := NewDeliveryWorker(queue, recorder, testDeliveryConfig(), &stubSender{channel: models.ChannelEmail})
	_ = queue.Enqueue(context.Background(), newRequest(models.ChannelEmail))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx, 2)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(recorder.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if len(recorder.all()) != 1 {
		t.Errorf("expected 1 delivery, got %d", len(recorder.all()))
	}
}
