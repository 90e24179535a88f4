package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/services"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DeliveryRecorder stores the outcome of a delivery attempt
type DeliveryRecorder interface {
	RecordDeliveryResult(ctx context.Context, notificationID uuid.UUID, deliveryErr error) error
}

// DeliveryWorker drains the delivery queue, sends each request over its
// channel and reports the outcome. Every channel has its own circuit
// breaker; while it is open requests for that channel fail immediately.
type DeliveryWorker struct {
	queue       services.DeliveryQueue
	recorder    DeliveryRecorder
	senders     map[models.NotificationChannel]services.Sender
	breakers    map[models.NotificationChannel]*shared.ErrorIsolationHandler
	wait        time.Duration
	sendTimeout time.Duration
	metrics     *shared.ServiceMetrics
}

func NewDeliveryWorker(queue services.DeliveryQueue, recorder DeliveryRecorder, config shared.DeliveryConfig, senders ...services.Sender) *DeliveryWorker {
	w := &DeliveryWorker{
		queue:       queue,
		recorder:    recorder,
		senders:     make(map[models.NotificationChannel]services.Sender),
		breakers:    make(map[models.NotificationChannel]*shared.ErrorIsolationHandler),
		wait:        config.DequeueWait,
		sendTimeout: time.Duration(config.MaxRetryAttempts+1) * config.HTTPRequestTimeout,
		metrics:     shared.NewServiceMetrics("Delivery_Worker"),
	}
	if w.wait <= 0 {
		w.wait = 5 * time.Second
	}
	if w.sendTimeout <= 0 {
		w.sendTimeout = time.Minute
	}

	for _, sender := range senders {
		if sender == nil {
			continue
		}
		channel := sender.Channel()
		w.senders[channel] = sender
		w.breakers[channel] = shared.NewErrorIsolationHandler("delivery-"+string(channel), config.BreakerFailureRate)
	}
	return w
}

// Channels returns the channels this worker can deliver
func (w *DeliveryWorker) Channels() []models.NotificationChannel {
	channels := make([]models.NotificationChannel, 0, len(w.senders))
	for _, channel := range []models.NotificationChannel{models.ChannelEmail, models.ChannelTelegram} {
		if _, ok := w.senders[channel]; ok {
			channels = append(channels, channel)
		}
	}
	return channels
}

// Run processes requests with the given number of goroutines until ctx
// is cancelled
func (w *DeliveryWorker) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}

	logrus.WithFields(logrus.Fields{
		"component": "DeliveryWorker",
		"workers":   workers,
		"channels":  w.Channels(),
	}).Info("Delivery worker started")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	w.metrics.LogSummary()
	logrus.WithField("component", "DeliveryWorker").Info("Delivery worker stopped")
}

func (w *DeliveryWorker) loop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := w.ProcessOne(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"component": "DeliveryWorker",
				"worker":    id,
				"error":     err,
			}).Error("Failed to process delivery request")

			// back off on queue errors
			if !processed {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// RunUntilDrained processes requests on the calling goroutine until
// produced is closed and the queue has been found empty afterwards
func (w *DeliveryWorker) RunUntilDrained(ctx context.Context, produced <-chan struct{}) int {
	delivered := 0
	for ctx.Err() == nil {
		// checked before dequeuing: an empty queue only counts once no
		// producer can add to it
		finished := false
		select {
		case <-produced:
			finished = true
		default:
		}

		processed, err := w.ProcessOne(ctx)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "DeliveryWorker",
				"error":     err,
			}).Error("Failed to process delivery request")
		}
		if processed {
			delivered++
			continue
		}
		if finished {
			return delivered
		}
	}
	return delivered
}

// ProcessOne waits for one request and handles it. It reports whether a
// request was taken from the queue.
func (w *DeliveryWorker) ProcessOne(ctx context.Context) (bool, error) {
	req, err := w.queue.Dequeue(ctx, w.wait)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if req == nil {
		return false, nil
	}
	return true, w.Deliver(ctx, *req)
}

// Deliver sends one request and records the outcome
func (w *DeliveryWorker) Deliver(ctx context.Context, req models.DeliveryRequest) error {
	start := time.Now()
	sendErr := w.send(ctx, req)
	w.metrics.RecordRequest(sendErr == nil, time.Since(start))
	w.metrics.IncrementCounter("channel_" + string(req.Channel))

	fields := logrus.Fields{
		"component":       "DeliveryWorker",
		"notification_id": req.NotificationID,
		"grant_id":        req.GrantID,
		"channel":         req.Channel,
		"duration":        time.Since(start),
	}
	if sendErr != nil {
		fields["error"] = sendErr
		logrus.WithFields(fields).Warn("Delivery failed")
	} else {
		logrus.WithFields(fields).Info("Notification delivered")
	}

	// the outcome is stored even when the worker is shutting down
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.recorder.RecordDeliveryResult(recordCtx, req.NotificationID, sendErr); err != nil {
		return fmt.Errorf("record delivery result for %s: %w", req.NotificationID, err)
	}
	return nil
}

func (w *DeliveryWorker) send(ctx context.Context, req models.DeliveryRequest) error {
	sender, ok := w.senders[req.Channel]
	if !ok {
		return shared.NewDeliveryFailure(string(req.Channel), req.Recipient, errors.New("no sender configured for channel"))
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	return w.breakers[req.Channel].ExecuteWithCircuitBreaker("send", func() error {
		return sender.Send(sendCtx, req)
	})
}

// GetServiceMetrics returns the worker metrics
func (w *DeliveryWorker) GetServiceMetrics() *shared.ServiceMetrics {
	return w.metrics
}
