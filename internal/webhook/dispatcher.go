package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	dispatchTimeout  = 10 * time.Second
	responseBodyCap  = 1024
	pollInterval     = time.Second
	dispatchBatchCap = 32
)

// DeliveryStore is the repository surface the dispatcher needs.
type DeliveryStore interface {
	FindByID(ctx context.Context, id string) (*Webhook, error)
	FindDelivery(ctx context.Context, id string) (*Delivery, error)
	RecordSuccess(ctx context.Context, id string, statusCode int, body string) (*Delivery, error)
	RecordFailure(ctx context.Context, id string, statusCode *int, body *string, cause string, nextRetryAt time.Time) (*Delivery, error)
	ListPending(ctx context.Context) ([]*Delivery, error)
}

// Dispatcher drains the due-delivery queue and POSTs signed payloads.
// Run exactly one per process.
type Dispatcher struct {
	store  DeliveryStore
	queue  *Queue
	client *http.Client
	logger *slog.Logger
}

func NewDispatcher(store DeliveryStore, queue *Queue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  store,
		queue:  queue,
		client: &http.Client{Timeout: dispatchTimeout},
		logger: logger,
	}
}

// Run blocks until ctx is cancelled. Pending deliveries left over from
// a previous process are rescheduled first, so queue state lost with
// redis is rebuilt from the database.
func (d *Dispatcher) Run(ctx context.Context) {
	if err := d.requeuePending(ctx); err != nil {
		d.logger.Error("webhook requeue on start failed", "error", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Dispatcher) requeuePending(ctx context.Context) error {
	pending, err := d.store.ListPending(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, delivery := range pending {
		at := now
		if delivery.NextRetryAt != nil && delivery.NextRetryAt.After(now) {
			at = *delivery.NextRetryAt
		}
		if err := d.queue.Schedule(ctx, delivery.ID, at); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		d.logger.Info("requeued pending webhook deliveries", "count", len(pending))
	}
	return nil
}

func (d *Dispatcher) drain(ctx context.Context) {
	ids, err := d.queue.PopDue(ctx, time.Now(), dispatchBatchCap)
	if err != nil {
		d.logger.Error("webhook queue poll failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := d.Dispatch(ctx, id); err != nil {
			d.logger.Error("webhook dispatch failed", "delivery", id, "error", err)
		}
	}
}

// Dispatch performs one attempt for the delivery: sign, POST, record
// the outcome, and reschedule on retriable failure.
func (d *Dispatcher) Dispatch(ctx context.Context, deliveryID string) error {
	delivery, err := d.store.FindDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != StatusPending {
		return nil
	}

	hook, err := d.store.FindByID(ctx, delivery.WebhookID)
	if err != nil {
		return err
	}
	if !hook.Enabled {
		// Attempt anyway spends the retry budget on a muted endpoint;
		// park it for the next window instead.
		return d.queue.Schedule(ctx, delivery.ID, time.Now().Add(RetryDelay(delivery.Attempts)))
	}

	statusCode, body, err := d.post(ctx, hook, delivery)
	if err == nil && statusCode >= 200 && statusCode < 300 {
		if _, err := d.store.RecordSuccess(ctx, delivery.ID, statusCode, body); err != nil {
			return err
		}
		d.logger.Info("webhook delivered", "delivery", delivery.ID, "webhook", hook.ID, "status", statusCode, "attempt", delivery.Attempts+1)
		return nil
	}

	var cause string
	var codePtr *int
	var bodyPtr *string
	if err != nil {
		cause = err.Error()
	} else {
		cause = fmt.Sprintf("unexpected status %d", statusCode)
		codePtr = &statusCode
		bodyPtr = &body
	}

	nextRetryAt := time.Now().Add(RetryDelay(delivery.Attempts))
	updated, recErr := d.store.RecordFailure(ctx, delivery.ID, codePtr, bodyPtr, cause, nextRetryAt)
	if recErr != nil {
		return recErr
	}

	if updated.Status == StatusFailed {
		d.logger.Warn("webhook delivery exhausted", "delivery", delivery.ID, "webhook", hook.ID, "attempts", updated.Attempts, "cause", cause)
		return nil
	}

	d.logger.Info("webhook attempt failed, retrying", "delivery", delivery.ID, "webhook", hook.ID, "attempt", updated.Attempts, "nextRetryAt", nextRetryAt, "cause", cause)
	return d.queue.Schedule(ctx, delivery.ID, nextRetryAt)
}

func (d *Dispatcher) post(ctx context.Context, hook *Webhook, delivery *Delivery) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "authd-webhooks/1.0")
	req.Header.Set("X-Webhook-Event", delivery.EventType)
	req.Header.Set("X-Webhook-Delivery", delivery.ID)
	req.Header.Set("X-Webhook-Signature", Sign(hook.Secret, delivery.Payload, time.Now()))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyCap))
	return resp.StatusCode, string(body), nil
}
