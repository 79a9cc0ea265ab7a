package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veyra/authd/internal/auth"
)

// fakeStore mirrors the repository's state transitions in memory so the
// service and dispatcher can be exercised without Postgres.
type fakeStore struct {
	mu         sync.Mutex
	hooks      map[string]*Webhook
	deliveries map[string]*Delivery
}

func newFakeStore() *fakeStore {
	return &fakeStore{hooks: map[string]*Webhook{}, deliveries: map[string]*Delivery{}}
}

func (f *fakeStore) addHook(url, secret string, eventTypes []string, enabled bool) *Webhook {
	f.mu.Lock()
	defer f.mu.Unlock()
	hook := &Webhook{
		ID:         uuid.NewString(),
		URL:        url,
		Secret:     secret,
		EventTypes: eventTypes,
		Enabled:    enabled,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.hooks[hook.ID] = hook
	return hook
}

func (f *fakeStore) Create(ctx context.Context, url, secret string, eventTypes []string) (*Webhook, error) {
	return f.addHook(url, secret, eventTypes, true), nil
}

func (f *fakeStore) FindByID(ctx context.Context, id string) (*Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hook, ok := f.hooks[id]
	if !ok {
		return nil, auth.ErrWebhookNotFound
	}
	return hook, nil
}

func (f *fakeStore) List(ctx context.Context) ([]*Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Webhook, 0, len(f.hooks))
	for _, hook := range f.hooks {
		out = append(out, hook)
	}
	return out, nil
}

func (f *fakeStore) Update(ctx context.Context, id string, url *string, eventTypes []string, enabled *bool) (*Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hook, ok := f.hooks[id]
	if !ok {
		return nil, auth.ErrWebhookNotFound
	}
	if url != nil {
		hook.URL = *url
	}
	if eventTypes != nil {
		hook.EventTypes = eventTypes
	}
	if enabled != nil {
		hook.Enabled = *enabled
	}
	hook.UpdatedAt = time.Now()
	return hook, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.hooks[id]; !ok {
		return auth.ErrWebhookNotFound
	}
	delete(f.hooks, id)
	return nil
}

func (f *fakeStore) FindSubscribed(ctx context.Context, eventType string) ([]*Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Webhook
	for _, hook := range f.hooks {
		if hook.Enabled && hook.Subscribed(eventType) {
			out = append(out, hook)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateDelivery(ctx context.Context, webhookID, eventType string, payload []byte, maxAttempts int) (*Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &Delivery{
		ID:          uuid.NewString(),
		WebhookID:   webhookID,
		EventType:   eventType,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
	}
	f.deliveries[d.ID] = d
	return d, nil
}

func (f *fakeStore) FindDelivery(ctx context.Context, id string) (*Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, auth.ErrDeliveryNotFound
	}
	return d, nil
}

func (f *fakeStore) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Delivery
	for _, d := range f.deliveries {
		if d.WebhookID == webhookID {
			out = append(out, d)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) RecordSuccess(ctx context.Context, id string, statusCode int, body string) (*Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, auth.ErrDeliveryNotFound
	}
	now := time.Now()
	d.Attempts++
	d.Status = StatusDelivered
	d.LastStatusCode = &statusCode
	d.ResponseBody = &body
	d.DeliveredAt = &now
	d.NextRetryAt = nil
	return d, nil
}

func (f *fakeStore) RecordFailure(ctx context.Context, id string, statusCode *int, body *string, cause string, nextRetryAt time.Time) (*Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, auth.ErrDeliveryNotFound
	}
	d.Attempts++
	d.LastStatusCode = statusCode
	d.ResponseBody = body
	d.LastError = &cause
	if d.Attempts >= d.MaxAttempts {
		d.Status = StatusFailed
		d.NextRetryAt = nil
	} else {
		d.NextRetryAt = &nextRetryAt
	}
	return d, nil
}

func (f *fakeStore) ResetForReplay(ctx context.Context, id string) (*Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, auth.ErrDeliveryNotFound
	}
	d.Status = StatusPending
	d.Attempts = 0
	d.LastError = nil
	d.NextRetryAt = nil
	return d, nil
}

func (f *fakeStore) ListPending(ctx context.Context) ([]*Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Delivery
	for _, d := range f.deliveries {
		if d.Status == StatusPending {
			out = append(out, d)
		}
	}
	return out, nil
}

type scheduled struct {
	deliveryID string
	at         time.Time
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
}

func (f *fakeScheduler) Schedule(ctx context.Context, deliveryID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{deliveryID: deliveryID, at: at})
	return nil
}

func (f *fakeScheduler) scheduledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.deliveryID
	}
	return out
}
