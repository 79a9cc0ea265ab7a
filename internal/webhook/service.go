package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/veyra/authd/internal/auth"
)

const (
	DefaultMaxAttempts = 5
	baseRetryDelay     = 30 * time.Second
)

var timeNow = time.Now

type Config struct {
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{MaxAttempts: DefaultMaxAttempts}
}

// Store is the durable side of the delivery pipeline; *Repository
// satisfies it.
type Store interface {
	Create(ctx context.Context, url, secret string, eventTypes []string) (*Webhook, error)
	FindByID(ctx context.Context, id string) (*Webhook, error)
	List(ctx context.Context) ([]*Webhook, error)
	Update(ctx context.Context, id string, url *string, eventTypes []string, enabled *bool) (*Webhook, error)
	Delete(ctx context.Context, id string) error
	FindSubscribed(ctx context.Context, eventType string) ([]*Webhook, error)
	CreateDelivery(ctx context.Context, webhookID, eventType string, payload []byte, maxAttempts int) (*Delivery, error)
	FindDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error)
	ResetForReplay(ctx context.Context, id string) (*Delivery, error)
}

// Scheduler decides when a pending delivery next gets attempted;
// *Queue satisfies it.
type Scheduler interface {
	Schedule(ctx context.Context, deliveryID string, at time.Time) error
}

type Service struct {
	cfg    Config
	store  Store
	queue  Scheduler
	logger *slog.Logger
}

func NewService(cfg Config, store Store, queue Scheduler, logger *slog.Logger) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, store: store, queue: queue, logger: logger}
}

// Event is the envelope serialized as the delivery payload.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"createdAt"`
	Data      map[string]any `json:"data"`
}

// Publish fans the event out to every subscribed webhook, snapshotting
// the payload per delivery and scheduling an immediate first attempt.
// It satisfies account.EventPublisher.
func (s *Service) Publish(ctx context.Context, eventType string, data map[string]any) error {
	hooks, err := s.store.FindSubscribed(ctx, eventType)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		return nil
	}

	payload, err := json.Marshal(Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		CreatedAt: timeNow().UTC(),
		Data:      data,
	})
	if err != nil {
		return err
	}

	now := timeNow()
	for _, hook := range hooks {
		delivery, err := s.store.CreateDelivery(ctx, hook.ID, eventType, payload, s.cfg.MaxAttempts)
		if err != nil {
			s.logger.Error("webhook delivery enqueue failed", "webhook", hook.ID, "event", eventType, "error", err)
			continue
		}
		if err := s.queue.Schedule(ctx, delivery.ID, now); err != nil {
			s.logger.Warn("webhook schedule failed, dispatcher will pick it up on requeue", "delivery", delivery.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) Register(ctx context.Context, rawURL string, eventTypes []string) (*Webhook, string, error) {
	if err := validateEndpoint(rawURL); err != nil {
		return nil, "", err
	}
	secret, err := auth.RandomToken(32)
	if err != nil {
		return nil, "", err
	}
	hook, err := s.store.Create(ctx, rawURL, secret, eventTypes)
	if err != nil {
		return nil, "", err
	}
	// The plaintext secret is returned exactly once, at registration.
	return hook, secret, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Webhook, error) {
	return s.store.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Webhook, error) {
	return s.store.List(ctx)
}

func (s *Service) Update(ctx context.Context, id string, rawURL *string, eventTypes []string, enabled *bool) (*Webhook, error) {
	if rawURL != nil {
		if err := validateEndpoint(*rawURL); err != nil {
			return nil, err
		}
	}
	return s.store.Update(ctx, id, rawURL, eventTypes, enabled)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *Service) Deliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error) {
	if _, err := s.store.FindByID(ctx, webhookID); err != nil {
		return nil, err
	}
	return s.store.ListDeliveries(ctx, webhookID, limit)
}

// Replay rearms a delivery with its original payload snapshot and
// schedules it immediately.
func (s *Service) Replay(ctx context.Context, deliveryID string) (*Delivery, error) {
	delivery, err := s.store.ResetForReplay(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Schedule(ctx, delivery.ID, timeNow()); err != nil {
		return nil, err
	}
	return delivery, nil
}

// Events adapts the delivery pipeline to the account layer's
// fire-and-forget publisher: enqueue failures are logged, never
// surfaced to the authentication path that triggered them.
type Events struct {
	Service *Service
}

func (e *Events) Publish(ctx context.Context, eventType string, data map[string]any) {
	if err := e.Service.Publish(ctx, eventType, data); err != nil {
		e.Service.logger.Error("webhook publish failed", "event", eventType, "error", err)
	}
}

// RetryDelay returns the backoff before attempt number attempts+1.
func RetryDelay(attempts int) time.Duration {
	return baseRetryDelay * (1 << attempts)
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return auth.ErrWebhookURLInvalid
	}
	return nil
}
