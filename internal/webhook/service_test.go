package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veyra/authd/internal/auth"
)

func newTestWebhookService(t *testing.T) (*Service, *fakeStore, *fakeScheduler) {
	t.Helper()
	store := newFakeStore()
	queue := &fakeScheduler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(DefaultConfig(), store, queue, logger), store, queue
}

func TestPublishFansOutToSubscribers(t *testing.T) {
	t.Parallel()

	svc, store, queue := newTestWebhookService(t)
	all := store.addHook("https://a.example/hook", "s1", nil, true)
	matching := store.addHook("https://b.example/hook", "s2", []string{"user.created"}, true)
	store.addHook("https://c.example/hook", "s3", []string{"user.deleted"}, true)
	store.addHook("https://d.example/hook", "s4", nil, false)

	err := svc.Publish(context.Background(), "user.created", map[string]any{"userId": "u1"})
	require.NoError(t, err)

	pending, err := store.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Len(t, queue.scheduledIDs(), 2)

	got := map[string]bool{}
	for _, d := range pending {
		got[d.WebhookID] = true
		require.Equal(t, "user.created", d.EventType)
		require.Equal(t, DefaultMaxAttempts, d.MaxAttempts)

		var evt Event
		require.NoError(t, json.Unmarshal(d.Payload, &evt))
		require.NotEmpty(t, evt.ID)
		require.Equal(t, "user.created", evt.Type)
		require.Equal(t, "u1", evt.Data["userId"])
	}
	require.True(t, got[all.ID])
	require.True(t, got[matching.ID])
}

func TestPublishNoSubscribers(t *testing.T) {
	t.Parallel()

	svc, store, queue := newTestWebhookService(t)
	store.addHook("https://a.example/hook", "s1", []string{"user.deleted"}, true)

	require.NoError(t, svc.Publish(context.Background(), "user.created", nil))
	pending, _ := store.ListPending(context.Background())
	require.Empty(t, pending)
	require.Empty(t, queue.scheduledIDs())
}

func TestRegisterReturnsSecretOnce(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestWebhookService(t)
	hook, secret, err := svc.Register(context.Background(), "https://app.example/hook", []string{"user.created"})
	require.NoError(t, err)
	require.Len(t, secret, 64)
	require.Equal(t, secret, hook.Secret)

	// The serialized form never carries the secret.
	raw, err := json.Marshal(hook)
	require.NoError(t, err)
	require.NotContains(t, string(raw), secret)
}

func TestRegisterRejectsBadURL(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestWebhookService(t)
	for _, raw := range []string{"", "not a url", "ftp://x.example/h", "/relative/path", "https://"} {
		_, _, err := svc.Register(context.Background(), raw, nil)
		require.ErrorIs(t, err, auth.ErrWebhookURLInvalid, "url %q", raw)
	}
}

func TestUpdateValidatesURL(t *testing.T) {
	t.Parallel()

	svc, store, _ := newTestWebhookService(t)
	hook := store.addHook("https://a.example/hook", "s", nil, true)

	bad := "ftp://nope"
	_, err := svc.Update(context.Background(), hook.ID, &bad, nil, nil)
	require.ErrorIs(t, err, auth.ErrWebhookURLInvalid)

	good := "https://b.example/hook"
	enabled := false
	updated, err := svc.Update(context.Background(), hook.ID, &good, nil, &enabled)
	require.NoError(t, err)
	require.Equal(t, good, updated.URL)
	require.False(t, updated.Enabled)
}

func TestDeliveriesUnknownWebhook(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestWebhookService(t)
	_, err := svc.Deliveries(context.Background(), "missing", 10)
	require.ErrorIs(t, err, auth.ErrWebhookNotFound)
}

func TestReplayRearmsDelivery(t *testing.T) {
	t.Parallel()

	svc, store, queue := newTestWebhookService(t)
	hook := store.addHook("https://a.example/hook", "s", nil, true)
	d, err := store.CreateDelivery(context.Background(), hook.ID, "user.created", []byte(`{}`), 3)
	require.NoError(t, err)

	// Exhaust it.
	for i := 0; i < 3; i++ {
		_, err = store.RecordFailure(context.Background(), d.ID, nil, nil, "connection refused", time.Now())
		require.NoError(t, err)
	}
	require.Equal(t, StatusFailed, d.Status)

	replayed, err := svc.Replay(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, replayed.Status)
	require.Zero(t, replayed.Attempts)
	require.Equal(t, []string{d.ID}, queue.scheduledIDs())
}

func TestReplayUnknownDelivery(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestWebhookService(t)
	_, err := svc.Replay(context.Background(), "missing")
	require.ErrorIs(t, err, auth.ErrDeliveryNotFound)
}

func TestRetryDelayDoubles(t *testing.T) {
	t.Parallel()

	require.Equal(t, 30*time.Second, RetryDelay(0))
	require.Equal(t, time.Minute, RetryDelay(1))
	require.Equal(t, 2*time.Minute, RetryDelay(2))
	require.Equal(t, 8*time.Minute, RetryDelay(4))
}

func TestSubscribedMatching(t *testing.T) {
	t.Parallel()

	all := &Webhook{EventTypes: nil}
	require.True(t, all.Subscribed("anything"))

	scoped := &Webhook{EventTypes: []string{"user.created", "user.deleted"}}
	require.True(t, scoped.Subscribed("user.created"))
	require.False(t, scoped.Subscribed("session.revoked"))
}
