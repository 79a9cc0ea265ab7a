package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veyra/authd/internal/auth"
)

const webhookColumns = `"id","url","secret","eventTypes","enabled","createdAt","updatedAt"`

const deliveryColumns = `"id","webhookId","eventType","payload","status","attempts","maxAttempts","lastStatusCode","lastError","responseBody","deliveredAt","nextRetryAt","createdAt"`

type Repository struct {
	DB *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) Create(ctx context.Context, url, secret string, eventTypes []string) (*Webhook, error) {
	if eventTypes == nil {
		eventTypes = []string{}
	}
	row := r.DB.QueryRow(ctx, `
		INSERT INTO "Webhook" ("id","url","secret","eventTypes")
		VALUES ($1,$2,$3,$4)
		RETURNING `+webhookColumns,
		uuid.NewString(), url, secret, eventTypes)
	return scanWebhook(row)
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Webhook, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+webhookColumns+` FROM "Webhook" WHERE "id"=$1`, id)
	hook, err := scanWebhook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrWebhookNotFound
	}
	return hook, err
}

func (r *Repository) List(ctx context.Context) ([]*Webhook, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+webhookColumns+` FROM "Webhook" ORDER BY "createdAt"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []*Webhook
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}
	return hooks, rows.Err()
}

func (r *Repository) Update(ctx context.Context, id string, url *string, eventTypes []string, enabled *bool) (*Webhook, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE "Webhook"
		SET "url"=COALESCE($2,"url"),
		    "eventTypes"=COALESCE($3,"eventTypes"),
		    "enabled"=COALESCE($4,"enabled"),
		    "updatedAt"=NOW()
		WHERE "id"=$1
		RETURNING `+webhookColumns,
		id, url, eventTypes, enabled)
	hook, err := scanWebhook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrWebhookNotFound
	}
	return hook, err
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM "Webhook" WHERE "id"=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrWebhookNotFound
	}
	return nil
}

// FindSubscribed returns enabled webhooks whose subscription covers
// eventType. An empty eventTypes array means subscribe-to-all.
func (r *Repository) FindSubscribed(ctx context.Context, eventType string) ([]*Webhook, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM "Webhook"
		WHERE "enabled" AND (cardinality("eventTypes")=0 OR $1=ANY("eventTypes"))
	`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []*Webhook
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}
	return hooks, rows.Err()
}

func (r *Repository) CreateDelivery(ctx context.Context, webhookID, eventType string, payload []byte, maxAttempts int) (*Delivery, error) {
	row := r.DB.QueryRow(ctx, `
		INSERT INTO "WebhookDelivery" ("id","webhookId","eventType","payload","status","maxAttempts")
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING `+deliveryColumns,
		uuid.NewString(), webhookID, eventType, payload, StatusPending, maxAttempts)
	return scanDelivery(row)
}

func (r *Repository) FindDelivery(ctx context.Context, id string) (*Delivery, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM "WebhookDelivery" WHERE "id"=$1`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrDeliveryNotFound
	}
	return d, err
}

func (r *Repository) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM "WebhookDelivery"
		WHERE "webhookId"=$1
		ORDER BY "createdAt" DESC
		LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordSuccess marks a delivery terminal-delivered.
func (r *Repository) RecordSuccess(ctx context.Context, id string, statusCode int, body string) (*Delivery, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE "WebhookDelivery"
		SET "status"=$2,"attempts"="attempts"+1,"lastStatusCode"=$3,"responseBody"=$4,
		    "lastError"=NULL,"deliveredAt"=NOW(),"nextRetryAt"=NULL
		WHERE "id"=$1
		RETURNING `+deliveryColumns,
		id, StatusDelivered, statusCode, body)
	return scanDelivery(row)
}

// RecordFailure bumps the attempt counter and either schedules the next
// retry or, once attempts reach the ceiling, marks the delivery failed.
func (r *Repository) RecordFailure(ctx context.Context, id string, statusCode *int, body *string, cause string, nextRetryAt time.Time) (*Delivery, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE "WebhookDelivery"
		SET "attempts"="attempts"+1,
		    "lastStatusCode"=$2,
		    "responseBody"=$3,
		    "lastError"=$4,
		    "status"=CASE WHEN "attempts"+1 >= "maxAttempts" THEN 'FAILED' ELSE 'PENDING' END,
		    "nextRetryAt"=CASE WHEN "attempts"+1 >= "maxAttempts" THEN NULL ELSE $5 END
		WHERE "id"=$1
		RETURNING `+deliveryColumns,
		id, statusCode, body, cause, nextRetryAt)
	return scanDelivery(row)
}

// ResetForReplay rearms a terminal delivery as a fresh pending attempt
// with the original payload snapshot.
func (r *Repository) ResetForReplay(ctx context.Context, id string) (*Delivery, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE "WebhookDelivery"
		SET "status"=$2,"attempts"=0,"lastError"=NULL,"lastStatusCode"=NULL,
		    "responseBody"=NULL,"deliveredAt"=NULL,"nextRetryAt"=NOW()
		WHERE "id"=$1
		RETURNING `+deliveryColumns,
		id, StatusPending)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrDeliveryNotFound
	}
	return d, err
}

// ListPending returns deliveries that are due or overdue, used to
// rebuild the schedule after a restart.
func (r *Repository) ListPending(ctx context.Context) ([]*Delivery, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM "WebhookDelivery"
		WHERE "status"=$1
	`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	err := row.Scan(&w.ID, &w.URL, &w.Secret, &w.EventTypes, &w.Enabled, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &d.Status, &d.Attempts,
		&d.MaxAttempts, &d.LastStatusCode, &d.LastError, &d.ResponseBody, &d.DeliveredAt,
		&d.NextRetryAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
