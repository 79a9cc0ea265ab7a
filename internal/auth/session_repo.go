package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `"id","userId","refreshTokenHash","status","ip","userAgent","expiresAt","revokedAt","lastActiveAt","createdAt"`

type SessionRepository struct {
	DB *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{DB: db}
}

func (r *SessionRepository) Create(ctx context.Context, sess *Session) error {
	return r.DB.QueryRow(ctx, `
		INSERT INTO "Session" ("id","userId","refreshTokenHash","status","ip","userAgent","expiresAt")
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING "lastActiveAt","createdAt"
	`, sess.ID, sess.UserID, sess.RefreshTokenHash, sess.Status, sess.IP, sess.UserAgent, sess.ExpiresAt).
		Scan(&sess.LastActiveAt, &sess.CreatedAt)
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*Session, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM "Session" WHERE "id"=$1
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// Rotate swaps the stored refresh-token hash in one conditional UPDATE.
// Two concurrent refreshes with the same raw token race on this
// statement: exactly one matches the old hash, the loser gets
// ErrSessionNotFound. The old raw token is orphaned the instant the row
// is rewritten.
func (r *SessionRepository) Rotate(ctx context.Context, oldHash, newHash string, newExpiry time.Time) (*Session, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE "Session"
		SET "refreshTokenHash"=$2, "expiresAt"=$3, "lastActiveAt"=NOW()
		WHERE "refreshTokenHash"=$1 AND "status"='ACTIVE' AND "expiresAt" > NOW()
		RETURNING `+sessionColumns,
		oldHash, newHash, newExpiry)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

func (r *SessionRepository) Revoke(ctx context.Context, sessionID, userID string) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE "Session"
		SET "status"='REVOKED', "revokedAt"=NOW()
		WHERE "id"=$1 AND "userId"=$2 AND "status"='ACTIVE'
	`, sessionID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllForUser marks every active session revoked, optionally keeping
// the caller's current one. Revocation is a plain committed UPDATE, so
// it is visible to the next refresh attempt immediately.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE "Session"
		SET "status"='REVOKED', "revokedAt"=NOW()
		WHERE "userId"=$1 AND "status"='ACTIVE' AND ($2 = '' OR "id" <> $2)
	`, userID, exceptSessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) ListActiveForUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM "Session"
		WHERE "userId"=$1 AND "status"='ACTIVE' AND "expiresAt" > NOW()
		ORDER BY "lastActiveAt" DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) Touch(ctx context.Context, sessionID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "Session" SET "lastActiveAt"=NOW() WHERE "id"=$1
	`, sessionID)
	return err
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		sess      Session
		revokedAt sql.NullTime
	)
	if err := row.Scan(
		&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &sess.Status,
		&sess.IP, &sess.UserAgent, &sess.ExpiresAt, &revokedAt,
		&sess.LastActiveAt, &sess.CreatedAt,
	); err != nil {
		return nil, err
	}
	sess.RevokedAt = nullTimePtr(revokedAt)
	return &sess, nil
}
