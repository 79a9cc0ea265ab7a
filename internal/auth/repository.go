package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `"id","email","username","name","avatarUrl","password","emailVerified","mfaEnabled","totpSecret","failedLogins","lockoutUntil","deletedAt","metadata","createdAt","updatedAt"`

type UserRepository struct {
	DB *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{DB: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *UserRepository) Create(ctx context.Context, email string, username, name *string, passwordHash *string, verified *time.Time) (*User, error) {
	id := uuid.NewString()
	row := r.DB.QueryRow(ctx, `
		INSERT INTO "User" ("id","email","username","name","password","emailVerified")
		VALUES ($1,LOWER($2),$3,$4,$5,$6)
		RETURNING `+userColumns,
		id, email, username, name, passwordHash, verified)

	user, err := scanUser(row)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	return user, err
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM "User"
		WHERE "email"=LOWER($1) AND "deletedAt" IS NULL
	`, strings.TrimSpace(email))
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM "User"
		WHERE "id"=$1 AND "deletedAt" IS NULL
	`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

// RecordLoginFailure bumps the consecutive-failure counter and, when it
// crosses threshold, starts the lockout window.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, userID string, threshold int, cooldown time.Duration) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "failedLogins"="failedLogins"+1,
		    "lockoutUntil"=CASE WHEN "failedLogins"+1 >= $2 THEN NOW() + $3::interval ELSE "lockoutUntil" END
		WHERE "id"=$1
	`, userID, threshold, cooldown.String())
	return err
}

func (r *UserRepository) ResetLoginFailures(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "failedLogins"=0, "lockoutUntil"=NULL
		WHERE "id"=$1
	`, userID)
	return err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID, hashed string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "password"=$1 WHERE "id"=$2
	`, hashed, userID)
	return err
}

func (r *UserRepository) SetEmailVerified(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "emailVerified"=NOW() WHERE "id"=$1 AND "emailVerified" IS NULL
	`, userID)
	return err
}

func (r *UserRepository) SoftDelete(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "deletedAt"=NOW() WHERE "id"=$1 AND "deletedAt" IS NULL
	`, userID)
	return err
}

// UpdateTOTPSecret stores an encrypted, not-yet-confirmed seed. MFA is
// only enabled once the user proves a code against it.
func (r *UserRepository) UpdateTOTPSecret(ctx context.Context, userID string, encrypted *string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "totpSecret"=$1 WHERE "id"=$2
	`, encrypted, userID)
	return err
}

func (r *UserRepository) EnableMFA(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "mfaEnabled"=TRUE WHERE "id"=$1
	`, userID)
	return err
}

func (r *UserRepository) DisableMFA(ctx context.Context, userID string) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE "User" SET "mfaEnabled"=FALSE, "totpSecret"=NULL WHERE "id"=$1
	`, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM "BackupCode" WHERE "userId"=$1`, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReplaceBackupCodes swaps the full set of encrypted backup codes.
func (r *UserRepository) ReplaceBackupCodes(ctx context.Context, userID string, encrypted []string) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM "BackupCode" WHERE "userId"=$1`, userID); err != nil {
		return err
	}
	for _, code := range encrypted {
		if _, err := tx.Exec(ctx, `
			INSERT INTO "BackupCode" ("id","userId","code") VALUES ($1,$2,$3)
		`, uuid.NewString(), userID, code); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *UserRepository) ListBackupCodes(ctx context.Context, userID string) ([]BackupCode, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT "id","userId","code","createdAt"
		FROM "BackupCode"
		WHERE "userId"=$1
		ORDER BY "createdAt"
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []BackupCode
	for rows.Next() {
		var c BackupCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.Code, &c.CreatedAt); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// ConsumeBackupCode deletes a single code row; the delete succeeding is
// what makes backup codes strictly single-use under concurrent redeems.
func (r *UserRepository) ConsumeBackupCode(ctx context.Context, id string) (bool, error) {
	tag, err := r.DB.Exec(ctx, `DELETE FROM "BackupCode" WHERE "id"=$1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *UserRepository) FindByOAuth(ctx context.Context, provider, accountID string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT u."id",u."email",u."username",u."name",u."avatarUrl",u."password",u."emailVerified",u."mfaEnabled",u."totpSecret",u."failedLogins",u."lockoutUntil",u."deletedAt",u."metadata",u."createdAt",u."updatedAt"
		FROM "User" u
		INNER JOIN "OAuthAccount" oa ON oa."userId" = u."id"
		WHERE oa."provider"=$1 AND oa."providerAccountId"=$2 AND u."deletedAt" IS NULL
	`, provider, accountID)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

// LinkOAuthAccount upserts on the (provider, providerAccountId) unique
// key; that constraint, not this code, is the concurrency guard against
// duplicate identities.
func (r *UserRepository) LinkOAuthAccount(ctx context.Context, userID, provider, accountID string) (*OAuthAccount, error) {
	row := r.DB.QueryRow(ctx, `
		INSERT INTO "OAuthAccount" ("id","userId","provider","providerAccountId")
		VALUES ($1,$2,$3,$4)
		ON CONFLICT ("provider","providerAccountId") DO UPDATE SET "updatedAt"=NOW()
		RETURNING "id","userId","provider","providerAccountId","createdAt","updatedAt"
	`, uuid.NewString(), userID, provider, accountID)

	var oa OAuthAccount
	if err := row.Scan(&oa.ID, &oa.UserID, &oa.Provider, &oa.ProviderAccountID, &oa.CreatedAt, &oa.UpdatedAt); err != nil {
		return nil, err
	}
	return &oa, nil
}

// CreateWithOAuth inserts the user and the linking row in one
// transaction. A unique violation on either key means a concurrent
// callback won the race; callers re-run the lookup chain.
func (r *UserRepository) CreateWithOAuth(ctx context.Context, email string, name, avatar *string, provider, accountID string) (*User, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO "User" ("id","email","name","avatarUrl","emailVerified")
		VALUES ($1,LOWER($2),$3,$4,NOW())
		RETURNING `+userColumns,
		uuid.NewString(), email, name, avatar)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO "OAuthAccount" ("id","userId","provider","providerAccountId")
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), user.ID, provider, accountID); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAccountAlreadyLinked
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateOneTimeToken replaces any outstanding token of the same purpose.
func (r *UserRepository) CreateOneTimeToken(ctx context.Context, userID, tokenHash, purpose string, expires time.Time) (*OneTimeToken, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM "OneTimeToken" WHERE "userId"=$1 AND "purpose"=$2 AND "usedAt" IS NULL
	`, userID, purpose); err != nil {
		return nil, err
	}

	tok := &OneTimeToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		Purpose:   purpose,
		ExpiresAt: expires,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO "OneTimeToken" ("id","userId","tokenHash","purpose","expiresAt")
		VALUES ($1,$2,$3,$4,$5)
		RETURNING "createdAt"
	`, tok.ID, tok.UserID, tok.TokenHash, tok.Purpose, tok.ExpiresAt).Scan(&tok.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return tok, nil
}

// RedeemOneTimeToken marks the token used and returns it. The conditional
// UPDATE is the single-use guarantee: once usedAt is set, or past expiry,
// no rows match and redemption fails even under concurrent calls.
func (r *UserRepository) RedeemOneTimeToken(ctx context.Context, tokenHash, purpose string) (*OneTimeToken, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE "OneTimeToken"
		SET "usedAt"=NOW()
		WHERE "tokenHash"=$1 AND "purpose"=$2 AND "usedAt" IS NULL AND "expiresAt" > NOW()
		RETURNING "id","userId","tokenHash","purpose","expiresAt","usedAt","createdAt"
	`, tokenHash, purpose)

	var tok OneTimeToken
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.Purpose, &tok.ExpiresAt, &tok.UsedAt, &tok.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	return &tok, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		id            string
		email         string
		username      sql.NullString
		name          sql.NullString
		avatarURL     sql.NullString
		password      sql.NullString
		emailVerified sql.NullTime
		mfaEnabled    bool
		totpSecret    sql.NullString
		failedLogins  int
		lockoutUntil  sql.NullTime
		deletedAt     sql.NullTime
		metadata      []byte
		createdAt     time.Time
		updatedAt     time.Time
	)

	if err := row.Scan(
		&id, &email, &username, &name, &avatarURL, &password,
		&emailVerified, &mfaEnabled, &totpSecret, &failedLogins,
		&lockoutUntil, &deletedAt, &metadata, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var meta map[string]any
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &meta)
	}

	return &User{
		ID:            id,
		Email:         email,
		Username:      nullStringPtr(username),
		Name:          nullStringPtr(name),
		AvatarURL:     nullStringPtr(avatarURL),
		PasswordHash:  nullStringPtr(password),
		EmailVerified: nullTimePtr(emailVerified),
		MFAEnabled:    mfaEnabled,
		TOTPSecret:    nullStringPtr(totpSecret),
		FailedLogins:  failedLogins,
		LockoutUntil:  nullTimePtr(lockoutUntil),
		DeletedAt:     nullTimePtr(deletedAt),
		Metadata:      meta,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}
