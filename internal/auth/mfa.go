package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const challengePrefix = "mfa:challenge:"

// MfaChallenge lives only in the TTL store. It is deleted on the first
// successful verification or when the attempt limit is exhausted; the
// store's TTL handles abandonment.
type MfaChallenge struct {
	ID        string
	UserID    string
	Attempts  int
	CreatedAt time.Time
}

type ChallengeStore struct {
	Redis       *redis.Client
	TTL         time.Duration
	MaxAttempts int
}

func NewChallengeStore(client *redis.Client) *ChallengeStore {
	return &ChallengeStore{Redis: client, TTL: 5 * time.Minute, MaxAttempts: 5}
}

func (s *ChallengeStore) Create(ctx context.Context, userID string) (*MfaChallenge, error) {
	ch := &MfaChallenge{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	key := challengePrefix + ch.ID
	pipe := s.Redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"userId":    ch.UserID,
		"attempts":  0,
		"createdAt": ch.CreatedAt.Unix(),
	})
	pipe.Expire(ctx, key, s.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ch, nil
}

// Consume records one verification attempt against the challenge and
// returns its state. HINCRBY makes concurrent attempts race on the same
// counter, so the cap can only be overshot, never bypassed. Once the
// counter crosses MaxAttempts the record is deleted and
// ErrChallengeExhausted is returned.
func (s *ChallengeStore) Consume(ctx context.Context, id string) (*MfaChallenge, error) {
	key := challengePrefix + id

	exists, err := s.Redis.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrChallengeNotFound
	}

	attempts, err := s.Redis.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return nil, err
	}
	if attempts > int64(s.MaxAttempts) {
		_ = s.Redis.Del(ctx, key).Err()
		return nil, ErrChallengeExhausted
	}

	vals, err := s.Redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrChallengeNotFound
	}

	createdUnix, _ := strconv.ParseInt(vals["createdAt"], 10, 64)
	return &MfaChallenge{
		ID:        id,
		UserID:    vals["userId"],
		Attempts:  int(attempts),
		CreatedAt: time.Unix(createdUnix, 0).UTC(),
	}, nil
}

// Complete removes the challenge after a successful verification so the
// same challenge id can never mint a second session.
func (s *ChallengeStore) Complete(ctx context.Context, id string) error {
	return s.Redis.Del(ctx, challengePrefix+id).Err()
}
