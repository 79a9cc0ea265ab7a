package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veyra/authd/internal/auth"
)

const statePrefix = "oauth:state:"

// StateRecord is what a state token redeems to. Losing the record (TTL,
// redis restart) fails the flow safely: the caller restarts the dance.
type StateRecord struct {
	Provider string `json:"provider"`
	Verifier string `json:"verifier"`
	ReturnTo string `json:"returnTo"`
}

type StateStore struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewStateStore(client *redis.Client) *StateStore {
	return &StateStore{Redis: client, TTL: 10 * time.Minute}
}

func (s *StateStore) Put(ctx context.Context, state string, rec StateRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Redis.Set(ctx, statePrefix+state, raw, s.TTL).Err()
}

// Take fetches and deletes the record in one GETDEL so a state token is
// single-use even under concurrent callbacks.
func (s *StateStore) Take(ctx context.Context, state string) (*StateRecord, error) {
	raw, err := s.Redis.GetDel(ctx, statePrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrStateInvalid
		}
		return nil, err
	}
	var rec StateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, auth.ErrStateInvalid
	}
	return &rec, nil
}
