package shared

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxIdempotencyKeyLength bounds client supplied Idempotency-Key headers.
const MaxIdempotencyKeyLength = 128

// ErrIdempotencyConflict indicates the key was already used for the scope.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore remembers Idempotency-Key values per user and scope so a
// retried API call does not create a second record.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Claim records key for userID within scope. ErrIdempotencyConflict is
// returned when it was claimed before.
func (s *IdempotencyStore) Claim(ctx context.Context, userID int64, scope, key string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxIdempotencyKeyLength {
		return FieldErrors{"Idempotency-Key": "must be between 1 and 128 characters"}
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (user_id, scope, key, created_at) VALUES ($1, $2, $3, $4)`,
		userID, scope, key, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Release forgets a key, typically after the guarded operation failed.
func (s *IdempotencyStore) Release(ctx context.Context, userID int64, scope, key string) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE user_id = $1 AND scope = $2 AND key = $3`,
		userID, scope, strings.TrimSpace(key))
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
