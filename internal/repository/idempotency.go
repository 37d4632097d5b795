package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrKeyHeld is returned by Acquire when the idempotency key is already
// locked within the TTL window.
var ErrKeyHeld = errors.New("idempotency key is held")

// IdempotencyRepository manages idempotency locks. A lock lives until the
// request that took it finishes unfulfilled, or until the TTL passes.
type IdempotencyRepository struct {
	*BaseRepository
	ttl time.Duration
}

// NewIdempotencyRepository creates the idempotency store.
func NewIdempotencyRepository(db *sql.DB, log *zap.Logger, ttl time.Duration) *IdempotencyRepository {
	return &IdempotencyRepository{
		BaseRepository: NewBaseRepository(db, log.With(zap.String("module", "repository.idempotency"))),
		ttl:            ttl,
	}
}

// TTL returns the lock lifetime.
func (r *IdempotencyRepository) TTL() time.Duration {
	return r.ttl
}

// Acquire claims key within scope. When the key is already held it returns
// the seconds until the lock expires together with ErrKeyHeld. The check
// and the insert run in one transaction with the existing row locked, so
// two concurrent duplicates cannot both pass.
func (r *IdempotencyRepository) Acquire(ctx context.Context, key, scope string) (int64, error) {
	now := time.Now().Unix()
	cutoff := now - int64(r.ttl.Seconds())

	var remaining int64
	err := r.WithinTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT timestamp FROM idempotancy_request
			 WHERE key = $1 AND scope_id = $2 AND timestamp > $3
			 ORDER BY timestamp DESC
			 LIMIT 1
			 FOR UPDATE`,
			key, scope, cutoff)

		var ts int64
		switch err := row.Scan(&ts); {
		case err == nil:
			remaining = ts - cutoff
			return ErrKeyHeld
		case errors.Is(err, sql.ErrNoRows):
			// Free to take.
		default:
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO idempotancy_request (key, timestamp, scope_id) VALUES ($1, $2, $3)`,
			key, now, scope)
		return err
	})
	if errors.Is(err, ErrKeyHeld) {
		return remaining, err
	}
	return 0, err
}

// Release frees the lock so the caller may repeat the request.
func (r *IdempotencyRepository) Release(ctx context.Context, key, scope string) error {
	_, err := r.DB().ExecContext(ctx,
		`DELETE FROM idempotancy_request WHERE key = $1 AND scope_id = $2`,
		key, scope)
	return err
}

// PurgeExpired removes locks older than the TTL. The janitor runs it on a
// schedule so the table does not grow without bound.
func (r *IdempotencyRepository) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-r.ttl).Unix()
	res, err := r.DB().ExecContext(ctx,
		`DELETE FROM idempotancy_request WHERE timestamp <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
