// Package repository holds the gateway's Postgres stores: idempotency locks
// and the domain registration tables.
package repository

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/pkg/contextx"
	"github.com/semilimes/sgateway/pkg/json"
)

// BaseRepository provides common database plumbing for the stores.
type BaseRepository struct {
	db  *sql.DB
	log *zap.Logger
}

// NewBaseRepository creates a new base repository instance.
func NewBaseRepository(db *sql.DB, log *zap.Logger) *BaseRepository {
	return &BaseRepository{
		db:  db,
		log: log,
	}
}

// DB returns the underlying database connection.
func (r *BaseRepository) DB() *sql.DB {
	return r.db
}

// BeginTx starts a new transaction with context.
func (r *BaseRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logFor(ctx).Error("Failed to begin transaction", zap.Error(err))
		return nil, err
	}
	return tx, nil
}

// CommitTx commits a transaction.
func (r *BaseRepository) CommitTx(ctx context.Context, tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		r.logFor(ctx).Error("Failed to commit transaction", zap.Error(err))
		return err
	}
	return nil
}

// RollbackTx rolls back a transaction.
func (r *BaseRepository) RollbackTx(ctx context.Context, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		r.logFor(ctx).Error("Failed to rollback transaction", zap.Error(err))
	}
}

// WithinTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (r *BaseRepository) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		r.RollbackTx(ctx, tx)
		return err
	}
	return r.CommitTx(ctx, tx)
}

func (r *BaseRepository) logFor(ctx context.Context) *zap.Logger {
	if id := contextx.RequestID(ctx); id != "" {
		return r.log.With(zap.String("request_id", id))
	}
	return r.log
}

// ToJSON marshals a map for a json column. Nil maps become SQL NULL.
func ToJSON(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// FromJSON unmarshals a json column into a map. NULL comes back as nil.
func FromJSON(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
