package middleware

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/repository"
)

// NameIdempotency is the configuration name of the idempotency middleware.
const NameIdempotency = "idempotency"

// Idempotency declines duplicate requests while an earlier one holds the
// caller's idempotency key. The key arrives in the X-Idempotency-Key header
// or the idempotency_key query argument; keys are scoped per entity and
// call path. An unfulfilled response releases the lock, the request counts
// as never executed and is safe to repeat.
type Idempotency struct {
	repo *repository.IdempotencyRepository
	log  *zap.Logger
}

// NewIdempotency builds the middleware over the lock store.
func NewIdempotency(repo *repository.IdempotencyRepository, log *zap.Logger) *Idempotency {
	return &Idempotency{
		repo: repo,
		log:  log.With(zap.String("middleware", NameIdempotency)),
	}
}

func (*Idempotency) Name() string { return NameIdempotency }

// WebhookFriendly: providers retry their callbacks, those deserve the same
// duplicate protection.
func (*Idempotency) WebhookFriendly() bool { return true }

func (i *Idempotency) ProcessRequest(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	key := idempotencyKey(req)
	if key == "" {
		return nil, nil
	}

	remaining, err := i.repo.Acquire(ctx, key, i.scope(ctx, req))
	if errors.Is(err, repository.ErrKeyHeld) {
		return nil, gateway.NewIdempotencyError(fmt.Sprintf("Lock expiring in %d sec", remaining))
	}
	if err != nil {
		return nil, err
	}

	req.AddExtension(ExtIdempotencyKey, key)
	return nil, nil
}

func (i *Idempotency) ProcessResponse(ctx context.Context, req *gateway.Request, resp *gateway.Response, _ error) (*gateway.Response, error) {
	ext, ok := req.Extension(ExtIdempotencyKey)
	if !ok {
		return nil, nil
	}
	if resp != nil && resp.RequestFulfilled {
		return nil, nil
	}

	// The request did not go through, free the key so a repeat can.
	key, _ := ext.(string)
	if err := i.repo.Release(ctx, key, i.scope(ctx, req)); err != nil {
		return nil, err
	}
	i.log.Debug("idempotency lock released", zap.String("key", key))
	return nil, nil
}

// scope namespaces keys per entity and call path. Anonymous requests share
// the "any" scope.
func (i *Idempotency) scope(ctx context.Context, req *gateway.Request) string {
	entity, err := req.EntityID(ctx)
	if err != nil || entity == "" {
		entity = "any"
	}
	return fmt.Sprintf("%s.%s", entity, req.PathRepr())
}

func idempotencyKey(req *gateway.Request) string {
	if key := req.Transport.Header("X-Idempotency-Key"); key != "" {
		return key
	}
	return req.Arg("idempotency_key")
}
