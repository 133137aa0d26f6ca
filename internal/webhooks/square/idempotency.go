package squarewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadline/settlement-backend/pkg/outbox/idempotency"
	"github.com/threadline/settlement-backend/pkg/redis"
)

// IdempotencyGuard remembers delivered Square event ids in redis.
type IdempotencyGuard struct {
	manager  *idempotency.Manager
	consumer string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, consumer string) (*IdempotencyGuard, error) {
	if consumer == "" {
		return nil, errors.New("consumer is required")
	}
	manager, err := idempotency.NewManager(store, ttl)
	if err != nil {
		return nil, err
	}
	return &IdempotencyGuard{manager: manager, consumer: consumer}, nil
}

// CheckAndMark reports whether eventID was already seen and marks it otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	seen, err := g.manager.CheckAndMarkProcessed(ctx, g.consumer, eventID)
	if err != nil {
		return false, fmt.Errorf("check square event: %w", err)
	}
	return seen, nil
}

// Delete forgets eventID so a failed delivery can be retried.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	return g.manager.Delete(ctx, g.consumer, eventID)
}
