package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	"github.com/threadline/settlement-backend/pkg/logger"
)

type fakeVerifier struct {
	pending  []models.PaymentTransaction
	loadErr  error
	results  map[uuid.UUID]enums.TransactionStatus
	failures map[uuid.UUID]error
	actors   []authz.Actor
	limit    int
}

func (f *fakeVerifier) PendingForReconcile(_ context.Context, limit int) ([]models.PaymentTransaction, error) {
	f.limit = limit
	return f.pending, f.loadErr
}

func (f *fakeVerifier) Verify(_ context.Context, txID uuid.UUID, actor authz.Actor) (enums.TransactionStatus, error) {
	f.actors = append(f.actors, actor)
	if err := f.failures[txID]; err != nil {
		return "", err
	}
	return f.results[txID], nil
}

func newReconcileJob(t *testing.T, verifier *fakeVerifier) Job {
	t.Helper()
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Payments: verifier,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconcileJob: %v", err)
	}
	return job
}

func TestPaymentReconcileJobVerifiesEachPending(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	verifier := &fakeVerifier{
		pending: []models.PaymentTransaction{{ID: a}, {ID: b}, {ID: c}},
		results: map[uuid.UUID]enums.TransactionStatus{
			a: enums.TransactionStatusCompleted,
			b: enums.TransactionStatusFailed,
			c: enums.TransactionStatusPending,
		},
	}
	if err := newReconcileJob(t, verifier).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(verifier.actors) != 3 {
		t.Fatalf("expected 3 verifications, got %d", len(verifier.actors))
	}
	for _, actor := range verifier.actors {
		if !actor.System {
			t.Fatalf("expected system actor, got %+v", actor)
		}
	}
	if verifier.limit != defaultReconcileBatch {
		t.Fatalf("expected batch %d, got %d", defaultReconcileBatch, verifier.limit)
	}
}

func TestPaymentReconcileJobAggregatesFailures(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	verifier := &fakeVerifier{
		pending: []models.PaymentTransaction{{ID: a}, {ID: b}, {ID: c}},
		results: map[uuid.UUID]enums.TransactionStatus{b: enums.TransactionStatusCompleted},
		failures: map[uuid.UUID]error{
			a: errors.New("gateway timeout"),
			c: errors.New("gateway timeout"),
		},
	}
	err := newReconcileJob(t, verifier).Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 errors, got %d", got)
	}
	if len(verifier.actors) != 3 {
		t.Fatalf("expected every transaction to be tried, got %d", len(verifier.actors))
	}
}

func TestPaymentReconcileJobLoadError(t *testing.T) {
	verifier := &fakeVerifier{loadErr: errors.New("db down")}
	if err := newReconcileJob(t, verifier).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(verifier.actors) != 0 {
		t.Fatal("expected no verifications")
	}
}
