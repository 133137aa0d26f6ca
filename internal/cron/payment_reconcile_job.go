package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	"github.com/threadline/settlement-backend/pkg/logger"
)

const defaultReconcileBatch = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentVerifier interface {
	PendingForReconcile(ctx context.Context, limit int) ([]models.PaymentTransaction, error)
	Verify(ctx context.Context, txID uuid.UUID, actor authz.Actor) (enums.TransactionStatus, error)
}

type PaymentReconcileJobParams struct {
	Logger    *logger.Logger
	Payments  paymentVerifier
	BatchSize int
}

// NewPaymentReconcileJob re-verifies aging pending transactions with their
// gateway. A failure on one transaction does not stop the batch.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment ledger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &paymentReconcileJob{
		logg:     params.Logger,
		payments: params.Payments,
		batch:    batch,
	}, nil
}

type paymentReconcileJob struct {
	logg     *logger.Logger
	payments paymentVerifier
	batch    int
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	pending, err := j.payments.PendingForReconcile(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("load pending transactions: %w", err)
	}

	var (
		errs     error
		resolved = map[enums.TransactionStatus]int{}
	)
	for _, txn := range pending {
		status, err := j.payments.Verify(ctx, txn.ID, authz.SystemActor)
		if err != nil {
			j.logg.Error(j.logg.WithFields(ctx, map[string]any{
				"transaction_id": txn.ID.String(),
				"order_id":       txn.OrderID.String(),
			}), "payment.reconcile_failed", err)
			errs = multierr.Append(errs, fmt.Errorf("verify %s: %w", txn.ID, err))
			continue
		}
		resolved[status]++
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"checked":   len(pending),
		"completed": resolved[enums.TransactionStatusCompleted],
		"failed":    resolved[enums.TransactionStatusFailed],
		"pending":   resolved[enums.TransactionStatusPending],
		"errors":    len(multierr.Errors(errs)),
	}), "payment reconcile complete")
	return errs
}
