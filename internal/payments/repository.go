package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	"github.com/threadline/settlement-backend/pkg/pagination"
)

// Repository persists payment transactions and refunds. Every status change is
// a compare-and-swap on the current status.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindLatestForOrder(ctx context.Context, orderID uuid.UUID, method enums.PaymentMethod) (*models.PaymentTransaction, error)
	FindLatestCompleted(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error)
	FindByReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.PaymentTransaction, error)
	CountAttempts(ctx context.Context, orderID uuid.UUID) (int64, error)
	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	SetReference(ctx context.Context, id uuid.UUID, reference, providerCode string) error
	CompleteIfPending(ctx context.Context, id uuid.UUID, settledBy *uuid.UUID, notes *string, at time.Time) (bool, error)
	FailIfPending(ctx context.Context, id uuid.UUID, providerCode string, at time.Time) (bool, error)
	ApplyRefund(ctx context.Context, id uuid.UUID, amountCents int64) (bool, error)
	CreateRefund(ctx context.Context, refund *models.Refund) error
	FindRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*models.Refund, error)
	UpdateOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus) error
	ListFlagged(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.PaymentTransaction, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// LockOrder takes the order row lock so payment attempts for one order serialize.
func (r *repository) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Preload("Refunds", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindLatestForOrder(ctx context.Context, orderID uuid.UUID, method enums.PaymentMethod) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND method = ?", orderID, method).
		Where("status IN ?", []enums.TransactionStatus{enums.TransactionStatusPending, enums.TransactionStatusCompleted}).
		Order("created_at DESC").
		Order("id DESC").
		First(&txn).Error
	return optional(&txn, err)
}

func (r *repository) FindLatestCompleted(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.TransactionStatusCompleted).
		Order("created_at DESC").
		Order("id DESC").
		First(&txn).Error
	return optional(&txn, err)
}

func (r *repository) FindByReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND reference = ?", provider, reference).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) CountAttempts(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).Where("order_id = ?", orderID).Count(&count).Error
	return count, err
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Omit("Refunds").Create(txn).Error
}

func (r *repository) SetReference(ctx context.Context, id uuid.UUID, reference, providerCode string) error {
	updates := map[string]any{"reference": reference}
	if providerCode != "" {
		updates["provider_code"] = providerCode
	}
	return r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) CompleteIfPending(ctx context.Context, id uuid.UUID, settledBy *uuid.UUID, notes *string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     enums.TransactionStatusCompleted,
		"settled_at": at,
		"settled_by": settledBy,
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	res := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) FailIfPending(ctx context.Context, id uuid.UUID, providerCode string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":    enums.TransactionStatusFailed,
		"failed_at": at,
	}
	if providerCode != "" {
		updates["provider_code"] = providerCode
	}
	res := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// ApplyRefund adds amountCents to the refunded total only while the
// transaction is completed and the total stays within the captured amount.
// The transaction flips to refunded when fully returned.
func (r *repository) ApplyRefund(ctx context.Context, id uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE payment_transactions
		SET refunded_cents = refunded_cents + ?,
			status = CASE WHEN refunded_cents + ? >= amount_cents THEN ? ELSE status END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND refunded_cents + ? <= amount_cents
	`, amountCents, amountCents, enums.TransactionStatusRefunded, id, enums.TransactionStatusCompleted, amountCents)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).Where("gateway_refund_id = ?", gatewayRefundID).First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) UpdateOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Update("payment_status", status).Error
}

func (r *repository) ListFlagged(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	query := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).Where("flagged = ?", true)
	if err := pagination.Apply(query, "", cursor, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.TransactionStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func optional(txn *models.PaymentTransaction, err error) (*models.PaymentTransaction, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}
