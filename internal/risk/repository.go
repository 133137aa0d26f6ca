package risk

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
)

var settledPaymentStatuses = []enums.PaymentStatus{
	enums.PaymentStatusPaid,
	enums.PaymentStatusPartiallyRefunded,
	enums.PaymentStatusRefunded,
}

// Repository loads buyer history and stores blocked-attempt audit rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	BuyerProfile(ctx context.Context, buyerID uuid.UUID) (BuyerProfile, error)
	SaveAssessment(ctx context.Context, assessment *models.RiskAssessment) error
	ListAssessments(ctx context.Context, orderID uuid.UUID) ([]models.RiskAssessment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a risk repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// BuyerProfile reads account age from users and history from settled orders.
// An unknown user yields a zero creation time, scored as a brand new account.
func (r *repository) BuyerProfile(ctx context.Context, buyerID uuid.UUID) (BuyerProfile, error) {
	var profile BuyerProfile

	var user models.User
	err := r.db.WithContext(ctx).Select("id", "created_at").First(&user, "id = ?", buyerID).Error
	switch {
	case err == nil:
		profile.AccountCreatedAt = user.CreatedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile.AccountCreatedAt = time.Time{}
	default:
		return BuyerProfile{}, err
	}

	var stats struct {
		OrderCount int64
		TotalCents int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COUNT(*) AS order_count, COALESCE(SUM(total_cents), 0) AS total_cents").
		Where("buyer_id = ?", buyerID).
		Where("payment_status IN ?", settledPaymentStatuses).
		Scan(&stats).Error; err != nil {
		return BuyerProfile{}, err
	}
	profile.OrderCount = stats.OrderCount
	if stats.OrderCount > 0 {
		profile.AverageOrderCents = stats.TotalCents / stats.OrderCount
	}
	return profile, nil
}

func (r *repository) SaveAssessment(ctx context.Context, assessment *models.RiskAssessment) error {
	return r.db.WithContext(ctx).Create(assessment).Error
}

func (r *repository) ListAssessments(ctx context.Context, orderID uuid.UUID) ([]models.RiskAssessment, error) {
	var rows []models.RiskAssessment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
