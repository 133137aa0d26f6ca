package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/pkg/enums"
)

// RiskAssessment is the audit record written for blocked payment attempts.
type RiskAssessment struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	BuyerID   uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null;index"`
	Method    enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Score     int                 `gorm:"column:score;not null"`
	Level     enums.RiskLevel     `gorm:"column:level;type:text;not null"`
	Action    enums.RiskAction    `gorm:"column:action;type:text;not null"`
	Factors   []string            `gorm:"column:factors;type:jsonb;serializer:json"`
	IPAddress *string             `gorm:"column:ip_address"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (r *RiskAssessment) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
