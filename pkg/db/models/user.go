package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/pkg/enums"
)

// User is the identity record owned by the auth service. Read-only here.
type User struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Email     string     `gorm:"column:email;type:text;not null"`
	Role      enums.Role `gorm:"column:role;type:text;not null"`
	Phone     *string    `gorm:"column:phone"`
	CreatedAt time.Time  `gorm:"column:created_at"`
}
