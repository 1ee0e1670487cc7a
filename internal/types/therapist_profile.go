package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TherapistProfile struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	DisplayName string         `gorm:"column:display_name;not null" json:"display_name"`
	Credentials string         `gorm:"column:credentials" json:"credentials,omitempty"`
	Specialty   string         `gorm:"column:specialty" json:"specialty,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (TherapistProfile) TableName() string { return "therapist_profile" }
