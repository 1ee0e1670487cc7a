package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	VoiceStatusNone       = "none"
	VoiceStatusProcessing = "processing"
	VoiceStatusCompleted  = "completed"
	VoiceStatusFailed     = "failed"
)

// TherapistVoiceState is the per-therapist cloning record. The status column
// doubles as the cross-instance lock: only one request may hold
// status='processing' per therapist, enforced by the partial unique index
// created in db.AutoMigrateAll.
type TherapistVoiceState struct {
	ID                      uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TherapistProfileID      uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex" json:"therapist_profile_id"`
	TherapistProfile        *TherapistProfile `gorm:"constraint:OnDelete:CASCADE;foreignKey:TherapistProfileID;references:ID" json:"therapist_profile,omitempty"`
	Status                  string            `gorm:"column:status;not null;default:'none';index" json:"status"`
	StartedAt               *time.Time        `gorm:"column:started_at" json:"started_at,omitempty"`
	ClonedVoiceID           *string           `gorm:"column:cloned_voice_id" json:"cloned_voice_id,omitempty"`
	LastClonedAt            *time.Time        `gorm:"column:last_cloned_at" json:"last_cloned_at,omitempty"`
	SessionCountAtLastClone int               `gorm:"column:session_count_at_last_clone;not null;default:0" json:"session_count_at_last_clone"`
	LastError               string            `gorm:"column:last_error" json:"last_error,omitempty"`
	Metadata                datatypes.JSON    `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	CreatedAt               time.Time         `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt               time.Time         `gorm:"not null;default:now()" json:"updated_at"`
}

func (TherapistVoiceState) TableName() string { return "therapist_voice_state" }
