package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SessionStatusScheduled = "scheduled"
	SessionStatusRecording = "recording"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

// TherapySession rows are written by the session-recording subsystem; this
// service reads them and fills in combined_audio_url once chunk combination
// has produced a single playable object.
type TherapySession struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TherapistProfileID uuid.UUID      `gorm:"type:uuid;not null;index" json:"therapist_profile_id"`
	ClientID           *uuid.UUID     `gorm:"type:uuid;column:client_id;index" json:"client_id,omitempty"`
	Status             string         `gorm:"column:status;not null;default:'scheduled';index" json:"status"`
	DurationSeconds    *float64       `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	CombinedAudioURL   *string        `gorm:"column:combined_audio_url" json:"combined_audio_url,omitempty"`
	TotalChunks        int            `gorm:"column:total_chunks;not null;default:0" json:"total_chunks"`
	UploadedChunks     int            `gorm:"column:uploaded_chunks;not null;default:0" json:"uploaded_chunks"`
	CreatedAt          time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (TherapySession) TableName() string { return "therapy_session" }

// HasPlayableAudio reports whether the session can contribute voice material:
// either a combined object already exists or every chunk has been uploaded so
// one can be produced.
func (s *TherapySession) HasPlayableAudio() bool {
	if s == nil {
		return false
	}
	if s.CombinedAudioURL != nil && *s.CombinedAudioURL != "" {
		return true
	}
	return s.TotalChunks > 0 && s.UploadedChunks == s.TotalChunks
}
