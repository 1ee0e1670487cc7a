package types

import (
	"time"

	"github.com/google/uuid"
)

type SessionAudioChunk struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID  uuid.UUID       `gorm:"type:uuid;not null;index:idx_session_chunk,unique" json:"session_id"`
	Session    *TherapySession `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	Idx        int             `gorm:"column:idx;not null;index:idx_session_chunk,unique" json:"idx"`
	StorageKey string          `gorm:"column:storage_key;not null" json:"storage_key"`
	SizeBytes  int64           `gorm:"column:size_bytes;not null;default:0" json:"size_bytes"`
	UploadedAt time.Time       `gorm:"column:uploaded_at;not null;default:now()" json:"uploaded_at"`
}

func (SessionAudioChunk) TableName() string { return "session_audio_chunk" }
