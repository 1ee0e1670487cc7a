package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/types"
)

type TherapySessionRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.TherapySession, error)
	ListCompletedWithAudio(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) ([]*types.TherapySession, error)
	ListCombined(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) ([]*types.TherapySession, error)
	SetCombinedAudioURL(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, combinedAudioURL string) error
}

type therapySessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTherapySessionRepo(db *gorm.DB, baseLog *logger.Logger) TherapySessionRepo {
	return &therapySessionRepo{
		db:  db,
		log: baseLog.With("repo", "TherapySessionRepo"),
	}
}

func (r *therapySessionRepo) GetByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.TherapySession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return nil, nil
	}
	var session types.TherapySession
	err := transaction.WithContext(ctx).
		Where("id = ?", sessionID).
		Limit(1).
		Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}

// ListCompletedWithAudio returns the therapist's completed sessions that have
// a recorded duration, newest first. Callers partition on combined URL
// presence versus all-chunks-uploaded.
func (r *therapySessionRepo) ListCompletedWithAudio(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) ([]*types.TherapySession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.TherapySession
	if therapistProfileID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("therapist_profile_id = ? AND status = ? AND duration_seconds IS NOT NULL", therapistProfileID, types.SessionStatusCompleted).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListCombined re-reads the authoritative set of sessions whose combined
// object exists. Run after chunk combination instead of trusting in-memory
// results from the combine calls.
func (r *therapySessionRepo) ListCombined(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) ([]*types.TherapySession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.TherapySession
	if therapistProfileID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("therapist_profile_id = ? AND status = ? AND duration_seconds IS NOT NULL AND combined_audio_url IS NOT NULL", therapistProfileID, types.SessionStatusCompleted).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *therapySessionRepo) SetCombinedAudioURL(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, combinedAudioURL string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return errors.New("missing session_id")
	}
	return transaction.WithContext(ctx).
		Model(&types.TherapySession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"combined_audio_url": combinedAudioURL,
			"updated_at":         time.Now().UTC(),
		}).Error
}
