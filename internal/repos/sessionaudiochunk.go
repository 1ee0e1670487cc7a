package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/types"
)

type SessionAudioChunkRepo interface {
	ListBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.SessionAudioChunk, error)
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.SessionAudioChunk) ([]*types.SessionAudioChunk, error)
}

type sessionAudioChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionAudioChunkRepo(db *gorm.DB, baseLog *logger.Logger) SessionAudioChunkRepo {
	return &sessionAudioChunkRepo{
		db:  db,
		log: baseLog.With("repo", "SessionAudioChunkRepo"),
	}
}

// ListBySessionID returns chunks in upload order; combination depends on it.
func (r *sessionAudioChunkRepo) ListBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.SessionAudioChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.SessionAudioChunk
	if sessionID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("idx ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *sessionAudioChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.SessionAudioChunk) ([]*types.SessionAudioChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.SessionAudioChunk{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}
