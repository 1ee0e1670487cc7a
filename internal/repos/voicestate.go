package repos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/types"
)

type VoiceStateRepo interface {
	GetByTherapistProfileID(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) (*types.TherapistVoiceState, error)
	EnsureForTherapist(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) (*types.TherapistVoiceState, error)
	ClaimProcessing(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID, startedAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID, voiceID string, sessionCount int, clonedAt time.Time) error
	MarkFailed(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID, lastError string) error
	ReleaseCompleted(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) error
}

type voiceStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVoiceStateRepo(db *gorm.DB, baseLog *logger.Logger) VoiceStateRepo {
	return &voiceStateRepo{
		db:  db,
		log: baseLog.With("repo", "VoiceStateRepo"),
	}
}

func (r *voiceStateRepo) GetByTherapistProfileID(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) (*types.TherapistVoiceState, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if therapistProfileID == uuid.Nil {
		return nil, nil
	}
	var state types.TherapistVoiceState
	err := transaction.WithContext(ctx).
		Where("therapist_profile_id = ?", therapistProfileID).
		Limit(1).
		Find(&state).Error
	if err != nil {
		return nil, err
	}
	if state.ID == uuid.Nil {
		return nil, nil
	}
	return &state, nil
}

// EnsureForTherapist creates the per-therapist row on first use. The insert
// races with concurrent requests; ON CONFLICT DO NOTHING lets the loser fall
// through to the authoritative re-read.
func (r *voiceStateRepo) EnsureForTherapist(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) (*types.TherapistVoiceState, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if therapistProfileID == uuid.Nil {
		return nil, errors.New("missing therapist_profile_id")
	}

	now := time.Now().UTC()
	row := &types.TherapistVoiceState{
		ID:                 uuid.New(),
		TherapistProfileID: therapistProfileID,
		Status:             types.VoiceStatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "therapist_profile_id"}},
			DoNothing: true,
		}).
		Create(row).Error
	if err != nil && !IsUniqueViolation(err) {
		return nil, err
	}
	return r.GetByTherapistProfileID(ctx, transaction, therapistProfileID)
}

// ClaimProcessing is the lock acquire: a conditional update that only fires
// when no other request holds the processing status. Returns false when the
// row was already processing (lost race) without treating it as an error.
func (r *voiceStateRepo) ClaimProcessing(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID, startedAt time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if therapistProfileID == uuid.Nil {
		return false, errors.New("missing therapist_profile_id")
	}

	res := transaction.WithContext(ctx).
		Model(&types.TherapistVoiceState{}).
		Where("therapist_profile_id = ? AND status <> ?", therapistProfileID, types.VoiceStatusProcessing).
		Updates(map[string]interface{}{
			"status":     types.VoiceStatusProcessing,
			"started_at": startedAt,
			"last_error": "",
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		if IsUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *voiceStateRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID, voiceID string, sessionCount int, clonedAt time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if therapistProfileID == uuid.Nil {
		return errors.New("missing therapist_profile_id")
	}
	return transaction.WithContext(ctx).
		Model(&types.TherapistVoiceState{}).
		Where("therapist_profile_id = ?", therapistProfileID).
		Updates(map[string]interface{}{
			"status":                      types.VoiceStatusCompleted,
			"cloned_voice_id":             voiceID,
			"last_cloned_at":              clonedAt,
			"session_count_at_last_clone": sessionCount,
			"started_at":                  nil,
			"last_error":                  "",
			"updated_at":                  time.Now().UTC(),
		}).Error
}

func (r *voiceStateRepo) MarkFailed(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID, lastError string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if therapistProfileID == uuid.Nil {
		return errors.New("missing therapist_profile_id")
	}
	if len(lastError) > 1000 {
		lastError = lastError[:1000]
	}
	return transaction.WithContext(ctx).
		Model(&types.TherapistVoiceState{}).
		Where("therapist_profile_id = ?", therapistProfileID).
		Updates(map[string]interface{}{
			"status":     types.VoiceStatusFailed,
			"started_at": nil,
			"last_error": lastError,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ReleaseCompleted hands the lock back without touching the clone bookkeeping.
// Used when a claimed run decides there is nothing to do (skip path).
func (r *voiceStateRepo) ReleaseCompleted(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if therapistProfileID == uuid.Nil {
		return errors.New("missing therapist_profile_id")
	}
	return transaction.WithContext(ctx).
		Model(&types.TherapistVoiceState{}).
		Where("therapist_profile_id = ?", therapistProfileID).
		Updates(map[string]interface{}{
			"status":     types.VoiceStatusCompleted,
			"started_at": nil,
			"updated_at": time.Now().UTC(),
		}).Error
}

// IsUniqueViolation reports whether err is a duplicate-key error from the
// database, in any of the shapes gorm and pgx surface it.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.TrimSpace(pgErr.Code) == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
