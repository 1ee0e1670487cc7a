package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/types"
)

type TherapistProfileRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) (*types.TherapistProfile, error)
	Create(ctx context.Context, tx *gorm.DB, profiles []*types.TherapistProfile) ([]*types.TherapistProfile, error)
}

type therapistProfileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTherapistProfileRepo(db *gorm.DB, baseLog *logger.Logger) TherapistProfileRepo {
	return &therapistProfileRepo{
		db:  db,
		log: baseLog.With("repo", "TherapistProfileRepo"),
	}
}

func (r *therapistProfileRepo) GetByID(ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID) (*types.TherapistProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if therapistProfileID == uuid.Nil {
		return nil, nil
	}
	var profile types.TherapistProfile
	err := transaction.WithContext(ctx).
		Where("id = ?", therapistProfileID).
		Limit(1).
		Find(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.ID == uuid.Nil {
		return nil, nil
	}
	return &profile, nil
}

func (r *therapistProfileRepo) Create(ctx context.Context, tx *gorm.DB, profiles []*types.TherapistProfile) ([]*types.TherapistProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(profiles) == 0 {
		return []*types.TherapistProfile{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}
