package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/theravox/theravox-backend/internal/pkg/pointers"
	"github.com/theravox/theravox-backend/internal/types"
)

func SeedTherapistProfile(tb testing.TB, ctx context.Context, tx *gorm.DB, displayName string) *types.TherapistProfile {
	tb.Helper()
	p := &types.TherapistProfile{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		DisplayName: displayName,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed therapist profile: %v", err)
	}
	return p
}

// SeedCompletedSession inserts a completed session. An empty combinedURL
// leaves the combined object absent.
func SeedCompletedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID, durationSec float64, combinedURL string, createdAt time.Time) *types.TherapySession {
	tb.Helper()
	s := &types.TherapySession{
		ID:                 uuid.New(),
		TherapistProfileID: therapistProfileID,
		Status:             types.SessionStatusCompleted,
		DurationSeconds:    pointers.Float64(durationSec),
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	if combinedURL != "" {
		s.CombinedAudioURL = pointers.String(combinedURL)
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed completed session: %v", err)
	}
	return s
}

// SeedUploadedSession inserts a completed session whose chunks are all
// uploaded but not yet combined.
func SeedUploadedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID, durationSec float64, totalChunks int, createdAt time.Time) *types.TherapySession {
	tb.Helper()
	s := &types.TherapySession{
		ID:                 uuid.New(),
		TherapistProfileID: therapistProfileID,
		Status:             types.SessionStatusCompleted,
		DurationSeconds:    pointers.Float64(durationSec),
		TotalChunks:        totalChunks,
		UploadedChunks:     totalChunks,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed uploaded session: %v", err)
	}
	return s
}

func SeedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, therapistProfileID uuid.UUID, status string, createdAt time.Time) *types.TherapySession {
	tb.Helper()
	s := &types.TherapySession{
		ID:                 uuid.New(),
		TherapistProfileID: therapistProfileID,
		Status:             status,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed session: %v", err)
	}
	return s
}

func SeedChunk(tb testing.TB, ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, idx int) *types.SessionAudioChunk {
	tb.Helper()
	c := &types.SessionAudioChunk{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Idx:        idx,
		StorageKey: fmt.Sprintf("%s/chunk_%03d.webm", sessionID, idx),
		SizeBytes:  1024,
		UploadedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chunk: %v", err)
	}
	return c
}
