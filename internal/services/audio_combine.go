package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/theravox/theravox-backend/internal/apierr"
	"github.com/theravox/theravox-backend/internal/clients/storage"
	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/repos"
	"github.com/theravox/theravox-backend/internal/utils"
)

const (
	CodeMissingSessionID   = "MISSING_SESSION_ID"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeChunksIncomplete   = "CHUNKS_INCOMPLETE"
	CodeAudioCombineFailed = "AUDIO_COMBINE_FAILED"
)

type AudioCombineConfig struct {
	Bucket          string
	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
	DeleteTimeout   time.Duration
}

func AudioCombineConfigFromEnv(log *logger.Logger) AudioCombineConfig {
	return AudioCombineConfig{
		Bucket:          utils.GetEnv("SESSION_AUDIO_BUCKET", "session-audio", log),
		DownloadTimeout: 2 * time.Minute,
		UploadTimeout:   2 * time.Minute,
		DeleteTimeout:   30 * time.Second,
	}
}

// AudioCombineService stitches a session's uploaded chunks into one
// combined object and records its URL on the session row. The recording
// subsystem calls it when an upload finishes; the clone pipeline calls it
// for any eligible session that still lacks a combined file.
type AudioCombineService interface {
	CombineSessionAudio(ctx context.Context, sessionID uuid.UUID) (string, error)
}

type audioCombineService struct {
	db       *gorm.DB
	log      *logger.Logger
	sessions repos.TherapySessionRepo
	chunks   repos.SessionAudioChunkRepo
	store    storage.Client
	cfg      AudioCombineConfig
}

func NewAudioCombineService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessions repos.TherapySessionRepo,
	chunks repos.SessionAudioChunkRepo,
	store storage.Client,
	cfg AudioCombineConfig,
) AudioCombineService {
	if cfg.Bucket == "" {
		cfg.Bucket = "session-audio"
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 2 * time.Minute
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = 30 * time.Second
	}
	return &audioCombineService{
		db:       db,
		log:      baseLog.With("service", "AudioCombineService"),
		sessions: sessions,
		chunks:   chunks,
		store:    store,
		cfg:      cfg,
	}
}

func (s *audioCombineService) CombineSessionAudio(ctx context.Context, sessionID uuid.UUID) (string, error) {
	session, err := s.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		return "", apierr.New(http.StatusInternalServerError, CodeAudioCombineFailed, fmt.Errorf("load session: %w", err))
	}
	if session == nil {
		return "", apierr.New(http.StatusNotFound, CodeSessionNotFound, fmt.Errorf("session %s not found", sessionID))
	}

	// Already combined: hand back the existing object instead of redoing
	// the stitch, so repeated calls stay cheap and stable.
	if session.CombinedAudioURL != nil && *session.CombinedAudioURL != "" {
		s.log.Debug("Session already combined", "session_id", sessionID.String())
		return *session.CombinedAudioURL, nil
	}

	chunks, err := s.chunks.ListBySessionID(ctx, nil, sessionID)
	if err != nil {
		return "", apierr.New(http.StatusInternalServerError, CodeAudioCombineFailed, fmt.Errorf("list chunks: %w", err))
	}
	if len(chunks) == 0 {
		return "", apierr.New(http.StatusBadRequest, CodeChunksIncomplete, fmt.Errorf("session %s has no uploaded chunks", sessionID))
	}
	if session.TotalChunks > 0 && len(chunks) != session.TotalChunks {
		return "", apierr.New(http.StatusBadRequest, CodeChunksIncomplete,
			fmt.Errorf("session %s has %d of %d chunks", sessionID, len(chunks), session.TotalChunks))
	}
	for i, ch := range chunks {
		if ch.Idx != i {
			return "", apierr.New(http.StatusBadRequest, CodeChunksIncomplete,
				fmt.Errorf("session %s chunk sequence has a gap at index %d (found idx %d)", sessionID, i, ch.Idx))
		}
	}

	parts := make([][]byte, 0, len(chunks))
	totalBytes := 0
	for _, ch := range chunks {
		dctx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
		data, err := s.store.DownloadObject(dctx, s.cfg.Bucket, ch.StorageKey)
		cancel()
		if err != nil {
			return "", apierr.New(http.StatusInternalServerError, CodeAudioCombineFailed,
				fmt.Errorf("download chunk %d (%s): %w", ch.Idx, ch.StorageKey, err))
		}
		parts = append(parts, data)
		totalBytes += len(data)
	}

	// Byte-level concatenation, not container-aware remuxing. The recorder
	// emits sequential webm/opus chunks from a single stream, which players
	// accept when replayed in upload order.
	var combined []byte
	if len(parts) == 1 {
		combined = parts[0]
	} else {
		combined = make([]byte, 0, totalBytes)
		for _, p := range parts {
			combined = append(combined, p...)
		}
	}

	key := fmt.Sprintf("combined/%s.webm", sessionID)
	uctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	combinedURL, err := s.store.UploadObject(uctx, s.cfg.Bucket, key, "audio/webm", combined)
	cancel()
	if err != nil {
		return "", apierr.New(http.StatusInternalServerError, CodeAudioCombineFailed,
			fmt.Errorf("upload combined audio: %w", err))
	}

	if err := s.sessions.SetCombinedAudioURL(ctx, nil, sessionID, combinedURL); err != nil {
		// The object exists but the row does not point at it; remove the
		// orphan so a retry starts clean.
		dctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeleteTimeout)
		if delErr := s.store.DeleteObject(dctx, s.cfg.Bucket, key); delErr != nil {
			s.log.Warn("Failed to delete orphaned combined audio",
				"session_id", sessionID.String(),
				"key", key,
				"error", delErr.Error(),
			)
		}
		cancel()
		return "", apierr.New(http.StatusInternalServerError, CodeAudioCombineFailed,
			fmt.Errorf("persist combined audio url: %w", err))
	}

	s.log.Info("Combined session audio",
		"session_id", sessionID.String(),
		"chunks", len(chunks),
		"bytes", totalBytes,
	)
	return combinedURL, nil
}
