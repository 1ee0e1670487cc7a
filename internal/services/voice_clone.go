package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/theravox/theravox-backend/internal/apierr"
	"github.com/theravox/theravox-backend/internal/clients/elevenlabs"
	"github.com/theravox/theravox-backend/internal/clients/redis"
	"github.com/theravox/theravox-backend/internal/clients/storage"
	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/repos"
	"github.com/theravox/theravox-backend/internal/types"
	"github.com/theravox/theravox-backend/internal/utils"
)

// Wire error codes for the clone pipeline. Clients key off these, so they
// are part of the API surface and never change casing.
const (
	CodeMissingTherapistID   = "MISSING_THERAPIST_ID"
	CodeTherapistNotFound    = "THERAPIST_NOT_FOUND"
	CodeNoAudioSessions      = "NO_AUDIO_SESSIONS"
	CodeNoCombinedAudio      = "NO_COMBINED_AUDIO"
	CodeInsufficientAudio    = "INSUFFICIENT_AUDIO_DURATION"
	CodeLockFailed           = "LOCK_FAILED"
	CodeSessionsQueryFailed  = "SESSIONS_QUERY_FAILED"
	CodeSessionRefreshFailed = "SESSION_REFRESH_FAILED"
	CodeDatabaseUpdateFailed = "DATABASE_UPDATE_FAILED"
	CodeVoiceCloningFailed   = "VOICE_CLONING_FAILED"

	CodeVoiceStateNotFound    = "VOICE_STATE_NOT_FOUND"
	CodeVoiceStateQueryFailed = "VOICE_STATE_QUERY_FAILED"
	CodeProgressNotFound      = "PROGRESS_NOT_FOUND"
	CodeProgressQueryFailed   = "PROGRESS_QUERY_FAILED"
)

type VoiceCloneConfig struct {
	Material           VoiceMaterialConfig
	CombineConcurrency int
	FetchConcurrency   int
	FetchTimeout       time.Duration
	DeleteTimeout      time.Duration
}

func VoiceCloneConfigFromEnv(log *logger.Logger) VoiceCloneConfig {
	return VoiceCloneConfig{
		Material:           VoiceMaterialConfigFromEnv(log),
		CombineConcurrency: utils.GetEnvAsInt("VOICE_CLONE_COMBINE_CONCURRENCY", 1, log),
		FetchConcurrency:   utils.GetEnvAsInt("VOICE_CLONE_FETCH_CONCURRENCY", 1, log),
		FetchTimeout:       2 * time.Minute,
		DeleteTimeout:      30 * time.Second,
	}
}

type VoiceCloneResult struct {
	Skipped           bool
	VoiceID           string
	Message           string
	SessionsUsed      int
	AudioDurationUsed int
}

type VoiceCloneService interface {
	CloneTherapistVoice(ctx context.Context, therapistProfileID uuid.UUID) (*VoiceCloneResult, error)
	GetVoiceState(ctx context.Context, therapistProfileID uuid.UUID) (*types.TherapistVoiceState, error)
	GetCloneProgress(ctx context.Context, therapistProfileID uuid.UUID) (*redis.CloneProgress, error)
}

type voiceCloneService struct {
	db       *gorm.DB
	log      *logger.Logger
	profiles repos.TherapistProfileRepo
	sessions repos.TherapySessionRepo
	states   repos.VoiceStateRepo
	combiner AudioCombineService
	store    storage.Client
	voices   elevenlabs.Client
	progress redis.ProgressStore
	cfg      VoiceCloneConfig
}

// NewVoiceCloneService wires the clone pipeline. progress may be nil; the
// pipeline then runs without publishing stage updates.
func NewVoiceCloneService(
	db *gorm.DB,
	baseLog *logger.Logger,
	profiles repos.TherapistProfileRepo,
	sessions repos.TherapySessionRepo,
	states repos.VoiceStateRepo,
	combiner AudioCombineService,
	store storage.Client,
	voices elevenlabs.Client,
	progress redis.ProgressStore,
	cfg VoiceCloneConfig,
) VoiceCloneService {
	if cfg.CombineConcurrency < 1 {
		cfg.CombineConcurrency = 1
	}
	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = 30 * time.Second
	}
	return &voiceCloneService{
		db:       db,
		log:      baseLog.With("service", "VoiceCloneService"),
		profiles: profiles,
		sessions: sessions,
		states:   states,
		combiner: combiner,
		store:    store,
		voices:   voices,
		progress: progress,
		cfg:      cfg,
	}
}

// CloneTherapistVoice runs the full pipeline for one therapist: claim the
// per-therapist lock, collect and combine session audio, select material
// under the duration budget, clone the voice, and persist the outcome.
// Once the lock is claimed the state row always ends terminal (completed
// or failed), including on panics.
func (s *voiceCloneService) CloneTherapistVoice(ctx context.Context, therapistProfileID uuid.UUID) (res *VoiceCloneResult, err error) {
	log := s.log.With("therapist_profile_id", therapistProfileID.String())

	profile, perr := s.profiles.GetByID(ctx, nil, therapistProfileID)
	if perr != nil {
		log.Error("Therapist profile lookup failed", "error", perr.Error())
		return nil, apierr.New(http.StatusNotFound, CodeTherapistNotFound, fmt.Errorf("load therapist profile: %w", perr))
	}
	if profile == nil {
		return nil, apierr.New(http.StatusNotFound, CodeTherapistNotFound, fmt.Errorf("therapist profile %s not found", therapistProfileID))
	}

	prior, serr := s.states.EnsureForTherapist(ctx, nil, therapistProfileID)
	if serr != nil {
		return nil, apierr.New(http.StatusInternalServerError, CodeLockFailed, fmt.Errorf("ensure voice state: %w", serr))
	}
	if prior.Status == types.VoiceStatusProcessing {
		log.Info("Clone already in progress, skipping")
		return skipResult(prior, "a voice clone is already in progress"), nil
	}

	claimed, cerr := s.states.ClaimProcessing(ctx, nil, therapistProfileID, time.Now().UTC())
	if cerr != nil {
		s.failState(therapistProfileID, cerr.Error())
		return nil, apierr.New(http.StatusInternalServerError, CodeLockFailed, fmt.Errorf("claim processing lock: %w", cerr))
	}
	if !claimed {
		log.Info("Lost clone lock race, skipping")
		current, gerr := s.states.GetByTherapistProfileID(ctx, nil, therapistProfileID)
		if gerr != nil || current == nil {
			current = prior
		}
		return skipResult(current, "a voice clone is already in progress"), nil
	}

	// Lock held from here on. Whatever happens, the row must not be left
	// in 'processing'.
	defer func() {
		if r := recover(); r != nil {
			log.Error("Voice clone panicked", "panic", fmt.Sprintf("%v", r))
			s.failState(therapistProfileID, fmt.Sprintf("panic: %v", r))
			s.clearProgress(therapistProfileID)
			panic(r)
		}
	}()

	res, err = s.runClone(ctx, log, profile, prior)
	if err != nil {
		s.failState(therapistProfileID, err.Error())
		s.clearProgress(therapistProfileID)
		return nil, err
	}
	s.clearProgress(therapistProfileID)
	return res, nil
}

func (s *voiceCloneService) runClone(ctx context.Context, log *logger.Logger, profile *types.TherapistProfile, prior *types.TherapistVoiceState) (*VoiceCloneResult, error) {
	tpID := profile.ID

	s.setProgress(ctx, tpID, redis.CloneProgress{Stage: redis.StageCollecting, Message: "collecting completed sessions"})

	sessions, err := s.sessions.ListCompletedWithAudio(ctx, nil, tpID)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, CodeSessionsQueryFailed, fmt.Errorf("list completed sessions: %w", err))
	}
	if len(sessions) == 0 {
		return nil, apierr.New(http.StatusBadRequest, CodeNoAudioSessions, fmt.Errorf("no completed sessions with audio for therapist %s", tpID))
	}

	var pending []uuid.UUID
	for _, sess := range sessions {
		if !sess.HasPlayableAudio() {
			continue
		}
		if sess.CombinedAudioURL == nil || *sess.CombinedAudioURL == "" {
			pending = append(pending, sess.ID)
		}
	}

	if len(pending) > 0 {
		log.Info("Combining session audio", "sessions", len(pending))
		s.setProgress(ctx, tpID, redis.CloneProgress{
			Stage:         redis.StageCombining,
			Message:       "combining session audio",
			SessionsTotal: len(pending),
		})

		// A session that fails to combine is left out of this clone; it
		// stays eligible for the next run.
		var done atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.CombineConcurrency)
		for _, sessionID := range pending {
			g.Go(func() error {
				if _, cerr := s.combiner.CombineSessionAudio(gctx, sessionID); cerr != nil {
					log.Warn("Failed to combine session audio",
						"session_id", sessionID.String(),
						"error", cerr.Error(),
					)
					return nil
				}
				s.setProgress(gctx, tpID, redis.CloneProgress{
					Stage:         redis.StageCombining,
					Message:       "combining session audio",
					SessionsTotal: len(pending),
					SessionsDone:  int(done.Add(1)),
				})
				return nil
			})
		}
		_ = g.Wait()
	}

	// Re-query rather than trusting the in-memory view: combines may have
	// partially failed, and other writers may have landed meanwhile.
	combined, err := s.sessions.ListCombined(ctx, nil, tpID)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, CodeSessionRefreshFailed, fmt.Errorf("refresh combined sessions: %w", err))
	}
	if len(combined) == 0 {
		return nil, apierr.New(http.StatusBadRequest, CodeNoCombinedAudio, fmt.Errorf("no combined session audio for therapist %s", tpID))
	}

	decision := DecideReclone(prior, len(combined))
	if decision == RecloneSkip {
		if rerr := s.states.ReleaseCompleted(ctx, nil, tpID); rerr != nil {
			return nil, apierr.New(http.StatusInternalServerError, CodeDatabaseUpdateFailed, fmt.Errorf("release clone lock: %w", rerr))
		}
		log.Info("No new session material since last clone", "session_count", len(combined))
		return skipResult(prior, "voice is up to date; no new session audio"), nil
	}

	s.setProgress(ctx, tpID, redis.CloneProgress{Stage: redis.StageSelecting, Message: "selecting voice material"})

	segments, totalDur, err := SelectVoiceMaterial(combined, s.cfg.Material)
	if err != nil {
		var insErr *InsufficientAudioError
		if errors.As(err, &insErr) {
			return nil, apierr.New(http.StatusBadRequest, CodeInsufficientAudio, err)
		}
		return nil, apierr.New(http.StatusInternalServerError, CodeVoiceCloningFailed, err)
	}

	if decision == RecloneReplace {
		oldID := strings.TrimSpace(*prior.ClonedVoiceID)
		log.Info("Replacing existing voice", "old_voice_id", oldID, "session_count", len(combined))
		dctx, cancel := context.WithTimeout(ctx, s.cfg.DeleteTimeout)
		if derr := s.voices.DeleteVoice(dctx, oldID); derr != nil {
			// Orphaned voices cost quota, not correctness.
			log.Warn("Failed to delete previous voice", "voice_id", oldID, "error", derr.Error())
		}
		cancel()
	}

	material, err := s.fetchVoiceMaterial(ctx, tpID, segments)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, CodeVoiceCloningFailed, err)
	}

	s.setProgress(ctx, tpID, redis.CloneProgress{Stage: redis.StageUploading, Message: "creating voice clone"})

	voiceName := strings.TrimSpace(profile.DisplayName)
	if voiceName == "" {
		voiceName = "therapist-" + tpID.String()
	}
	voice, err := s.voices.AddVoice(ctx, elevenlabs.AddVoiceRequest{
		Name:        voiceName,
		Description: fmt.Sprintf("Cloned from %d therapy sessions", len(segments)),
		Labels: map[string]string{
			"therapist_profile_id": tpID.String(),
			"session_count":        strconv.Itoa(len(combined)),
		},
		Samples: []elevenlabs.VoiceSample{{
			Filename:    tpID.String() + ".webm",
			ContentType: "audio/webm",
			Data:        material,
		}},
	})
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, CodeVoiceCloningFailed, fmt.Errorf("create voice: %w", err))
	}

	s.setProgress(ctx, tpID, redis.CloneProgress{Stage: redis.StageFinalizing, Message: "saving voice state"})

	if err := s.states.MarkCompleted(ctx, nil, tpID, voice.VoiceID, len(combined), time.Now().UTC()); err != nil {
		// The voice exists but nothing references it; remove it so the
		// account does not accumulate unreachable clones.
		dctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeleteTimeout)
		if derr := s.voices.DeleteVoice(dctx, voice.VoiceID); derr != nil {
			log.Warn("Failed to delete voice after persist failure", "voice_id", voice.VoiceID, "error", derr.Error())
		}
		cancel()
		return nil, apierr.New(http.StatusInternalServerError, CodeDatabaseUpdateFailed, fmt.Errorf("persist voice state: %w", err))
	}

	log.Info("Voice clone completed",
		"voice_id", voice.VoiceID,
		"sessions_used", len(segments),
		"audio_seconds", int(totalDur.Seconds()),
	)
	return &VoiceCloneResult{
		VoiceID:           voice.VoiceID,
		Message:           "voice cloned successfully",
		SessionsUsed:      len(segments),
		AudioDurationUsed: int(totalDur.Seconds()),
	}, nil
}

// fetchVoiceMaterial downloads every selected segment and concatenates
// them in selection order. Unlike the combine phase, any failure here
// aborts the clone: a voice built from a partial material set would not
// match the session count recorded with it.
func (s *voiceCloneService) fetchVoiceMaterial(ctx context.Context, tpID uuid.UUID, segments []SelectedSegment) ([]byte, error) {
	s.setProgress(ctx, tpID, redis.CloneProgress{
		Stage:         redis.StageDownloading,
		Message:       "downloading session audio",
		SessionsTotal: len(segments),
	})

	parts := make([][]byte, len(segments))
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, seg := range segments {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, s.cfg.FetchTimeout)
			defer cancel()

			data, err := s.store.DownloadURL(dctx, seg.AudioURL)
			if err != nil {
				return fmt.Errorf("download audio for session %s: %w", seg.SessionID, err)
			}
			if len(data) == 0 {
				return fmt.Errorf("audio for session %s is empty", seg.SessionID)
			}
			parts[i] = data
			s.setProgress(gctx, tpID, redis.CloneProgress{
				Stage:         redis.StageDownloading,
				Message:       "downloading session audio",
				SessionsTotal: len(segments),
				SessionsDone:  int(done.Add(1)),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Truncated segments are fetched whole: a webm stream cannot be cut at
	// a byte offset without remuxing, so truncation caps the accounted
	// duration rather than the payload.
	if len(parts) == 1 {
		return parts[0], nil
	}
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	material := make([]byte, 0, total)
	for _, p := range parts {
		material = append(material, p...)
	}
	return material, nil
}

func (s *voiceCloneService) GetVoiceState(ctx context.Context, therapistProfileID uuid.UUID) (*types.TherapistVoiceState, error) {
	state, err := s.states.GetByTherapistProfileID(ctx, nil, therapistProfileID)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, CodeVoiceStateQueryFailed, fmt.Errorf("load voice state: %w", err))
	}
	if state == nil {
		return nil, apierr.New(http.StatusNotFound, CodeVoiceStateNotFound, fmt.Errorf("no voice state for therapist %s", therapistProfileID))
	}
	return state, nil
}

// GetCloneProgress returns nil when nothing is recorded; the handler turns
// that into a 404.
func (s *voiceCloneService) GetCloneProgress(ctx context.Context, therapistProfileID uuid.UUID) (*redis.CloneProgress, error) {
	if s.progress == nil {
		return nil, nil
	}
	p, err := s.progress.Get(ctx, therapistProfileID.String())
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, CodeProgressQueryFailed, fmt.Errorf("load clone progress: %w", err))
	}
	return p, nil
}

// failState writes the terminal failed status on its own context so a
// dead request context cannot leave the row stuck in 'processing'.
func (s *voiceCloneService) failState(therapistProfileID uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.states.MarkFailed(ctx, nil, therapistProfileID, reason); err != nil {
		s.log.Error("Failed to mark voice state failed",
			"therapist_profile_id", therapistProfileID.String(),
			"error", err.Error(),
		)
	}
}

func (s *voiceCloneService) setProgress(ctx context.Context, tpID uuid.UUID, p redis.CloneProgress) {
	if s.progress == nil {
		return
	}
	if err := s.progress.Set(ctx, tpID.String(), p); err != nil {
		s.log.Debug("Failed to record clone progress",
			"therapist_profile_id", tpID.String(),
			"stage", p.Stage,
			"error", err.Error(),
		)
	}
}

func (s *voiceCloneService) clearProgress(tpID uuid.UUID) {
	if s.progress == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.progress.Clear(ctx, tpID.String()); err != nil {
		s.log.Debug("Failed to clear clone progress",
			"therapist_profile_id", tpID.String(),
			"error", err.Error(),
		)
	}
}

func skipResult(state *types.TherapistVoiceState, msg string) *VoiceCloneResult {
	res := &VoiceCloneResult{Skipped: true, Message: msg}
	if state != nil && state.ClonedVoiceID != nil {
		res.VoiceID = strings.TrimSpace(*state.ClonedVoiceID)
	}
	return res
}
