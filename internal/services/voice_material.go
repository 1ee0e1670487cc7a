package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/types"
	"github.com/theravox/theravox-backend/internal/utils"
)

// VoiceMaterialConfig bounds how much session audio one clone may consume.
type VoiceMaterialConfig struct {
	MinAudioDuration  time.Duration
	MaxAudioDuration  time.Duration
	TruncateThreshold time.Duration
}

func VoiceMaterialConfigFromEnv(log *logger.Logger) VoiceMaterialConfig {
	minSec := utils.GetEnvAsInt("VOICE_CLONE_MIN_AUDIO_SECONDS", 10, log)
	maxSec := utils.GetEnvAsInt("VOICE_CLONE_MAX_AUDIO_SECONDS", 1200, log)
	truncSec := utils.GetEnvAsInt("VOICE_CLONE_TRUNCATE_THRESHOLD_SECONDS", 30, log)

	return VoiceMaterialConfig{
		MinAudioDuration:  time.Duration(minSec) * time.Second,
		MaxAudioDuration:  time.Duration(maxSec) * time.Second,
		TruncateThreshold: time.Duration(truncSec) * time.Second,
	}
}

// SelectedSegment is one session's contribution to the clone material.
// Duration may be shorter than the session itself when the budget forced
// a truncation; the fetcher accounts for that when reporting usage.
type SelectedSegment struct {
	SessionID uuid.UUID
	AudioURL  string
	Duration  time.Duration
	Truncated bool
}

// InsufficientAudioError reports how far short the usable material fell.
type InsufficientAudioError struct {
	Available time.Duration
	Required  time.Duration
}

func (e *InsufficientAudioError) Error() string {
	return fmt.Sprintf("insufficient audio: %.1f minutes available, %.1f minutes required",
		e.Available.Minutes(), e.Required.Minutes())
}

// SelectVoiceMaterial walks sessions in the order given (callers pass them
// newest first) and greedily takes combined audio until cfg.MaxAudioDuration
// is filled. The first session that would overflow the budget ends the
// selection: it contributes a segment truncated to the remaining budget when
// that remainder strictly exceeds cfg.TruncateThreshold, and is dropped
// otherwise. Sessions without a combined file or a known duration never
// contribute.
func SelectVoiceMaterial(sessions []*types.TherapySession, cfg VoiceMaterialConfig) ([]SelectedSegment, time.Duration, error) {
	var (
		segments []SelectedSegment
		total    time.Duration
	)

	for _, s := range sessions {
		if s == nil || s.CombinedAudioURL == nil || strings.TrimSpace(*s.CombinedAudioURL) == "" {
			continue
		}
		if s.DurationSeconds == nil || *s.DurationSeconds <= 0 {
			continue
		}

		remaining := cfg.MaxAudioDuration - total
		if remaining <= 0 {
			break
		}

		dur := time.Duration(*s.DurationSeconds * float64(time.Second))
		if dur <= remaining {
			segments = append(segments, SelectedSegment{
				SessionID: s.ID,
				AudioURL:  *s.CombinedAudioURL,
				Duration:  dur,
			})
			total += dur
			continue
		}

		// First overflow ends the selection. The overflowing session stays
		// in as a truncated tail only when the remaining budget strictly
		// exceeds the threshold.
		if remaining > cfg.TruncateThreshold {
			segments = append(segments, SelectedSegment{
				SessionID: s.ID,
				AudioURL:  *s.CombinedAudioURL,
				Duration:  remaining,
				Truncated: true,
			})
			total += remaining
		}
		break
	}

	if total < cfg.MinAudioDuration {
		return nil, 0, &InsufficientAudioError{Available: total, Required: cfg.MinAudioDuration}
	}
	return segments, total, nil
}

type RecloneDecision int

const (
	RecloneFresh RecloneDecision = iota
	RecloneSkip
	RecloneReplace
)

func (d RecloneDecision) String() string {
	switch d {
	case RecloneFresh:
		return "fresh"
	case RecloneSkip:
		return "skip"
	case RecloneReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// DecideReclone compares the current count of combined-eligible sessions
// against the count recorded at the last clone. A count that has not grown
// means no new material arrived, so the existing voice stands; the count can
// shrink when sessions are deleted, and that never warrants a re-clone.
func DecideReclone(state *types.TherapistVoiceState, currentSessionCount int) RecloneDecision {
	if state == nil || state.ClonedVoiceID == nil || strings.TrimSpace(*state.ClonedVoiceID) == "" {
		return RecloneFresh
	}
	if currentSessionCount <= state.SessionCountAtLastClone {
		return RecloneSkip
	}
	return RecloneReplace
}
