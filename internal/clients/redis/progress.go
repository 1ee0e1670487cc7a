package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/pkg/envutil"
)

// Pipeline stages published while a clone request is in flight.
const (
	StageCollecting  = "collecting"
	StageCombining   = "combining"
	StageSelecting   = "selecting"
	StageDownloading = "downloading"
	StageUploading   = "uploading"
	StageFinalizing  = "finalizing"
)

type CloneProgress struct {
	TherapistProfileID string    `json:"therapist_profile_id"`
	Stage              string    `json:"stage"`
	Message            string    `json:"message,omitempty"`
	SessionsTotal      int       `json:"sessions_total,omitempty"`
	SessionsDone       int       `json:"sessions_done,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ProgressStore keeps in-flight clone progress out of process memory so
// any instance can answer a progress poll. Entries carry a TTL; finished
// or abandoned runs simply expire.
type ProgressStore interface {
	Set(ctx context.Context, therapistProfileID string, p CloneProgress) error
	Get(ctx context.Context, therapistProfileID string) (*CloneProgress, error)
	Clear(ctx context.Context, therapistProfileID string) error
	Close() error
}

type progressStore struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewProgressStore(log *logger.Logger) (ProgressStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ttlSec := envutil.Int("VOICE_CLONE_PROGRESS_TTL_SECONDS", 900)
	if ttlSec <= 0 {
		ttlSec = 900
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &progressStore{
		log: log.With("service", "RedisProgressStore"),
		rdb: rdb,
		ttl: time.Duration(ttlSec) * time.Second,
	}, nil
}

func progressKey(therapistProfileID string) string {
	return "voice_clone:progress:" + therapistProfileID
}

func (s *progressStore) Set(ctx context.Context, therapistProfileID string, p CloneProgress) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("redis progress store not initialized")
	}
	therapistProfileID = strings.TrimSpace(therapistProfileID)
	if therapistProfileID == "" {
		return fmt.Errorf("therapistProfileID required")
	}

	p.TherapistProfileID = therapistProfileID
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, progressKey(therapistProfileID), raw, s.ttl).Err()
}

// Get returns nil when no progress is recorded (expired or never set).
func (s *progressStore) Get(ctx context.Context, therapistProfileID string) (*CloneProgress, error) {
	if s == nil || s.rdb == nil {
		return nil, fmt.Errorf("redis progress store not initialized")
	}

	raw, err := s.rdb.Get(ctx, progressKey(strings.TrimSpace(therapistProfileID))).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var p CloneProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		s.log.Warn("bad clone progress payload", "error", err)
		return nil, nil
	}
	return &p, nil
}

func (s *progressStore) Clear(ctx context.Context, therapistProfileID string) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("redis progress store not initialized")
	}
	return s.rdb.Del(ctx, progressKey(strings.TrimSpace(therapistProfileID))).Err()
}

func (s *progressStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
