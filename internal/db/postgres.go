package db

import (
  "fmt"
  "gorm.io/driver/postgres"
  "gorm.io/gorm"
  "github.com/theravox/theravox-backend/internal/types"
  "github.com/theravox/theravox-backend/internal/utils"
  "github.com/theravox/theravox-backend/internal/logger"
)

type PostgresService struct {
  db *gorm.DB
  log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
  serviceLog := log.With("service", "PostgresService")

  log.Info("Loading environment variables...")
  postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
  postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
  postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
  postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
  postgresName := utils.GetEnv("POSTGRES_NAME", "theravox", log)
  log.Debug("Environment variables loaded")

  dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

  log.Info("Connecting to Postgres...")
  db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
    DisableForeignKeyConstraintWhenMigrating: true,
    TranslateError: true,
  })
  if err != nil {
    log.Error("Failed to connect to Postgres", "error", err)
    return nil, fmt.Errorf("Failed to connect to Postgres: %w", err)
  }

  if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
    log.Error("Failed to enable uuid-ossp extension", "error", err)
    return nil, fmt.Errorf("Failed to enable uuid-ossp extension: %w", err)
  }
  log.Info("uuid-ossp extension enabled")

  return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
  s.log.Info("Auto migrating postgres tables...")
  err := s.db.AutoMigrate(
    &types.TherapistProfile{},
    &types.TherapistVoiceState{},
    &types.TherapySession{},
    &types.SessionAudioChunk{},
  )
  if err != nil {
    s.log.Error("Auto migration failed for postgres tables", "error", err)
    return err
  }

  // The processing lock: at most one in-flight clone per therapist, enforced
  // by the database so concurrent requests across instances serialize on it.
  if err := s.db.Exec(`
    CREATE UNIQUE INDEX IF NOT EXISTS "uniq_voice_state_processing"
    ON "therapist_voice_state" ("therapist_profile_id")
    WHERE "status" = 'processing'
  `).Error; err != nil {
    return fmt.Errorf("Failed to create uniq_voice_state_processing index: %w", err)
  }

  s.log.Info("Configuring foreign key relationships for postgres tables...")
  if err := s.db.Exec(`
    ALTER TABLE "therapist_voice_state"
    DROP CONSTRAINT IF EXISTS "fk_voice_state_therapist_profile_id";
    ALTER TABLE "therapist_voice_state"
    ADD CONSTRAINT "fk_voice_state_therapist_profile_id"
    FOREIGN KEY ("therapist_profile_id")
    REFERENCES "therapist_profile"("id")
    ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("Failed to add fk_voice_state_therapist_profile_id: %w", err)
  }
  if err := s.db.Exec(`
    ALTER TABLE "session_audio_chunk"
    DROP CONSTRAINT IF EXISTS "fk_session_audio_chunk_session_id";
    ALTER TABLE "session_audio_chunk"
    ADD CONSTRAINT "fk_session_audio_chunk_session_id"
    FOREIGN KEY ("session_id")
    REFERENCES "therapy_session"("id")
    ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("Failed to add fk_session_audio_chunk_session_id: %w", err)
  }
  return nil
}

func (s *PostgresService) DB() *gorm.DB {
  return s.db
}
