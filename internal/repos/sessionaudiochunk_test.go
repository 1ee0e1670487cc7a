package repos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/theravox/theravox-backend/internal/repos/testutil"
	"github.com/theravox/theravox-backend/internal/types"
)

func TestSessionAudioChunkRepoListOrdersByIdx(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	repo := NewSessionAudioChunkRepo(db, testutil.Logger(t))
	profile := testutil.SeedTherapistProfile(t, ctx, tx, "Dr. Ivo Marek")
	sess := testutil.SeedUploadedSession(t, ctx, tx, profile.ID, 300, 3, time.Now().UTC())

	// Inserted out of order on purpose.
	testutil.SeedChunk(t, ctx, tx, sess.ID, 2)
	testutil.SeedChunk(t, ctx, tx, sess.ID, 0)
	testutil.SeedChunk(t, ctx, tx, sess.ID, 1)

	got, err := repo.ListBySessionID(ctx, tx, sess.ID)
	if err != nil {
		t.Fatalf("ListBySessionID: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("chunk count: want=3 got=%d", len(got))
	}
	for i, chunk := range got {
		if chunk.Idx != i {
			t.Fatalf("chunk[%d].Idx: want=%d got=%d", i, i, chunk.Idx)
		}
		wantKey := fmt.Sprintf("%s/chunk_%03d.webm", sess.ID, i)
		if chunk.StorageKey != wantKey {
			t.Fatalf("chunk[%d].StorageKey: want=%s got=%s", i, wantKey, chunk.StorageKey)
		}
	}

	empty, err := repo.ListBySessionID(ctx, tx, uuid.New())
	if err != nil || len(empty) != 0 {
		t.Fatalf("ListBySessionID unknown session: n=%d err=%v", len(empty), err)
	}
}

func TestSessionAudioChunkRepoCreate(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	repo := NewSessionAudioChunkRepo(db, testutil.Logger(t))
	profile := testutil.SeedTherapistProfile(t, ctx, tx, "Dr. Elif Aydin")
	sess := testutil.SeedUploadedSession(t, ctx, tx, profile.ID, 120, 2, time.Now().UTC())

	now := time.Now().UTC()
	rows := []*types.SessionAudioChunk{
		{ID: uuid.New(), SessionID: sess.ID, Idx: 0, StorageKey: sess.ID.String() + "/chunk_000.webm", SizeBytes: 2048, UploadedAt: now},
		{ID: uuid.New(), SessionID: sess.ID, Idx: 1, StorageKey: sess.ID.String() + "/chunk_001.webm", SizeBytes: 1024, UploadedAt: now},
	}
	created, err := repo.Create(ctx, tx, rows)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created count: want=2 got=%d", len(created))
	}

	got, err := repo.ListBySessionID(ctx, tx, sess.ID)
	if err != nil || len(got) != 2 {
		t.Fatalf("ListBySessionID after create: n=%d err=%v", len(got), err)
	}

	none, err := repo.Create(ctx, tx, nil)
	if err != nil || len(none) != 0 {
		t.Fatalf("Create empty batch: n=%d err=%v", len(none), err)
	}

	// (session_id, idx) is unique.
	dup := []*types.SessionAudioChunk{
		{ID: uuid.New(), SessionID: sess.ID, Idx: 1, StorageKey: sess.ID.String() + "/chunk_001_retry.webm", SizeBytes: 512, UploadedAt: now},
	}
	if _, err := repo.Create(ctx, tx, dup); !IsUniqueViolation(err) {
		t.Fatalf("duplicate idx: want unique violation, got %v", err)
	}
}
