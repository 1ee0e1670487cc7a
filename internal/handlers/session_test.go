package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/theravox/theravox-backend/internal/apierr"
	"github.com/theravox/theravox-backend/internal/services"
)

type stubCombineService struct {
	url    string
	err    error
	lastID uuid.UUID
}

func (s *stubCombineService) CombineSessionAudio(_ context.Context, id uuid.UUID) (string, error) {
	s.lastID = id
	if s.err != nil {
		return "", s.err
	}
	return s.url, nil
}

func sessionRouter(t *testing.T, svc services.AudioCombineService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSessionHandler(testLogger(t), svc)
	r.POST("/api/sessions/:sessionId/combine-audio", h.CombineSessionAudio)
	return r
}

func TestCombineSessionAudioEndpoint(t *testing.T) {
	id := uuid.New()
	svc := &stubCombineService{url: "https://store.test/combined/" + id.String() + ".webm"}
	r := sessionRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id.String()+"/combine-audio", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastID != id {
		t.Fatalf("session id passed to service: want=%s got=%s", id, svc.lastID)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("success: want=true got=%v", body["success"])
	}
	if body["combined_audio_url"] != svc.url {
		t.Fatalf("combined_audio_url: want=%s got=%v", svc.url, body["combined_audio_url"])
	}
}

func TestCombineSessionAudioEndpointInvalidID(t *testing.T) {
	svc := &stubCombineService{}
	r := sessionRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/not-a-uuid/combine-audio", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["error"] != services.CodeMissingSessionID {
		t.Fatalf("error code: want=%s got=%v", services.CodeMissingSessionID, body["error"])
	}
	if svc.lastID != uuid.Nil {
		t.Fatalf("service called with invalid input: %s", svc.lastID)
	}
}

func TestCombineSessionAudioEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "session_not_found",
			err:        apierr.New(http.StatusNotFound, services.CodeSessionNotFound, fmt.Errorf("session not found")),
			wantStatus: http.StatusNotFound,
			wantCode:   services.CodeSessionNotFound,
		},
		{
			name:       "chunks_incomplete",
			err:        apierr.New(http.StatusBadRequest, services.CodeChunksIncomplete, fmt.Errorf("2 of 3 chunks")),
			wantStatus: http.StatusBadRequest,
			wantCode:   services.CodeChunksIncomplete,
		},
		{
			name:       "untyped_error",
			err:        fmt.Errorf("unexpected"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   services.CodeAudioCombineFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := sessionRouter(t, &stubCombineService{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+uuid.New().String()+"/combine-audio", nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status: want=%d got=%d body=%s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if body := decodeBody(t, rec); body["error"] != tc.wantCode {
				t.Fatalf("error code: want=%s got=%v", tc.wantCode, body["error"])
			}
		})
	}
}
