package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/theravox/theravox-backend/internal/apierr"
	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/services"
)

type SessionHandler struct {
	log        *logger.Logger
	combineSvc services.AudioCombineService
}

func NewSessionHandler(log *logger.Logger, combineSvc services.AudioCombineService) *SessionHandler {
	return &SessionHandler{
		log:        log.With("handler", "SessionHandler"),
		combineSvc: combineSvc,
	}
}

// POST /api/sessions/:sessionId/combine-audio
// Stitches a session's uploaded chunks into one combined file. The
// recording client calls this after its last chunk upload; the clone
// pipeline uses the same service for stragglers.
func (h *SessionHandler) CombineSessionAudio(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, services.CodeMissingSessionID, err)
		return
	}

	combinedURL, err := h.combineSvc.CombineSessionAudio(c.Request.Context(), sessionID)
	if err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) {
			RespondError(c, ae.Status, ae.Code, ae.Err)
			return
		}
		RespondError(c, http.StatusInternalServerError, services.CodeAudioCombineFailed, err)
		return
	}

	RespondOK(c, gin.H{"success": true, "combined_audio_url": combinedURL})
}
