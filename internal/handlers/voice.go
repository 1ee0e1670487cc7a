package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/theravox/theravox-backend/internal/apierr"
	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/services"
)

type VoiceHandler struct {
	log      *logger.Logger
	voiceSvc services.VoiceCloneService
}

func NewVoiceHandler(log *logger.Logger, voiceSvc services.VoiceCloneService) *VoiceHandler {
	return &VoiceHandler{
		log:      log.With("handler", "VoiceHandler"),
		voiceSvc: voiceSvc,
	}
}

type cloneVoiceReq struct {
	TherapistProfileID string `json:"therapistProfileId"`
}

// POST /api/voice/clone
// Runs the clone pipeline for one therapist. Safe to call repeatedly; a
// run already in flight or an up-to-date voice comes back as a skip.
func (h *VoiceHandler) CloneVoice(c *gin.Context) {
	var req cloneVoiceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, services.CodeMissingTherapistID, err)
		return
	}
	therapistProfileID, err := uuid.Parse(strings.TrimSpace(req.TherapistProfileID))
	if err != nil {
		RespondError(c, http.StatusBadRequest, services.CodeMissingTherapistID,
			fmt.Errorf("therapistProfileId must be a uuid: %w", err))
		return
	}

	res, err := h.voiceSvc.CloneTherapistVoice(c.Request.Context(), therapistProfileID)
	if err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) {
			RespondError(c, ae.Status, ae.Code, ae.Err)
			return
		}
		RespondError(c, http.StatusInternalServerError, services.CodeVoiceCloningFailed, err)
		return
	}

	if res.Skipped {
		RespondOK(c, gin.H{
			"success":  true,
			"skipped":  true,
			"voice_id": res.VoiceID,
			"message":  res.Message,
		})
		return
	}
	RespondOK(c, gin.H{
		"success":             true,
		"voice_id":            res.VoiceID,
		"message":             res.Message,
		"sessions_used":       res.SessionsUsed,
		"audio_duration_used": res.AudioDurationUsed,
	})
}

// GET /api/voice/:therapistProfileId/status
func (h *VoiceHandler) GetVoiceStatus(c *gin.Context) {
	therapistProfileID, err := uuid.Parse(c.Param("therapistProfileId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, services.CodeMissingTherapistID, err)
		return
	}

	state, err := h.voiceSvc.GetVoiceState(c.Request.Context(), therapistProfileID)
	if err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) {
			RespondError(c, ae.Status, ae.Code, ae.Err)
			return
		}
		RespondError(c, http.StatusInternalServerError, services.CodeVoiceStateQueryFailed, err)
		return
	}

	RespondOK(c, gin.H{"success": true, "state": state})
}

// GET /api/voice/:therapistProfileId/progress
func (h *VoiceHandler) GetCloneProgress(c *gin.Context) {
	therapistProfileID, err := uuid.Parse(c.Param("therapistProfileId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, services.CodeMissingTherapistID, err)
		return
	}

	progress, err := h.voiceSvc.GetCloneProgress(c.Request.Context(), therapistProfileID)
	if err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) {
			RespondError(c, ae.Status, ae.Code, ae.Err)
			return
		}
		RespondError(c, http.StatusInternalServerError, services.CodeProgressQueryFailed, err)
		return
	}
	if progress == nil {
		RespondError(c, http.StatusNotFound, services.CodeProgressNotFound,
			fmt.Errorf("no clone in progress for therapist %s", therapistProfileID))
		return
	}

	RespondOK(c, gin.H{"success": true, "progress": progress})
}
