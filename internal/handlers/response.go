package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorEnvelope is the wire shape every failing endpoint returns. The
// error field carries a stable machine code; message is for humans.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Success: false,
		Code:    code,
		Message: msg,
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
