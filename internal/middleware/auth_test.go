package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/pkg/ctxutil"
)

const testSecret = "test-secret-key"

func mintToken(t *testing.T, secret string, subject string, ttl time.Duration) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authRouter(t *testing.T, seenUserID *uuid.UUID) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	r := gin.New()
	am := NewAuthMiddleware(log, testSecret)
	r.GET("/api/ping", am.RequireAuth(), func(c *gin.Context) {
		if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil {
			*seenUserID = rd.UserID
		}
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	userID := uuid.New()
	var seen uuid.UUID
	r := authRouter(t, &seen)

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, userID.String(), time.Hour))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if seen != userID {
		t.Fatalf("user id in context: want=%s got=%s", userID, seen)
	}
}

func TestRequireAuthRejections(t *testing.T) {
	cases := []struct {
		name   string
		header func(t *testing.T) string
	}{
		{name: "missing_header", header: func(t *testing.T) string { return "" }},
		{name: "not_bearer", header: func(t *testing.T) string { return "Basic abc" }},
		{name: "garbage_token", header: func(t *testing.T) string { return "Bearer not.a.jwt" }},
		{name: "wrong_secret", header: func(t *testing.T) string {
			return "Bearer " + mintToken(t, "other-secret", uuid.New().String(), time.Hour)
		}},
		{name: "expired", header: func(t *testing.T) string {
			return "Bearer " + mintToken(t, testSecret, uuid.New().String(), -time.Hour)
		}},
		{name: "subject_not_uuid", header: func(t *testing.T) string {
			return "Bearer " + mintToken(t, testSecret, "not-a-uuid", time.Hour)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen uuid.UUID
			r := authRouter(t, &seen)

			req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
			if header := tc.header(t); header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status: want=401 got=%d body=%s", rec.Code, rec.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body %q: %v", rec.Body.String(), err)
			}
			if body["success"] != false || body["error"] != "UNAUTHORIZED" {
				t.Fatalf("envelope: got %s", rec.Body.String())
			}
			if seen != uuid.Nil {
				t.Fatalf("handler ran for rejected request, user=%s", seen)
			}
		})
	}
}
