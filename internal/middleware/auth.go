package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/pkg/ctxutil"
)

type jwtClaims struct {
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	log       *logger.Logger
	secretKey string
}

func NewAuthMiddleware(log *logger.Logger, secretKey string) *AuthMiddleware {
	return &AuthMiddleware{
		log:       log.With("middleware", "AuthMiddleware"),
		secretKey: secretKey,
	}
}

// RequireAuth verifies the bearer token and attaches the caller identity
// to the request context. Tokens are stateless HS256; the subject claim
// carries the user id.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			abortUnauthorized(c, "missing or invalid token")
			return
		}

		parsed, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(am.secretKey), nil
		})
		if err != nil {
			am.log.Debug("Token parse failed", "error", err.Error())
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		claims, ok := parsed.Claims.(*jwtClaims)
		if !ok || !parsed.Valid {
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		userID, err := uuid.Parse(claims.Subject)
		if err != nil || userID == uuid.Nil {
			abortUnauthorized(c, "invalid subject in token")
			return
		}

		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			TokenString: tokenString,
			UserID:      userID,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   "UNAUTHORIZED",
		"message": msg,
	})
}
