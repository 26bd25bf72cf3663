package admin

import (
	"strings"
	"time"

	pkgerrors "github.com/Potat-Industries/eval-server/pkg/errors"
	"github.com/Potat-Industries/eval-server/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the operator a token was issued to. This is a distinct
// audience from the public eval bearer token: it gates /admin only.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints operator tokens for out-of-band distribution (CLI login,
// manual ops). The service itself never issues these over HTTP.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (i *TokenIssuer) Issue(subject, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// AuthMiddleware validates the JWT bearer token on admin routes. Unlike the
// eval endpoint's static token, this supports per-operator subjects and
// expiry and never compares bytes directly.
func AuthMiddleware(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		raw := extractBearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "missing admin token")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, pkgerrors.New(pkgerrors.Unauthorized)
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "invalid admin token")
			return
		}

		c.Set("admin_subject", claims.Subject)
		c.Set("admin_role", claims.Role)
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
