package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const subjectKey contextKey = "authSubject"

// GetSubject retrieves the authenticated subject from context.
func GetSubject(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(subjectKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// JWTMiddleware validates bearer tokens and injects the subject. Requests without a
// valid token are rejected.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	v := newValidator(secret, audience)
	return func(c *gin.Context) {
		subject, err := v.subjectFromHeader(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		setSubject(c, subject)
		c.Next()
	}
}

// OptionalJWTMiddleware injects the subject when a bearer token is present. Requests
// without an Authorization header continue anonymously; a present but invalid token
// is still rejected.
func OptionalJWTMiddleware(secret, audience string) gin.HandlerFunc {
	v := newValidator(secret, audience)
	return func(c *gin.Context) {
		header := c.Request.Header.Get("Authorization")
		if header == "" {
			c.Next()
			return
		}
		subject, err := v.subjectFromHeader(header)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		setSubject(c, subject)
		c.Next()
	}
}

type validator struct {
	secret   []byte
	audience string
}

func newValidator(secret, audience string) *validator {
	return &validator{
		secret:   []byte(strings.TrimSpace(secret)),
		audience: strings.TrimSpace(audience),
	}
}

func (v *validator) subjectFromHeader(header string) (string, error) {
	tokenString, err := extractBearerToken(header)
	if err != nil {
		return "", err
	}
	if len(v.secret) == 0 {
		return "", errors.New("missing JWT secret")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	if v.audience != "" && !containsAudience(claims.Audience, v.audience) {
		return "", errors.New("invalid audience")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func setSubject(c *gin.Context, subject string) {
	ctx := context.WithValue(c.Request.Context(), subjectKey, subject)
	c.Request = c.Request.WithContext(ctx)
	c.Set(string(subjectKey), subject)
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
