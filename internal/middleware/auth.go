package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/health-risk-engine/internal/domain"
)

// PatientIDKey is the gin context key holding the authenticated patient.
const PatientIDKey = "patient_id"

// TokenAuthority issues and verifies HS256 bearer tokens whose subject is
// the patient id.
type TokenAuthority struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenAuthority creates a token authority from auth configuration
func NewTokenAuthority(cfg domain.AuthConfig) (*TokenAuthority, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenAuthority{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue signs a token for patientID.
func (a *TokenAuthority) Issue(patientID string) (string, error) {
	if patientID == "" {
		return "", errors.New("patient id is required")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   patientID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a token and returns the patient id it names.
func (a *TokenAuthority) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// BearerAuth rejects requests without a valid bearer token and stores the
// patient id under PatientIDKey.
func BearerAuth(authority *TokenAuthority) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		patientID, err := authority.Verify(strings.TrimSpace(token))
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Set(PatientIDKey, patientID)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, details string) {
	c.Header("WWW-Authenticate", `Bearer realm="health-risk-engine"`)
	apiErr := domain.NewAPIError(
		domain.ErrAuthentication,
		"Authentication required",
		details,
		c.GetString(CorrelationIDKey),
	)
	c.AbortWithStatusJSON(apiErr.Status(), apiErr)
}
