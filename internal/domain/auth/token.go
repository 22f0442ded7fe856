// Package auth issues and verifies the bearer tokens that guard the chart API.
package auth

import (
	"crypto/subtle"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chartlens-server-go/internal/platform/errors"
)

const issuer = "chartlens"

var (
	// ErrInvalidToken covers malformed, expired and wrongly signed tokens.
	ErrInvalidToken = errors.New(errors.KindInput, "auth.verify", "invalid token")
	// ErrBadCredentials is returned when the shared server token does not match.
	ErrBadCredentials = errors.New(errors.KindInput, "auth.issue", "invalid server token")
)

// Claims identifies the API client a token was issued to.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// AuthToken signs and verifies client scoped JWT tokens.
type AuthToken struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewAuthToken builds a token helper using the provided secret.
func NewAuthToken(secretKey string) (*AuthToken, error) {
	if secretKey == "" {
		return nil, errors.New(errors.KindConfig, "auth.new", "auth token secret cannot be empty")
	}
	return &AuthToken{
		secretKey: []byte(secretKey),
		ttl:       time.Hour,
		now:       time.Now,
	}, nil
}

// WithTTL allows customising the expiration duration.
func (at *AuthToken) WithTTL(ttl time.Duration) *AuthToken {
	if ttl > 0 {
		at.ttl = ttl
	}
	return at
}

// CheckServerToken compares presented against the shared secret in constant time.
func (at *AuthToken) CheckServerToken(presented string) error {
	if subtle.ConstantTimeCompare([]byte(presented), at.secretKey) != 1 {
		return ErrBadCredentials
	}
	return nil
}

// GenerateToken issues a JWT for clientID and reports when it expires.
func (at *AuthToken) GenerateToken(clientID string) (string, time.Time, error) {
	if at == nil {
		return "", time.Time{}, stderrors.New("auth token is nil")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", time.Time{}, errors.New(errors.KindInput, "auth.issue", "client id is required")
	}

	now := at.now()
	expireTime := now.Add(at.ttl)
	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expireTime),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(at.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, expireTime, nil
}

// VerifyToken validates the JWT and extracts the client identifier.
func (at *AuthToken) VerifyToken(tokenString string) (string, error) {
	if at == nil {
		return "", stderrors.New("auth token is nil")
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return at.secretKey, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(at.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ClientID == "" {
		return "", ErrInvalidToken
	}
	return claims.ClientID, nil
}
