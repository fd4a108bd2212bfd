package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sunforge-server/internal/platform/errors"
)

const defaultTokenTTL = time.Hour

var (
	ErrSecretMissing = errors.New(errors.KindAuth, "auth.token", "auth token secret is empty")
	ErrInvalidToken  = errors.New(errors.KindAuth, "auth.token", "invalid token")
)

// DeviceClaims are the claims carried by a device token.
type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// AuthToken signs and verifies device scoped JWT tokens.
type AuthToken struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewAuthToken builds a token helper using the provided secret. An empty
// secret yields a helper whose every call fails with ErrSecretMissing.
func NewAuthToken(secretKey string) *AuthToken {
	return &AuthToken{
		secretKey: []byte(secretKey),
		ttl:       defaultTokenTTL,
		now:       time.Now,
	}
}

// WithTTL allows customising the expiration duration.
func (at *AuthToken) WithTTL(ttl time.Duration) *AuthToken {
	if ttl > 0 {
		at.ttl = ttl
	}
	return at
}

// TTL returns the lifetime of issued tokens.
func (at *AuthToken) TTL() time.Duration {
	return at.ttl
}

// GenerateToken issues a JWT for the provided device identifier.
func (at *AuthToken) GenerateToken(deviceID string) (string, error) {
	if at == nil || len(at.secretKey) == 0 {
		return "", ErrSecretMissing
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", errors.New(errors.KindAuth, "auth.generate_token", "device id is required")
	}

	now := at.now()
	claims := DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(at.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(at.secretKey)
	if err != nil {
		return "", errors.Wrap(errors.KindAuth, "auth.generate_token", "failed to sign token", err)
	}
	return tokenString, nil
}

// VerifyToken validates the JWT and extracts the device identifier.
func (at *AuthToken) VerifyToken(tokenString string) (bool, string, error) {
	if at == nil || len(at.secretKey) == 0 {
		return false, "", ErrSecretMissing
	}

	var claims DeviceClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return at.secretKey, nil
	}, jwt.WithTimeFunc(at.now), jwt.WithExpirationRequired())
	if err != nil {
		return false, "", errors.Wrap(errors.KindAuth, "auth.verify_token", "failed to parse token", err)
	}
	if !token.Valid || claims.DeviceID == "" {
		return false, "", ErrInvalidToken
	}
	return true, claims.DeviceID, nil
}
