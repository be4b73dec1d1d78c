package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the JWT payload for device access tokens.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"did"`
}

// TokenService issues and validates JWT device tokens.
type TokenService struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewTokenService creates a TokenService with the given signing secret and TTL.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	return &TokenService{secret: secret, tokenTTL: ttl}
}

// IssueDeviceToken generates a signed JWT for the given device.
func (s *TokenService) IssueDeviceToken(deviceID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			Issuer:    "fleetwarden",
		},
		DeviceID: deviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign device token: %w", err)
	}
	return signed, nil
}

// ValidateDeviceToken parses and validates a JWT device token, returning the claims.
func (s *TokenService) ValidateDeviceToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TokenTTL returns the configured device token lifetime.
func (s *TokenService) TokenTTL() time.Duration {
	return s.tokenTTL
}
