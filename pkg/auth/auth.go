package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMissingSubject   = errors.New("token subject is required")
)

const adminIssuer = "nbot"

// Claims identify an operator of the admin API.
type Claims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

type AdminToken struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// GenerateAdminToken signs an HS256 token for the admin API.
func GenerateAdminToken(subject, secret string, ttl time.Duration) (*AdminToken, error) {
	if subject == "" {
		return nil, ErrMissingSubject
	}

	now := time.Now()
	expiry := now.Add(ttl)
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    adminIssuer,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign admin token: %w", err)
	}

	return &AdminToken{AccessToken: signed, ExpiresAt: expiry}, nil
}

// ValidateAccessToken parses and validates an admin JWT
func ValidateAccessToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(adminIssuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
