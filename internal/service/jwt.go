package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokensDisabled = errors.New("token auth not configured")
	ErrInvalidToken   = errors.New("invalid token")
)

// TokenService issues and checks API tokens carrying a user id. With no
// secret configured it fails every call with ErrTokensDisabled.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: 24 * time.Hour}
}

func (s *TokenService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

func (s *TokenService) Generate(userID string) (string, error) {
	if !s.Enabled() {
		return "", ErrTokensDisabled
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(s.ttl).Unix(),
		"iat":     now.Unix(),
		"nbf":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse validates the token (signature, exp, nbf) and returns its user id.
func (s *TokenService) Parse(tokenString string) (string, error) {
	if !s.Enabled() {
		return "", ErrTokensDisabled
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
