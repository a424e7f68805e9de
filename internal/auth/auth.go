// Package auth issues and verifies the two token kinds the service uses:
// bearer tokens identifying a user, and signed download tokens scoped to a
// single blob path (the "signed URL" for document content).
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry, or
// shape checks.
var ErrInvalidToken = errors.New("invalid token")

const downloadSubject = "download"

// Service signs and verifies tokens with one HMAC secret. Construct once and
// inject; nothing here reads process-global state.
type Service struct {
	secret      []byte
	userTTL     time.Duration
	downloadTTL time.Duration
}

// NewService creates a token service. userTTL bounds bearer tokens,
// downloadTTL bounds signed download URLs.
func NewService(secret string, userTTL, downloadTTL time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("auth secret is required")
	}
	return &Service{secret: []byte(secret), userTTL: userTTL, downloadTTL: downloadTTL}, nil
}

// IssueUserToken returns a bearer token for userID.
func (s *Service) IssueUserToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.userTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyUserToken validates a bearer token and returns the user id.
func (s *Service) VerifyUserToken(tokenString string) (string, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return "", err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" || sub == downloadSubject {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// IssueDownloadToken returns a long-lived token granting read access to one
// blob path.
func (s *Service) IssueDownloadToken(path string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  downloadSubject,
		"path": path,
		"iat":  now.Unix(),
		"exp":  now.Add(s.downloadTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyDownloadToken validates a download token and returns the blob path
// it grants access to.
func (s *Service) VerifyDownloadToken(tokenString string) (string, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return "", err
	}
	if sub, _ := claims["sub"].(string); sub != downloadSubject {
		return "", ErrInvalidToken
	}
	path, _ := claims["path"].(string)
	if path == "" {
		return "", ErrInvalidToken
	}
	return path, nil
}

// DownloadURL returns the relative download URL for a blob path, carrying a
// freshly issued download token.
func (s *Service) DownloadURL(path string) (string, error) {
	token, err := s.IssueDownloadToken(path)
	if err != nil {
		return "", fmt.Errorf("issue download token for %s: %w", path, err)
	}
	return "/api/v1/files?token=" + url.QueryEscape(token), nil
}

func (s *Service) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
