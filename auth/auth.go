// Package auth handles JWT issuance/validation and password hashing.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// accessTokenTTL is configurable via ACCESS_TOKEN_TTL env var (e.g. "1h", "30m").
// Defaults to 1 hour.
var accessTokenTTL = func() time.Duration {
	if s := os.Getenv("ACCESS_TOKEN_TTL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return time.Hour
}()

// workerTokenTTL is configurable via WORKER_TOKEN_TTL env var. Worker
// processes are long-lived daemons, not browser sessions, so this
// defaults far longer than accessTokenTTL.
var workerTokenTTL = func() time.Duration {
	if s := os.Getenv("WORKER_TOKEN_TTL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return 30 * 24 * time.Hour
}()

// TokenKind distinguishes a browser session's access token from a
// worker process's dispatch-connection token; both are signed HS256
// JWTs sharing one secret and one Claims shape, gated by the Kind field
// so a leaked worker token can't be replayed as a user session.
type TokenKind string

const (
	KindAccess TokenKind = "access"
	KindWorker TokenKind = "worker"
)

// Claims is the JWT payload. Queue is only populated for worker tokens;
// SessionID and Role are only populated for access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind      TokenKind `json:"kind"`
	SessionID uuid.UUID `json:"sid,omitempty"`
	Role      string    `json:"role,omitempty"`
	Queue     string    `json:"queue,omitempty"`
}

// IsWorker reports whether these claims authenticate a worker connection
// rather than a user session.
func (c *Claims) IsWorker() bool { return c.Kind == KindWorker }

// IssueAccessToken creates a signed HS256 JWT for the given user/session.
func IssueAccessToken(secret []byte, userID int64, sessionID uuid.UUID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
		Kind:      KindAccess,
		SessionID: sessionID,
		Role:      role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// IssueWorkerToken creates a signed HS256 JWT scoped to a single queue,
// handed to a download/dub/mux worker process at deploy time so it can
// authenticate its /ws/worker/{queue} connection.
func IssueWorkerToken(secret []byte, queue string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "worker:" + queue,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(workerTokenTTL)),
		},
		Kind:  KindWorker,
		Queue: queue,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseAccessToken validates the token signature and expiry, returning the claims.
func ParseAccessToken(secret []byte, raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("token expired")
		}
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateRefreshToken returns a cryptographically random 32-byte base64 string.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
