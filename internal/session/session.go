package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ksred/orderpad/internal/wizard"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTokenGeneration = errors.New("failed to generate token")
	ErrInvalidToken    = errors.New("invalid token")
)

// TokenResponse represents the issued session token
type TokenResponse struct {
	SessionID  string    `json:"session_id"`
	Token      string    `json:"session_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

type entry struct {
	session   *wizard.Session
	expiresAt time.Time
}

// Service creates wizard sessions, issues their tokens and keeps them in
// memory until they expire
type Service struct {
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewService creates a new session service with the given JWT secret
func NewService(jwtSecret string, ttl time.Duration) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
		sessions:  make(map[string]*entry),
	}
}

// Create starts a new wizard session and returns a token bound to it
func (s *Service) Create() (*TokenResponse, *wizard.Session, error) {
	id := uuid.New().String()
	now := s.now()
	expiration := now.Add(s.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		SessionID: id,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, nil, ErrTokenGeneration
	}

	sess := wizard.NewSession(id)
	s.mu.Lock()
	s.sessions[id] = &entry{session: sess, expiresAt: expiration}
	s.mu.Unlock()

	log.Info().Str("session_id", id).Time("expiration", expiration).Msg("session created")

	return &TokenResponse{
		SessionID:  id,
		Token:      tokenString,
		Expiration: expiration,
	}, sess, nil
}

// ValidateToken verifies signature and expiry and returns the session id
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", ErrInvalidToken
	}
	return claims.SessionID, nil
}

// Get returns a live session
func (s *Service) Get(id string) (*wizard.Session, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || !s.now().Before(e.expiresAt) {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Count returns the number of sessions held, expired or not
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops expired sessions and returns how many were removed
func (s *Service) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if !now.Before(e.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on every interval until ctx is cancelled
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "session_sweeper").Logger()
	logger.Info().Dur("interval", interval).Msg("starting session sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down session sweeper")
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				logger.Info().Int("removed", removed).Int("remaining", s.Count()).Msg("expired sessions swept")
			}
		}
	}
}
