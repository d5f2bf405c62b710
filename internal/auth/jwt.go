package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AdminTokenService issues and redeems one-time admin tokens. A token is bound
// to one channel and can be redeemed exactly once before it expires.
type AdminTokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu   sync.Mutex
	used map[string]time.Time // jti -> expiry
}

// AdminClaims are the claims carried by an admin token.
type AdminClaims struct {
	ChannelID string `json:"channel_id"`
	jwt.RegisteredClaims
}

// NewAdminTokenService builds a token service. It returns nil when secret is
// empty, which disables admin token authentication.
func NewAdminTokenService(secret string, ttl time.Duration) *AdminTokenService {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AdminTokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		used:   make(map[string]time.Time),
	}
}

// Issue signs a token for channelID.
func (s *AdminTokenService) Issue(channelID string) (string, error) {
	if s == nil {
		return "", ErrAuthDisabled
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "", fmt.Errorf("channel id required")
	}
	now := s.now()
	claims := AdminClaims{
		ChannelID: channelID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Redeem validates token for channelID and marks it used.
func (s *AdminTokenService) Redeem(token, channelID string) error {
	if s == nil {
		return ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &AdminClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AdminClaims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return ErrInvalidToken
	}
	if claims.ChannelID != channelID {
		return ErrChannelMismatch
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, exp := range s.used {
		if now.After(exp) {
			delete(s.used, jti)
		}
	}
	if _, seen := s.used[claims.ID]; seen {
		return ErrTokenReplayed
	}
	s.used[claims.ID] = claims.ExpiresAt.Time
	return nil
}

// Validator adapts the service to the bridge's admin token hook.
func (s *AdminTokenService) Validator() func(ctx context.Context, token, channelID string) bool {
	if s == nil {
		return nil
	}
	return func(_ context.Context, token, channelID string) bool {
		return s.Redeem(token, channelID) == nil
	}
}
