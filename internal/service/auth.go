package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

// timingGuardHash is compared against when the username is unknown so both
// failure paths pay for one bcrypt comparison.
var timingGuardHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("branchpos-timing-guard"), bcrypt.DefaultCost)
	if err != nil {
		return nil
	}
	return hash
})

// Authenticate checks a username/password pair and returns the session
// payload. Unknown users and wrong passwords yield the same error.
func (s *Service) Authenticate(ctx context.Context, req domain.LoginRequest) (domain.Session, error) {
	if err := s.check(req); err != nil {
		return domain.Session{}, ErrInvalidCredentials
	}

	user, err := s.repo.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(timingGuardHash(), []byte(req.Password))
		return domain.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Session{}, err
	}
	if !VerifyPassword(user.PasswordHash, req.Password) {
		s.logger.WithField("username", req.Username).Info("login rejected")
		return domain.Session{}, ErrInvalidCredentials
	}

	return domain.Session{
		ID:         user.ID,
		Username:   user.Username,
		Role:       user.Role,
		BranchID:   user.BranchID,
		BranchName: user.BranchName,
	}, nil
}

// Logout discards the session cart and revokes the session until its token
// would have expired anyway.
func (s *Service) Logout(ctx context.Context) error {
	actor, err := currentActor(ctx)
	if err != nil {
		return err
	}
	if actor.SessionID == "" {
		return nil
	}
	ttl := s.opts.SessionTTL
	if !actor.ExpiresAt.IsZero() {
		ttl = time.Until(actor.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	return s.sessions.Revoke(ctx, actor.SessionID, ttl)
}

// SessionRevoked reports whether a logout has invalidated sessionID.
func (s *Service) SessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	return s.sessions.IsRevoked(ctx, sessionID)
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func VerifyPassword(stored string, input string) bool {
	if stored == "" || input == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
