package httpapi

import (
	"context"
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/service"
)

const tokenIssuer = "branchpos"

var errInvalidToken = errors.New("invalid or expired token")

// Authenticator checks credentials. *service.Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, req domain.LoginRequest) (domain.Session, error)
}

// AuthManager issues and verifies the HS256 access tokens. Each token
// carries a random jti that names the session for carts and logout.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    Authenticator
	now      func() time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	UserID     int64  `json:"uid"`
	Role       string `json:"role"`
	BranchID   *int64 `json:"branch_id,omitempty"`
	BranchName string `json:"branch_name,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users Authenticator) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		now:      time.Now,
	}
}

func (a *AuthManager) TokenTTL() time.Duration {
	return a.tokenTTL
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	session, err := a.users.Authenticate(ctx, req)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(session, uuid.NewString(), expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        session,
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}
	if claims.UserID <= 0 || claims.ID == "" {
		return domain.Actor{}, errInvalidToken
	}

	actor := domain.Actor{
		ID:         claims.UserID,
		Username:   claims.Subject,
		Role:       claims.Role,
		BranchID:   claims.BranchID,
		BranchName: claims.BranchName,
		SessionID:  claims.ID,
	}
	if claims.ExpiresAt != nil {
		actor.ExpiresAt = claims.ExpiresAt.Time
	}
	return actor, nil
}

func (a *AuthManager) sign(session domain.Session, sessionID string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        sessionID,
			Subject:   session.Username,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		UserID:     session.ID,
		Role:       session.Role,
		BranchID:   session.BranchID,
		BranchName: session.BranchName,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

var _ Authenticator = (*service.Service)(nil)
