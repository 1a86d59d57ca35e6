package httpapi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/service"
)

type authenticatorStub struct {
	session domain.Session
	calls   int
}

func (s *authenticatorStub) Authenticate(_ context.Context, req domain.LoginRequest) (domain.Session, error) {
	s.calls++
	if req.Username != s.session.Username || req.Password != "pass1234" {
		return domain.Session{}, service.ErrInvalidCredentials
	}
	return s.session, nil
}

func sellerStub() *authenticatorStub {
	branchID := int64(3)
	return &authenticatorStub{session: domain.Session{
		ID:         7,
		Username:   "rina",
		Role:       domain.RoleSeller,
		BranchID:   &branchID,
		BranchName: "North",
	}}
}

func TestLoginTokenRoundTripsActor(t *testing.T) {
	stub := sellerStub()
	manager := NewAuthManager(testSecret, time.Hour, stub)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.User.ID != 7 || resp.ExpiresAt == "" {
		t.Fatalf("unexpected login response %+v", resp)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.ID != 7 || actor.Username != "rina" || actor.Role != domain.RoleSeller {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if actor.BranchID == nil || *actor.BranchID != 3 || actor.BranchName != "North" {
		t.Fatalf("expected branch 3 North, got %+v", actor)
	}
	if actor.SessionID == "" {
		t.Fatalf("expected a session id in the token")
	}
}

func TestEachLoginGetsItsOwnSession(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, sellerStub())

	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "pass1234"})
		if err != nil {
			t.Fatalf("login %d failed: %v", i, err)
		}
		actor, err := manager.ParseToken(resp.AccessToken)
		if err != nil {
			t.Fatalf("parse token %d failed: %v", i, err)
		}
		ids[actor.SessionID] = true
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 distinct session ids, got %d", len(ids))
	}
}

func TestLoginPassesThroughCredentialErrors(t *testing.T) {
	stub := sellerStub()
	manager := NewAuthManager(testSecret, time.Hour, stub)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "nope"})
	if !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected one authenticate call, got %d", stub.calls)
	}
}

func TestParseTokenRejectsExpiredToken(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Minute, sellerStub())
	issued := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return issued }

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	manager.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseTokenRejectsForeignSignatures(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, sellerStub())
	other := NewAuthManager("another-secret-key-at-least-32-chars", time.Hour, sellerStub())

	resp, err := other.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	parts := strings.Split(resp.AccessToken, ".")
	if len(parts) != 3 {
		t.Fatalf("expected a three part token, got %d parts", len(parts))
	}
	unsigned := parts[0] + "." + parts[1] + "."
	if _, err := other.ParseToken(unsigned); err == nil {
		t.Fatalf("expected token without signature to be rejected")
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, sellerStub())

	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        "sess-1",
			Subject:   "rina",
			Issuer:    tokenIssuer,
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: 7,
		Role:   domain.RoleAdmin,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected HS512 token to be rejected")
	}
}

func TestParseTokenRequiresSessionID(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, sellerStub())

	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "rina",
			Issuer:    tokenIssuer,
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: 7,
		Role:   domain.RoleSeller,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token without jti to be rejected")
	}
}
