package auth

import (
	"context"
	"errors"
	"testing"
)

func newJWTService(t *testing.T, seeds []Seed) *Service {
	t.Helper()
	store, err := NewMemoryStore(seeds)
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	svc, err := NewService(context.Background(), Config{
		Mode: ModeJWT,
		JWT:  JWTOptions{Secret: "test-secret", Issuer: "calpilot"},
	}, store)
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	return svc
}

func TestAuthenticateIssuesTokenPair(t *testing.T) {
	svc := newJWTService(t, []Seed{
		{Username: "ada", Password: "s3cret", Timezone: "Asia/Shanghai", Roles: []string{"user"}, Permissions: []string{"calendar:read", "calendar:write"}},
	})

	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "ada", Password: "s3cret"})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("token pair should contain both tokens")
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token type %q", pair.TokenType)
	}
	if pair.Subject == nil || pair.Subject.Timezone != "Asia/Shanghai" {
		t.Fatalf("subject should carry the user timezone: %+v", pair.Subject)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if subject.Username != "ada" {
		t.Fatalf("unexpected subject %q", subject.Username)
	}
	if !subject.HasPermission("calendar:write") {
		t.Fatal("subject should hold the seeded permission")
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	svc := newJWTService(t, []Seed{{Username: "ada", Password: "s3cret"}})

	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "ada", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "ghost", Password: "s3cret"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user should map to invalid credentials, got %v", err)
	}
}

func TestAuthenticateRejectsDisabledUser(t *testing.T) {
	svc := newJWTService(t, []Seed{{Username: "ada", Password: "s3cret", Disabled: true}})

	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "ada", Password: "s3cret"}); !errors.Is(err, ErrSubjectRevoked) {
		t.Fatalf("expected revoked subject, got %v", err)
	}
}

func TestRefreshTokenCannotAccessAPI(t *testing.T) {
	svc := newJWTService(t, []Seed{{Username: "ada", Password: "s3cret"}})

	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "ada", Password: "s3cret"})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not pass access verification, got %v", err)
	}
}

func TestAuthenticateRequestRejectsTamperedToken(t *testing.T) {
	svc := newJWTService(t, []Seed{{Username: "ada", Password: "s3cret"}})

	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "ada", Password: "s3cret"})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	tampered := pair.AccessToken + "x"
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer "+tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token should fail, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty header should report missing token, got %v", err)
	}
}

func TestDisabledModeSkipsAuth(t *testing.T) {
	svc, err := NewService(context.Background(), Config{Mode: ModeDisabled}, nil)
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), TokenRequest{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled mode should reject issuance, got %v", err)
	}
}

func TestActiveUserIDsSkipsDisabled(t *testing.T) {
	store, err := NewMemoryStore([]Seed{
		{Username: "ada", Password: "pw"},
		{Username: "bob", Password: "pw", Disabled: true},
	})
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	ids, err := store.ActiveUserIDs(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected a single active user, got %d", len(ids))
	}
	user, _ := store.FindUserByUsername(context.Background(), "ada")
	if ids[0] != user.ID {
		t.Fatalf("active list should contain ada, got %v", ids)
	}
}

func TestHashPasswordSaltsEachCall(t *testing.T) {
	first, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if first == second {
		t.Fatal("hashes must differ between calls")
	}
	if !verifyPassword(first, "pw") || !verifyPassword(second, "pw") {
		t.Fatal("both hashes must verify")
	}
	if verifyPassword(first, "other") {
		t.Fatal("wrong password must not verify")
	}
}
