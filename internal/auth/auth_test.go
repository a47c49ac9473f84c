package auth

import (
	"context"
	"testing"
	"time"

	"github.com/canonica-labs/dealquery/internal/errors"
)

func TestStaticTokenAuthenticator(t *testing.T) {
	a := NewStaticTokenAuthenticator()
	if a.Enabled() {
		t.Fatal("authenticator without tokens must be disabled")
	}

	a.RegisterToken("secret-1", &User{ID: "u1", Roles: []string{"analyst"}})
	a.RegisterToken("stale", &User{ID: "u2", ExpiresAt: time.Now().Add(-time.Hour)})
	if !a.Enabled() {
		t.Fatal("authenticator with tokens must be enabled")
	}

	ctx := context.Background()
	user, err := a.ValidateToken(ctx, "secret-1")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if user.ID != "u1" || !user.HasRole("analyst") {
		t.Errorf("unexpected user %+v", user)
	}

	for _, token := range []string{"", "secret-2", "stale"} {
		_, err := a.ValidateToken(ctx, token)
		if err == nil {
			t.Errorf("token %q must be rejected", token)
			continue
		}
		if errors.CodeOf(err) != errors.CodeAuth {
			t.Errorf("token %q: expected auth error, got %v", token, err)
		}
	}
}

func TestUserFromContext(t *testing.T) {
	if UserFromContext(context.Background()) != Anonymous {
		t.Error("empty context must yield Anonymous")
	}
	u := &User{ID: "u1"}
	if got := UserFromContext(ContextWithUser(context.Background(), u)); got != u {
		t.Errorf("expected attached user, got %+v", got)
	}
}

func TestTableAuthorizer(t *testing.T) {
	s := NewTableAuthorizer()
	analyst := &User{ID: "a", Roles: []string{"analyst"}}
	if err := s.Authorize(analyst, []string{"ciqTransactionToAdvisor"}); err != nil {
		t.Fatalf("disabled authorizer must allow: %v", err)
	}

	s.Grant("analyst", "ciqTransaction", "ciqCompany")
	s.Grant("admin", Wildcard)

	if err := s.Authorize(analyst, []string{"ciqTransaction", "ciqCompany"}); err != nil {
		t.Errorf("expected access: %v", err)
	}

	err := s.Authorize(analyst, []string{"ciqTransaction", "ciqTransactionToAdvisor"})
	if err == nil {
		t.Fatal("expected denial")
	}
	if errors.CodeOf(err) != errors.CodeForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}

	admin := &User{ID: "root", Roles: []string{"admin"}}
	if err := s.Authorize(admin, []string{"ciqTransactionToAdvisor"}); err != nil {
		t.Errorf("wildcard must allow: %v", err)
	}
	if err := s.Authorize(nil, []string{"ciqTransaction"}); err == nil {
		t.Error("anonymous caller has no grants")
	}

	s.Revoke("analyst", "ciqCompany")
	if s.HasAccess(analyst, "ciqCompany") {
		t.Error("revoked grant still effective")
	}
}
