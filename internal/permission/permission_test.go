package permission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testChecker() *Checker {
	cfg := Config{
		Roles: map[string]Role{
			"analyst": {
				Name:         "analyst",
				Capabilities: []string{"Sales Invoice:read", "GL Entry:read", "Report:read"},
			},
			"viewer": {
				Name:         "viewer",
				Capabilities: []string{"Report:read"},
			},
		},
		SubjectRoles: map[string]string{
			"alice@example.com": "analyst",
			"bob@example.com":   "viewer",
		},
		DefaultRole: "",
		SuperUser:   "Administrator",
		CompanyScopes: map[string][]string{
			"alice@example.com": {"Acme Corp"},
		},
	}
	return NewChecker(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHasCapability(t *testing.T) {
	c := testChecker()
	ctx := context.Background()

	if err := c.HasCapability(ctx, "alice@example.com", "Sales Invoice", ActionRead); err != nil {
		t.Errorf("analyst read denied: %v", err)
	}
	if err := c.HasCapability(ctx, "alice@example.com", "Sales Invoice", ActionWrite); err == nil {
		t.Error("write should be denied")
	}
	if err := c.HasCapability(ctx, "bob@example.com", "GL Entry", ActionRead); err == nil {
		t.Error("viewer should not read GL Entry")
	}
}

func TestHasCapability_DefaultDeny(t *testing.T) {
	c := testChecker()

	err := c.HasCapability(context.Background(), "mallory@example.com", "Report", ActionRead)
	if err == nil {
		t.Fatal("unknown subject should be denied")
	}
	if !errors.Is(err, ErrDenied) {
		t.Errorf("expected ErrDenied, got %v", err)
	}
}

func TestHasCapability_SuperUser(t *testing.T) {
	c := testChecker()
	ctx := context.Background()

	if err := c.HasCapability(ctx, "Administrator", "GL Entry", ActionDelete); err != nil {
		t.Errorf("super user denied: %v", err)
	}
	if err := c.HasScopeAccess(ctx, "Administrator", "Any Company"); err != nil {
		t.Errorf("super user scope denied: %v", err)
	}
	if !c.HasRole("Administrator", "analyst") {
		t.Error("super user should match every role")
	}
}

func TestHasScopeAccess(t *testing.T) {
	c := testChecker()
	ctx := context.Background()

	if err := c.HasScopeAccess(ctx, "alice@example.com", "Acme Corp"); err != nil {
		t.Errorf("scoped company denied: %v", err)
	}
	err := c.HasScopeAccess(ctx, "alice@example.com", "Globex")
	if !errors.Is(err, ErrDenied) {
		t.Errorf("expected ErrDenied for out-of-scope company, got %v", err)
	}

	// A subject without a scope entry sees every company.
	if err := c.HasScopeAccess(ctx, "bob@example.com", "Globex"); err != nil {
		t.Errorf("unrestricted subject denied: %v", err)
	}
}

func TestCompanies(t *testing.T) {
	c := testChecker()

	got := c.Companies("alice@example.com")
	if len(got) != 1 || got[0] != "Acme Corp" {
		t.Errorf("Companies = %v", got)
	}
	if got := c.Companies("bob@example.com"); got != nil {
		t.Errorf("unrestricted subject should return nil, got %v", got)
	}
	if got := c.Companies("Administrator"); got != nil {
		t.Errorf("super user should return nil, got %v", got)
	}
}

func TestDefaultRole(t *testing.T) {
	cfg := Config{
		Roles: map[string]Role{
			"viewer": {Name: "viewer", Capabilities: []string{"Report:read"}},
		},
		DefaultRole: "viewer",
	}
	c := NewChecker(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := c.HasCapability(context.Background(), "anyone", "Report", ActionRead); err != nil {
		t.Errorf("default role read denied: %v", err)
	}
	if err := c.HasCapability(context.Background(), "anyone", "Report", ActionWrite); err == nil {
		t.Error("default role write should be denied")
	}
}
