// Package permission enforces role-based access to business resources and
// company scopes. Semantics are default-deny: a subject with no role, or a
// role without the capability, is refused.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrDenied is the sentinel wrapped by every refusal.
var ErrDenied = errors.New("permission denied")

// Actions on a resource type.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionCreate = "create"
	ActionDelete = "delete"
)

// Role is a named set of capabilities, each written as "resource:action"
// (for example "Sales Invoice:read"). No wildcards.
type Role struct {
	Name         string   `json:"name" yaml:"name"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// Config is the full access control configuration.
type Config struct {
	Roles         map[string]Role     `json:"roles" yaml:"roles"`                   // role name → definition
	SubjectRoles  map[string]string   `json:"subject_roles" yaml:"subject_roles"`   // subject → role name
	DefaultRole   string              `json:"default_role" yaml:"default_role"`     // role for unknown subjects
	SuperUser     string              `json:"super_user" yaml:"super_user"`         // subject exempt from all checks
	CompanyScopes map[string][]string `json:"company_scopes" yaml:"company_scopes"` // subject → allowed companies
}

// Checker evaluates capability and scope checks. Safe for concurrent use.
type Checker struct {
	mu            sync.RWMutex
	roles         map[string]Role
	subjectRoles  map[string]string
	defaultRole   string
	superUser     string
	companyScopes map[string][]string
	logger        *slog.Logger
}

// NewChecker creates a permission checker from the given configuration.
func NewChecker(cfg Config, logger *slog.Logger) *Checker {
	return &Checker{
		roles:         cfg.Roles,
		subjectRoles:  cfg.SubjectRoles,
		defaultRole:   cfg.DefaultRole,
		superUser:     cfg.SuperUser,
		companyScopes: cfg.CompanyScopes,
		logger:        logger,
	}
}

// HasCapability returns nil if the subject's role explicitly includes
// "resourceType:action". The super user passes every check.
func (c *Checker) HasCapability(ctx context.Context, subject, resourceType, action string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isSuperUser(subject) {
		return nil
	}

	role, ok := c.resolveRole(subject)
	if !ok {
		c.logger.WarnContext(ctx, "capability denied: no role found",
			slog.String("subject", subject),
			slog.String("resource_type", resourceType),
			slog.String("action", action),
		)
		return fmt.Errorf("%w: subject %q has no assigned role", ErrDenied, subject)
	}

	want := resourceType + ":" + action
	for _, capability := range role.Capabilities {
		if capability == want {
			return nil
		}
	}

	c.logger.WarnContext(ctx, "capability denied: not in role",
		slog.String("subject", subject),
		slog.String("role", role.Name),
		slog.String("capability", want),
	)
	return fmt.Errorf("%w: role %q does not include %q", ErrDenied, role.Name, want)
}

// HasScopeAccess returns nil if the subject may see the given company's
// data. A subject with no scope entry sees all companies; an entry
// restricts to exactly its members. The super user is never restricted.
func (c *Checker) HasScopeAccess(ctx context.Context, subject, company string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isSuperUser(subject) {
		return nil
	}

	scopes, ok := c.companyScopes[subject]
	if !ok || len(scopes) == 0 {
		return nil
	}
	for _, s := range scopes {
		if s == company {
			return nil
		}
	}

	c.logger.WarnContext(ctx, "scope denied",
		slog.String("subject", subject),
		slog.String("company", company),
	)
	return fmt.Errorf("%w: subject %q has no access to company %q", ErrDenied, subject, company)
}

// Companies returns the companies the subject is restricted to, or nil
// when unrestricted.
func (c *Checker) Companies(subject string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isSuperUser(subject) {
		return nil
	}
	scopes := c.companyScopes[subject]
	out := make([]string, len(scopes))
	copy(out, scopes)
	if len(out) == 0 {
		return nil
	}
	return out
}

// HasRole reports whether the subject resolves to the named role. The
// super user matches every role.
func (c *Checker) HasRole(subject, roleName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isSuperUser(subject) {
		return true
	}
	role, ok := c.resolveRole(subject)
	return ok && role.Name == roleName
}

// IsSuperUser reports whether the subject bypasses all checks.
func (c *Checker) IsSuperUser(subject string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isSuperUser(subject)
}

func (c *Checker) isSuperUser(subject string) bool {
	return c.superUser != "" && subject == c.superUser
}

func (c *Checker) resolveRole(subject string) (Role, bool) {
	roleName, ok := c.subjectRoles[subject]
	if !ok {
		roleName = c.defaultRole
	}
	if roleName == "" {
		return Role{}, false
	}
	role, ok := c.roles[roleName]
	return role, ok
}
