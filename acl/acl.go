// Package acl resolves organization roles and document edit rights.
package acl

import (
	"context"
	"errors"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/store"
)

// Role is a caller's standing in an organization. The zero value means
// "not a member".
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// MaxEditors caps a document's editors list.
const MaxEditors = 100

// Rank orders roles: owner > admin > member > none.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r != "" && r.Rank() >= min.Rank()
}

// OrgRole derives userID's role from the organization row and the caller's
// membership row (nil when there is none).
func OrgRole(org, member store.Doc, userID string) Role {
	if org == nil || userID == "" {
		return ""
	}
	if org.String(store.FieldOwner) == userID {
		return RoleOwner
	}
	if member == nil {
		return ""
	}
	if admin, _ := member["isAdmin"].(bool); admin {
		return RoleAdmin
	}
	return RoleMember
}

// CanEdit reports whether a caller with role may mutate doc. editors is the
// effective ACL (the document's own list or a parent's); nil disables it.
func CanEdit(role Role, doc store.Doc, userID string, editors []string) bool {
	if userID == "" {
		return false
	}
	if role == RoleOwner || role == RoleAdmin {
		return true
	}
	if doc.String(store.FieldOwner) == userID {
		return true
	}
	for _, e := range editors {
		if e == userID {
			return true
		}
	}
	return false
}

// Tables names the organization tables and the membership lookup index.
type Tables struct {
	Org    string
	Member string

	// MemberIndex is keyed on (orgId, userId).
	MemberIndex string
}

// DefaultTables returns the conventional table names.
func DefaultTables() Tables {
	return Tables{Org: "org", Member: "orgMember", MemberIndex: "by_org_user"}
}

// Access is a resolved membership.
type Access struct {
	Org    store.Doc
	Member store.Doc
	Role   Role
}

// Checker resolves roles against the store.
type Checker struct {
	store  store.Store
	tables Tables
}

// NewChecker creates a Checker.
func NewChecker(s store.Store, tables Tables) *Checker {
	return &Checker{store: s, tables: tables}
}

// Tables returns the configured table names.
func (c *Checker) Tables() Tables {
	return c.tables
}

// Membership returns userID's membership row in orgID, or nil.
func (c *Checker) Membership(ctx context.Context, orgID, userID string) (store.Doc, error) {
	return store.First(ctx, c.store, store.Query{
		Table: c.tables.Member,
		Index: c.tables.MemberIndex,
		Eq: []store.Eq{
			{Field: store.FieldOrg, Value: orgID},
			{Field: store.FieldOwner, Value: userID},
		},
	})
}

// Resolve fetches the organization and the caller's role in it. The
// organization must exist (NOT_FOUND); the role may be empty.
func (c *Checker) Resolve(ctx context.Context, orgID, userID string) (Access, error) {
	org, err := c.store.Get(ctx, c.tables.Org, orgID)
	if errors.Is(err, store.ErrNotFound) {
		return Access{}, apierr.New(apierr.NotFound, c.tables.Org)
	}
	if err != nil {
		return Access{}, err
	}
	a := Access{Org: org}
	if userID == "" {
		return a, nil
	}
	if org.String(store.FieldOwner) != userID {
		a.Member, err = c.Membership(ctx, orgID, userID)
		if err != nil {
			return Access{}, err
		}
	}
	a.Role = OrgRole(org, a.Member, userID)
	return a, nil
}

// RequireOrgMember fails NOT_ORG_MEMBER unless userID belongs to orgID.
func (c *Checker) RequireOrgMember(ctx context.Context, orgID, userID string) (Access, error) {
	a, err := c.Resolve(ctx, orgID, userID)
	if err != nil {
		return Access{}, err
	}
	if a.Role == "" {
		return Access{}, apierr.New(apierr.NotOrgMember, "")
	}
	return a, nil
}

// RequireOrgRole additionally fails INSUFFICIENT_ORG_ROLE below min.
func (c *Checker) RequireOrgRole(ctx context.Context, orgID, userID string, min Role) (Access, error) {
	a, err := c.RequireOrgMember(ctx, orgID, userID)
	if err != nil {
		return Access{}, err
	}
	if !a.Role.AtLeast(min) {
		return Access{}, apierr.New(apierr.InsufficientOrgRole, "").
			WithDebug("role %s, requires %s", a.Role, min)
	}
	return a, nil
}

// ValidateEditors dedupes editors, enforces MaxEditors and checks that each
// one belongs to the organization (owner included). Ids in current, the
// editors already on the document, are not re-checked.
func (c *Checker) ValidateEditors(ctx context.Context, org store.Doc, editors []string, current ...string) ([]string, error) {
	known := make(map[string]bool, len(current))
	for _, e := range current {
		known[e] = true
	}
	seen := make(map[string]bool, len(editors))
	out := make([]string, 0, len(editors))
	for _, e := range editors {
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	if len(out) > MaxEditors {
		return nil, apierr.New(apierr.LimitExceeded, "").
			WithDebug("at most %d editors, got %d", MaxEditors, len(out))
	}
	var strangers []string
	for _, e := range out {
		if known[e] || org.String(store.FieldOwner) == e {
			continue
		}
		m, err := c.Membership(ctx, org.ID(), e)
		if err != nil {
			return nil, err
		}
		if m == nil {
			strangers = append(strangers, e)
		}
	}
	if len(strangers) > 0 {
		return nil, apierr.New(apierr.NotOrgMember, "").
			WithMessage("Editors must be organization members").
			WithFields(strangers...)
	}
	return out, nil
}
