// Package org manages organizations: their members and roles, invites,
// join requests and removal.
//
// Memberships are rows of the member table keyed by (orgId, userId) with
// an isAdmin flag; the owner is org.userId and also holds an admin
// membership row so that listing a user's organizations is one index read.
package org

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/canopy/acl"
	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/crud"
	"github.com/jacentio/canopy/store"
)

// InviteTTL is how long an invite stays valid.
const InviteTTL = 7 * 24 * time.Hour

// Join request states.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Config names the tables and indexes beyond the ones in crud.Config.Org.
type Config struct {
	// Default: "orgInvite"
	InviteTable string
	// Default: "orgJoinRequest"
	JoinRequestTable string

	// SlugIndex is on org.slug.
	// Default: "by_slug"
	SlugIndex string
	// OrgIndex is on orgId of members, invites and requests.
	// Default: "by_org"
	OrgIndex string
	// UserIndex is on userId of members.
	// Default: "by_user"
	UserIndex string
	// TokenIndex is on orgInvite.token.
	// Default: "by_token"
	TokenIndex string
}

func (c *Config) validate() {
	if c.InviteTable == "" {
		c.InviteTable = "orgInvite"
	}
	if c.JoinRequestTable == "" {
		c.JoinRequestTable = "orgJoinRequest"
	}
	if c.SlugIndex == "" {
		c.SlugIndex = "by_slug"
	}
	if c.OrgIndex == "" {
		c.OrgIndex = "by_org"
	}
	if c.UserIndex == "" {
		c.UserIndex = "by_user"
	}
	if c.TokenIndex == "" {
		c.TokenIndex = "by_token"
	}
}

// Service implements organization management on top of an engine.
type Service struct {
	e      *crud.Engine
	store  store.Store
	acl    *acl.Checker
	tables acl.Tables
	config Config
	logger *slog.Logger
}

// New creates a Service and registers its operations under the org table
// name ("org:create", "org:members", ...).
func New(e *crud.Engine, config Config) *Service {
	config.validate()
	s := &Service{
		e:      e,
		store:  e.Store(),
		acl:    e.ACL(),
		tables: e.ACL().Tables(),
		config: config,
		logger: e.Logger(),
	}
	s.register()
	return s
}

// TableSpecs lists the organization tables with the indexes the service
// queries.
func (s *Service) TableSpecs() []store.TableSpec {
	c := s.config
	return store.MergeSpecs(
		store.TableSpec{Table: s.tables.Org, Indexes: []store.IndexSpec{
			{Name: c.SlugIndex, Field: "slug"},
		}},
		store.TableSpec{Table: s.tables.Member, Indexes: []store.IndexSpec{
			{Name: s.tables.MemberIndex, Field: store.FieldOrg},
			{Name: c.OrgIndex, Field: store.FieldOrg},
			{Name: c.UserIndex, Field: store.FieldOwner},
		}},
		store.TableSpec{Table: c.InviteTable, Indexes: []store.IndexSpec{
			{Name: c.OrgIndex, Field: store.FieldOrg},
			{Name: c.TokenIndex, Field: "token"},
		}},
		store.TableSpec{Table: c.JoinRequestTable, Indexes: []store.IndexSpec{
			{Name: c.OrgIndex, Field: store.FieldOrg},
		}},
	)
}

func (s *Service) now() int64 {
	return store.Millis(s.e.Now())
}

func (s *Service) fail(code apierr.Code) *apierr.Error {
	return apierr.New(code, s.tables.Org)
}

func (s *Service) bySlug(ctx context.Context, slug string) (store.Doc, error) {
	return store.First(ctx, s.store, store.Query{
		Table: s.tables.Org,
		Index: s.config.SlugIndex,
		Eq:    []store.Eq{{Field: "slug", Value: slug}},
	})
}

// Create makes the caller the owner of a new organization.
func (s *Service) Create(ctx context.Context, args CreateArgs) (string, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return "", err
	}
	if err := check(args); err != nil {
		return "", err
	}
	taken, err := s.bySlug(ctx, args.Slug)
	if err != nil {
		return "", err
	}
	if taken != nil {
		return "", s.fail(apierr.OrgSlugTaken)
	}
	now := s.now()
	id, err := s.store.Insert(ctx, s.tables.Org, store.Doc{
		"name":               args.Name,
		"slug":               args.Slug,
		store.FieldOwner:     user,
		store.FieldUpdatedAt: now,
	})
	if err != nil {
		return "", err
	}
	if err := s.addMember(ctx, id, user, true); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "organization created", "orgId", id, "slug", args.Slug, "owner", user)
	return id, nil
}

func (s *Service) addMember(ctx context.Context, orgID, userID string, admin bool) error {
	_, err := s.store.Insert(ctx, s.tables.Member, store.Doc{
		store.FieldOrg:       orgID,
		store.FieldOwner:     userID,
		"isAdmin":            admin,
		store.FieldUpdatedAt: s.now(),
	})
	return err
}

// Update renames an organization or changes its slug. Admins only.
func (s *Service) Update(ctx context.Context, args UpdateArgs) (store.Doc, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return nil, err
	}
	if err := check(args); err != nil {
		return nil, err
	}
	a, err := s.acl.RequireOrgRole(ctx, args.OrgID, user, acl.RoleAdmin)
	if err != nil {
		return nil, err
	}
	patch := store.Doc{store.FieldUpdatedAt: s.now()}
	if args.Name != nil {
		patch["name"] = *args.Name
	}
	if args.Slug != nil && *args.Slug != a.Org.String("slug") {
		taken, err := s.bySlug(ctx, *args.Slug)
		if err != nil {
			return nil, err
		}
		if taken != nil {
			return nil, s.fail(apierr.OrgSlugTaken)
		}
		patch["slug"] = *args.Slug
	}
	if err := s.store.Patch(ctx, s.tables.Org, args.OrgID, patch); err != nil {
		return nil, err
	}
	return store.Merge(a.Org, patch), nil
}

// View is an organization with the caller's role in it.
type View struct {
	Org  store.Doc `json:"org"`
	Role acl.Role  `json:"role"`
}

// Get returns an organization to one of its members.
func (s *Service) Get(ctx context.Context, orgID string) (View, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return View{}, err
	}
	a, err := s.acl.RequireOrgMember(ctx, orgID, user)
	if err != nil {
		return View{}, err
	}
	return View{Org: a.Org, Role: a.Role}, nil
}

// BySlug returns the public fields of an organization, or nil.
func (s *Service) BySlug(ctx context.Context, slug string) (store.Doc, error) {
	o, err := s.bySlug(ctx, slug)
	if err != nil || o == nil {
		return nil, err
	}
	return store.Doc{store.FieldID: o.ID(), "name": o["name"], "slug": o["slug"]}, nil
}

// Mine lists the caller's organizations with their role in each.
func (s *Service) Mine(ctx context.Context) ([]View, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return nil, err
	}
	rows, err := store.Collect(ctx, s.store, store.Query{
		Table: s.tables.Member,
		Index: s.config.UserIndex,
		Eq:    []store.Eq{{Field: store.FieldOwner, Value: user}},
		Order: store.Asc,
	})
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(rows))
	for _, m := range rows {
		o, err := s.store.Get(ctx, s.tables.Org, m.String(store.FieldOrg))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, View{Org: o, Role: acl.OrgRole(o, m, user)})
	}
	return out, nil
}

// Member is a membership with the member's profile.
type Member struct {
	UserID string    `json:"userId"`
	Role   acl.Role  `json:"role"`
	User   store.Doc `json:"user,omitempty"`
}

// Members lists an organization's members. Any member may call it.
func (s *Service) Members(ctx context.Context, orgID string) ([]Member, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return nil, err
	}
	a, err := s.acl.RequireOrgMember(ctx, orgID, user)
	if err != nil {
		return nil, err
	}
	rows, err := s.members(ctx, orgID)
	if err != nil {
		return nil, err
	}
	users := s.e.Config().UsersTable
	out := make([]Member, 0, len(rows))
	for _, m := range rows {
		id := m.String(store.FieldOwner)
		mem := Member{UserID: id, Role: acl.OrgRole(a.Org, m, id)}
		if u, err := s.store.Get(ctx, users, id); err == nil {
			mem.User = store.Doc{"name": u["name"], "email": u["email"], "image": u["image"]}
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		out = append(out, mem)
	}
	return out, nil
}

func (s *Service) members(ctx context.Context, orgID string) ([]store.Doc, error) {
	return store.Collect(ctx, s.store, store.Query{
		Table: s.tables.Member,
		Index: s.config.OrgIndex,
		Eq:    []store.Eq{{Field: store.FieldOrg, Value: orgID}},
		Order: store.Asc,
	})
}

// target loads the membership row of userID, failing NOT_ORG_MEMBER.
func (s *Service) target(ctx context.Context, orgID, userID string) (store.Doc, error) {
	m, err := s.acl.Membership(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, s.fail(apierr.NotOrgMember).WithFields("userId")
	}
	return m, nil
}

// SetAdmin grants or revokes admin. Owner only.
func (s *Service) SetAdmin(ctx context.Context, args SetAdminArgs) error {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return err
	}
	if err := check(args); err != nil {
		return err
	}
	a, err := s.acl.RequireOrgRole(ctx, args.OrgID, user, acl.RoleOwner)
	if err != nil {
		return err
	}
	if a.Org.String(store.FieldOwner) == args.UserID {
		return s.fail(apierr.CannotModifyOwner)
	}
	m, err := s.target(ctx, args.OrgID, args.UserID)
	if err != nil {
		return err
	}
	return s.store.Patch(ctx, s.tables.Member, m.ID(), store.Doc{
		"isAdmin":            args.IsAdmin,
		store.FieldUpdatedAt: s.now(),
	})
}

// RemoveMember removes someone from the organization. Admins may remove
// members; only the owner may remove admins; nobody removes the owner.
func (s *Service) RemoveMember(ctx context.Context, args MemberArgs) error {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return err
	}
	if err := check(args); err != nil {
		return err
	}
	a, err := s.acl.RequireOrgRole(ctx, args.OrgID, user, acl.RoleAdmin)
	if err != nil {
		return err
	}
	if a.Org.String(store.FieldOwner) == args.UserID {
		return s.fail(apierr.CannotModifyOwner)
	}
	m, err := s.target(ctx, args.OrgID, args.UserID)
	if err != nil {
		return err
	}
	if admin, _ := m["isAdmin"].(bool); admin && a.Role != acl.RoleOwner {
		return s.fail(apierr.CannotModifyAdmin)
	}
	return s.store.Delete(ctx, s.tables.Member, m.ID())
}

// Leave removes the caller from an organization. The owner cannot leave;
// ownership has to be transferred first.
func (s *Service) Leave(ctx context.Context, orgID string) error {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return err
	}
	a, err := s.acl.RequireOrgMember(ctx, orgID, user)
	if err != nil {
		return err
	}
	if a.Role == acl.RoleOwner {
		return s.fail(apierr.CannotModifyOwner).WithMessage("The owner cannot leave the organization")
	}
	return s.store.Delete(ctx, s.tables.Member, a.Member.ID())
}

// TransferOwnership hands the organization to an admin. Owner only; the
// previous owner stays on as an admin.
func (s *Service) TransferOwnership(ctx context.Context, args MemberArgs) error {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return err
	}
	if err := check(args); err != nil {
		return err
	}
	a, err := s.acl.RequireOrgRole(ctx, args.OrgID, user, acl.RoleOwner)
	if err != nil {
		return err
	}
	if args.UserID == user {
		return nil
	}
	m, err := s.target(ctx, args.OrgID, args.UserID)
	if err != nil {
		return err
	}
	if admin, _ := m["isAdmin"].(bool); !admin {
		return s.fail(apierr.TargetMustBeAdmin)
	}
	err = s.store.Patch(ctx, s.tables.Org, args.OrgID, store.Doc{
		store.FieldOwner:     args.UserID,
		store.FieldUpdatedAt: s.now(),
	}, store.Eq{Field: store.FieldOwner, Value: user})
	if errors.Is(err, store.ErrConcurrentModification) {
		return s.fail(apierr.Conflict)
	}
	if err != nil {
		return err
	}
	prev, err := s.acl.Membership(ctx, args.OrgID, user)
	if err != nil {
		return err
	}
	if prev == nil {
		err = s.addMember(ctx, args.OrgID, user, true)
	} else {
		err = s.store.Patch(ctx, s.tables.Member, prev.ID(), store.Doc{"isAdmin": true, store.FieldUpdatedAt: s.now()})
	}
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "organization ownership transferred",
		"orgId", args.OrgID,
		"from", user,
		"to", args.UserID,
		"org", a.Org.String("slug"),
	)
	return nil
}

// Remove deletes an organization with all of its data. Owner only. Every
// org-scoped table mounted on the engine is emptied of the organization's
// documents (with their cascades and attachments), then its members,
// invites and join requests, then the organization itself.
func (s *Service) Remove(ctx context.Context, orgID string) error {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return err
	}
	if _, err := s.acl.RequireOrgRole(ctx, orgID, user, acl.RoleOwner); err != nil {
		return err
	}
	idx := s.e.Config().OrgIndex
	for _, table := range s.e.OrgTables() {
		docs, err := s.byOrg(ctx, table, idx, orgID)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := s.deleteRow(ctx, table, d.ID()); err != nil {
				return err
			}
			if err := s.e.Reap(ctx, table, d); err != nil {
				return err
			}
		}
	}
	for _, table := range []string{s.tables.Member, s.config.InviteTable, s.config.JoinRequestTable} {
		docs, err := s.byOrg(ctx, table, s.config.OrgIndex, orgID)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := s.deleteRow(ctx, table, d.ID()); err != nil {
				return err
			}
		}
	}
	if err := s.deleteRow(ctx, s.tables.Org, orgID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "organization removed", "orgId", orgID, "by", user)
	return nil
}

func (s *Service) byOrg(ctx context.Context, table, index, orgID string) ([]store.Doc, error) {
	docs, err := store.Collect(ctx, s.store, store.Query{
		Table:          table,
		Index:          index,
		Eq:             []store.Eq{{Field: store.FieldOrg, Value: orgID}},
		Order:          store.Asc,
		IncludeExpired: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s of org %s: %w", table, orgID, err)
	}
	return docs, nil
}

func (s *Service) deleteRow(ctx context.Context, table, id string) error {
	err := s.store.Delete(ctx, table, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}
