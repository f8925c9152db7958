package org

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/canopy/acl"
	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/store"
)

// Invitation is a created invite.
type Invitation struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Invite creates an invite for email. Admins only.
func (s *Service) Invite(ctx context.Context, args InviteArgs) (Invitation, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return Invitation{}, err
	}
	if err := check(args); err != nil {
		return Invitation{}, err
	}
	if _, err := s.acl.RequireOrgRole(ctx, args.OrgID, user, acl.RoleAdmin); err != nil {
		return Invitation{}, err
	}
	inv := Invitation{
		Token:     uuid.NewString(),
		ExpiresAt: store.Millis(s.e.Now().Add(InviteTTL)),
	}
	inv.ID, err = s.store.Insert(ctx, s.config.InviteTable, store.Doc{
		store.FieldOrg:   args.OrgID,
		"email":          strings.ToLower(args.Email),
		"token":          inv.Token,
		"isAdmin":        args.IsAdmin,
		"expiresAt":      inv.ExpiresAt,
		store.FieldOwner: user,
	})
	if err != nil {
		return Invitation{}, err
	}
	return inv, nil
}

// Invites lists the open invites of an organization. Admins only.
func (s *Service) Invites(ctx context.Context, orgID string) ([]store.Doc, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return nil, err
	}
	if _, err := s.acl.RequireOrgRole(ctx, orgID, user, acl.RoleAdmin); err != nil {
		return nil, err
	}
	return store.Collect(ctx, s.store, store.Query{
		Table: s.config.InviteTable,
		Index: s.config.OrgIndex,
		Eq:    []store.Eq{{Field: store.FieldOrg, Value: orgID}},
		Order: store.Asc,
	})
}

// AcceptInvite joins the caller to the invite's organization and consumes
// the invite. It returns the organization id.
func (s *Service) AcceptInvite(ctx context.Context, token string) (string, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", s.fail(apierr.InvalidInvite)
	}
	inv, err := store.First(ctx, s.store, store.Query{
		Table: s.config.InviteTable,
		Index: s.config.TokenIndex,
		Eq:    []store.Eq{{Field: "token", Value: token}},
	})
	if err != nil {
		return "", err
	}
	if inv == nil {
		return "", s.fail(apierr.InvalidInvite)
	}
	if expired(inv, s.e.Now()) {
		return "", s.fail(apierr.InviteExpired)
	}
	orgID := inv.String(store.FieldOrg)
	a, err := s.acl.Resolve(ctx, orgID, user)
	if apierr.IsCode(err, apierr.NotFound) {
		return "", s.fail(apierr.InvalidInvite)
	}
	if err != nil {
		return "", err
	}
	if a.Role != "" {
		return "", s.fail(apierr.AlreadyOrgMember)
	}
	admin, _ := inv["isAdmin"].(bool)
	if err := s.addMember(ctx, orgID, user, admin); err != nil {
		return "", err
	}
	if err := s.deleteRow(ctx, s.config.InviteTable, inv.ID()); err != nil {
		return "", err
	}
	return orgID, nil
}

// RevokeInvite deletes an open invite. Admins only.
func (s *Service) RevokeInvite(ctx context.Context, args InviteIDArgs) error {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return err
	}
	if err := check(args); err != nil {
		return err
	}
	if _, err := s.acl.RequireOrgRole(ctx, args.OrgID, user, acl.RoleAdmin); err != nil {
		return err
	}
	inv, err := s.load(ctx, s.config.InviteTable, args.InviteID)
	if err != nil {
		return err
	}
	if inv == nil || inv.String(store.FieldOrg) != args.OrgID {
		return apierr.New(apierr.NotFound, s.config.InviteTable)
	}
	return s.deleteRow(ctx, s.config.InviteTable, args.InviteID)
}

// load returns a row, or nil when it does not exist.
func (s *Service) load(ctx context.Context, table, id string) (store.Doc, error) {
	d, err := s.store.Get(ctx, table, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// expired reports whether an invite row is past its expiry at now.
func expired(inv store.Doc, now time.Time) bool {
	exp, _ := inv.Int64("expiresAt")
	return exp <= store.Millis(now)
}
