package org

import (
	"context"

	"github.com/jacentio/canopy/acl"
	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/store"
)

func (s *Service) pendingRequest(ctx context.Context, orgID, userID string) (store.Doc, error) {
	return store.First(ctx, s.store, store.Query{
		Table: s.config.JoinRequestTable,
		Index: s.config.OrgIndex,
		Eq:    []store.Eq{{Field: store.FieldOrg, Value: orgID}},
		Filter: store.And{
			store.Cmp{Field: store.FieldOwner, Op: store.OpEq, Value: userID},
			store.Cmp{Field: "status", Op: store.OpEq, Value: StatusPending},
		},
	})
}

// RequestJoin asks to join an organization.
func (s *Service) RequestJoin(ctx context.Context, args JoinArgs) (string, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return "", err
	}
	if err := check(args); err != nil {
		return "", err
	}
	a, err := s.acl.Resolve(ctx, args.OrgID, user)
	if err != nil {
		return "", err
	}
	if a.Role != "" {
		return "", s.fail(apierr.AlreadyOrgMember)
	}
	existing, err := s.pendingRequest(ctx, args.OrgID, user)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", s.fail(apierr.JoinRequestExists)
	}
	return s.store.Insert(ctx, s.config.JoinRequestTable, store.Doc{
		store.FieldOrg:       args.OrgID,
		store.FieldOwner:     user,
		"message":            args.Message,
		"status":             StatusPending,
		store.FieldUpdatedAt: s.now(),
	})
}

// PendingRequests lists the pending join requests. Admins only.
func (s *Service) PendingRequests(ctx context.Context, orgID string) ([]store.Doc, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return nil, err
	}
	if _, err := s.acl.RequireOrgRole(ctx, orgID, user, acl.RoleAdmin); err != nil {
		return nil, err
	}
	return store.Collect(ctx, s.store, store.Query{
		Table:  s.config.JoinRequestTable,
		Index:  s.config.OrgIndex,
		Eq:     []store.Eq{{Field: store.FieldOrg, Value: orgID}},
		Filter: store.Cmp{Field: "status", Op: store.OpEq, Value: StatusPending},
		Order:  store.Asc,
	})
}

// ApproveJoin admits the requester as a member. Admins only.
func (s *Service) ApproveJoin(ctx context.Context, args RequestArgs) error {
	req, err := s.decide(ctx, args)
	if err != nil {
		return err
	}
	requester := req.String(store.FieldOwner)
	m, err := s.acl.Membership(ctx, args.OrgID, requester)
	if err != nil {
		return err
	}
	if m == nil {
		if err := s.addMember(ctx, args.OrgID, requester, false); err != nil {
			return err
		}
	}
	return s.setStatus(ctx, req, StatusApproved)
}

// RejectJoin declines a join request. Admins only.
func (s *Service) RejectJoin(ctx context.Context, args RequestArgs) error {
	req, err := s.decide(ctx, args)
	if err != nil {
		return err
	}
	return s.setStatus(ctx, req, StatusRejected)
}

// decide authorizes an admin and loads a pending request of the org.
func (s *Service) decide(ctx context.Context, args RequestArgs) (store.Doc, error) {
	user, err := s.e.RequireUser(ctx, s.tables.Org)
	if err != nil {
		return nil, err
	}
	if err := check(args); err != nil {
		return nil, err
	}
	if _, err := s.acl.RequireOrgRole(ctx, args.OrgID, user, acl.RoleAdmin); err != nil {
		return nil, err
	}
	req, err := s.load(ctx, s.config.JoinRequestTable, args.RequestID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.String(store.FieldOrg) != args.OrgID || req.String("status") != StatusPending {
		return nil, apierr.New(apierr.NotFound, s.config.JoinRequestTable)
	}
	return req, nil
}

func (s *Service) setStatus(ctx context.Context, req store.Doc, status string) error {
	return s.store.Patch(ctx, s.config.JoinRequestTable, req.ID(), store.Doc{
		"status":             status,
		store.FieldUpdatedAt: s.now(),
	}, store.Eq{Field: "status", Value: StatusPending})
}
