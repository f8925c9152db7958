package org

import (
	"context"

	"github.com/jacentio/canopy/crud"
)

type ok struct {
	OK bool `json:"ok"`
}

func done(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return ok{OK: true}, nil
}

func (s *Service) register() {
	name := func(o string) string { return s.tables.Org + ":" + o }
	r := s.e.Register

	r(name("create"), crud.Bind(func(ctx context.Context, a CreateArgs) (any, error) {
		return s.Create(ctx, a)
	}))
	r(name("update"), crud.Bind(func(ctx context.Context, a UpdateArgs) (any, error) {
		return s.Update(ctx, a)
	}))
	r(name("get"), crud.Bind(func(ctx context.Context, a OrgArgs) (any, error) {
		return s.Get(ctx, a.OrgID)
	}))
	r(name("bySlug"), crud.Bind(func(ctx context.Context, a SlugArgs) (any, error) {
		return s.BySlug(ctx, a.Slug)
	}))
	r(name("mine"), crud.Bind(func(ctx context.Context, _ struct{}) (any, error) {
		return s.Mine(ctx)
	}))
	r(name("members"), crud.Bind(func(ctx context.Context, a OrgArgs) (any, error) {
		return s.Members(ctx, a.OrgID)
	}))
	r(name("setAdmin"), crud.Bind(func(ctx context.Context, a SetAdminArgs) (any, error) {
		return done(s.SetAdmin(ctx, a))
	}))
	r(name("removeMember"), crud.Bind(func(ctx context.Context, a MemberArgs) (any, error) {
		return done(s.RemoveMember(ctx, a))
	}))
	r(name("leave"), crud.Bind(func(ctx context.Context, a OrgArgs) (any, error) {
		return done(s.Leave(ctx, a.OrgID))
	}))
	r(name("transferOwnership"), crud.Bind(func(ctx context.Context, a MemberArgs) (any, error) {
		return done(s.TransferOwnership(ctx, a))
	}))
	r(name("invite"), crud.Bind(func(ctx context.Context, a InviteArgs) (any, error) {
		return s.Invite(ctx, a)
	}))
	r(name("invites"), crud.Bind(func(ctx context.Context, a OrgArgs) (any, error) {
		return s.Invites(ctx, a.OrgID)
	}))
	r(name("acceptInvite"), crud.Bind(func(ctx context.Context, a TokenArgs) (any, error) {
		return s.AcceptInvite(ctx, a.Token)
	}))
	r(name("revokeInvite"), crud.Bind(func(ctx context.Context, a InviteIDArgs) (any, error) {
		return done(s.RevokeInvite(ctx, a))
	}))
	r(name("requestJoin"), crud.Bind(func(ctx context.Context, a JoinArgs) (any, error) {
		return s.RequestJoin(ctx, a)
	}))
	r(name("pendingRequests"), crud.Bind(func(ctx context.Context, a OrgArgs) (any, error) {
		return s.PendingRequests(ctx, a.OrgID)
	}))
	r(name("approveJoin"), crud.Bind(func(ctx context.Context, a RequestArgs) (any, error) {
		return done(s.ApproveJoin(ctx, a))
	}))
	r(name("rejectJoin"), crud.Bind(func(ctx context.Context, a RequestArgs) (any, error) {
		return done(s.RejectJoin(ctx, a))
	}))
	r(name("remove"), crud.Bind(func(ctx context.Context, a OrgArgs) (any, error) {
		return done(s.Remove(ctx, a.OrgID))
	}))
}
