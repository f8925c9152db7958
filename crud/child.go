package crud

import (
	"context"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
)

// Child is the operation set of a table whose rows hang off a parent
// document. Every call re-reads the parent and checks the caller owns it.
type Child struct {
	t      *table
	parent schema.Parent
	pub    *ChildPub
}

// ChildPub is the public surface of a child table, gated by a flag on the
// parent.
type ChildPub struct {
	c *Child
}

// NewChild builds and registers the operations of a child table.
func NewChild(e *Engine, def schema.Table, hooks Hooks) (*Child, error) {
	t, err := newTable(e, def, schema.FactoryChild, hooks)
	if err != nil {
		return nil, err
	}
	c := &Child{t: t, parent: *def.Parent}
	if c.parent.PubField != "" {
		c.pub = &ChildPub{c: c}
	}
	c.register()
	return c, nil
}

// Name returns the table name.
func (c *Child) Name() string { return c.t.name }

// Pub returns the public surface, or nil when the parent has no pub flag.
func (c *Child) Pub() *ChildPub { return c.pub }

// verifyParentOwnership loads the parent and checks the caller owns it.
func (c *Child) verifyParentOwnership(ctx context.Context, parentID, user string) (store.Doc, error) {
	p, err := c.t.e.get(ctx, c.parent.Table, parentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apierr.New(apierr.NotFound, c.parent.Table).WithDebug("parent %s not found", parentID)
	}
	if p.String(store.FieldOwner) != user {
		return nil, c.t.fail(apierr.NotAuthorized).WithDebug("caller does not own the parent %s", c.parent.Table)
	}
	return p, nil
}

// checkParentField loads the parent and checks its pub flag is truthy.
func (c *Child) checkParentField(ctx context.Context, parentID string) error {
	p, err := c.t.e.get(ctx, c.parent.Table, parentID)
	if err != nil {
		return err
	}
	if p == nil || !store.Truthy(p[c.parent.PubField]) {
		return apierr.New(apierr.NotFound, c.parent.Table)
	}
	return nil
}

func (c *Child) fk(d store.Doc) string {
	return d.String(c.parent.ForeignKey)
}

// Create inserts a child of a parent the caller owns.
func (c *Child) Create(ctx context.Context, data store.Doc) (string, error) {
	user, err := c.t.e.RequireUser(ctx, c.t.name)
	if err != nil {
		return "", err
	}
	if err := c.t.rateLimit(ctx, user); err != nil {
		return "", err
	}
	if err := c.t.validate(data, false); err != nil {
		return "", err
	}
	if _, err := c.verifyParentOwnership(ctx, c.fk(data), user); err != nil {
		return "", err
	}
	return c.t.insert(ctx, c.t.opCtx(user, "create"), data, nil)
}

// Get returns a child, or nil when it does not exist.
func (c *Child) Get(ctx context.Context, id string) (store.Doc, error) {
	user, err := c.t.e.RequireUser(ctx, c.t.name)
	if err != nil {
		return nil, err
	}
	d, err := c.t.load(ctx, id)
	if err != nil || d == nil {
		return nil, err
	}
	if _, err := c.verifyParentOwnership(ctx, c.fk(d), user); err != nil {
		return nil, err
	}
	if err := c.t.enrich(ctx, user, d); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns the children of parentID in insertion order, at most limit
// when limit is positive.
func (c *Child) List(ctx context.Context, parentID string, limit int) ([]store.Doc, error) {
	user, err := c.t.e.RequireUser(ctx, c.t.name)
	if err != nil {
		return nil, err
	}
	if _, err := c.verifyParentOwnership(ctx, parentID, user); err != nil {
		return nil, err
	}
	return c.list(ctx, user, parentID, limit)
}

func (c *Child) list(ctx context.Context, viewer, parentID string, limit int) ([]store.Doc, error) {
	rel := store.Relationship{
		ParentTable: c.parent.Table,
		ChildTable:  c.t.name,
		ForeignKey:  c.parent.ForeignKey,
		Index:       c.parent.Index,
	}
	q := rel.ChildQuery(parentID)
	q.Limit = limit
	docs, err := store.Collect(ctx, c.t.e.store, q)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []store.Doc{}
	}
	if err := c.t.enrich(ctx, viewer, docs...); err != nil {
		return nil, err
	}
	return docs, nil
}

// Update patches a child. Moving it to another parent requires owning
// that parent too.
func (c *Child) Update(ctx context.Context, args UpdateArgs) (store.Doc, error) {
	user, err := c.t.e.RequireUser(ctx, c.t.name)
	if err != nil {
		return nil, err
	}
	if err := c.t.rateLimit(ctx, user); err != nil {
		return nil, err
	}
	if err := c.t.validate(args.Patch, true); err != nil {
		return nil, err
	}
	prev, err := c.t.mustLoad(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	if _, err := c.verifyParentOwnership(ctx, c.fk(prev), user); err != nil {
		return nil, err
	}
	if v, moved := args.Patch[c.parent.ForeignKey]; moved {
		to, _ := v.(string)
		if _, err := c.verifyParentOwnership(ctx, to, user); err != nil {
			return nil, err
		}
	}
	return c.t.patch(ctx, c.t.opCtx(user, "update"), prev, args.Patch, args.ExpectedUpdatedAt)
}

// Rm deletes a child and returns it as it was.
func (c *Child) Rm(ctx context.Context, id string) (store.Doc, error) {
	user, err := c.t.e.RequireUser(ctx, c.t.name)
	if err != nil {
		return nil, err
	}
	if err := c.t.rateLimit(ctx, user); err != nil {
		return nil, err
	}
	prev, err := c.t.mustLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := c.verifyParentOwnership(ctx, c.fk(prev), user); err != nil {
		return nil, err
	}
	return c.t.remove(ctx, c.t.opCtx(user, "rm"), prev)
}

// List returns the children of a published parent.
func (p *ChildPub) List(ctx context.Context, parentID string, limit int) ([]store.Doc, error) {
	if err := p.c.checkParentField(ctx, parentID); err != nil {
		return nil, err
	}
	viewer, _ := p.c.t.e.Caller(ctx)
	return p.c.list(ctx, viewer, parentID, limit)
}

// Get returns a child of a published parent, or nil.
func (p *ChildPub) Get(ctx context.Context, id string) (store.Doc, error) {
	d, err := p.c.t.load(ctx, id)
	if err != nil || d == nil {
		return nil, err
	}
	if err := p.c.checkParentField(ctx, p.c.fk(d)); err != nil {
		return nil, err
	}
	viewer, _ := p.c.t.e.Caller(ctx)
	if err := p.c.t.enrich(ctx, viewer, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (c *Child) register() {
	e, t := c.t.e, c.t
	e.Register(t.label("create"), Bind(func(ctx context.Context, a CreateArgs) (any, error) {
		return c.Create(ctx, a.Data)
	}))
	e.Register(t.label("get"), Bind(func(ctx context.Context, a IDArgs) (any, error) {
		return c.Get(ctx, a.ID)
	}))
	e.Register(t.label("list"), Bind(func(ctx context.Context, a ChildListArgs) (any, error) {
		return c.List(ctx, a.Parent, a.Limit)
	}))
	e.Register(t.label("update"), Bind(func(ctx context.Context, a UpdateArgs) (any, error) {
		return c.Update(ctx, a)
	}))
	e.Register(t.label("rm"), Bind(func(ctx context.Context, a IDArgs) (any, error) {
		return c.Rm(ctx, a.ID)
	}))
	if c.pub != nil {
		e.Register(t.label("pub.list"), Bind(func(ctx context.Context, a ChildListArgs) (any, error) {
			return c.pub.List(ctx, a.Parent, a.Limit)
		}))
		e.Register(t.label("pub.get"), Bind(func(ctx context.Context, a IDArgs) (any, error) {
			return c.pub.Get(ctx, a.ID)
		}))
	}
}
