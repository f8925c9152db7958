package crud

import (
	"context"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
)

// Owned is the operation set of a table whose documents belong to the
// user who created them.
type Owned struct {
	t    *table
	auth *Reader
	pub  *Reader
}

// NewOwned builds and registers the operations of an owned table.
func NewOwned(e *Engine, def schema.Table, hooks Hooks) (*Owned, error) {
	t, err := newTable(e, def, schema.FactoryOwned, hooks)
	if err != nil {
		return nil, err
	}
	o := &Owned{t: t, auth: newReader(t, false), pub: newReader(t, true)}
	o.register()
	return o, nil
}

// Name returns the table name.
func (o *Owned) Name() string { return o.t.name }

// Auth is the authenticated read surface.
func (o *Owned) Auth() *Reader { return o.auth }

// Pub is the public read surface.
func (o *Owned) Pub() *Reader { return o.pub }

// Create inserts a document owned by the caller.
func (o *Owned) Create(ctx context.Context, data store.Doc) (string, error) {
	user, err := o.t.e.RequireUser(ctx, o.t.name)
	if err != nil {
		return "", err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return "", err
	}
	if err := o.t.validate(data, false); err != nil {
		return "", err
	}
	return o.t.insert(ctx, o.t.opCtx(user, "create"), data, nil)
}

// owned loads a live document and checks the caller owns it.
func (o *Owned) owned(ctx context.Context, user, id string) (store.Doc, error) {
	d, err := o.t.mustLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.String(store.FieldOwner) != user {
		return nil, o.t.fail(apierr.NotAuthorized)
	}
	return d, nil
}

// Update patches a document of the caller.
func (o *Owned) Update(ctx context.Context, args UpdateArgs) (store.Doc, error) {
	user, err := o.t.e.RequireUser(ctx, o.t.name)
	if err != nil {
		return nil, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return nil, err
	}
	if err := o.t.validate(args.Patch, true); err != nil {
		return nil, err
	}
	prev, err := o.owned(ctx, user, args.ID)
	if err != nil {
		return nil, err
	}
	return o.t.patch(ctx, o.t.opCtx(user, "update"), prev, args.Patch, args.ExpectedUpdatedAt)
}

// Rm deletes a document of the caller and returns it as it was.
func (o *Owned) Rm(ctx context.Context, id string) (store.Doc, error) {
	user, err := o.t.e.RequireUser(ctx, o.t.name)
	if err != nil {
		return nil, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return nil, err
	}
	prev, err := o.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return o.t.remove(ctx, o.t.opCtx(user, "rm"), prev)
}

// Restore undoes a soft delete.
func (o *Owned) Restore(ctx context.Context, id string) (store.Doc, error) {
	user, err := o.t.e.RequireUser(ctx, o.t.name)
	if err != nil {
		return nil, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return nil, err
	}
	d, err := o.t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, o.t.fail(apierr.NotFound)
	}
	if d.String(store.FieldOwner) != user {
		return nil, o.t.fail(apierr.NotAuthorized)
	}
	return o.t.restore(ctx, o.t.opCtx(user, "restore"), d)
}

// BulkCreate validates every item, then creates them one at a time. A
// failure stops the loop; earlier items stay created.
func (o *Owned) BulkCreate(ctx context.Context, items []store.Doc) (BulkResult, error) {
	user, err := o.t.e.RequireUser(ctx, o.t.name)
	if err != nil {
		return BulkResult{}, err
	}
	if err := o.t.checkBulk(len(items)); err != nil {
		return BulkResult{}, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return BulkResult{}, err
	}
	for _, item := range items {
		if err := o.t.validate(item, false); err != nil {
			return BulkResult{}, err
		}
	}
	res := BulkResult{IDs: make([]string, 0, len(items))}
	for _, item := range items {
		id, err := o.t.insert(ctx, o.t.opCtx(user, "bulkCreate"), item, nil)
		if id != "" {
			res.IDs = append(res.IDs, id)
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// BulkUpdate applies one patch to each document in turn. Documents that
// are missing or not the caller's are skipped.
func (o *Owned) BulkUpdate(ctx context.Context, ids []string, patch store.Doc) (BulkResult, error) {
	user, err := o.t.e.RequireUser(ctx, o.t.name)
	if err != nil {
		return BulkResult{}, err
	}
	if err := o.t.checkBulk(len(ids)); err != nil {
		return BulkResult{}, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return BulkResult{}, err
	}
	if err := o.t.validate(patch, true); err != nil {
		return BulkResult{}, err
	}
	return bulkEach(ids, func(id string) error {
		prev, err := o.owned(ctx, user, id)
		if err != nil {
			return err
		}
		_, err = o.t.patch(ctx, o.t.opCtx(user, "bulkUpdate"), prev, patch, nil)
		return err
	})
}

// BulkRm deletes each document in turn, skipping ones the caller cannot.
func (o *Owned) BulkRm(ctx context.Context, ids []string) (BulkResult, error) {
	user, err := o.t.e.RequireUser(ctx, o.t.name)
	if err != nil {
		return BulkResult{}, err
	}
	if err := o.t.checkBulk(len(ids)); err != nil {
		return BulkResult{}, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return BulkResult{}, err
	}
	return bulkEach(ids, func(id string) error {
		prev, err := o.owned(ctx, user, id)
		if err != nil {
			return err
		}
		_, err = o.t.remove(ctx, o.t.opCtx(user, "bulkRm"), prev)
		return err
	})
}

// bulkEach runs fn for each id sequentially. Per-item authorization
// failures are recorded and skipped; any other error stops the loop.
func bulkEach(ids []string, fn func(id string) error) (BulkResult, error) {
	res := BulkResult{IDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		err := fn(id)
		switch {
		case err == nil:
			res.IDs = append(res.IDs, id)
		case skippable(err):
			res.Skipped = append(res.Skipped, Skipped{ID: id, Code: string(apierr.CodeOf(err))})
		default:
			return res, err
		}
	}
	return res, nil
}

func (o *Owned) register() {
	e, t := o.t.e, o.t
	e.Register(t.label("create"), Bind(func(ctx context.Context, a CreateArgs) (any, error) {
		return o.Create(ctx, a.Data)
	}))
	e.Register(t.label("update"), Bind(func(ctx context.Context, a UpdateArgs) (any, error) {
		return o.Update(ctx, a)
	}))
	e.Register(t.label("rm"), Bind(func(ctx context.Context, a IDArgs) (any, error) {
		return o.Rm(ctx, a.ID)
	}))
	if t.def.SoftDelete {
		e.Register(t.label("restore"), Bind(func(ctx context.Context, a IDArgs) (any, error) {
			return o.Restore(ctx, a.ID)
		}))
	}
	e.Register(t.label("bulkCreate"), Bind(func(ctx context.Context, a BulkCreateArgs) (any, error) {
		return o.BulkCreate(ctx, a.Items)
	}))
	e.Register(t.label("bulkUpdate"), Bind(func(ctx context.Context, a BulkUpdateArgs) (any, error) {
		return o.BulkUpdate(ctx, a.IDs, a.Data)
	}))
	e.Register(t.label("bulkRm"), Bind(func(ctx context.Context, a BulkIDArgs) (any, error) {
		return o.BulkRm(ctx, a.IDs)
	}))
	o.auth.register()
	o.pub.register()
}
