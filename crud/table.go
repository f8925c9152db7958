package crud

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/files"
	"github.com/jacentio/canopy/ratelimit"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
	"github.com/jacentio/canopy/where"
)

// table is the state shared by every factory.
type table struct {
	e     *Engine
	name  string
	def   schema.Table
	hooks Hooks
	files *files.Manager
	rule  *ratelimit.Rule

	authWhere *where.Where
	pubWhere  *where.Where
}

// systemFields may always appear in where clauses.
var systemFields = map[string]bool{
	store.FieldID:           true,
	store.FieldCreationTime: true,
	store.FieldOwner:        true,
	store.FieldOrg:          true,
	store.FieldUpdatedAt:    true,
	store.FieldEditors:      true,
}

func newTable(e *Engine, def schema.Table, want schema.Factory, hooks Hooks) (*table, error) {
	if def.Factory == "" {
		def.Factory = want
	}
	if def.Factory != want {
		return nil, fmt.Errorf("table %q is declared for the %s factory, not %s", def.Name, def.Factory, want)
	}
	if err := def.Check(); err != nil {
		return nil, err
	}
	aw, err := where.FromMap(def.AuthWhere)
	if err != nil {
		return nil, fmt.Errorf("table %q: authWhere: %w", def.Name, err)
	}
	pw, err := where.FromMap(def.PubWhere)
	if err != nil {
		return nil, fmt.Errorf("table %q: pubWhere: %w", def.Name, err)
	}
	t := &table{
		e:         e,
		name:      def.Name,
		def:       def,
		hooks:     composeHooks(e.global, hooks),
		files:     files.NewManager(e.files, def.Fields.FileFields(), e.logger),
		authWhere: aw,
		pubWhere:  pw,
	}
	if def.RateLimit != nil {
		t.rule = &ratelimit.Rule{Max: def.RateLimit.Max, Window: def.RateLimit.Window}
	}
	if err := t.checkWhere(aw); err != nil {
		return nil, fmt.Errorf("table %q: authWhere: %w", def.Name, err)
	}
	if err := t.checkWhere(pw); err != nil {
		return nil, fmt.Errorf("table %q: pubWhere: %w", def.Name, err)
	}
	if err := e.mount(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *table) label(op string) string {
	return t.name + ":" + op
}

func (t *table) fail(code apierr.Code) *apierr.Error {
	return apierr.New(code, t.name)
}

func (t *table) opCtx(user, op string) *OpCtx {
	return &OpCtx{
		UserID: user,
		Table:  t.name,
		Op:     op,
		DB:     newMutationCtx(t.e.store, user, t.e.now),
	}
}

func (t *table) rateLimit(ctx context.Context, key string) error {
	if t.rule == nil {
		return nil
	}
	return t.e.limiter.Check(ctx, t.name, key, *t.rule)
}

func (t *table) validate(data store.Doc, partial bool, allow ...string) error {
	err := t.def.Fields.Validate(data, partial, allow...)
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return t.fail(apierr.ValidationFailed).WithFieldErrors(ve.Fields)
	}
	return err
}

// checkWhere rejects clauses naming fields the table does not have.
func (t *table) checkWhere(w *where.Where) error {
	var unknown []string
	for _, f := range w.Fields() {
		if _, ok := t.def.Fields.Field(f); !ok && !systemFields[f] {
			unknown = append(unknown, f)
		}
	}
	if len(unknown) > 0 {
		return t.fail(apierr.InvalidWhere).WithFields(unknown...).WithDebug("unknown fields")
	}
	return nil
}

// effectiveWhere falls back to the surface default when the caller sent
// no live groups.
func effectiveWhere(w, def *where.Where) *where.Where {
	if w.Empty() {
		return def
	}
	return w
}

// live reports whether d is visible to reads (not soft-deleted).
func (t *table) live(d store.Doc) bool {
	return d != nil && !(t.def.SoftDelete && d.Has(store.FieldDeletedAt))
}

func (t *table) notDeleted() store.Expr {
	if !t.def.SoftDelete {
		return nil
	}
	return store.Missing{Field: store.FieldDeletedAt}
}

// and conjoins the non-nil expressions.
func and(exprs ...store.Expr) store.Expr {
	var out store.And
	for _, x := range exprs {
		if x != nil {
			out = append(out, x)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

// load returns a live document or nil.
func (t *table) load(ctx context.Context, id string) (store.Doc, error) {
	return t.e.get(ctx, t.name, id)
}

// mustLoad is load failing NOT_FOUND for missing or soft-deleted rows.
func (t *table) mustLoad(ctx context.Context, id string) (store.Doc, error) {
	d, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.live(d) {
		return nil, t.fail(apierr.NotFound).WithDebug("%s %s", t.name, id)
	}
	return d, nil
}

// insert runs the create pipeline for validated data. stamp holds
// engine-managed fields (orgId) applied after the hooks.
func (t *table) insert(ctx context.Context, op *OpCtx, data, stamp store.Doc) (string, error) {
	data, err := t.hooks.beforeCreate(ctx, op, data)
	if err != nil {
		return "", err
	}
	if data == nil {
		data = store.Doc{}
	}
	for k, v := range stamp {
		data[k] = v
	}
	id, doc, err := op.DB.Create(ctx, t.name, data)
	if err != nil {
		return "", err
	}
	if err := t.hooks.afterCreate(ctx, op, id, doc); err != nil {
		return id, err
	}
	return id, nil
}

// patch runs the update pipeline against an authorized prev.
func (t *table) patch(ctx context.Context, op *OpCtx, prev, patch store.Doc, expected *int64) (store.Doc, error) {
	if err := checkExpected(t.name, prev, expected); err != nil {
		return nil, err
	}
	patch, err := t.hooks.beforeUpdate(ctx, op, prev, patch)
	if err != nil {
		return nil, err
	}
	next, err := op.DB.patchFrom(ctx, t.name, prev, patch)
	if err != nil {
		return nil, err
	}
	t.files.Clean(ctx, t.name, prev, patch)
	if err := t.hooks.afterUpdate(ctx, op, prev, next); err != nil {
		return next, err
	}
	return next, nil
}

// remove runs the delete pipeline against an authorized prev: soft delete
// stamps deletedAt, hard delete cascades to children first.
func (t *table) remove(ctx context.Context, op *OpCtx, prev store.Doc) (store.Doc, error) {
	if err := t.hooks.beforeDelete(ctx, op, prev); err != nil {
		return nil, err
	}
	if t.def.SoftDelete {
		now := t.e.now()
		mark := store.Doc{store.FieldDeletedAt: store.Millis(now)}
		if r := t.e.config.SoftDeleteRetention; r > 0 {
			mark[store.FieldTTL] = store.TTLAt(now.Add(r))
		}
		if _, err := op.DB.patchFrom(ctx, t.name, prev, mark); err != nil {
			return nil, err
		}
	} else {
		if _, err := t.e.cascade(ctx, t.name, prev.ID()); err != nil {
			return nil, err
		}
		if _, err := op.DB.Delete(ctx, t.name, prev.ID()); err != nil {
			return nil, err
		}
		t.files.Clean(ctx, t.name, prev, nil)
	}
	if err := t.hooks.afterDelete(ctx, op, prev); err != nil {
		return prev, err
	}
	return prev, nil
}

// restore clears deletedAt through the update pipeline. Restoring a live
// document is a no-op.
func (t *table) restore(ctx context.Context, op *OpCtx, prev store.Doc) (store.Doc, error) {
	if !prev.Has(store.FieldDeletedAt) {
		return prev, nil
	}
	patch := store.Doc{store.FieldDeletedAt: nil}
	if prev.Has(store.FieldTTL) {
		patch[store.FieldTTL] = nil
	}
	patch, err := t.hooks.beforeUpdate(ctx, op, prev, patch)
	if err != nil {
		return nil, err
	}
	next, err := op.DB.patchFrom(ctx, t.name, prev, patch)
	if err != nil {
		return nil, err
	}
	if err := t.hooks.afterUpdate(ctx, op, prev, next); err != nil {
		return next, err
	}
	return next, nil
}

// checkBulk enforces the bulk size cap before anything is touched.
func (t *table) checkBulk(n int) error {
	if limit := t.e.config.BulkLimit; n > limit {
		return t.fail(apierr.LimitExceeded).WithDebug("at most %d items per call, got %d", limit, n)
	}
	return nil
}

// skippable reports per-item authorization outcomes that bulk operations
// record instead of aborting on.
func skippable(err error) bool {
	switch apierr.CodeOf(err) {
	case apierr.NotFound, apierr.NotAuthorized, apierr.Forbidden, apierr.Conflict:
		return true
	}
	return false
}

// enrich adds author, own and attachment URLs to read results. Authors
// are fetched once per distinct owner.
func (t *table) enrich(ctx context.Context, viewer string, docs ...store.Doc) error {
	authors := map[string]store.Doc{}
	for _, d := range docs {
		owner := d.String(store.FieldOwner)
		if owner == "" {
			continue
		}
		if _, seen := authors[owner]; seen {
			continue
		}
		u, err := t.e.store.Get(ctx, t.e.config.UsersTable, owner)
		switch {
		case errors.Is(err, store.ErrNotFound):
			authors[owner] = nil
		case err != nil:
			return fmt.Errorf("load author %s: %w", owner, err)
		default:
			authors[owner] = store.Doc{
				store.FieldID: owner,
				"name":        u["name"],
				"image":       u["image"],
			}
		}
	}
	for _, d := range docs {
		if owner := d.String(store.FieldOwner); owner != "" {
			if a := authors[owner]; a != nil {
				d["author"] = a.Clone()
			} else {
				d["author"] = nil
			}
		}
		d["own"] = viewer != "" && d.String(store.FieldOwner) == viewer
		t.files.AddURLs(ctx, t.name, d)
	}
	return nil
}

func (t *table) queryError(err error) error {
	if errors.Is(err, store.ErrInvalidCursor) {
		return t.fail(apierr.ValidationFailed).WithFields("cursor").WithDebug("invalid cursor")
	}
	return err
}
