package crud

import (
	"context"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
	"github.com/jacentio/canopy/where"
)

// DefaultPageSize applies when list is called without numItems.
const DefaultPageSize = 50

// MaxPageSize caps numItems.
const MaxPageSize = 1000

// pageSize resolves a requested numItems.
func pageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

// Reader is a read surface of an owned or org-scoped table. The auth
// surface requires a caller (and, for org tables, membership); the pub
// surface does not.
type Reader struct {
	t      *table
	public bool
	def    *where.Where
}

func newReader(t *table, public bool) *Reader {
	r := &Reader{t: t, public: public, def: t.authWhere}
	if public {
		r.def = t.pubWhere
	}
	return r
}

func (r *Reader) org() bool {
	return r.t.def.Factory == schema.FactoryOrg
}

func (r *Reader) opName(op string) string {
	if r.public {
		return "pub." + op
	}
	return op
}

// viewer resolves the caller. The auth surface fails NOT_AUTHENTICATED
// without one, and NOT_ORG_MEMBER outside the organization.
func (r *Reader) viewer(ctx context.Context, orgID string) (string, error) {
	if r.org() && orgID == "" {
		return "", r.t.fail(apierr.ValidationFailed).WithFields(store.FieldOrg).WithDebug("orgId is required")
	}
	if r.public {
		user, _ := r.t.e.Caller(ctx)
		return user, nil
	}
	user, err := r.t.e.RequireUser(ctx, r.t.name)
	if err != nil {
		return "", err
	}
	if r.org() {
		if _, err := r.t.e.acl.RequireOrgMember(ctx, orgID, user); err != nil {
			return "", err
		}
	}
	return user, nil
}

func (r *Reader) clause(w *where.Where) (*where.Where, error) {
	if err := r.t.checkWhere(w); err != nil {
		return nil, err
	}
	return effectiveWhere(w, r.def), nil
}

func (r *Reader) orgEq(orgID string) store.Expr {
	if !r.org() {
		return nil
	}
	return store.Cmp{Field: store.FieldOrg, Op: store.OpEq, Value: orgID}
}

// List returns one page, newest first. Filters are pushed to the store;
// owned tables answer own-only clauses from the owner index and org tables
// always read through the org index.
func (r *Reader) List(ctx context.Context, args ListArgs) (ListResult, error) {
	viewer, err := r.viewer(ctx, args.OrgID)
	if err != nil {
		return ListResult{}, err
	}
	w, err := r.clause(args.Where)
	if err != nil {
		return ListResult{}, err
	}
	size := pageSize(args.Page.NumItems)

	cfg := r.t.e.config
	q := store.Query{Table: r.t.name, PageSize: size, Cursor: args.Page.Cursor}
	filters := []store.Expr{r.t.notDeleted()}
	switch {
	case r.org():
		q.Index = cfg.OrgIndex
		q.Eq = []store.Eq{{Field: store.FieldOrg, Value: args.OrgID}}
		filters = append(filters, where.BuildOr(where.GroupList(w), viewer))
	case where.CanUseOwnIndex(w) && viewer != "":
		q.Index = cfg.OwnerIndex
		q.Eq = []store.Eq{{Field: store.FieldOwner, Value: viewer}}
	default:
		filters = append(filters, where.BuildOr(where.GroupList(w), viewer))
	}
	q.Filter = and(filters...)

	page, err := r.t.e.store.Query(ctx, q)
	if err != nil {
		return ListResult{}, r.t.queryError(err)
	}
	if err := r.t.enrich(ctx, viewer, page.Docs...); err != nil {
		return ListResult{}, err
	}
	docs := page.Docs
	if docs == nil {
		docs = []store.Doc{}
	}
	return ListResult{Page: docs, ContinueCursor: page.ContinueCursor, IsDone: page.IsDone}, nil
}

// Read returns one document, or nil when it is missing, soft-deleted, not
// the caller's (with Own) or filtered out by the clause.
func (r *Reader) Read(ctx context.Context, args ReadArgs) (store.Doc, error) {
	viewer, err := r.viewer(ctx, args.OrgID)
	if err != nil {
		return nil, err
	}
	w, err := r.clause(args.Where)
	if err != nil {
		return nil, err
	}
	d, err := r.t.load(ctx, args.ID)
	if err != nil || !r.t.live(d) {
		return nil, err
	}
	if r.org() && d.String(store.FieldOrg) != args.OrgID {
		return nil, nil
	}
	if args.Own && (viewer == "" || d.String(store.FieldOwner) != viewer) {
		return nil, nil
	}
	if !where.Match(d, w, viewer) {
		return nil, nil
	}
	if err := r.t.enrich(ctx, viewer, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Search runs the store's text search, then applies the clause in memory.
func (r *Reader) Search(ctx context.Context, args SearchArgs) ([]store.Doc, error) {
	si := r.t.def.Search
	if si == nil {
		return nil, r.t.fail(apierr.NotFound).WithDebug("%s has no search index", r.t.name)
	}
	viewer, err := r.viewer(ctx, args.OrgID)
	if err != nil {
		return nil, err
	}
	w, err := r.clause(args.Where)
	if err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = r.t.e.config.SearchLimit
	}
	docs, err := store.Collect(ctx, r.t.e.store, store.Query{
		Table:  r.t.name,
		Search: &store.Search{Index: si.Name, Field: si.Field, Text: args.Query},
		Filter: and(r.t.notDeleted(), r.orgEq(args.OrgID)),
	})
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, viewer, docs, w, limit, r.opName("search"))
}

// Indexed returns the documents whose index key equals Value.
func (r *Reader) Indexed(ctx context.Context, args IndexedArgs) ([]store.Doc, error) {
	var key string
	for _, idx := range r.t.def.Indexes {
		if idx.Name == args.Index {
			key = idx.Fields[0]
		}
	}
	if key == "" {
		return nil, r.t.fail(apierr.ValidationFailed).WithFields("index").WithDebug("unknown index %q", args.Index)
	}
	viewer, err := r.viewer(ctx, args.OrgID)
	if err != nil {
		return nil, err
	}
	w, err := r.clause(args.Where)
	if err != nil {
		return nil, err
	}
	docs, err := store.Collect(ctx, r.t.e.store, store.Query{
		Table:  r.t.name,
		Index:  args.Index,
		Eq:     []store.Eq{{Field: key, Value: args.Value}},
		Filter: and(r.t.notDeleted(), r.orgEq(args.OrgID)),
	})
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, viewer, docs, w, 0, r.opName("indexed"))
}

// finish applies the in-memory filter, reports large sets and enriches.
func (r *Reader) finish(ctx context.Context, viewer string, docs []store.Doc, w *where.Where, limit int, op string) ([]store.Doc, error) {
	if len(where.GroupList(w)) > 0 {
		if err := r.t.e.guard.Check(len(docs), r.t.name, op); err != nil {
			return nil, err
		}
		docs = where.Filter(docs, w, viewer)
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	if docs == nil {
		docs = []store.Doc{}
	}
	if err := r.t.enrich(ctx, viewer, docs...); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *Reader) register() {
	e, t := r.t.e, r.t
	e.Register(t.label(r.opName("list")), Bind(func(ctx context.Context, a ListArgs) (any, error) {
		return r.List(ctx, a)
	}))
	e.Register(t.label(r.opName("read")), Bind(func(ctx context.Context, a ReadArgs) (any, error) {
		return r.Read(ctx, a)
	}))
	if t.def.Search != nil {
		e.Register(t.label(r.opName("search")), Bind(func(ctx context.Context, a SearchArgs) (any, error) {
			return r.Search(ctx, a)
		}))
	}
	if len(t.def.Indexes) > 0 {
		e.Register(t.label(r.opName("indexed")), Bind(func(ctx context.Context, a IndexedArgs) (any, error) {
			return r.Indexed(ctx, a)
		}))
	}
}
