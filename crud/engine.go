// Package crud generates authorized operations for schema-described tables.
//
// An Engine owns the store, the process-wide middleware and the operation
// registry. Factories (NewOwned, NewOrgScoped, NewChild, NewCache) build
// the operation set of one table and register each operation under
// "table:op" so transports can dispatch by name:
//
//	e := crud.New(st, crud.Config{}, crud.WithMiddleware(crud.AuditLog(logger, crud.AuditOptions{})))
//	tasks, err := crud.NewOwned(e, table, crud.Hooks{})
//	out, err := e.Dispatch(ctx, "task:create", raw)
//
// Every operation runs as: authorization, optional rate limit, before
// hooks, store call, after hooks, response enrichment.
package crud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jacentio/canopy/acl"
	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/files"
	"github.com/jacentio/canopy/ratelimit"
	"github.com/jacentio/canopy/store"
	"github.com/jacentio/canopy/where"
)

// Config holds engine-wide settings.
type Config struct {
	// BulkLimit caps the items of bulk operations.
	// Default: 100
	BulkLimit int

	// SearchLimit is the default number of search results.
	// Default: 100
	SearchLimit int

	// FilterThreshold is the in-memory filter size that gets reported.
	// Default: where.DefaultThreshold
	FilterThreshold int

	// StrictFilters fails large in-memory filters with LIMIT_EXCEEDED
	// instead of logging them.
	StrictFilters bool

	// SoftDeleteRetention, when set, also stamps a TTL on soft-deleted
	// documents so the store reaps them after the retention period.
	SoftDeleteRetention time.Duration

	// UsersTable is read for author enrichment.
	// Default: "users"
	UsersTable string

	// OwnerIndex is the index on userId used by own-only filters.
	// Default: "by_user"
	OwnerIndex string

	// OrgIndex is the index on orgId of org-scoped tables.
	// Default: "by_org"
	OrgIndex string

	// Org names the organization tables.
	// Default: acl.DefaultTables()
	Org acl.Tables

	// RateLimitTable holds rate limit windows.
	// Default: ratelimit.DefaultTable
	RateLimitTable string
}

func (c *Config) validate() {
	if c.BulkLimit <= 0 {
		c.BulkLimit = 100
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 100
	}
	if c.FilterThreshold <= 0 {
		c.FilterThreshold = where.DefaultThreshold
	}
	if c.UsersTable == "" {
		c.UsersTable = "users"
	}
	if c.OwnerIndex == "" {
		c.OwnerIndex = "by_user"
	}
	if c.OrgIndex == "" {
		c.OrgIndex = "by_org"
	}
	if c.Org == (acl.Tables{}) {
		c.Org = acl.DefaultTables()
	}
	if c.RateLimitTable == "" {
		c.RateLimitTable = ratelimit.DefaultTable
	}
}

// Operation is a registered, JSON-bound operation.
type Operation func(ctx context.Context, raw json.RawMessage) (any, error)

// Engine is the shared runtime of every generated table.
type Engine struct {
	store    store.Store
	config   Config
	logger   *slog.Logger
	files    files.Storage
	global   Hooks
	users    UserResolver
	now      func() time.Time
	acl      *acl.Checker
	limiter  *ratelimit.Limiter
	guard    where.Guard
	registry *store.Registry

	ops    map[string]Operation
	tables map[string]*table
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithFiles sets the attachment storage.
func WithFiles(s files.Storage) Option {
	return func(e *Engine) { e.files = s }
}

// WithMiddleware appends process-wide middleware; it runs before
// table-local hooks.
func WithMiddleware(mw ...Middleware) Option {
	return func(e *Engine) {
		e.global = composeHooks(e.global, ComposeMiddleware(mw...))
	}
}

// WithUserResolver sets how callers are identified.
func WithUserResolver(r UserResolver) Option {
	return func(e *Engine) { e.users = r }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRegistry shares a cascade registry, e.g. with the stream reaper.
func WithRegistry(r *store.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// New creates an Engine over s.
func New(s store.Store, config Config, opts ...Option) *Engine {
	config.validate()
	e := &Engine{
		store:    s,
		config:   config,
		logger:   slog.Default(),
		users:    UserFromContext,
		now:      time.Now,
		registry: store.NewRegistry(),
		ops:      map[string]Operation{},
		tables:   map[string]*table{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.acl = acl.NewChecker(s, config.Org)
	e.limiter = ratelimit.New(s, ratelimit.WithTable(config.RateLimitTable), ratelimit.WithClock(e.now))
	e.guard = where.Guard{Logger: e.logger, Threshold: config.FilterThreshold, Strict: config.StrictFilters}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// ACL returns the role checker.
func (e *Engine) ACL() *acl.Checker { return e.acl }

// Registry returns the cascade registry.
func (e *Engine) Registry() *store.Registry { return e.registry }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.now() }

// Caller returns the authenticated caller of ctx.
func (e *Engine) Caller(ctx context.Context) (string, bool) {
	return e.users(ctx)
}

// RequireUser returns the caller or fails NOT_AUTHENTICATED.
func (e *Engine) RequireUser(ctx context.Context, label string) (string, error) {
	id, ok := e.users(ctx)
	if !ok || id == "" {
		return "", apierr.New(apierr.NotAuthenticated, label)
	}
	return id, nil
}

// get returns the document, or nil when it does not exist.
func (e *Engine) get(ctx context.Context, table, id string) (store.Doc, error) {
	if id == "" {
		return nil, nil
	}
	d, err := e.store.Get(ctx, table, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// Register adds an operation. Names are "table:op"; registering a name
// twice panics, since it is a setup error.
func (e *Engine) Register(name string, op Operation) {
	if _, dup := e.ops[name]; dup {
		panic(fmt.Sprintf("crud: operation %q registered twice", name))
	}
	e.ops[name] = op
}

// Operations returns every registered operation name, sorted.
func (e *Engine) Operations() []string {
	out := make([]string, 0, len(e.ops))
	for name := range e.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Tables returns the names of the mounted tables, sorted.
func (e *Engine) Tables() []string {
	out := make([]string, 0, len(e.tables))
	for name := range e.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the named operation with JSON arguments. Every failure is
// an *apierr.Error labelled with the operation; unexpected errors are
// logged and reported as INTERNAL.
func (e *Engine) Dispatch(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	op, ok := e.ops[name]
	if !ok {
		return nil, apierr.New(apierr.NotFound, name).WithDebug("unknown operation")
	}
	out, err := op(ctx, raw)
	if err == nil {
		return out, nil
	}
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		e.logger.ErrorContext(ctx, "operation failed",
			"op", name,
			"error", err,
		)
		return nil, apierr.Wrap(err, name)
	}
	return nil, apierr.Label(err, name)
}

// Bind decodes JSON arguments into A before calling fn.
func Bind[A any](fn func(context.Context, A) (any, error)) Operation {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				var ae *apierr.Error
				if errors.As(err, &ae) {
					return nil, err
				}
				return nil, apierr.New(apierr.ValidationFailed, "").WithDebug("decode arguments: %v", err)
			}
		}
		return fn(ctx, args)
	}
}

// mount records a table and its cascade relationships.
func (e *Engine) mount(t *table) error {
	if _, dup := e.tables[t.name]; dup {
		return fmt.Errorf("table %q mounted twice", t.name)
	}
	e.tables[t.name] = t
	for _, c := range t.def.Cascade {
		e.registry.Register(store.Relationship{
			ParentTable: t.name,
			ChildTable:  c.Table,
			ForeignKey:  c.ForeignKey,
			Index:       c.Index,
		})
	}
	return nil
}

// cascade removes the children of a hard-deleted parent, one at a time.
// Each child's attachments are cleaned with the child table's settings.
func (e *Engine) cascade(ctx context.Context, parentTable, parentID string) (int, error) {
	removed := 0
	for _, rel := range e.registry.ChildrenOf(parentTable) {
		q := rel.ChildQuery(parentID)
		q.IncludeExpired = true
		children, err := store.Collect(ctx, e.store, q)
		if err != nil {
			return removed, fmt.Errorf("query %s children: %w", rel.ChildTable, err)
		}
		for _, child := range children {
			err := e.store.Delete(ctx, rel.ChildTable, child.ID())
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return removed, fmt.Errorf("delete %s %s: %w", rel.ChildTable, child.ID(), err)
			}
			removed++
			if ct, ok := e.tables[rel.ChildTable]; ok {
				ct.files.Clean(ctx, rel.ChildTable, child, nil)
			}
		}
		e.logger.DebugContext(ctx, "cascaded delete",
			"parent", parentTable,
			"parentId", parentID,
			"child", rel.ChildTable,
			"count", len(children),
		)
	}
	return removed, nil
}

// Reap finishes the removal of a document the store dropped on its own,
// such as a TTL expiry: its children are cascaded and its attachments
// cleaned.
func (e *Engine) Reap(ctx context.Context, table string, doc store.Doc) error {
	if doc.ID() == "" {
		return fmt.Errorf("reap %s: document without id", table)
	}
	n, err := e.cascade(ctx, table, doc.ID())
	if err != nil {
		return fmt.Errorf("reap %s %s: %w", table, doc.ID(), err)
	}
	if t, ok := e.tables[table]; ok {
		t.files.Clean(ctx, table, doc, nil)
	}
	e.logger.InfoContext(ctx, "reaped document",
		"table", table,
		"id", doc.ID(),
		"children", n,
	)
	return nil
}
