package crud

import (
	"context"
	"errors"
	"time"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/store"
)

// UserResolver returns the authenticated caller of a request, if any.
type UserResolver func(ctx context.Context) (userID string, ok bool)

type userKey struct{}

// WithUserID returns a context carrying an authenticated caller. It is what
// the default UserResolver reads.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext is the default UserResolver.
func UserFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// OpCtx describes the operation a hook runs in. Values set by a before
// hook are visible to the after hooks of the same call.
type OpCtx struct {
	UserID string
	Table  string
	Op     string

	// DB is the mutation surface of this call.
	DB *MutationCtx

	values map[string]any
}

// Set stores a value for later hooks of the same call.
func (o *OpCtx) Set(key string, v any) {
	if o.values == nil {
		o.values = map[string]any{}
	}
	o.values[key] = v
}

// Get returns a value stored with Set.
func (o *OpCtx) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// MutationCtx wraps the store for one call. Creates are stamped with the
// caller and updatedAt; patches bump updatedAt and are conditional on the
// value read, so concurrent writers surface as CONFLICT.
type MutationCtx struct {
	store  store.Store
	userID string
	now    func() time.Time
}

func newMutationCtx(s store.Store, userID string, now func() time.Time) *MutationCtx {
	return &MutationCtx{store: s, userID: userID, now: now}
}

// Get returns the document, or nil when it does not exist.
func (m *MutationCtx) Get(ctx context.Context, table, id string) (store.Doc, error) {
	d, err := m.store.Get(ctx, table, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// Create inserts data owned by the caller. Ownership and updatedAt are
// always set server-side.
func (m *MutationCtx) Create(ctx context.Context, table string, data store.Doc) (string, store.Doc, error) {
	doc := data.Clone()
	if doc == nil {
		doc = store.Doc{}
	}
	delete(doc, store.FieldID)
	delete(doc, store.FieldCreationTime)
	if m.userID != "" {
		doc[store.FieldOwner] = m.userID
	}
	doc[store.FieldUpdatedAt] = store.Millis(m.now())
	id, err := m.store.Insert(ctx, table, doc)
	if err != nil {
		return "", nil, err
	}
	doc[store.FieldID] = id
	return id, doc, nil
}

// Patch applies patch to the document. When expectedUpdatedAt is given and
// differs from the stored value it fails CONFLICT without writing.
func (m *MutationCtx) Patch(ctx context.Context, table, id string, patch store.Doc, expectedUpdatedAt *int64) (store.Doc, error) {
	prev, err := m.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, apierr.New(apierr.NotFound, table)
	}
	if err := checkExpected(table, prev, expectedUpdatedAt); err != nil {
		return nil, err
	}
	return m.patchFrom(ctx, table, prev, patch)
}

// patchFrom writes patch over prev, conditional on prev's updatedAt.
func (m *MutationCtx) patchFrom(ctx context.Context, table string, prev, patch store.Doc) (store.Doc, error) {
	patch = patch.Clone()
	for _, f := range []string{store.FieldID, store.FieldCreationTime, store.FieldOwner} {
		delete(patch, f)
	}
	patch[store.FieldUpdatedAt] = m.nextUpdatedAt(prev)

	err := m.store.Patch(ctx, table, prev.ID(), patch,
		store.Eq{Field: store.FieldUpdatedAt, Value: prev[store.FieldUpdatedAt]})
	switch {
	case errors.Is(err, store.ErrConcurrentModification):
		return nil, apierr.New(apierr.Conflict, table).WithDebug("document %s changed during the update", prev.ID())
	case errors.Is(err, store.ErrNotFound):
		return nil, apierr.New(apierr.NotFound, table)
	case err != nil:
		return nil, err
	}
	return store.Merge(prev, patch), nil
}

// nextUpdatedAt keeps updatedAt strictly increasing, so two writes in the
// same millisecond still carry distinct versions.
func (m *MutationCtx) nextUpdatedAt(prev store.Doc) int64 {
	now := store.Millis(m.now())
	if last, ok := prev.Int64(store.FieldUpdatedAt); ok && now <= last {
		return last + 1
	}
	return now
}

// Delete removes the document and returns it as it was.
func (m *MutationCtx) Delete(ctx context.Context, table, id string) (store.Doc, error) {
	prev, err := m.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, apierr.New(apierr.NotFound, table)
	}
	if err := m.store.Delete(ctx, table, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return prev, nil
}

func checkExpected(table string, prev store.Doc, expected *int64) error {
	if expected == nil {
		return nil
	}
	cur, _ := prev.Int64(store.FieldUpdatedAt)
	if cur != *expected {
		return apierr.New(apierr.Conflict, table).
			WithDebug("expected updatedAt %d, found %d", *expected, cur)
	}
	return nil
}
