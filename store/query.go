package store

import "context"

// Order is the result order by insertion.
type Order int

const (
	// Desc returns newest documents first.
	Desc Order = iota
	// Asc returns oldest documents first.
	Asc
)

// Eq is an index key equality condition.
type Eq struct {
	Field string
	Value any
}

// Search selects rows through a full-text search index.
type Search struct {
	// Index is the search index name (backends may ignore it).
	Index string

	// Field is the text field the index covers.
	Field string

	// Text is the user-supplied search text.
	Text string
}

// Query describes one read against a table.
type Query struct {
	// Table is the logical table name.
	Table string

	// Index is the optional index to read through; Eq holds its key conditions.
	Index string

	// Eq are equality conditions on the index key fields. Backends may apply
	// conditions beyond the first as filters.
	Eq []Eq

	// Filter is applied after index selection (nil = no filter).
	Filter Expr

	// Search selects rows by full-text match instead of by index.
	Search *Search

	// Order sorts by insertion (Desc by default).
	Order Order

	// Limit caps the number of rows returned (0 = no limit). Ignored when PageSize is set.
	Limit int

	// PageSize requests a single page of at most PageSize rows (0 = everything).
	PageSize int

	// Cursor continues a previous page.
	Cursor string

	// IncludeExpired also returns rows whose TTL has passed.
	IncludeExpired bool
}

// Page is one page of query results.
type Page struct {
	Docs           []Doc
	ContinueCursor string
	IsDone         bool
}

// Store is the document store contract. Each call is an atomic unit.
type Store interface {
	// Get returns the document with id, or ErrNotFound.
	Get(ctx context.Context, table, id string) (Doc, error)

	// Insert stores a new document and returns its id. A preset FieldID is
	// honoured; ErrAlreadyExists is returned when it is taken.
	Insert(ctx context.Context, table string, data Doc) (string, error)

	// Put replaces (or creates) the document with id.
	Put(ctx context.Context, table, id string, data Doc) error

	// Patch overlays patch onto the stored document; nil values remove fields.
	// When expect is given the write only happens if every condition holds on
	// the stored document, otherwise ErrConcurrentModification is returned.
	Patch(ctx context.Context, table, id string, patch Doc, expect ...Eq) error

	// Delete removes the document, or returns ErrNotFound.
	Delete(ctx context.Context, table, id string) error

	// Query runs q and returns a page of documents.
	Query(ctx context.Context, q Query) (Page, error)
}

// Collect returns every document matching q (honouring q.Limit).
func Collect(ctx context.Context, s Store, q Query) ([]Doc, error) {
	q.PageSize = 0
	q.Cursor = ""
	page, err := s.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return page.Docs, nil
}

// First returns the first matching document, or nil when none match.
func First(ctx context.Context, s Store, q Query) (Doc, error) {
	q.Limit = 1
	docs, err := Collect(ctx, s, q)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Unique returns the single matching document, nil when none match, or
// ErrNotUnique when several do.
func Unique(ctx context.Context, s Store, q Query) (Doc, error) {
	q.Limit = 2
	docs, err := Collect(ctx, s, q)
	if err != nil {
		return nil, err
	}
	switch len(docs) {
	case 0:
		return nil, nil
	case 1:
		return docs[0], nil
	}
	return nil, ErrNotUnique
}

// Exists is a convenience for First(...) != nil.
func Exists(ctx context.Context, s Store, q Query) (bool, error) {
	d, err := First(ctx, s, q)
	return d != nil, err
}
