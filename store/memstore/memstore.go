// Package memstore is an in-memory store.Store. It backs tests and the
// local "serve" mode; every call holds a single mutex, so each operation is
// atomic the same way a transactional backend's would be.
package memstore

import (
	"context"
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jacentio/canopy/store"
)

type row struct {
	seq int64
	doc store.Doc
}

// Store keeps documents in per-table maps ordered by an insertion sequence.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string]*row
	seq    int64
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for creation times and TTL checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]map[string]*row),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table(name string) map[string]*row {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[string]*row)
		s.tables[name] = t
	}
	return t
}

func (s *Store) live(r *row) bool {
	return r != nil && !store.IsExpired(r.doc, s.now())
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, table, id string) (store.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.tables[table][id]
	if !s.live(r) {
		return nil, store.ErrNotFound
	}
	return r.doc.Clone(), nil
}

// Insert implements store.Store.
func (s *Store) Insert(_ context.Context, table string, data store.Doc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := data.Clone()
	if doc == nil {
		doc = store.Doc{}
	}
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
		doc[store.FieldID] = id
	}
	t := s.table(table)
	if _, taken := t[id]; taken {
		return "", store.ErrAlreadyExists
	}
	if !doc.Has(store.FieldCreationTime) {
		doc[store.FieldCreationTime] = store.Millis(s.now())
	}
	s.seq++
	t[id] = &row{seq: s.seq, doc: doc}
	return id, nil
}

// Put implements store.Store. A replaced row keeps its insertion position.
func (s *Store) Put(_ context.Context, table, id string, data store.Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := data.Clone()
	if doc == nil {
		doc = store.Doc{}
	}
	doc[store.FieldID] = id
	if !doc.Has(store.FieldCreationTime) {
		doc[store.FieldCreationTime] = store.Millis(s.now())
	}
	t := s.table(table)
	if r, ok := t[id]; ok {
		r.doc = doc
		return nil
	}
	s.seq++
	t[id] = &row{seq: s.seq, doc: doc}
	return nil
}

// Patch implements store.Store.
func (s *Store) Patch(_ context.Context, table, id string, patch store.Doc, expect ...store.Eq) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.tables[table][id]
	if !s.live(r) {
		return store.ErrNotFound
	}
	for _, e := range expect {
		if !store.Same(r.doc[e.Field], e.Value) {
			return store.ErrConcurrentModification
		}
	}
	r.doc = store.Merge(r.doc, patch.Clone())
	r.doc[store.FieldID] = id
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tables[table]
	if _, ok := t[id]; !ok {
		return store.ErrNotFound
	}
	delete(t, id)
	return nil
}

// Query implements store.Store. Index names are ignored: every Eq is
// applied as an equality filter.
func (s *Store) Query(ctx context.Context, q store.Query) (store.Page, error) {
	if err := ctx.Err(); err != nil {
		return store.Page{}, err
	}
	after, err := decodeCursor(q.Cursor)
	if err != nil {
		return store.Page{}, err
	}

	s.mu.RLock()
	rows := make([]*row, 0, len(s.tables[q.Table]))
	for _, r := range s.tables[q.Table] {
		if !q.IncludeExpired && !s.live(r) {
			continue
		}
		if !matches(r.doc, q) {
			continue
		}
		rows = append(rows, &row{seq: r.seq, doc: r.doc.Clone()})
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if q.Order == store.Asc {
			return rows[i].seq < rows[j].seq
		}
		return rows[i].seq > rows[j].seq
	})

	if after > 0 {
		start := len(rows)
		for i, r := range rows {
			if (q.Order == store.Asc && r.seq > after) || (q.Order != store.Asc && r.seq < after) {
				start = i
				break
			}
		}
		rows = rows[start:]
	}

	want := q.Limit
	if q.PageSize > 0 {
		want = q.PageSize
	}
	page := store.Page{IsDone: true}
	if want > 0 && len(rows) > want {
		rows = rows[:want]
		page.IsDone = false
	}
	page.Docs = make([]store.Doc, len(rows))
	for i, r := range rows {
		page.Docs[i] = r.doc
	}
	if !page.IsDone && len(rows) > 0 {
		page.ContinueCursor = encodeCursor(rows[len(rows)-1].seq)
	}
	return page, nil
}

// Len returns the number of stored rows in table, expired ones included.
func (s *Store) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

func matches(d store.Doc, q store.Query) bool {
	for _, e := range q.Eq {
		if !store.Same(d[e.Field], e.Value) {
			return false
		}
	}
	if !store.Eval(q.Filter, d) {
		return false
	}
	if q.Search != nil {
		text, _ := d[q.Search.Field].(string)
		return searchMatch(text, q.Search.Text)
	}
	return true
}

// searchMatch reports whether every term of query occurs as a token of text.
// The final term may match as a prefix, so results narrow while typing.
func searchMatch(text, query string) bool {
	terms := Tokens(query)
	if len(terms) == 0 {
		return true
	}
	tokens := Tokens(text)
	for i, term := range terms {
		last := i == len(terms)-1
		found := false
		for _, tok := range tokens {
			if tok == term || (last && strings.HasPrefix(tok, term)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Tokens folds s (NFKD, combining marks removed, lower case) and splits it
// into letter/digit runs.
func Tokens(s string) []string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

func decodeCursor(c string) (int64, error) {
	if c == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return 0, store.ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || seq < 1 {
		return 0, store.ErrInvalidCursor
	}
	return seq, nil
}

var _ store.Store = (*Store)(nil)
