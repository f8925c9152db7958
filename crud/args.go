package crud

import (
	"encoding/json"
	"math"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/store"
	"github.com/jacentio/canopy/where"
)

// PageOpts are cursor pagination options.
type PageOpts struct {
	NumItems int    `json:"numItems"`
	Cursor   string `json:"cursor,omitempty"`
}

// ListArgs are the arguments of list.
type ListArgs struct {
	OrgID string       `json:"orgId,omitempty"`
	Page  PageOpts     `json:"paginationOpts"`
	Where *where.Where `json:"where,omitempty"`
}

// ListResult is one page of documents.
type ListResult struct {
	Page           []store.Doc `json:"page"`
	ContinueCursor string      `json:"continueCursor"`
	IsDone         bool        `json:"isDone"`
}

// ReadArgs are the arguments of read.
type ReadArgs struct {
	ID    string       `json:"id"`
	OrgID string       `json:"orgId,omitempty"`
	Own   bool         `json:"own,omitempty"`
	Where *where.Where `json:"where,omitempty"`
}

// SearchArgs are the arguments of search.
type SearchArgs struct {
	Query string       `json:"query"`
	OrgID string       `json:"orgId,omitempty"`
	Where *where.Where `json:"where,omitempty"`
	Limit int          `json:"limit,omitempty"`
}

// IndexedArgs look documents up by equality on an index key.
type IndexedArgs struct {
	Index string       `json:"index"`
	Value any          `json:"value"`
	OrgID string       `json:"orgId,omitempty"`
	Where *where.Where `json:"where,omitempty"`
}

// IDArgs name one document.
type IDArgs struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId,omitempty"`
}

// CreateArgs carry the fields of a new document. On the wire they are
// flat: {"orgId": ..., "title": ...}.
type CreateArgs struct {
	OrgID string
	Data  store.Doc
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *CreateArgs) UnmarshalJSON(raw []byte) error {
	var m store.Doc
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	a.OrgID, _ = m[store.FieldOrg].(string)
	delete(m, store.FieldOrg)
	a.Data = m
	return nil
}

// UpdateArgs carry a partial patch. On the wire they are flat:
// {"id": ..., "orgId": ..., "expectedUpdatedAt": ..., "title": ...}.
// A null field clears it.
type UpdateArgs struct {
	ID                string
	OrgID             string
	Patch             store.Doc
	ExpectedUpdatedAt *int64
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *UpdateArgs) UnmarshalJSON(raw []byte) error {
	var m store.Doc
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	a.ID, _ = m["id"].(string)
	a.OrgID, _ = m[store.FieldOrg].(string)
	if raw, ok := m["expectedUpdatedAt"]; ok && raw != nil {
		v, ok := stamp(raw)
		if !ok {
			return apierr.New(apierr.ValidationFailed, "").
				WithFields("expectedUpdatedAt").
				WithDebug("expectedUpdatedAt must be an integer, got %v", raw)
		}
		a.ExpectedUpdatedAt = &v
	}
	delete(m, "id")
	delete(m, store.FieldOrg)
	delete(m, "expectedUpdatedAt")
	a.Patch = m
	return nil
}

// stamp accepts only integral numbers as an updatedAt value.
func stamp(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return store.ToInt64(f)
}

// BulkCreateArgs are the arguments of bulkCreate.
type BulkCreateArgs struct {
	OrgID string      `json:"orgId,omitempty"`
	Items []store.Doc `json:"items"`
}

// BulkUpdateArgs apply one patch to several documents.
type BulkUpdateArgs struct {
	OrgID string    `json:"orgId,omitempty"`
	IDs   []string  `json:"ids"`
	Data  store.Doc `json:"data"`
}

// BulkIDArgs name several documents.
type BulkIDArgs struct {
	OrgID string   `json:"orgId,omitempty"`
	IDs   []string `json:"ids"`
}

// BulkResult reports a bulk operation. Items the caller may not touch, or
// that no longer exist, are skipped rather than failing the whole call.
type BulkResult struct {
	IDs     []string  `json:"ids"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// Skipped is one item a bulk operation left alone.
type Skipped struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// EditorArgs name one editor of a document.
type EditorArgs struct {
	OrgID    string `json:"orgId"`
	ID       string `json:"id"`
	EditorID string `json:"editorId"`
}

// SetEditorsArgs replace a document's editors.
type SetEditorsArgs struct {
	OrgID   string   `json:"orgId"`
	ID      string   `json:"id"`
	Editors []string `json:"editors"`
}

// ChildListArgs list the children of one parent.
type ChildListArgs struct {
	Parent string `json:"parent"`
	Limit  int    `json:"limit,omitempty"`
}

// KeyArgs name a cache entry.
type KeyArgs struct {
	Key string `json:"key"`
}

// SetArgs store a cache entry.
type SetArgs struct {
	Key  string    `json:"key"`
	Data store.Doc `json:"data"`
}
