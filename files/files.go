// Package files manages attachment lifecycles: resolving storage ids to
// signed URLs on reads and deleting orphaned objects after writes.
package files

import (
	"context"
	"log/slog"

	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
)

// Storage is an attachment backend addressed by storage id.
type Storage interface {
	URL(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}

// Manager applies the attachment lifecycle of one table.
type Manager struct {
	storage Storage
	fields  []schema.FileField
	logger  *slog.Logger
}

// NewManager creates a Manager. A nil storage makes every call a no-op.
func NewManager(storage Storage, fields []schema.FileField, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{storage: storage, fields: fields, logger: logger}
}

// Enabled reports whether there is anything to manage.
func (m *Manager) Enabled() bool {
	return m != nil && m.storage != nil && len(m.fields) > 0
}

// ids returns the storage ids referenced by field f of d.
func ids(d store.Doc, f schema.FileField) []string {
	v, ok := d[f.Name]
	if !ok || v == nil {
		return nil
	}
	if f.Multiple {
		return store.ToStrings(v)
	}
	if s, ok := v.(string); ok && s != "" {
		return []string{s}
	}
	return nil
}

// Orphans returns the ids referenced by prev that next no longer keeps.
// next is the incoming patch: fields it does not mention are retained. A
// nil next (delete) orphans every id.
func Orphans(prev store.Doc, fields []schema.FileField, next store.Doc) []string {
	var out []string
	for _, f := range fields {
		old := ids(prev, f)
		if len(old) == 0 {
			continue
		}
		if next != nil {
			if _, touched := next[f.Name]; !touched {
				continue
			}
		}
		keep := map[string]bool{}
		for _, id := range ids(next, f) {
			keep[id] = true
		}
		for _, id := range old {
			if !keep[id] {
				out = append(out, id)
			}
		}
	}
	return out
}

// Clean deletes the attachments orphaned by a patch (or, with a nil patch,
// a delete). Failures are logged and never returned: the document write has
// already committed.
func (m *Manager) Clean(ctx context.Context, table string, prev, next store.Doc) {
	if !m.Enabled() || prev == nil {
		return
	}
	for _, id := range Orphans(prev, m.fields, next) {
		if err := m.storage.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to delete attachment",
				"table", table,
				"doc_id", prev.ID(),
				"storage_id", id,
				"error", err,
			)
		}
	}
}

// AddURLs sets <field>Url (single) or <field>Urls (multiple) on d. Ids that
// fail to resolve are skipped and logged.
func (m *Manager) AddURLs(ctx context.Context, table string, d store.Doc) {
	if !m.Enabled() || d == nil {
		return
	}
	for _, f := range m.fields {
		refs := ids(d, f)
		if len(refs) == 0 {
			continue
		}
		urls := make([]string, 0, len(refs))
		for _, id := range refs {
			u, err := m.storage.URL(ctx, id)
			if err != nil {
				m.logger.Warn("failed to resolve attachment url",
					"table", table,
					"doc_id", d.ID(),
					"storage_id", id,
					"error", err,
				)
				continue
			}
			urls = append(urls, u)
		}
		if f.Multiple {
			d[f.Name+"Urls"] = urls
		} else if len(urls) == 1 {
			d[f.Name+"Url"] = urls[0]
		}
	}
}
