package crud

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/jacentio/canopy/store"
)

// AuditOptions configures AuditLog.
type AuditOptions struct {
	// Diff logs the changed fields of updates with their old and new values.
	Diff bool
}

// AuditLog logs one structured record per create, update and delete.
func AuditLog(logger *slog.Logger, opts AuditOptions) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return Middleware{
		Name: "auditLog",
		Hooks: Hooks{
			AfterCreate: func(ctx context.Context, op *OpCtx, id string, _ store.Doc) error {
				logger.InfoContext(ctx, "audit",
					"action", "create",
					"table", op.Table,
					"op", op.Op,
					"id", id,
					"user", op.UserID,
				)
				return nil
			},
			AfterUpdate: func(ctx context.Context, op *OpCtx, prev, next store.Doc) error {
				attrs := []any{
					"action", "update",
					"table", op.Table,
					"op", op.Op,
					"id", next.ID(),
					"user", op.UserID,
				}
				if opts.Diff {
					attrs = append(attrs, "changes", Diff(prev, next))
				}
				logger.InfoContext(ctx, "audit", attrs...)
				return nil
			},
			AfterDelete: func(ctx context.Context, op *OpCtx, doc store.Doc) error {
				logger.InfoContext(ctx, "audit",
					"action", "delete",
					"table", op.Table,
					"op", op.Op,
					"id", doc.ID(),
					"user", op.UserID,
				)
				return nil
			},
		},
	}
}

// Change is one field difference reported by Diff.
type Change struct {
	Field string `json:"field"`
	From  any    `json:"from,omitempty"`
	To    any    `json:"to,omitempty"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %v -> %v", c.Field, c.From, c.To)
}

// Diff lists the fields that differ between prev and next, sorted by name.
// updatedAt is left out.
func Diff(prev, next store.Doc) []Change {
	keys := map[string]bool{}
	for k := range prev {
		keys[k] = true
	}
	for k := range next {
		keys[k] = true
	}
	delete(keys, store.FieldUpdatedAt)

	var out []Change
	for k := range keys {
		a, b := prev[k], next[k]
		if store.Same(a, b) || reflect.DeepEqual(a, b) {
			continue
		}
		out = append(out, Change{Field: k, From: a, To: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// DefaultSlowThreshold is the SlowQueryWarn default.
const DefaultSlowThreshold = 500 * time.Millisecond

const slowStartKey = "slowQueryWarn.start"

// SlowQueryWarn logs mutations that take longer than threshold from the
// before hook to the matching after hook.
func SlowQueryWarn(logger *slog.Logger, threshold time.Duration) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	start := func(op *OpCtx) { op.Set(slowStartKey, time.Now()) }
	check := func(ctx context.Context, op *OpCtx, action string) {
		v, ok := op.Get(slowStartKey)
		if !ok {
			return
		}
		elapsed := time.Since(v.(time.Time))
		if elapsed > threshold {
			logger.WarnContext(ctx, "slow mutation",
				"action", action,
				"table", op.Table,
				"op", op.Op,
				"elapsed", elapsed,
				"threshold", threshold,
			)
		}
	}
	return Middleware{
		Name: "slowQueryWarn",
		Hooks: Hooks{
			BeforeCreate: func(_ context.Context, op *OpCtx, data store.Doc) (store.Doc, error) {
				start(op)
				return data, nil
			},
			AfterCreate: func(ctx context.Context, op *OpCtx, _ string, _ store.Doc) error {
				check(ctx, op, "create")
				return nil
			},
			BeforeUpdate: func(_ context.Context, op *OpCtx, _, patch store.Doc) (store.Doc, error) {
				start(op)
				return patch, nil
			},
			AfterUpdate: func(ctx context.Context, op *OpCtx, _, _ store.Doc) error {
				check(ctx, op, "update")
				return nil
			},
			BeforeDelete: func(_ context.Context, op *OpCtx, _ store.Doc) error {
				start(op)
				return nil
			},
			AfterDelete: func(ctx context.Context, op *OpCtx, _ store.Doc) error {
				check(ctx, op, "delete")
				return nil
			},
		},
	}
}

var (
	scriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	scriptTag   = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	// htmlTag matches an opening tag, quoted values included; the closing
	// '>' is optional so a truncated tag is still cleaned.
	htmlTag   = regexp.MustCompile(`<[a-zA-Z][^<>"']*(?:(?:"[^"]*"|'[^']*')[^<>"']*)*>?`)
	eventAttr = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
)

// Sanitize strips script elements and inline event handler attributes.
// Text outside tags is left alone.
func Sanitize(s string) string {
	s = scriptBlock.ReplaceAllString(s, "")
	s = scriptTag.ReplaceAllString(s, "")
	return htmlTag.ReplaceAllStringFunc(s, func(tag string) string {
		return eventAttr.ReplaceAllString(tag, "")
	})
}

// InputSanitize cleans string values of creates and updates. With no
// fields every string value is cleaned.
func InputSanitize(fields ...string) Middleware {
	only := make(map[string]bool, len(fields))
	for _, f := range fields {
		only[f] = true
	}
	clean := func(d store.Doc) store.Doc {
		if d == nil {
			return nil
		}
		out := d.Clone()
		for k, v := range out {
			if len(only) > 0 && !only[k] {
				continue
			}
			switch s := v.(type) {
			case string:
				out[k] = Sanitize(s)
			case []string:
				for i := range s {
					s[i] = Sanitize(s[i])
				}
			case []any:
				for i, e := range s {
					if str, ok := e.(string); ok {
						s[i] = Sanitize(str)
					}
				}
			}
		}
		return out
	}
	return Middleware{
		Name: "inputSanitize",
		Hooks: Hooks{
			BeforeCreate: func(_ context.Context, _ *OpCtx, data store.Doc) (store.Doc, error) {
				return clean(data), nil
			},
			BeforeUpdate: func(_ context.Context, _ *OpCtx, _, patch store.Doc) (store.Doc, error) {
				return clean(patch), nil
			},
		},
	}
}
