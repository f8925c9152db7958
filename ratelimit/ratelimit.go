// Package ratelimit implements fixed-size windows of per-caller counters
// stored as ordinary rows, one per (table, key) pair.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/internal/shard"
	"github.com/jacentio/canopy/store"
)

// DefaultTable holds the counter rows.
const DefaultTable = "rateLimit"

// maxAttempts bounds retries when concurrent callers race on one row.
const maxAttempts = 3

// Rule allows Max calls per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Limiter checks and counts calls.
type Limiter struct {
	store store.Store
	table string
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithTable overrides the counter table.
func WithTable(name string) Option {
	return func(l *Limiter) { l.table = name }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter over s.
func New(s store.Store, opts ...Option) *Limiter {
	l := &Limiter{store: s, table: DefaultTable, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Table returns the counter table name.
func (l *Limiter) Table() string {
	return l.table
}

// Check counts one call by key against table. It fails RATE_LIMITED, with
// the milliseconds until the window resets, once Max calls have been made
// in the current window. A window is reset by the first call after it
// elapses.
func (l *Limiter) Check(ctx context.Context, table, key string, r Rule) error {
	if r.Max <= 0 || r.Window <= 0 {
		return nil
	}
	id := shard.RateLimitID(table, key)
	window := r.Window.Milliseconds()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		now := store.Millis(l.now())

		row, err := l.store.Get(ctx, l.table, id)
		if errors.Is(err, store.ErrNotFound) {
			_, err = l.store.Insert(ctx, l.table, store.Doc{
				store.FieldID: id,
				"key":         key,
				"table":       table,
				"windowStart": now,
				"count":       1,
			})
			if errors.Is(err, store.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				return fmt.Errorf("create rate limit window: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rate limit window: %w", err)
		}

		start, _ := row.Int64("windowStart")
		count, _ := row.Int64("count")
		expect := []store.Eq{
			{Field: "windowStart", Value: row["windowStart"]},
			{Field: "count", Value: row["count"]},
		}

		var patch store.Doc
		switch {
		case now-start >= window:
			patch = store.Doc{"windowStart": now, "count": 1}
		case count >= int64(r.Max):
			return apierr.New(apierr.RateLimited, table).
				WithDebug("%d calls per %s", r.Max, r.Window).
				WithRetryAfter(start + window - now)
		default:
			patch = store.Doc{"count": count + 1}
		}

		err = l.store.Patch(ctx, l.table, id, patch, expect...)
		if errors.Is(err, store.ErrConcurrentModification) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update rate limit window: %w", err)
		}
		return nil
	}
	return apierr.New(apierr.RateLimited, table).WithDebug("contention on rate limit window")
}
