package where

import (
	"log/slog"

	"github.com/jacentio/canopy/apierr"
)

// DefaultThreshold is the document count above which a client-side filter
// is reported.
const DefaultThreshold = 1000

// Guard reports filters resolved over large in-memory document sets.
type Guard struct {
	Logger    *slog.Logger
	Threshold int

	// Strict turns the warning into a LIMIT_EXCEEDED error.
	Strict bool
}

// Check is called after a non-indexed filter resolves over count documents.
func (g Guard) Check(count int, table, context string) error {
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if count <= threshold {
		return nil
	}
	if g.Strict {
		return apierr.New(apierr.LimitExceeded, table).
			WithDebug("%s filtered %d documents in memory (limit %d)", context, count, threshold)
	}
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("large in-memory filter",
		"table", table,
		"context", context,
		"count", count,
		"threshold", threshold,
	)
	return nil
}

// WarnLargeFilterSet checks count against the default threshold.
func WarnLargeFilterSet(logger *slog.Logger, count int, table, context string, strict bool) error {
	return Guard{Logger: logger, Strict: strict}.Check(count, table, context)
}
