package ports

import (
	"context"

	"turismo/internal/domain"
)

// ScopeQuery is the scope-level fetch. Granularity is always daily; display
// aggregation happens downstream.
type ScopeQuery struct {
	ScopeType   domain.ScopeType
	RawToken    string
	Granularity domain.Granularity
	Window      domain.Window
}

// AnalyticsBackend is the web-analytics store keyed by dotted tag paths.
// Implementations validate and type the backend's JSON before returning.
type AnalyticsBackend interface {
	// FetchScope returns root.<token> and its direct children.
	FetchScope(ctx context.Context, q ScopeQuery) (domain.RawSeriesByKey, error)
	// FetchMany resolves glob patterns ending in ".*" in a single round-trip.
	// A pattern with no data contributes nothing; it is not an error.
	FetchMany(ctx context.Context, patterns []string, granularity domain.Granularity, window domain.Window) (domain.RawSeriesByKey, error)
}
