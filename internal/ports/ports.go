package ports

import (
	"context"
	"time"

	"turismo/internal/domain"
)

// DrilldownRequest asks for one navigation level of a town or category.
// Start and End are optional but must be given together.
type DrilldownRequest struct {
	ScopeType   domain.ScopeType
	ScopeID     string
	Granularity domain.Granularity
	Start       *time.Time
	End         *time.Time
}

// Drilldowns computes level-1 aggregations.
type Drilldowns interface {
	Drilldown(ctx context.Context, req DrilldownRequest) (*domain.Drilldown, error)
}

// Taxonomy exposes the controlled vocabularies.
type Taxonomy interface {
	Entries(scope domain.ScopeType) []domain.TaxonomyEntry
}
