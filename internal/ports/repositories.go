package ports

import (
	"context"
	"time"

	"turismo/internal/taxonomy"
)

// TaxonomyRepository loads both taxonomy tables in declaration order.
type TaxonomyRepository interface {
	Load(ctx context.Context) (taxonomy.Set, error)
}

// ResultCache stores encoded drilldown responses.
type ResultCache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
