package ports

import "turismo/internal/domain"

// WarmJob is one scope the cache warmer drills into.
type WarmJob struct {
	ScopeType domain.ScopeType
	ScopeID   string
}
