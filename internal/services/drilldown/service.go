package drilldown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"turismo/internal/domain"
	"turismo/internal/keys"
	"turismo/internal/logger"
	"turismo/internal/observability"
	"turismo/internal/ports"
	"turismo/internal/series"
	"turismo/internal/taxonomy"
	"turismo/internal/timewindow"
)

var (
	ErrInvalidScopeType = errors.New("invalid scope type")
	ErrInvalidRange     = timewindow.ErrInvalidRange
)

const wildcard = "*"

// Service drives one drilldown level: resolve the scope token, fetch the
// current and previous windows in parallel, then aggregate.
type Service struct {
	backend  ports.AnalyticsBackend
	taxonomy taxonomy.Set
	cache    ports.ResultCache
	cacheTTL time.Duration
	metrics  *observability.Metrics
	log      logger.Logger
	strategy domain.SumStrategy
	debug    bool
}

type Option func(*Service)

func WithCache(c ports.ResultCache, ttl time.Duration) Option {
	return func(s *Service) { s.cache, s.cacheTTL = c, ttl }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithStrategy(st domain.SumStrategy) Option {
	return func(s *Service) { s.strategy = st }
}

// WithDebug enables the builder's diagnostic logging.
func WithDebug(debug bool) Option {
	return func(s *Service) { s.debug = debug }
}

func New(backend ports.AnalyticsBackend, tax taxonomy.Set, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		taxonomy: tax,
		log:      logger.NewNop(),
		strategy: domain.StrategySum,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Entries lists a taxonomy table in declaration order.
func (s *Service) Entries(scope domain.ScopeType) []domain.TaxonomyEntry {
	return s.taxonomy.For(scope).Entries()
}

func (s *Service) Drilldown(ctx context.Context, req ports.DrilldownRequest) (out *domain.Drilldown, err error) {
	defer func() { s.metrics.ObserveDrilldown(req.ScopeType.String(), err) }()

	if !req.ScopeType.Valid() {
		return nil, ErrInvalidScopeType
	}
	if req.Granularity == "" {
		req.Granularity = domain.GranularityDay
	}
	if !req.Granularity.Valid() {
		return nil, fmt.Errorf("%w: unknown granularity %q", ErrInvalidRange, req.Granularity)
	}
	if (req.Start == nil) != (req.End == nil) {
		return nil, fmt.Errorf("%w: start and end must be given together", ErrInvalidRange)
	}

	var windows *domain.Windows
	if req.Start != nil {
		w, err := timewindow.Resolve(req.Granularity, *req.Start, *req.End)
		if err != nil {
			return nil, err
		}
		windows = &w
	}

	scope, warnings := s.resolveScope(req.ScopeType, req.ScopeID)
	scope.Granularity = req.Granularity
	log := s.log.With(logger.String("scope_type", scope.Type.String()), logger.String("scope", scope.ID))

	cacheKey := CacheKey(scope, windows)
	if cached, ok := s.fromCache(ctx, cacheKey, log); ok {
		return cached, nil
	}

	current, previous, err := s.fetchWindows(ctx, scope, windows)
	if err != nil {
		log.Error("scope fetch failed", logger.Err(err))
		return nil, err
	}

	segment, ignored := scopeSegment(current, scope.RawToken)
	total, level1 := splitScope(current, segment)
	scope.KeySegment = segment
	if len(ignored) > 0 {
		warnings = append(warnings, fmt.Sprintf("wildcard %q also matched segments %q; only %q is drilled", scope.RawToken, ignored, segment))
		log.Warn("wildcard matched several scope segments", logger.String("used", segment), logger.Strings("ignored", ignored))
	}

	var currentWindow domain.Window
	if windows != nil {
		currentWindow = windows.Current
	}
	fetchMany := func(ctx context.Context, patterns []string) (domain.RawSeriesByKey, error) {
		started := time.Now()
		got, err := s.backend.FetchMany(ctx, patterns, domain.GranularityDay, currentWindow)
		s.metrics.ObserveBackend("fetch_many", started, err)
		log.Debug("lookahead fetched", logger.Int("patterns", len(patterns)), logger.Int("keys", len(got)), logger.Duration("took", time.Since(started)))
		return got, err
	}

	res, err := BuildLevel1(ctx, Level1Input{
		ScopeType:  scope.Type,
		ScopeID:    segment,
		Data:       level1,
		Taxonomy:   s.taxonomy,
		Strategy:   s.strategy,
		FetchMany:  fetchMany,
		ScopeTotal: total,
		Debug:      s.debug,
		Logger:     s.log,
	})
	if err != nil {
		log.Error("level-1 aggregation failed", logger.Err(err))
		return nil, err
	}
	res.Warnings = append(append([]string{}, warnings...), res.Warnings...)
	s.metrics.AddUnmatched(scope.Type.String(), countUnmatched(res))

	out = &domain.Drilldown{
		BuildLevel1Result: *res,
		Scope:             scope,
		Windows:           windows,
		Current:           current,
		Previous:          previous,
	}
	if previous != nil {
		out.PreviousTotal = s.periodTotal(previous, segment)
	}
	s.toCache(ctx, cacheKey, out, log)
	return out, nil
}

// resolveScope maps an application id to the token the backend indexes.
// Unknown ids are tried as aliases, then passed through verbatim.
func (s *Service) resolveScope(st domain.ScopeType, id string) (domain.Scope, []string) {
	table := s.taxonomy.For(st)
	entry, ok := table.Lookup(id)
	if !ok {
		if matched, found := table.Match(id); found {
			entry, ok = table.Lookup(matched)
		}
	}
	if !ok {
		scope := domain.Scope{Type: st, ID: id, Label: id, RawToken: id}
		return scope, []string{fmt.Sprintf("%s %q is not in the taxonomy; using it as the backend token", st, id)}
	}

	token := entry.ID
	if entry.RawToken != "" {
		token = entry.RawToken
	}
	if entry.Wildcard && !strings.HasSuffix(token, wildcard) {
		token += wildcard
	}
	return domain.Scope{Type: st, ID: entry.ID, Label: table.Label(entry.ID), RawToken: token}, nil
}

// fetchWindows issues the current and previous scope fetches concurrently.
func (s *Service) fetchWindows(ctx context.Context, scope domain.Scope, windows *domain.Windows) (current, previous domain.RawSeriesByKey, err error) {
	q := ports.ScopeQuery{ScopeType: scope.Type, RawToken: scope.RawToken, Granularity: domain.GranularityDay}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cq := q
		if windows != nil {
			cq.Window = windows.Current
		}
		started := time.Now()
		var err error
		current, err = s.backend.FetchScope(gctx, cq)
		s.metrics.ObserveBackend("scope_current", started, err)
		if err != nil {
			return fmt.Errorf("fetch current window: %w", err)
		}
		return nil
	})
	if windows != nil {
		g.Go(func() error {
			pq := q
			pq.Window = windows.Previous
			started := time.Now()
			var err error
			previous, err = s.backend.FetchScope(gctx, pq)
			s.metrics.ObserveBackend("scope_previous", started, err)
			if err != nil {
				return fmt.Errorf("fetch previous window: %w", err)
			}
			if previous == nil {
				previous = domain.RawSeriesByKey{}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if current == nil {
		current = domain.RawSeriesByKey{}
	}
	return current, previous, nil
}

// periodTotal is the scope total of a window, or the sum of its level-1
// keys when the backend did not return the scope's own key.
func (s *Service) periodTotal(raw domain.RawSeriesByKey, segment string) float64 {
	total, level1 := splitScope(raw, segment)
	if total != nil {
		return series.Sum(total, s.strategy)
	}
	var sum float64
	for k, pts := range level1 {
		if tail := keys.RawTail(k); len(tail) > 0 && excluded(tail[0]) {
			continue
		}
		sum += series.Sum(pts, s.strategy)
	}
	return sum
}

func (s *Service) fromCache(ctx context.Context, key string, log logger.Logger) (*domain.Drilldown, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, found, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn("cache read failed", logger.Err(err))
		return nil, false
	}
	s.metrics.ObserveCache(found)
	if !found {
		return nil, false
	}
	var out domain.Drilldown
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Warn("cache entry undecodable", logger.Err(err))
		return nil, false
	}
	return &out, true
}

func (s *Service) toCache(ctx context.Context, key string, d *domain.Drilldown, log logger.Logger) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		log.Warn("cache encode failed", logger.Err(err))
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		log.Warn("cache write failed", logger.Err(err))
	}
}

// CacheKey identifies a drilldown response.
func CacheKey(scope domain.Scope, windows *domain.Windows) string {
	span := "all"
	if windows != nil {
		span = windows.Current.Start + "-" + windows.Current.End
	}
	return fmt.Sprintf("drilldown:v1:%s:%s:%s:%s", scope.Type, keys.Slug(scope.ID), scope.Granularity, span)
}

// scopeSegment picks the scope segment the backend actually used. For a
// wildcard token it also returns the other matching segments, which are not
// drilled.
func scopeSegment(raw domain.RawSeriesByKey, token string) (string, []string) {
	if !strings.HasSuffix(token, wildcard) {
		return token, nil
	}
	return observedSegment(raw, strings.TrimSuffix(token, wildcard))
}

// splitScope separates the scope total (root.<segment>) from the level-1
// keys. Deeper keys and keys under other segments are left out.
func splitScope(raw domain.RawSeriesByKey, segment string) ([]domain.SeriesPoint, domain.RawSeriesByKey) {
	var total []domain.SeriesPoint
	level1 := domain.RawSeriesByKey{}
	for k, pts := range raw {
		segs := keys.Segments(k)
		if len(segs) < 2 || segs[0] != keys.RootMarker || segs[1] != segment {
			continue
		}
		switch len(segs) {
		case 2:
			total = append(total, pts...)
		case 3:
			level1[k] = pts
		}
	}
	if total != nil {
		total = series.AggregateByTime(total)
	}
	return total, level1
}

// observedSegment is the most frequent scope segment starting with prefix;
// ties go to the lexicographically smallest. The remaining candidates are
// returned sorted.
func observedSegment(raw domain.RawSeriesByKey, prefix string) (string, []string) {
	counts := map[string]int{}
	for k := range raw {
		segs := keys.Segments(k)
		if len(segs) < 2 || segs[0] != keys.RootMarker {
			continue
		}
		if strings.HasPrefix(keys.Normalize(segs[1]), keys.Normalize(prefix)) {
			counts[segs[1]]++
		}
	}
	if len(counts) == 0 {
		return strings.TrimSpace(prefix), nil
	}
	candidates := make([]string, 0, len(counts))
	for c := range counts {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if counts[candidates[i]] != counts[candidates[j]] {
			return counts[candidates[i]] > counts[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	ignored := append([]string(nil), candidates[1:]...)
	sort.Strings(ignored)
	return candidates[0], ignored
}

func countUnmatched(res *domain.BuildLevel1Result) int {
	n := 0
	for _, w := range res.Warnings {
		if strings.HasPrefix(w, unmatchedPrefix) {
			n++
		}
	}
	return n
}
