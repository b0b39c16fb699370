package drilldown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"turismo/internal/domain"
	"turismo/internal/keys"
	"turismo/internal/logger"
	"turismo/internal/series"
	"turismo/internal/taxonomy"
)

// OtrosLabel is the display label of the catch-all slice.
const OtrosLabel = "Otros"

const unmatchedPrefix = "unmatched key"

var ErrNoFetcher = errors.New("lookahead fetcher is required")

// FetchMany resolves lookahead patterns of the form root.<scope>.<token>.* in
// one batched round-trip.
type FetchMany func(ctx context.Context, patterns []string) (domain.RawSeriesByKey, error)

// Level1Input is everything BuildLevel1 needs for one scope.
type Level1Input struct {
	ScopeType domain.ScopeType
	// ScopeID is the scope segment exactly as it appears in the keys.
	ScopeID   string
	Data      domain.RawSeriesByKey
	Taxonomy  taxonomy.Set
	Strategy  domain.SumStrategy
	FetchMany FetchMany
	// ScopeTotal is the scope's own series, independent of its children.
	// nil means the total is unknown and no reconciliation happens.
	ScopeTotal []domain.SeriesPoint
	Debug      bool
	Logger     logger.Logger
}

// candidate accumulates the keys matched to one taxonomy id.
type candidate struct {
	id     string
	value  float64
	tokens []string
	keys   []string
	points [][]domain.SeriesPoint
}

func (c *candidate) addToken(tok string) {
	for _, t := range c.tokens {
		if t == tok {
			return
		}
	}
	c.tokens = append(c.tokens, tok)
}

// bucket is the "otros" accumulator.
type bucket struct {
	value  float64
	points []domain.SeriesPoint
	detail []domain.OtrosDetailItem
}

func (b *bucket) add(key string, points []domain.SeriesPoint, value float64) {
	b.value += value
	b.points = append(b.points, points...)
	b.detail = append(b.detail, domain.OtrosDetailItem{Key: key, Series: clonePoints(points)})
}

// BuildLevel1 turns the raw children of one scope into chart slices.
//
// Keys are matched against the opposite taxonomy table; matched ids only
// become slices when a single batched lookahead proves they have deeper
// children, everything else lands in "otros" with its provenance. When
// ScopeTotal is known, the unenumerated residual is added to "otros" so the
// slices sum to the scope total. Malformed input never fails the call; only a
// FetchMany error is returned.
func BuildLevel1(ctx context.Context, in Level1Input) (*domain.BuildLevel1Result, error) {
	log := in.Logger
	if log == nil || !in.Debug {
		log = logger.NewNop()
	}
	log = log.With(logger.String("scope_type", in.ScopeType.String()), logger.String("scope", in.ScopeID))

	strategy := in.Strategy
	if !strategy.Valid() {
		strategy = domain.StrategySum
	}

	res := &domain.BuildLevel1Result{
		SeriesBySlice: map[string][]domain.SeriesPoint{},
		OtrosDetail:   []domain.OtrosDetailItem{},
		Sublevels:     map[string]domain.SublevelInfo{},
		Warnings:      []string{},
	}
	scopeKey := keys.Join(in.ScopeID)

	if len(in.Data) == 0 {
		if in.ScopeTotal != nil {
			value := series.Sum(in.ScopeTotal, strategy)
			res.Slices = []domain.ChartSlice{otrosSlice(value)}
			res.SeriesBySlice[domain.OtrosID] = series.AggregateByTime(in.ScopeTotal)
			res.OtrosDetail = append(res.OtrosDetail, domain.OtrosDetailItem{Key: scopeKey, Series: clonePoints(in.ScopeTotal)})
			res.Total = value
			log.Debug("no level-1 keys, scope total routed to otros", logger.Float64("value", value))
			return res, nil
		}
		res.Slices = []domain.ChartSlice{otrosSlice(0)}
		res.SeriesBySlice[domain.OtrosID] = []domain.SeriesPoint{}
		res.Warnings = append(res.Warnings, fmt.Sprintf("no level-1 data for %s %q", in.ScopeType, in.ScopeID))
		return res, nil
	}

	children := in.Taxonomy.Children(in.ScopeType)
	if children == nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("no taxonomy table for children of %s scope", in.ScopeType))
	}

	var (
		matched    = map[string]*candidate{}
		order      []string
		otros      bucket
		enumerated []domain.SeriesPoint
	)

	for _, key := range sortedKeys(in.Data) {
		points := in.Data[key]
		raw := keys.RawTail(key)
		if len(raw) > 0 && excluded(raw[0]) {
			log.Debug("excluded key", logger.String("key", key))
			continue
		}
		enumerated = append(enumerated, points...)
		value := series.Sum(points, strategy)

		id, ok := "", false
		if tail := keys.TailAfterScope(key); len(tail) > 0 {
			id, ok = children.Match(tail[0])
		}
		if !ok || id == domain.OtrosID {
			otros.add(key, points, value)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s %q routed to otros", unmatchedPrefix, key))
			log.Debug("unmatched key", logger.String("key", key), logger.Float64("value", value))
			continue
		}

		c, seen := matched[id]
		if !seen {
			c = &candidate{id: id}
			matched[id] = c
			order = append(order, id)
		}
		c.value += value
		c.addToken(raw[0])
		c.keys = append(c.keys, key)
		c.points = append(c.points, points)
	}

	lookahead := domain.RawSeriesByKey{}
	if patterns := lookaheadPatterns(in.ScopeID, order, matched); len(patterns) > 0 {
		if in.FetchMany == nil {
			return nil, ErrNoFetcher
		}
		log.Debug("children lookahead", logger.Strings("patterns", patterns))
		got, err := in.FetchMany(ctx, patterns)
		if err != nil {
			return nil, fmt.Errorf("children lookahead: %w", err)
		}
		if got != nil {
			lookahead = got
		}
	}

	for _, id := range order {
		c := matched[id]
		has := hasChildren(lookahead, in.ScopeID, c.tokens)
		res.Sublevels[id] = domain.SublevelInfo{HasChildren: has}
		if has {
			continue
		}
		log.Debug("no navigable children, folded into otros", logger.String("id", id), logger.Float64("value", c.value))
		otros.value += c.value
		for i, k := range c.keys {
			otros.points = append(otros.points, c.points[i]...)
			otros.detail = append(otros.detail, domain.OtrosDetailItem{Key: k, Series: clonePoints(c.points[i])})
		}
	}

	if in.ScopeTotal != nil {
		if residual := residualSeries(in.ScopeTotal, enumerated); len(residual) > 0 {
			value := series.Sum(residual, strategy)
			otros.add(scopeKey, residual, value)
			log.Debug("scope total residual routed to otros", logger.Float64("value", value))
		}
	}

	for _, id := range order {
		if !res.Sublevels[id].HasChildren {
			continue
		}
		c := matched[id]
		res.Slices = append(res.Slices, domain.ChartSlice{
			ID:       id,
			Label:    children.Label(id),
			Value:    c.value,
			RawToken: c.tokens[0],
		})
		res.SeriesBySlice[id] = series.Merge(c.points...)
	}
	if otros.value > 0 || len(res.Slices) == 0 {
		res.Slices = append(res.Slices, otrosSlice(otros.value))
		res.SeriesBySlice[domain.OtrosID] = series.AggregateByTime(otros.points)
	}
	sortSlices(res.Slices)

	res.OtrosDetail = append(res.OtrosDetail, otros.detail...)
	for _, s := range res.Slices {
		res.Total += s.Value
	}
	return res, nil
}

// excluded reports first-level tokens that are discarded outright: the
// backend's own "otros" bucket and underscore/hyphen spelling variants.
func excluded(rawToken string) bool {
	compact := strings.ToLower(strings.Join(strings.Fields(rawToken), ""))
	if compact == domain.OtrosID {
		return true
	}
	return strings.ContainsAny(rawToken, "_-")
}

func lookaheadPatterns(scopeID string, order []string, matched map[string]*candidate) []string {
	var patterns []string
	seen := map[string]bool{}
	for _, id := range order {
		for _, tok := range matched[id].tokens {
			p := keys.Join(scopeID, tok, "*")
			if seen[p] {
				continue
			}
			seen[p] = true
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// hasChildren needs a non-empty key strictly deeper than root.<scope>.<token>
// whose last segment is not "otros". Echoes of the depth-3 key, including a
// trailing separator with an empty segment after the token, do not count.
func hasChildren(lookahead domain.RawSeriesByKey, scopeID string, tokens []string) bool {
	for key, points := range lookahead {
		if len(points) == 0 {
			continue
		}
		if keys.Depth(key) < 4 {
			continue
		}
		segs := keys.Segments(key)
		if strings.EqualFold(strings.TrimSpace(segs[len(segs)-1]), domain.OtrosID) {
			continue
		}
		for _, tok := range tokens {
			prefix := keys.Join(scopeID, tok) + keys.Separator
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			next, _, _ := strings.Cut(strings.TrimPrefix(key, prefix), keys.Separator)
			if strings.TrimSpace(next) != "" {
				return true
			}
		}
	}
	return false
}

// residualSeries is max(0, total(t) - enumerated(t)) for every time key of
// the scope total.
func residualSeries(total, enumerated []domain.SeriesPoint) []domain.SeriesPoint {
	counted := series.Values(enumerated)
	var out []domain.SeriesPoint
	for _, p := range series.AggregateByTime(total) {
		if diff := p.Value - counted[p.Time]; diff > 0 {
			out = append(out, domain.SeriesPoint{Time: p.Time, Value: diff})
		}
	}
	return out
}

// sortSlices orders by value descending with "otros" always last.
func sortSlices(slices []domain.ChartSlice) {
	sort.SliceStable(slices, func(i, j int) bool {
		a, b := slices[i], slices[j]
		if (a.ID == domain.OtrosID) != (b.ID == domain.OtrosID) {
			return b.ID == domain.OtrosID
		}
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		return a.ID < b.ID
	})
}

func otrosSlice(value float64) domain.ChartSlice {
	return domain.ChartSlice{ID: domain.OtrosID, Label: OtrosLabel, Value: value}
}

func sortedKeys(m domain.RawSeriesByKey) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clonePoints(points []domain.SeriesPoint) []domain.SeriesPoint {
	return append([]domain.SeriesPoint{}, points...)
}
