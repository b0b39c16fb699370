package drilldown_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turismo/internal/domain"
	"turismo/internal/logger"
	"turismo/internal/services/drilldown"
	"turismo/internal/taxonomy"
)

const (
	t1 = "20250101"
	t2 = "20250102"
	t3 = "20250103"
)

func p(time string, v float64) domain.SeriesPoint { return domain.SeriesPoint{Time: time, Value: v} }

func testTaxonomy() taxonomy.Set {
	return taxonomy.Set{
		Towns: taxonomy.NewTable([]domain.TaxonomyEntry{
			{ID: "almonte", DisplayName: "Almonte", Aliases: []string{"El Rocío"}},
			{ID: "bonares", DisplayName: "Bonares"},
			{ID: "niebla", DisplayName: "Niebla"},
		}),
		Categories: taxonomy.NewTable([]domain.TaxonomyEntry{
			{ID: "naturaleza", DisplayName: "Naturaleza"},
			{ID: "playas", DisplayName: "Playas", Aliases: []string{"costa"}},
		}),
	}
}

// recorder is a FetchMany that answers from a fixed map and keeps every call.
type recorder struct {
	response domain.RawSeriesByKey
	err      error
	calls    [][]string
}

func (r *recorder) fetch(_ context.Context, patterns []string) (domain.RawSeriesByKey, error) {
	r.calls = append(r.calls, append([]string(nil), patterns...))
	if r.err != nil {
		return nil, r.err
	}
	return r.response, nil
}

func build(t *testing.T, in drilldown.Level1Input) *domain.BuildLevel1Result {
	t.Helper()
	res, err := drilldown.BuildLevel1(context.Background(), in)
	require.NoError(t, err)
	return res
}

func sliceValues(res *domain.BuildLevel1Result) map[string]float64 {
	out := map[string]float64{}
	for _, s := range res.Slices {
		out[s.ID] = s.Value
	}
	return out
}

func detailKeys(res *domain.BuildLevel1Result) []string {
	var out []string
	for _, d := range res.OtrosDetail {
		out = append(out, d.Key)
	}
	return out
}

func TestBuildLevel1_SampleScenario(t *testing.T) {
	t.Parallel()

	rec := &recorder{response: domain.RawSeriesByKey{
		"root.naturaleza.almonte.doñana": {p(t1, 1)},
	}}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data: domain.RawSeriesByKey{
			"root.naturaleza.almonte": {p(t1, 1), p(t2, 3)},
			"root.naturaleza.bonares": {p(t1, 2), p(t2, 4)},
			"root.naturaleza.paisaje": {p(t2, 1)},
		},
		Taxonomy:  testTaxonomy(),
		Strategy:  domain.StrategySum,
		FetchMany: rec.fetch,
	})

	require.Len(t, res.Slices, 2)
	assert.Equal(t, domain.ChartSlice{ID: "almonte", Label: "Almonte", Value: 4, RawToken: "almonte"}, res.Slices[0])
	assert.Equal(t, domain.ChartSlice{ID: domain.OtrosID, Label: drilldown.OtrosLabel, Value: 7}, res.Slices[1])
	assert.Equal(t, map[string]domain.SublevelInfo{
		"almonte": {HasChildren: true},
		"bonares": {HasChildren: false},
	}, res.Sublevels)
	assert.InDelta(t, 11.0, res.Total, 1e-9)
	assert.ElementsMatch(t, []string{"root.naturaleza.paisaje", "root.naturaleza.bonares"}, detailKeys(res))
	assert.Equal(t, []domain.SeriesPoint{p(t1, 1), p(t2, 3)}, res.SeriesBySlice["almonte"])
	assert.Equal(t, []domain.SeriesPoint{p(t1, 2), p(t2, 5)}, res.SeriesBySlice[domain.OtrosID])
	assert.Equal(t, [][]string{{"root.naturaleza.almonte.*", "root.naturaleza.bonares.*"}}, rec.calls)
	assert.Len(t, res.Warnings, 1)
}

func TestBuildLevel1_ExcludedKeysAreDiscarded(t *testing.T) {
	t.Parallel()

	rec := &recorder{response: domain.RawSeriesByKey{"root.naturaleza.almonte.x": {p(t1, 1)}}}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data: domain.RawSeriesByKey{
			"root.naturaleza.almonte":         {p(t1, 5)},
			"root.naturaleza.parque_nacional": {p(t1, 100)},
			"root.naturaleza.el-rocio":        {p(t1, 100)},
			"root.naturaleza. Otros ":         {p(t1, 100)},
			"root.naturaleza.OTROS":           {p(t1, 100)},
		},
		Taxonomy:  testTaxonomy(),
		FetchMany: rec.fetch,
	})

	assert.Equal(t, map[string]float64{"almonte": 5}, sliceValues(res))
	assert.Empty(t, res.OtrosDetail)
	assert.Empty(t, res.Warnings)
	assert.InDelta(t, 5.0, res.Total, 1e-9)
}

func TestBuildLevel1_DepthGuard(t *testing.T) {
	t.Parallel()

	rec := &recorder{response: domain.RawSeriesByKey{
		"root.naturaleza.almonte":       {p(t1, 9)},
		"root.naturaleza.niebla.otros":  {p(t1, 3)},
		"root.naturaleza.bonares.vacio": {},
	}}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data: domain.RawSeriesByKey{
			"root.naturaleza.almonte": {p(t1, 9)},
			"root.naturaleza.niebla":  {p(t1, 3)},
			"root.naturaleza.bonares": {p(t1, 2)},
		},
		Taxonomy:  testTaxonomy(),
		FetchMany: rec.fetch,
	})

	for _, id := range []string{"almonte", "niebla", "bonares"} {
		assert.False(t, res.Sublevels[id].HasChildren, id)
	}
	require.Len(t, res.Slices, 1)
	assert.Equal(t, domain.OtrosID, res.Slices[0].ID)
	assert.InDelta(t, 14.0, res.Slices[0].Value, 1e-9)
	assert.Len(t, res.OtrosDetail, 3)
}

func TestBuildLevel1_TrailingSeparatorIsNotAChild(t *testing.T) {
	t.Parallel()

	rec := &recorder{response: domain.RawSeriesByKey{
		"root.naturaleza.bonares.":   {p(t1, 1)},
		"root.naturaleza.niebla. ":   {p(t1, 1)},
		"root.naturaleza.almonte..x": {p(t1, 1)},
	}}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data: domain.RawSeriesByKey{
			"root.naturaleza.bonares": {p(t1, 6)},
			"root.naturaleza.niebla":  {p(t1, 2)},
			"root.naturaleza.almonte": {p(t1, 1)},
		},
		Taxonomy:  testTaxonomy(),
		FetchMany: rec.fetch,
	})

	for _, id := range []string{"bonares", "niebla", "almonte"} {
		assert.False(t, res.Sublevels[id].HasChildren, id)
	}
	assert.Equal(t, map[string]float64{domain.OtrosID: 9}, sliceValues(res))
	assert.ElementsMatch(t, []string{
		"root.naturaleza.almonte",
		"root.naturaleza.bonares",
		"root.naturaleza.niebla",
	}, detailKeys(res))
}

func TestBuildLevel1_AliasToleranceAndRawTokens(t *testing.T) {
	t.Parallel()

	rec := &recorder{response: domain.RawSeriesByKey{
		"root.almonte.naturAleza.marismas": {p(t1, 1)},
		"root.almonte.Costa.mazagon":       {p(t1, 1)},
	}}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeTown,
		ScopeID:   "almonte",
		Data: domain.RawSeriesByKey{
			"root.almonte.naturAleza":    {p(t1, 1)},
			"root.almonte.Naturaleza":    {p(t1, 2)},
			"root.almonte. naturaLEZA  ": {p(t1, 4)},
			"root.almonte.Costa":         {p(t2, 8)},
		},
		Taxonomy:  testTaxonomy(),
		FetchMany: rec.fetch,
	})

	assert.Equal(t, map[string]float64{"naturaleza": 7, "playas": 8}, sliceValues(res))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{
		"root.almonte. naturaLEZA  .*",
		"root.almonte.Naturaleza.*",
		"root.almonte.naturAleza.*",
		"root.almonte.Costa.*",
	}, rec.calls[0])
	assert.Equal(t, "Playas", res.Slices[0].Label)
	assert.Equal(t, "Costa", res.Slices[0].RawToken)
}

func TestBuildLevel1_SingleBatchedLookahead(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data: domain.RawSeriesByKey{
			"root.naturaleza.gastronomia": {p(t1, 3)},
			"root.naturaleza.museos":      {p(t1, 2)},
		},
		Taxonomy:  testTaxonomy(),
		FetchMany: rec.fetch,
	})

	assert.Empty(t, rec.calls, "no matched ids means no lookahead")
	assert.Equal(t, map[string]float64{domain.OtrosID: 5}, sliceValues(res))
	assert.Len(t, res.Warnings, 2)
}

func TestBuildLevel1_Conservation(t *testing.T) {
	t.Parallel()

	rec := &recorder{response: domain.RawSeriesByKey{"root.naturaleza.almonte.a": {p(t1, 1)}}}
	total := []domain.SeriesPoint{p(t1, 10), p(t2, 10), p(t3, 4)}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data: domain.RawSeriesByKey{
			"root.naturaleza.almonte":   {p(t1, 3), p(t2, 4)},
			"root.naturaleza.bonares":   {p(t1, 1)},
			"root.naturaleza.senderos":  {p(t2, 2)},
			"root.naturaleza.la_rabida": {p(t1, 50)},
		},
		Taxonomy:   testTaxonomy(),
		FetchMany:  rec.fetch,
		ScopeTotal: total,
	})

	assert.InDelta(t, 24.0, res.Total, 1e-9)
	var sum float64
	for _, s := range res.Slices {
		sum += s.Value
	}
	assert.InDelta(t, 24.0, sum, 1e-9)
	assert.InDelta(t, 17.0, sliceValues(res)[domain.OtrosID], 1e-9)

	last := res.OtrosDetail[len(res.OtrosDetail)-1]
	assert.Equal(t, "root.naturaleza", last.Key)
	assert.Equal(t, []domain.SeriesPoint{p(t1, 6), p(t2, 4), p(t3, 4)}, last.Series)
	assert.NotContains(t, detailKeys(res), "root.naturaleza.la_rabida")
}

func TestBuildLevel1_ExcludedKeysStayOutOfDetail(t *testing.T) {
	t.Parallel()

	rec := &recorder{response: domain.RawSeriesByKey{"root.naturaleza.almonte.marismas": {p(t1, 10)}}}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data: domain.RawSeriesByKey{
			"root.naturaleza.almonte": {p(t1, 10)},
			"root.naturaleza.Otros":   {p(t1, 5)},
		},
		Taxonomy:   testTaxonomy(),
		FetchMany:  rec.fetch,
		ScopeTotal: []domain.SeriesPoint{p(t1, 15)},
	})

	assert.InDelta(t, 15.0, res.Total, 1e-9)
	assert.Equal(t, map[string]float64{"almonte": 10, domain.OtrosID: 5}, sliceValues(res))
	assert.Equal(t, []string{"root.naturaleza"}, detailKeys(res))
}

func TestBuildLevel1_ResidualIsClamped(t *testing.T) {
	t.Parallel()

	res := build(t, drilldown.Level1Input{
		ScopeType:  domain.ScopeCategory,
		ScopeID:    "naturaleza",
		Data:       domain.RawSeriesByKey{"root.naturaleza.museos": {p(t1, 8), p(t2, 1)}},
		Taxonomy:   testTaxonomy(),
		ScopeTotal: []domain.SeriesPoint{p(t1, 5), p(t2, 3)},
	})

	assert.InDelta(t, 11.0, res.Total, 1e-9)
	assert.Equal(t, []string{"root.naturaleza.museos", "root.naturaleza"}, detailKeys(res))
	assert.Equal(t, []domain.SeriesPoint{p(t2, 2)}, res.OtrosDetail[1].Series)
}

func TestBuildLevel1_EmptyInput(t *testing.T) {
	t.Parallel()

	t.Run("without total", func(t *testing.T) {
		rec := &recorder{}
		res := build(t, drilldown.Level1Input{
			ScopeType: domain.ScopeTown,
			ScopeID:   "niebla",
			Taxonomy:  testTaxonomy(),
			FetchMany: rec.fetch,
		})
		assert.Equal(t, []domain.ChartSlice{{ID: domain.OtrosID, Label: drilldown.OtrosLabel}}, res.Slices)
		assert.Len(t, res.Warnings, 1)
		assert.Empty(t, rec.calls)
		assert.Zero(t, res.Total)
	})

	t.Run("with total", func(t *testing.T) {
		rec := &recorder{}
		total := []domain.SeriesPoint{p(t2, 4), p(t1, 6)}
		res := build(t, drilldown.Level1Input{
			ScopeType:  domain.ScopeTown,
			ScopeID:    "niebla",
			Data:       domain.RawSeriesByKey{},
			Taxonomy:   testTaxonomy(),
			FetchMany:  rec.fetch,
			ScopeTotal: total,
		})
		require.Len(t, res.Slices, 1)
		assert.InDelta(t, 10.0, res.Slices[0].Value, 1e-9)
		assert.Equal(t, []domain.OtrosDetailItem{{Key: "root.niebla", Series: total}}, res.OtrosDetail)
		assert.Equal(t, []domain.SeriesPoint{p(t1, 6), p(t2, 4)}, res.SeriesBySlice[domain.OtrosID])
		assert.Empty(t, res.Warnings)
		assert.Empty(t, rec.calls)
	})
}

func TestBuildLevel1_LastStrategy(t *testing.T) {
	t.Parallel()

	rec := &recorder{response: domain.RawSeriesByKey{"root.playas.almonte.mazagon": {p(t1, 1)}}}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "playas",
		Data:      domain.RawSeriesByKey{"root.playas.almonte": {p(t2, 7), p(t1, 2)}},
		Taxonomy:  testTaxonomy(),
		Strategy:  domain.StrategyLast,
		FetchMany: rec.fetch,
	})

	assert.Equal(t, map[string]float64{"almonte": 7}, sliceValues(res))
}

func TestBuildLevel1_OtrosSortsLast(t *testing.T) {
	t.Parallel()

	rec := &recorder{response: domain.RawSeriesByKey{
		"root.playas.almonte.a": {p(t1, 1)},
		"root.playas.bonares.b": {p(t1, 1)},
		"root.playas.niebla.c":  {p(t1, 1)},
	}}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "playas",
		Data: domain.RawSeriesByKey{
			"root.playas.almonte":  {p(t1, 2)},
			"root.playas.bonares":  {p(t1, 5)},
			"root.playas.niebla":   {p(t1, 5)},
			"root.playas.sin mapa": {p(t1, 40)},
		},
		Taxonomy:  testTaxonomy(),
		FetchMany: rec.fetch,
	})

	var ids []string
	for _, s := range res.Slices {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"bonares", "niebla", "almonte", domain.OtrosID}, ids)
}

func TestBuildLevel1_NoDoubleCounting(t *testing.T) {
	t.Parallel()

	data := domain.RawSeriesByKey{
		"root.naturaleza.almonte":  {p(t1, 1), p(t2, 1)},
		"root.naturaleza.El Rocío": {p(t1, 2)},
		"root.naturaleza.bonares":  {p(t1, 3)},
		"root.naturaleza.playa":    {p(t1, 5)},
		"otra.raiz":                {p(t1, 7)},
	}
	rec := &recorder{response: domain.RawSeriesByKey{"root.naturaleza.El Rocío.aldea": {p(t1, 1)}}}
	res := build(t, drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data:      data,
		Taxonomy:  testTaxonomy(),
		FetchMany: rec.fetch,
	})

	assert.InDelta(t, 19.0, res.Total, 1e-9)
	assert.Equal(t, map[string]float64{"almonte": 4, domain.OtrosID: 15}, sliceValues(res))
	assert.Len(t, res.OtrosDetail, 3)
}

func TestBuildLevel1_LookaheadErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend down")
	rec := &recorder{err: boom}
	_, err := drilldown.BuildLevel1(context.Background(), drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data:      domain.RawSeriesByKey{"root.naturaleza.almonte": {p(t1, 1)}},
		Taxonomy:  testTaxonomy(),
		FetchMany: rec.fetch,
		Debug:     true,
		Logger:    logger.NewNop(),
	})
	require.ErrorIs(t, err, boom)

	_, err = drilldown.BuildLevel1(context.Background(), drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data:      domain.RawSeriesByKey{"root.naturaleza.almonte": {p(t1, 1)}},
		Taxonomy:  testTaxonomy(),
	})
	require.ErrorIs(t, err, drilldown.ErrNoFetcher)
}

func TestBuildLevel1_Idempotent(t *testing.T) {
	t.Parallel()

	in := drilldown.Level1Input{
		ScopeType: domain.ScopeCategory,
		ScopeID:   "naturaleza",
		Data: domain.RawSeriesByKey{
			"root.naturaleza.almonte": {p(t1, 1)},
			"root.naturaleza.x":       {p(t1, 1)},
			"root.naturaleza.y":       {p(t1, 1)},
		},
		Taxonomy:  testTaxonomy(),
		FetchMany: (&recorder{response: domain.RawSeriesByKey{"root.naturaleza.almonte.z": {p(t1, 1)}}}).fetch,
	}
	first := build(t, in)
	second := build(t, in)
	assert.Equal(t, first, second)
}
