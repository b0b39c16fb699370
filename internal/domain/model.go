package domain

import (
	"fmt"
	"strings"
)

// Core domain models shared by the aggregation engine, the orchestrator and
// the adapters. Everything here is a short-lived value computed per request.

// OtrosID is the sentinel id of the catch-all "Other" slice.
const OtrosID = "otros"

// ScopeType selects which taxonomy table a scope id belongs to.
type ScopeType int

const (
	ScopeCategory ScopeType = iota + 1
	ScopeTown
)

func (s ScopeType) String() string {
	switch s {
	case ScopeCategory:
		return "category"
	case ScopeTown:
		return "town"
	default:
		return "unknown"
	}
}

// Opposite returns the scope type whose table holds the children of s.
func (s ScopeType) Opposite() ScopeType {
	switch s {
	case ScopeCategory:
		return ScopeTown
	case ScopeTown:
		return ScopeCategory
	default:
		return 0
	}
}

func (s ScopeType) Valid() bool { return s == ScopeCategory || s == ScopeTown }

func (s ScopeType) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid scope type %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *ScopeType) UnmarshalText(b []byte) error {
	v, err := ParseScopeType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseScopeType accepts "category"/"categoria" and "town"/"pueblo".
func ParseScopeType(v string) (ScopeType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "category", "categoria", "categories":
		return ScopeCategory, nil
	case "town", "pueblo", "towns":
		return ScopeTown, nil
	}
	return 0, fmt.Errorf("unknown scope type %q", v)
}

// Granularity is the display resolution requested by the dashboard.
type Granularity string

const (
	GranularityDay   Granularity = "d"
	GranularityWeek  Granularity = "w"
	GranularityMonth Granularity = "m"
	GranularityYear  Granularity = "y"
)

func (g Granularity) Valid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth, GranularityYear:
		return true
	}
	return false
}

// SumStrategy controls how a point list collapses into a single amount.
type SumStrategy string

const (
	StrategySum  SumStrategy = "sum"
	StrategyLast SumStrategy = "last"
)

func (s SumStrategy) Valid() bool { return s == StrategySum || s == StrategyLast }

// SeriesPoint is one sample. Time is an opaque, zero-padded sortable key
// such as a YYYYMMDD date code.
type SeriesPoint struct {
	Time  string  `json:"time"`
	Value float64 `json:"value"`
}

// RawSeriesByKey maps a full dotted tag path to its points.
type RawSeriesByKey map[string][]SeriesPoint

// TaxonomyEntry is one town or category.
type TaxonomyEntry struct {
	ID          string   `json:"id" yaml:"id"`
	DisplayName string   `json:"displayName" yaml:"display_name"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases"`
	// RawToken is the literal token the backend indexes the entity under
	// when it differs from ID.
	RawToken string `json:"rawToken,omitempty" yaml:"raw_token"`
	// Wildcard marks entities that are only found with a trailing "*".
	Wildcard bool `json:"wildcard,omitempty" yaml:"wildcard"`
}

type ChartSlice struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	RawToken string  `json:"rawToken,omitempty"`
}

// OtrosDetailItem records one contribution folded into the "otros" bucket.
type OtrosDetailItem struct {
	Key    string        `json:"key"`
	Series []SeriesPoint `json:"series"`
}

type SublevelInfo struct {
	HasChildren bool `json:"hasChildren"`
}

type BuildLevel1Result struct {
	Slices        []ChartSlice             `json:"slices"`
	SeriesBySlice map[string][]SeriesPoint `json:"seriesBySlice"`
	OtrosDetail   []OtrosDetailItem        `json:"otrosDetail"`
	Sublevels     map[string]SublevelInfo  `json:"sublevels"`
	Total         float64                  `json:"total"`
	Warnings      []string                 `json:"warnings"`
}

// Window is an inclusive range of YYYYMMDD date codes.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Windows pairs a current window with its comparable previous window.
type Windows struct {
	Current      Window `json:"current"`
	Previous     Window `json:"previous"`
	DurationDays int    `json:"durationDays"`
}

// Scope identifies the entity a drilldown enumerates.
type Scope struct {
	Type        ScopeType   `json:"type"`
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	RawToken    string      `json:"rawToken"`
	KeySegment  string      `json:"keySegment"`
	Granularity Granularity `json:"granularity"`
}

// Drilldown is a level-1 aggregation augmented with scope metadata and the
// raw backend responses it was computed from.
type Drilldown struct {
	BuildLevel1Result
	Scope         Scope          `json:"scope"`
	Windows       *Windows       `json:"windows,omitempty"`
	Current       RawSeriesByKey `json:"current"`
	Previous      RawSeriesByKey `json:"previous,omitempty"`
	PreviousTotal float64        `json:"previousTotal"`
}
