// Package analytics is the HTTP adapter for the web-analytics backend that
// stores counters keyed by dotted tag paths.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"turismo/internal/domain"
	"turismo/internal/keys"
	"turismo/internal/logger"
	"turismo/internal/ports"
)

const queryPath = "/api/v1/series/query"

var ErrBackendStatus = errors.New("analytics backend returned an error status")

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Retries is the number of additional attempts on transient failures.
	Retries uint64
	Backoff time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logger.Logger
}

var _ ports.AnalyticsBackend = (*Client)(nil)

func New(cfg Config, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

type queryRequest struct {
	Patterns    []string `json:"patterns"`
	Granularity string   `json:"granularity"`
	Start       string   `json:"start,omitempty"`
	End         string   `json:"end,omitempty"`
}

type queryResponse struct {
	Series map[string][]rawPoint `json:"series"`
}

// rawPoint accepts whatever the backend sends; values arrive as numbers,
// numeric strings or null.
type rawPoint struct {
	Time  json.RawMessage `json:"time"`
	Value json.RawMessage `json:"value"`
}

// FetchScope asks for root.<token> and root.<token>.*.
func (c *Client) FetchScope(ctx context.Context, q ports.ScopeQuery) (domain.RawSeriesByKey, error) {
	base := keys.Join(q.RawToken)
	return c.query(ctx, queryRequest{
		Patterns:    []string{base, base + keys.Separator + "*"},
		Granularity: string(granularityOrDay(q.Granularity)),
		Start:       q.Window.Start,
		End:         q.Window.End,
	})
}

func (c *Client) FetchMany(ctx context.Context, patterns []string, g domain.Granularity, w domain.Window) (domain.RawSeriesByKey, error) {
	if len(patterns) == 0 {
		return domain.RawSeriesByKey{}, nil
	}
	return c.query(ctx, queryRequest{
		Patterns:    patterns,
		Granularity: string(granularityOrDay(g)),
		Start:       w.Start,
		End:         w.End,
	})
}

func (c *Client) query(ctx context.Context, body queryRequest) (domain.RawSeriesByKey, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var out domain.RawSeriesByKey
	backoff := retry.WithMaxRetries(c.cfg.Retries, retry.NewExponential(c.cfg.Backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := c.do(ctx, payload)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, payload []byte) (domain.RawSeriesByKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+queryPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, retry.RetryableError(fmt.Errorf("analytics request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: %d %s", ErrBackendStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("decode analytics response: %w", err)
	}
	return c.typed(qr), nil
}

// typed validates the untyped payload. Points with an unreadable time or
// value are dropped and logged; null values count as zero.
func (c *Client) typed(qr queryResponse) domain.RawSeriesByKey {
	out := make(domain.RawSeriesByKey, len(qr.Series))
	dropped := 0
	for key, raw := range qr.Series {
		points := make([]domain.SeriesPoint, 0, len(raw))
		for _, rp := range raw {
			t, ok := timeKey(rp.Time)
			if !ok {
				dropped++
				continue
			}
			v, ok := number(rp.Value)
			if !ok {
				dropped++
				continue
			}
			points = append(points, domain.SeriesPoint{Time: t, Value: v})
		}
		out[key] = points
	}
	if dropped > 0 {
		c.log.Warn("dropped malformed analytics points", logger.Int("count", dropped))
	}
	return out
}

func granularityOrDay(g domain.Granularity) domain.Granularity {
	if g == "" {
		return domain.GranularityDay
	}
	return g
}
