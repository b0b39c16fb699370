// Package warmer keeps the drilldown cache hot by periodically computing
// every taxonomy entry over a trailing window.
package warmer

import (
	"context"
	"sync"
	"time"

	"turismo/internal/domain"
	"turismo/internal/logger"
	"turismo/internal/ports"
	"turismo/internal/timewindow"
)

const DefaultDays = 30

type Config struct {
	Workers  int
	Interval time.Duration
	// Days is the trailing window length, ending today.
	Days int
	Now  func() time.Time
}

type Warmer struct {
	drilldowns ports.Drilldowns
	taxonomy   ports.Taxonomy
	cfg        Config
	log        logger.Logger
}

func New(d ports.Drilldowns, tax ports.Taxonomy, cfg Config, log logger.Logger) *Warmer {
	if cfg.Days < 1 {
		cfg.Days = DefaultDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Warmer{drilldowns: d, taxonomy: tax, cfg: cfg, log: log}
}

// Jobs lists every town then every category in declaration order.
func (w *Warmer) Jobs() []ports.WarmJob {
	var jobs []ports.WarmJob
	for _, st := range []domain.ScopeType{domain.ScopeTown, domain.ScopeCategory} {
		for _, e := range w.taxonomy.Entries(st) {
			jobs = append(jobs, ports.WarmJob{ScopeType: st, ScopeID: e.ID})
		}
	}
	return jobs
}

// Run starts the dispatcher and worker goroutines. It returns immediately;
// everything stops when ctx is cancelled.
func (w *Warmer) Run(ctx context.Context) {
	if w.cfg.Workers < 1 || w.cfg.Interval <= 0 {
		return
	}
	jobsCh := make(chan ports.WarmJob, w.cfg.Workers)

	// dispatcher loop; the first pass runs right away
	go func() {
		defer close(jobsCh)
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			if !w.dispatch(ctx, jobsCh) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	for i := 0; i < w.cfg.Workers; i++ {
		go func(idx int) {
			for job := range jobsCh {
				if err := w.Process(ctx, job); err != nil && ctx.Err() == nil {
					w.log.Warn("warm job failed",
						logger.Int("worker", idx),
						logger.String("scope_type", job.ScopeType.String()),
						logger.String("scope", job.ScopeID),
						logger.Err(err))
				}
			}
		}(i)
	}
}

func (w *Warmer) dispatch(ctx context.Context, jobsCh chan<- ports.WarmJob) bool {
	for _, job := range w.Jobs() {
		select {
		case <-ctx.Done():
			return false
		case jobsCh <- job:
		}
	}
	return true
}

// Process computes one drilldown over the trailing window so the service
// caches it.
func (w *Warmer) Process(ctx context.Context, job ports.WarmJob) error {
	start, end := timewindow.Trailing(w.cfg.Now(), w.cfg.Days)
	_, err := w.drilldowns.Drilldown(ctx, ports.DrilldownRequest{
		ScopeType:   job.ScopeType,
		ScopeID:     job.ScopeID,
		Granularity: domain.GranularityDay,
		Start:       &start,
		End:         &end,
	})
	return err
}

// RunOnce processes every job synchronously with the configured
// concurrency and returns the number of failures.
func (w *Warmer) RunOnce(ctx context.Context) int {
	workers := w.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	jobsCh := make(chan ports.WarmJob)
	var (
		mu     sync.Mutex
		failed int
		wg     sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsCh {
				if err := w.Process(ctx, job); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}
	w.dispatch(ctx, jobsCh)
	close(jobsCh)
	wg.Wait()
	return failed
}
