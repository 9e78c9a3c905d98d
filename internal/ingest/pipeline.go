// Package ingest periodically harvests all configured sources into the item store.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"digest_bot/internal/fetcher"
	"digest_bot/internal/filter"
	"digest_bot/internal/metrics"
	"digest_bot/internal/model"
)

// ItemFetcher returns the current entries of one source.
type ItemFetcher interface {
	FetchItems(ctx context.Context, source string) ([]model.FeedItem, error)
}

// Store is the subset of storage the pipeline writes to.
type Store interface {
	InsertIfAbsent(ctx context.Context, item *model.FeedItem) (bool, error)
	ReplaceAll(ctx context.Context, items []model.FeedItem) ([]bool, error)
}

// SourceReport is the outcome of harvesting one source.
type SourceReport struct {
	Source   string
	Fetched  int
	Filtered int
	Inserted int
	Err      error
}

// Report summarizes one ingestion cycle.
type Report struct {
	Sources  []SourceReport
	Inserted int
	Failed   int
	Cleared  bool
}

// Pipeline harvests sources into the store.
type Pipeline struct {
	store   Store
	fetcher ItemFetcher
	sources []string
	policy  model.RetentionPolicy
	workers int
	filter  *filter.Set
	log     *slog.Logger
	clock   clockwork.Clock
	tick    time.Duration
}

// New creates a Pipeline for the given sources.
func New(store Store, f ItemFetcher, sources []string, policy model.RetentionPolicy, workers int, log *slog.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if policy == "" {
		policy = model.RetainAccumulate
	}
	return &Pipeline{
		store:   store,
		fetcher: f,
		sources: sources,
		policy:  policy,
		workers: workers,
		log:     log,
		clock:   clockwork.NewRealClock(),
		tick:    10 * time.Minute,
	}
}

// SetTickInterval overrides the default 10-minute harvest interval.
// Non-positive values are ignored.
func (p *Pipeline) SetTickInterval(d time.Duration) {
	if d <= 0 {
		p.log.Warn("ignoring non-positive ingest interval", "interval", d)
		return
	}
	p.tick = d
}

// SetClock replaces the clock driving Run.
func (p *Pipeline) SetClock(clock clockwork.Clock) {
	if clock != nil {
		p.clock = clock
	}
}

// SetFilter drops items that do not pass rules before they are stored.
func (p *Pipeline) SetFilter(rules *filter.Set) {
	p.filter = rules
}

// Run harvests immediately, then on every tick, blocking until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	p.runOnce(ctx)

	ticker := p.clock.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.runOnce(ctx)
		}
	}
}

func (p *Pipeline) runOnce(ctx context.Context) {
	start := p.clock.Now()
	rep := p.RunCycle(ctx, p.sources)
	elapsed := p.clock.Since(start)
	metrics.IngestDuration.Observe(elapsed.Seconds())
	p.log.Info("ingestion cycle finished",
		"sources", len(rep.Sources),
		"failed", rep.Failed,
		"inserted", rep.Inserted,
		"cleared", rep.Cleared,
		"elapsed", elapsed,
	)
}

// RunCycle harvests every source once. Sources are processed independently
// on a bounded worker pool: one failing source never stops the others.
// Under the refill policy the cycle's items replace the stored ones in a
// single transaction, after every source has been fetched. A cycle in which
// every source failed leaves the store untouched.
func (p *Pipeline) RunCycle(ctx context.Context, sources []string) Report {
	refill := p.policy == model.RetainRefill
	results := make([]SourceReport, len(sources))
	batches := make([][]model.FeedItem, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, source := range sources {
		g.Go(func() error {
			results[i], batches[i] = p.harvest(gctx, source, !refill)
			return nil
		})
	}
	_ = g.Wait()

	var rep Report
	if refill {
		rep.Cleared = p.replace(ctx, results, batches)
	}

	rep.Sources = results
	for _, r := range results {
		rep.Inserted += r.Inserted
		if r.Err != nil {
			rep.Failed++
		}
	}
	return rep
}

// harvest fetches and filters one source. With store set each kept item is
// inserted right away; otherwise the kept items are returned.
func (p *Pipeline) harvest(ctx context.Context, source string, store bool) (SourceReport, []model.FeedItem) {
	rep := SourceReport{Source: source}

	items, err := p.fetcher.FetchItems(ctx, source)
	if err != nil {
		rep.Err = err
		metrics.RecordSourceFailure(source, failureKind(err))
		p.log.Error("fetch source", "source", source, "error", err)
		return rep, nil
	}
	rep.Fetched = len(items)

	var kept []model.FeedItem
	for i := range items {
		if ctx.Err() != nil {
			rep.Err = ctx.Err()
			return rep, nil
		}
		if !p.filter.Match(items[i]) {
			rep.Filtered++
			metrics.RecordItem(source, "filtered")
			continue
		}
		if !store {
			kept = append(kept, items[i])
			continue
		}
		inserted, err := p.store.InsertIfAbsent(ctx, &items[i])
		p.recordInsert(source, items[i].SourceID, inserted, err)
		if inserted {
			rep.Inserted++
		}
	}

	p.log.Debug("source harvested", "source", source, "fetched", rep.Fetched, "filtered", rep.Filtered, "inserted", rep.Inserted)
	return rep, kept
}

// replace swaps the store contents for the harvested batches and fills in
// per-source insert counts. It reports whether the swap happened.
func (p *Pipeline) replace(ctx context.Context, results []SourceReport, batches [][]model.FeedItem) bool {
	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		p.log.Warn("every source failed, keeping stored items", "sources", len(results))
		return false
	}

	var all []model.FeedItem
	for _, b := range batches {
		all = append(all, b...)
	}

	inserted, err := p.store.ReplaceAll(ctx, all)
	if err != nil {
		p.log.Error("refill store", "items", len(all), "error", err)
		return false
	}

	offset := 0
	for i, b := range batches {
		for j := range b {
			ok := inserted[offset+j]
			p.recordInsert(results[i].Source, b[j].SourceID, ok, nil)
			if ok {
				results[i].Inserted++
			}
		}
		offset += len(b)
	}
	return true
}

func (p *Pipeline) recordInsert(source, sourceID string, inserted bool, err error) {
	switch {
	case err != nil:
		metrics.RecordItem(source, "error")
		p.log.Error("store item", "source", source, "source_id", sourceID, "error", err)
	case inserted:
		metrics.RecordItem(source, "inserted")
	default:
		metrics.RecordItem(source, "duplicate")
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrParse):
		return "parse"
	case errors.Is(err, fetcher.ErrNetwork):
		return "network"
	default:
		return "other"
	}
}
