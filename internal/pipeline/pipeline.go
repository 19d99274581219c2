package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-alert-bot/internal/domain"
	"github.com/couchcryptid/quake-alert-bot/internal/observability"
)

// Fetcher returns the current bulletin contents, newest first.
type Fetcher interface {
	FetchLatest(ctx context.Context) ([]domain.Earthquake, error)
}

// Store remembers which earthquakes have been published.
type Store interface {
	RecordChecker
	Record(ctx context.Context, rec domain.Record) error
}

// Renderer produces the image file posted for an earthquake.
type Renderer interface {
	Render(q domain.Earthquake) (string, error)
}

// Publisher posts an image with a caption to the destination feed.
type Publisher interface {
	// Available reports whether the publisher holds a usable session.
	Available() bool
	Publish(ctx context.Context, imagePath, caption string) error
}

// Captioner builds the post text for an earthquake.
type Captioner interface {
	Caption(q domain.Earthquake) string
}

// Announcer forwards a recorded earthquake to downstream consumers.
type Announcer interface {
	Announce(ctx context.Context, rec domain.Record) error
}

// Options tunes the polling loop.
type Options struct {
	MinMagnitude  float64
	Interval      time.Duration
	PostDelay     time.Duration
	DedupFailOpen bool
	Clock         clockwork.Clock // nil means the real clock
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	Skipped     bool `json:"skipped"` // publisher unavailable, nothing fetched
	Fetched     int  `json:"fetched"`
	Significant int  `json:"significant"`
	New         int  `json:"new"`
	Published   int  `json:"published"`
	Failed      int  `json:"failed"`
}

// Status is a point-in-time view of the loop for the status endpoint.
type Status struct {
	Cycles      int64       `json:"cycles"`
	LastCycleAt time.Time   `json:"last_cycle_at,omitzero"`
	LastOutcome string      `json:"last_outcome,omitempty"`
	LastCycle   CycleResult `json:"last_cycle"`
}

// Pipeline orchestrates the fetch-filter-dedupe-publish-record loop.
type Pipeline struct {
	fetcher   Fetcher
	store     Store
	renderer  Renderer
	publisher Publisher
	captions  Captioner
	announcer Announcer
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	opts      Options
	ready     atomic.Bool

	mu     sync.Mutex
	status Status
}

// New creates a Pipeline with the given collaborators and observability.
func New(f Fetcher, s Store, r Renderer, pub Publisher, c Captioner, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		fetcher:   f,
		store:     s,
		renderer:  r,
		publisher: pub,
		captions:  c,
		logger:    logger,
		metrics:   metrics,
		clock:     clock,
		opts:      opts,
	}
}

// WithAnnouncer enables forwarding of recorded earthquakes.
func (p *Pipeline) WithAnnouncer(a Announcer) *Pipeline {
	p.announcer = a
	return p
}

// pinger is implemented by stores that can report connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// CheckReadiness returns nil once a bulletin fetch has succeeded and the
// store (when it can tell) is reachable.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if !p.ready.Load() {
		return errors.New("no successful bulletin fetch yet")
	}
	if pg, ok := p.store.(pinger); ok {
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("store unreachable: %w", err)
		}
	}
	return nil
}

// Status returns the outcome of the most recent cycle.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Pipeline) setStatus(at time.Time, outcome string, res CycleResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Cycles++
	p.status.LastCycleAt = at
	p.status.LastOutcome = outcome
	p.status.LastCycle = res
}

// Run executes a cycle immediately and then on every interval tick until the
// context is cancelled. Cycles run on this goroutine only, so they never
// overlap; ticks that fire during a long cycle are dropped.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.opts.Interval <= 0 {
		return errors.New("pipeline interval must be positive")
	}

	p.logger.Info("pipeline started",
		"interval", p.opts.Interval,
		"min_magnitude", p.opts.MinMagnitude,
		"post_delay", p.opts.PostDelay,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ticker := p.clock.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		start := p.clock.Now()
		p.RunCycle(ctx)
		if elapsed := p.clock.Since(start); elapsed > p.opts.Interval {
			p.logger.Warn("cycle overran check interval", "elapsed", elapsed, "interval", p.opts.Interval)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunCycle performs one fetch-filter-dedupe-publish-record pass. Failures are
// logged and counted, never returned; a panic ends the cycle early but not
// the process.
func (p *Pipeline) RunCycle(ctx context.Context) (res CycleResult) {
	logger := p.logger.With("cycle_id", uuid.NewString())
	start := p.clock.Now()
	outcome := "ok"

	defer func() {
		if r := recover(); r != nil {
			logger.Error("cycle aborted", "panic", r, "stack", string(debug.Stack()))
			outcome = "panic"
		}
		p.metrics.Cycles.WithLabelValues(outcome).Inc()
		p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds())
		p.setStatus(start, outcome, res)
		logger.Info("cycle finished",
			"outcome", outcome,
			"fetched", res.Fetched,
			"significant", res.Significant,
			"new", res.New,
			"published", res.Published,
			"failed", res.Failed,
		)
	}()

	p.restoreSession(ctx, logger)
	if !p.publisher.Available() {
		p.metrics.PublisherAvailable.Set(0)
		logger.Error("publisher has no session, skipping cycle")
		outcome = "skipped"
		res.Skipped = true
		return res
	}
	p.metrics.PublisherAvailable.Set(1)

	quakes, err := p.fetcher.FetchLatest(ctx)
	if err != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return res
		}
		// A failed fetch reads as "nothing new"; the next tick retries.
		p.metrics.FetchErrors.Inc()
		logger.Error("fetch bulletin failed", "error", err)
		outcome = "fetch_error"
		return res
	}
	p.ready.Store(true)
	p.metrics.LastFetchSuccess.Set(float64(p.clock.Now().Unix()))
	res.Fetched = len(quakes)

	significant := domain.FilterSignificant(quakes, p.opts.MinMagnitude)
	res.Significant = len(significant)
	p.metrics.QuakesSignificant.Add(float64(len(significant)))
	if len(significant) == 0 {
		logger.Info("no earthquakes above threshold", "min_magnitude", p.opts.MinMagnitude)
		return res
	}

	fresh, lookupErrs := SelectNew(ctx, significant, p.store, p.opts.DedupFailOpen, logger)
	p.metrics.StoreErrors.WithLabelValues("lookup").Add(float64(lookupErrs))
	res.New = len(fresh)
	if len(fresh) == 0 {
		logger.Info("all significant earthquakes already posted", "significant", len(significant))
		return res
	}

	logger.Info("publishing new earthquakes", "count", len(fresh))
	p.publishAll(ctx, logger, fresh, &res)
	if ctx.Err() != nil {
		outcome = "cancelled"
	}
	return res
}

// publishAll renders, publishes and records each earthquake, oldest first,
// pausing PostDelay between publish attempts.
func (p *Pipeline) publishAll(ctx context.Context, logger *slog.Logger, quakes []domain.Earthquake, res *CycleResult) {
	attempted := false
	for _, q := range OldestFirst(quakes) {
		if ctx.Err() != nil {
			return
		}
		qlog := logger.With("quake_id", q.ID, "location", q.Location, "magnitude", q.Magnitude)

		image, err := p.renderer.Render(q)
		if err != nil {
			p.metrics.RenderErrors.Inc()
			qlog.Error("render image failed, skipping earthquake", "error", err)
			res.Failed++
			continue
		}

		if attempted && !sleepWithContext(ctx, p.clock, p.opts.PostDelay) {
			return
		}
		attempted = true

		if err := p.publisher.Publish(ctx, image, p.captions.Caption(q)); err != nil {
			p.metrics.Publishes.WithLabelValues("failure").Inc()
			qlog.Error("publish failed, earthquake stays unrecorded", "error", err)
			res.Failed++
			continue
		}
		p.metrics.Publishes.WithLabelValues("success").Inc()
		res.Published++

		// One record feeds both the store and the announcement.
		rec := domain.NewRecord(q)
		if err := p.store.Record(ctx, rec); err != nil {
			p.metrics.StoreErrors.WithLabelValues("record").Inc()
			qlog.Error("record posted earthquake failed", "error", err)
			continue
		}
		qlog.Info("earthquake published and recorded")

		p.announce(ctx, qlog, rec)
	}
}

// loginer is implemented by publishers that can re-establish a session.
type loginer interface {
	Login(ctx context.Context) error
}

func (p *Pipeline) restoreSession(ctx context.Context, logger *slog.Logger) {
	if p.publisher.Available() {
		return
	}
	l, ok := p.publisher.(loginer)
	if !ok {
		return
	}
	if err := l.Login(ctx); err != nil {
		logger.Warn("publisher login retry failed", "error", err)
		return
	}
	logger.Info("publisher session restored")
}

func (p *Pipeline) announce(ctx context.Context, logger *slog.Logger, rec domain.Record) {
	if p.announcer == nil {
		return
	}
	if err := p.announcer.Announce(ctx, rec); err != nil {
		p.metrics.AnnounceErrors.Inc()
		logger.Warn("announce earthquake failed", "error", err)
	}
}

// OldestFirst returns the earthquakes in chronological order. The input is in
// bulletin order (newest first); rows with equal times keep reversed order.
func OldestFirst(quakes []domain.Earthquake) []domain.Earthquake {
	out := slices.Clone(quakes)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b domain.Earthquake) int {
		return cmp.Compare(a.Time.UnixNano(), b.Time.UnixNano())
	})
	return out
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
