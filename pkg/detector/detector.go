// Package detector polls an external graph source, diffs each observation
// against the last one per filter, and turns the deltas into bounded patches
// delivered to subscribers. It owns all per-filter last-observed state; the
// hub layer never reads it.
package detector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/regtech-io/pulse/pkg/graph"
	"github.com/regtech-io/pulse/pkg/source"
)

// Config holds detector tuning. Every knob has a default and can be
// overridden independently.
type Config struct {
	// PollInterval is the fixed period between poll ticks.
	PollInterval time.Duration
	// BatchWindow is how long diffs accumulate before a patch is emitted.
	BatchWindow time.Duration
	// MaxNodeChanges caps node-level changes in one patch.
	MaxNodeChanges int
	// MaxEdgeChanges caps edge-level changes in one patch.
	MaxEdgeChanges int
	// MaxTotalChanges caps the sum of all changes in one patch.
	MaxTotalChanges int
	// MinEmitInterval is the minimum time between two emitted patches for
	// the same filter key.
	MinEmitInterval time.Duration
	// FullRefreshEvery forces a full-snapshot poll every Nth tick when the
	// source supports incremental queries, so removals are detected.
	FullRefreshEvery int
	// Source names the data source in patch metadata.
	Source string
}

// Defaults used when a Config field is zero.
const (
	DefaultPollInterval     = 5 * time.Second
	DefaultBatchWindow      = 2 * time.Second
	DefaultMaxNodeChanges   = 200
	DefaultMaxEdgeChanges   = 300
	DefaultMaxTotalChanges  = 400
	DefaultMinEmitInterval  = time.Second
	DefaultFullRefreshEvery = 10
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = DefaultBatchWindow
	}
	if c.MaxNodeChanges <= 0 {
		c.MaxNodeChanges = DefaultMaxNodeChanges
	}
	if c.MaxEdgeChanges <= 0 {
		c.MaxEdgeChanges = DefaultMaxEdgeChanges
	}
	if c.MaxTotalChanges <= 0 {
		c.MaxTotalChanges = DefaultMaxTotalChanges
	}
	if c.MinEmitInterval <= 0 {
		c.MinEmitInterval = DefaultMinEmitInterval
	}
	if c.FullRefreshEvery <= 0 {
		c.FullRefreshEvery = DefaultFullRefreshEvery
	}
	if c.Source == "" {
		c.Source = "profile-graph"
	}
	return c
}

// Stats is a snapshot of detector activity counters.
type Stats struct {
	ActiveFilters    int
	Polls            int64
	PollErrors       int64
	PatchesEmitted   int64
	DroppedTruncated int64
	DroppedThrottled int64
}

// filterState is the per-filter bookkeeping, owned exclusively by the poll
// loop. Never shared across filter keys.
type filterState struct {
	filter       graph.Filter
	lastObserved graph.State
	observedOnce bool
	lastPolledAt time.Time
	ticksSince   int

	pending     *graph.Patch
	windowStart time.Time
	lastEmitAt  time.Time
}

// Detector runs the poll/diff/batch/throttle pipeline.
type Detector struct {
	cfg    Config
	src    source.Querier
	clock  clock.Clock
	logger zerolog.Logger

	onPoll  func(time.Duration)
	onPatch func(int)

	mu          sync.Mutex
	subscribers map[string]map[uint64]func(*graph.Patch)
	states      map[string]*filterState
	nextID      uint64

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	ticker  *clock.Ticker

	polls            atomic.Int64
	pollErrors       atomic.Int64
	patchesEmitted   atomic.Int64
	droppedTruncated atomic.Int64
	droppedThrottled atomic.Int64
}

// Option customizes detector construction.
type Option func(*Detector)

// WithClock substitutes the wall clock, used by tests to drive ticks
// deterministically.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithObservers attaches poll-duration and emitted-patch-size callbacks,
// typically backed by histograms. Either may be nil.
func WithObservers(pollDone func(time.Duration), patchEmitted func(int)) Option {
	return func(d *Detector) {
		d.onPoll = pollDone
		d.onPatch = patchEmitted
	}
}

// New creates a detector. Call Start to begin polling.
func New(cfg Config, src source.Querier, logger zerolog.Logger, opts ...Option) *Detector {
	d := &Detector{
		cfg:         cfg.withDefaults(),
		src:         src,
		clock:       clock.New(),
		logger:      logger.With().Str("component", "detector").Logger(),
		subscribers: make(map[string]map[uint64]func(*graph.Patch)),
		states:      make(map[string]*filterState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a patch callback for a filter. Filters normalize before
// keying, so case and ordering variants of the same filter share one stream,
// one last-observed state, and one throttle budget. The returned function
// unsubscribes and is safe to call more than once.
func (d *Detector) Subscribe(filter graph.Filter, fn func(*graph.Patch)) func() {
	key := filter.Key()

	d.mu.Lock()
	if d.subscribers[key] == nil {
		d.subscribers[key] = make(map[uint64]func(*graph.Patch))
	}
	d.nextID++
	id := d.nextID
	d.subscribers[key][id] = fn

	if _, exists := d.states[key]; !exists {
		d.states[key] = &filterState{filter: filter.Normalize()}
	}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if subs, ok := d.subscribers[key]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(d.subscribers, key)
				}
			}
			// The filter state stays; it is cheap and the filter tends to
			// come back.
		})
	}
}

// Start launches the poll loop. It returns immediately; polling runs until
// Stop is called or ctx is cancelled.
func (d *Detector) Start(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})

	cfg := d.tunables()
	d.ticker = d.clock.Ticker(cfg.PollInterval)

	go d.run(ctx, d.ticker)
	d.logger.Info().
		Dur("poll_interval", cfg.PollInterval).
		Dur("batch_window", cfg.BatchWindow).
		Msg("Change detector started")
}

// Stop cancels the poll timer and waits for any in-flight tick to finish
// naturally. Safe to call more than once.
func (d *Detector) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.stopped
	d.ticker.Stop()
	d.ticker = nil
	d.cancel = nil
	d.logger.Info().Msg("Change detector stopped")
}

// SetTunables applies new tuning to a running detector. The next tick picks
// up batching, cap and throttle changes; a poll interval change resets the
// ticker immediately.
func (d *Detector) SetTunables(cfg Config) {
	cfg.Source = d.tunables().Source
	cfg = cfg.withDefaults()

	d.mu.Lock()
	prev := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	if cfg.PollInterval != prev.PollInterval {
		d.runMu.Lock()
		if d.ticker != nil {
			d.ticker.Reset(cfg.PollInterval)
		}
		d.runMu.Unlock()
		d.logger.Info().
			Dur("poll_interval", cfg.PollInterval).
			Msg("Poll interval changed")
	}
}

func (d *Detector) tunables() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Stats returns a snapshot of detector activity.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	active := len(d.subscribers)
	d.mu.Unlock()

	return Stats{
		ActiveFilters:    active,
		Polls:            d.polls.Load(),
		PollErrors:       d.pollErrors.Load(),
		PatchesEmitted:   d.patchesEmitted.Load(),
		DroppedTruncated: d.droppedTruncated.Load(),
		DroppedThrottled: d.droppedThrottled.Load(),
	}
}

func (d *Detector) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(d.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick polls every filter key that currently has subscribers. A query error
// for one key is logged and skips only that key; the next tick retries.
func (d *Detector) tick(ctx context.Context) {
	for _, key := range d.activeKeys() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.pollKey(ctx, key)
	}
}

func (d *Detector) activeKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.subscribers))
	for k := range d.subscribers {
		keys = append(keys, k)
	}
	return keys
}

func (d *Detector) pollKey(ctx context.Context, key string) {
	d.mu.Lock()
	state, ok := d.states[key]
	cfg := d.cfg
	d.mu.Unlock()
	if !ok {
		return
	}

	d.polls.Add(1)

	pollStart := time.Now()
	curr, err := d.observe(ctx, cfg, state)
	if d.onPoll != nil {
		d.onPoll(time.Since(pollStart))
	}
	if err != nil {
		d.pollErrors.Add(1)
		d.logger.Warn().
			Err(err).
			Str("filter", key).
			Msg("Query failed, skipping tick for this filter")
		return
	}

	now := d.clock.Now()

	var diff *graph.Patch
	if state.observedOnce {
		diff = graph.Diff(state.lastObserved, curr)
	} else {
		// The first observation establishes the baseline; subscribers load
		// their initial view through the normal query path, not the stream.
		diff = &graph.Patch{}
	}
	state.lastObserved = curr
	state.observedOnce = true
	state.lastPolledAt = now

	if !diff.IsEmpty() {
		diff.Meta.Timestamp = now
		if state.pending == nil {
			state.pending = diff
			state.windowStart = now
		} else {
			state.pending = graph.Merge(state.pending, diff)
		}
	}

	if state.pending == nil || state.pending.IsEmpty() {
		state.pending = nil
		return
	}
	if now.Sub(state.windowStart) < cfg.BatchWindow {
		return
	}

	patch := state.pending
	state.pending = nil
	d.finalize(key, cfg, state, patch, now)
}

// observe queries the source, using the incremental path when available and
// due. Incremental results are upserts applied onto the last observation;
// removals surface on the periodic full refresh.
func (d *Detector) observe(ctx context.Context, cfg Config, state *filterState) (graph.State, error) {
	tsq, incremental := d.src.(source.TimestampQuerier)
	state.ticksSince++
	useIncremental := incremental && state.observedOnce && state.ticksSince < cfg.FullRefreshEvery

	if !useIncremental {
		state.ticksSince = 0
		return d.src.QueryByFilter(ctx, state.filter)
	}

	delta, err := tsq.QueryByTimestamp(ctx, state.filter, state.lastPolledAt)
	if err != nil {
		return graph.State{}, err
	}
	return applyUpserts(state.lastObserved, delta), nil
}

// finalize applies the two independent drop conditions, in order: the size
// caps (a truncated patch is dropped whole rather than sent partially), then
// the per-key emission throttle.
func (d *Detector) finalize(key string, cfg Config, state *filterState, patch *graph.Patch, now time.Time) {
	patch.Meta.Source = cfg.Source
	patch.Meta.TotalChanges = patch.TotalChanges()

	nodeChanges := len(patch.Nodes.Added) + len(patch.Nodes.Updated) + len(patch.Nodes.Removed)
	edgeChanges := len(patch.Edges.Added) + len(patch.Edges.Updated) + len(patch.Edges.Removed)

	if nodeChanges > cfg.MaxNodeChanges ||
		edgeChanges > cfg.MaxEdgeChanges ||
		patch.Meta.TotalChanges > cfg.MaxTotalChanges {
		patch.Meta.Truncated = true
		d.droppedTruncated.Add(1)
		d.logger.Warn().
			Str("filter", key).
			Int("total_changes", patch.Meta.TotalChanges).
			Int("node_changes", nodeChanges).
			Int("edge_changes", edgeChanges).
			Msg("Patch exceeds size caps, dropped whole")
		return
	}

	if !state.lastEmitAt.IsZero() && now.Sub(state.lastEmitAt) < cfg.MinEmitInterval {
		d.droppedThrottled.Add(1)
		d.logger.Debug().
			Str("filter", key).
			Dur("since_last_emit", now.Sub(state.lastEmitAt)).
			Msg("Patch throttled")
		return
	}

	state.lastEmitAt = now
	d.patchesEmitted.Add(1)
	if d.onPatch != nil {
		d.onPatch(patch.Meta.TotalChanges)
	}
	d.deliver(key, patch)
}

func (d *Detector) deliver(key string, patch *graph.Patch) {
	d.mu.Lock()
	subs := d.subscribers[key]
	targets := make([]func(*graph.Patch), 0, len(subs))
	for _, fn := range subs {
		targets = append(targets, fn)
	}
	d.mu.Unlock()

	for _, fn := range targets {
		d.send(key, fn, patch)
	}
}

func (d *Detector) send(key string, fn func(*graph.Patch), patch *graph.Patch) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error().
				Str("filter", key).
				Interface("panic", rec).
				Msg("Patch subscriber panicked")
		}
	}()
	fn(patch)
}

// applyUpserts folds an incremental delta onto the previous observation.
func applyUpserts(prev, delta graph.State) graph.State {
	nodes := make(map[string]graph.Node, len(prev.Nodes))
	for _, n := range prev.Nodes {
		nodes[n.ID] = n
	}
	for _, n := range delta.Nodes {
		nodes[n.ID] = n
	}

	edges := make(map[string]graph.Edge, len(prev.Edges))
	for _, e := range prev.Edges {
		edges[e.ID] = e
	}
	for _, e := range delta.Edges {
		edges[e.ID] = e
	}

	out := graph.State{
		Nodes: make([]graph.Node, 0, len(nodes)),
		Edges: make([]graph.Edge, 0, len(edges)),
	}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, n)
	}
	for _, e := range edges {
		out.Edges = append(out.Edges, e)
	}
	return out
}
