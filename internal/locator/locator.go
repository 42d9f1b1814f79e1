// Package locator tracks a target window across its lifetime. A background
// loop verifies the current handle, re-finds lost windows through a ranked
// set of lookup strategies, and paces itself with an adaptive interval.
package locator

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wintrack/wintrack/internal/config"
	"github.com/wintrack/wintrack/internal/platform"
)

// State describes where the locator is in its lifecycle.
type State uint8

const (
	StateIdle State = iota
	StateSearching
	StateFound
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateFound:
		return "found"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// EventKind tags locator event payloads.
type EventKind uint8

const (
	EventDiscovery EventKind = iota
	EventLoss
	EventSearchStatus
	EventRecovered
)

func (k EventKind) String() string {
	switch k {
	case EventDiscovery:
		return "window_discovery"
	case EventLoss:
		return "window_loss"
	case EventSearchStatus:
		return "search_status"
	case EventRecovered:
		return "window_recovered"
	default:
		return "unknown"
	}
}

// Event is one locator notification. Handle, Process and Title are set for
// discoveries; Progress accompanies search status updates.
type Event struct {
	Kind     EventKind
	Handle   platform.Handle
	Process  string
	Title    string
	Message  string
	Progress int
}

// Config carries the locator's tunables.
type Config struct {
	TargetPattern string
	PartialMatch  bool
	Strategies    config.StrategyToggles

	BaseInterval time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration

	EnableRecovery      bool
	MaxRecoveryAttempts int
	RecoveryCooldown    time.Duration
}

// StrategyStats is a read-only snapshot of one strategy's counters.
type StrategyStats struct {
	Strategy    string
	Enabled     bool
	Priority    int
	Successes   int
	Failures    int
	SuccessRate float64
}

// Stats is a snapshot of the locator's search activity.
type Stats struct {
	State            State
	TotalSearches    int
	SuccessfulFinds  int
	FailedSearches   int
	LastSearchTime   time.Duration
	AvgSearchTime    time.Duration
	SearchInterval   time.Duration
	CacheSize        int
	RecoveryAttempts int
	Strategies       []StrategyStats
}

// Locator drives the search loop. All mutable state is behind mu; searchMu
// serializes whole search cycles so the loop and ForceSearch never interleave.
type Locator struct {
	dir platform.Directory

	mu         sync.RWMutex
	searchMu   sync.Mutex
	pattern    string
	partial    bool
	strategies [numStrategies]strategyState
	cache      *processCache
	interval   *adaptiveInterval
	recovery   recoveryState
	recovering bool

	current     platform.Handle
	currentProc string

	state           State
	totalSearches   int
	successfulFinds int
	failedSearches  int
	lastSearchTime  time.Duration
	totalSearchTime time.Duration

	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New builds a locator over the given window directory.
func New(dir platform.Directory, cfg Config) *Locator {
	l := &Locator{
		dir:    dir,
		cache:  newProcessCache(),
		events: make(chan Event, EventBuffer),
	}
	l.apply(cfg)
	return l
}

// Configure replaces the locator's tunables. Changing the target pattern
// clears the cache and the recovery budget; the old target's history does
// not carry over.
func (l *Locator) Configure(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.TargetPattern != l.pattern {
		l.cache.clear()
		l.recovery.reset()
		l.recovering = false
		l.current = 0
		l.currentProc = ""
	}
	l.apply(cfg)
}

// apply installs cfg. Caller holds mu (or owns the locator exclusively).
func (l *Locator) apply(cfg Config) {
	l.pattern = cfg.TargetPattern
	l.partial = cfg.PartialMatch

	enabled := [numStrategies]bool{
		StrategyProcessName: cfg.Strategies.ProcessName,
		StrategyProcessPath: cfg.Strategies.ProcessPath,
		StrategyWindowTitle: cfg.Strategies.WindowTitle,
		StrategyClassName:   cfg.Strategies.ClassName,
		StrategyFuzzy:       cfg.Strategies.FuzzyMatch,
	}
	for i := range l.strategies {
		l.strategies[i].enabled = enabled[i]
		l.strategies[i].priority = Strategy(i).defaultPriority()
	}

	l.interval = newAdaptiveInterval(cfg.BaseInterval, cfg.MinInterval, cfg.MaxInterval)
	l.recovery.enabled = cfg.EnableRecovery
	l.recovery.maxAttempts = cfg.MaxRecoveryAttempts
	l.recovery.cooldown = cfg.RecoveryCooldown
}

// ConfigFrom maps the service configuration onto locator tunables.
func ConfigFrom(c config.Config) Config {
	return Config{
		TargetPattern:       c.TargetPattern,
		PartialMatch:        c.ProcessPartialMatch,
		Strategies:          c.Strategies,
		BaseInterval:        c.FinderBaseInterval,
		MinInterval:         c.FinderMinInterval,
		MaxInterval:         c.FinderMaxInterval,
		EnableRecovery:      c.EnableAutoRecovery,
		MaxRecoveryAttempts: c.MaxRecoveryAttempts,
		RecoveryCooldown:    c.RecoveryCooldown,
	}
}

// Events exposes the locator's notification stream. Slow consumers lose
// events rather than stalling the search loop.
func (l *Locator) Events() <-chan Event {
	return l.events
}

// Start launches the background search loop. Starting twice is a no-op.
func (l *Locator) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.state = StateSearching
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	slog.Info("locator started", "target", l.TargetPattern())
	go l.run()
}

// Stop halts the loop. The join is bounded; a wedged cycle is abandoned
// rather than blocking the caller forever.
func (l *Locator) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	done := l.doneCh
	l.mu.Unlock()

	select {
	case <-done:
	case <-time.After(StopWait):
		slog.Warn("locator loop did not stop in time")
	}

	l.mu.Lock()
	l.state = StateIdle
	l.mu.Unlock()
	slog.Info("locator stopped")
}

// TargetPattern returns the configured target pattern.
func (l *Locator) TargetPattern() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pattern
}

// CurrentHandle returns the tracked window handle, if one is held.
func (l *Locator) CurrentHandle() (platform.Handle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current, l.current != 0
}

// Resolve looks the pattern up immediately, preferring the tracked handle.
// Disabled strategies are honored here the same as in the search loop. It
// satisfies the capture worker's resolver contract.
func (l *Locator) Resolve(pattern string, partial bool) (platform.Handle, bool) {
	l.mu.RLock()
	current := l.current
	l.mu.RUnlock()
	if current != 0 && l.dir.IsValid(current) {
		return current, true
	}
	if pattern == "" {
		return 0, false
	}
	for _, s := range l.ranked() {
		if h, ok := matchers[s](l.dir, pattern, partial); ok {
			return h, true
		}
	}
	return 0, false
}

// ForceSearch runs one synchronous search cycle and reports the result.
func (l *Locator) ForceSearch() (platform.Handle, bool) {
	l.cycle()
	return l.CurrentHandle()
}

// SearchStats snapshots the locator's activity counters.
func (l *Locator) SearchStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		State:            l.state,
		TotalSearches:    l.totalSearches,
		SuccessfulFinds:  l.successfulFinds,
		FailedSearches:   l.failedSearches,
		LastSearchTime:   l.lastSearchTime,
		SearchInterval:   l.interval.current(),
		CacheSize:        l.cache.size(),
		RecoveryAttempts: l.recovery.attempts,
	}
	if l.totalSearches > 0 {
		s.AvgSearchTime = l.totalSearchTime / time.Duration(l.totalSearches)
	}
	for i := range l.strategies {
		st := &l.strategies[i]
		s.Strategies = append(s.Strategies, StrategyStats{
			Strategy:    Strategy(i).String(),
			Enabled:     st.enabled,
			Priority:    st.priority,
			Successes:   st.successes,
			Failures:    st.failures,
			SuccessRate: st.successRate(),
		})
	}
	return s
}

func (l *Locator) run() {
	defer close(l.doneCh)
	for {
		l.cycle()

		l.mu.RLock()
		wait := l.interval.current()
		l.mu.RUnlock()

		select {
		case <-l.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// cycle is one pass of the locator's loop: verify the held handle, then
// search if nothing valid is held. The interval only adapts when a search
// actually ran; liveness-only passes leave it untouched.
func (l *Locator) cycle() {
	l.searchMu.Lock()
	defer l.searchMu.Unlock()

	l.mu.Lock()
	pattern := l.pattern
	if pattern == "" {
		l.mu.Unlock()
		return
	}

	if l.current != 0 {
		h := l.current
		l.mu.Unlock()
		if l.dir.IsValid(h) {
			return
		}
		l.handleLoss(h)
		l.mu.Lock()
	}

	now := time.Now()
	if l.recovering {
		if !l.recovery.canAttempt(now) {
			// Budget spent inside the cooldown: fall back to ordinary
			// searching until the cooldown elapses.
			l.recovering = false
			l.state = StateSearching
			slog.Warn("recovery attempts exhausted", "target", pattern,
				"max_attempts", l.recovery.maxAttempts)
		} else {
			l.recovery.recordAttempt(now)
		}
	}
	l.mu.Unlock()

	l.search(pattern)
}

// handleLoss drops the dead handle and decides whether the next cycles run
// in recovery mode.
func (l *Locator) handleLoss(h platform.Handle) {
	l.mu.Lock()
	proc := l.currentProc
	l.current = 0
	l.currentProc = ""
	if l.recovery.enabled && l.recovery.canAttempt(time.Now()) {
		l.recovering = true
		l.state = StateRecovering
	} else {
		l.state = StateSearching
	}
	l.mu.Unlock()

	slog.Warn("tracked window lost", "handle", uint64(h), "process", proc)
	l.emit(Event{Kind: EventLoss, Handle: h, Process: proc, Message: "window no longer valid"})
}

// search runs the strategies ranked by priority and historic success rate.
// The cache fast path is tried first and touches no strategy counters.
func (l *Locator) search(pattern string) {
	started := time.Now()

	l.mu.Lock()
	l.totalSearches++
	partial := l.partial
	l.mu.Unlock()

	l.emit(Event{Kind: EventSearchStatus, Message: "searching", Progress: 0})

	if h, entry, ok := l.cacheHit(pattern); ok {
		l.finish(h, entry.Name, started, true)
		return
	}

	order := l.ranked()
	for i, s := range order {
		progress := (i + 1) * progressSearchSpan / len(order)
		l.emit(Event{Kind: EventSearchStatus, Message: "trying " + s.String(), Progress: progress})

		h, ok := matchers[s](l.dir, pattern, partial)
		l.mu.Lock()
		l.strategies[s].record(ok)
		l.mu.Unlock()
		if ok {
			slog.Debug("strategy matched", "strategy", s.String(), "handle", uint64(h))
			l.finish(h, "", started, false)
			return
		}
	}

	l.mu.Lock()
	l.failedSearches++
	l.cache.markFailure(pattern, time.Now())
	l.interval.observe(false)
	l.observeSearchTime(started)
	l.mu.Unlock()

	l.emit(Event{Kind: EventSearchStatus, Message: "not found", Progress: 0})
}

// cacheHit checks the process cache for a still-valid handle.
func (l *Locator) cacheHit(pattern string) (platform.Handle, *cacheEntry, bool) {
	l.mu.Lock()
	entry, ok := l.cache.get(pattern)
	if !ok {
		l.mu.Unlock()
		return 0, nil, false
	}
	h := entry.Handle
	l.mu.Unlock()

	if !l.dir.IsValid(h) {
		l.mu.Lock()
		l.cache.markFailure(pattern, time.Now())
		l.mu.Unlock()
		return 0, nil, false
	}
	return h, entry, true
}

// ranked returns the enabled strategies ordered by priority, then success
// rate. The order is recomputed every cycle so effectiveness feeds back.
func (l *Locator) ranked() []Strategy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var order []Strategy
	for i := range l.strategies {
		if l.strategies[i].enabled {
			order = append(order, Strategy(i))
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := &l.strategies[order[a]], &l.strategies[order[b]]
		if sa.priority != sb.priority {
			return sa.priority > sb.priority
		}
		return sa.successRate() > sb.successRate()
	})
	return order
}

// finish records a successful find and announces it.
func (l *Locator) finish(h platform.Handle, cachedName string, started time.Time, fromCache bool) {
	title, _ := l.dir.Title(h)
	proc, procErr := l.dir.ResolveProcess(h)

	l.mu.Lock()
	wasRecovering := l.recovering
	l.recovering = false
	l.current = h
	l.currentProc = proc.Name
	l.state = StateFound
	l.successfulFinds++
	l.interval.observe(true)
	l.observeSearchTime(started)
	now := time.Now()
	if wasRecovering {
		l.recovery.succeed(now)
	}
	key := cachedName
	if key == "" {
		key = l.pattern
	}
	if procErr == nil {
		l.cache.upsert(key, h, title, proc.Path, now)
	}
	l.mu.Unlock()

	slog.Info("target window found", "handle", uint64(h), "process", proc.Name,
		"title", title, "from_cache", fromCache)
	l.emit(Event{Kind: EventSearchStatus, Message: "found", Progress: progressDone})
	l.emit(Event{Kind: EventDiscovery, Handle: h, Process: proc.Name, Title: title})
	if wasRecovering {
		l.emit(Event{Kind: EventRecovered, Handle: h, Process: proc.Name, Title: title})
	}
}

// observeSearchTime folds one cycle's duration into the timing stats.
// Caller holds mu.
func (l *Locator) observeSearchTime(started time.Time) {
	elapsed := time.Since(started)
	l.lastSearchTime = elapsed
	l.totalSearchTime += elapsed
}

// emit delivers an event without ever blocking the search loop.
func (l *Locator) emit(e Event) {
	select {
	case l.events <- e:
	default:
		slog.Debug("locator event dropped, channel full", "kind", e.Kind.String())
	}
}
