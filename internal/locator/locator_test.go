package locator

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/wintrack/wintrack/internal/config"
	"github.com/wintrack/wintrack/internal/platform"
)

type fakeWindow struct {
	handle platform.Handle
	title  string
	class  string
	proc   platform.ProcessInfo
	valid  bool
}

// fakeDirectory is a scriptable window directory.
type fakeDirectory struct {
	mu      sync.Mutex
	windows []*fakeWindow
}

func (d *fakeDirectory) add(w *fakeWindow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = append(d.windows, w)
}

func (d *fakeDirectory) find(h platform.Handle) *fakeWindow {
	for _, w := range d.windows {
		if w.handle == h {
			return w
		}
	}
	return nil
}

func (d *fakeDirectory) invalidate(h platform.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w := d.find(h); w != nil {
		w.valid = false
	}
}

func (d *fakeDirectory) Enumerate() ([]platform.WindowInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []platform.WindowInfo
	for _, w := range d.windows {
		if w.valid {
			out = append(out, platform.WindowInfo{Handle: w.handle, Title: w.title})
		}
	}
	return out, nil
}

func (d *fakeDirectory) IsValid(h platform.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.find(h)
	return w != nil && w.valid
}

func (d *fakeDirectory) ResolveProcess(h platform.Handle) (platform.ProcessInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w := d.find(h); w != nil {
		return w.proc, nil
	}
	return platform.ProcessInfo{}, errNoWindow
}

func (d *fakeDirectory) Title(h platform.Handle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w := d.find(h); w != nil {
		return w.title, nil
	}
	return "", errNoWindow
}

func (d *fakeDirectory) ClassName(h platform.Handle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w := d.find(h); w != nil {
		return w.class, nil
	}
	return "", errNoWindow
}

func (d *fakeDirectory) Rect(platform.Handle) (image.Rectangle, error) {
	return image.Rect(0, 0, 800, 600), nil
}

func (d *fakeDirectory) Close() error { return nil }

var errNoWindow = errors.New("no such window")

func testConfig(pattern string) Config {
	return Config{
		TargetPattern: pattern,
		PartialMatch:  true,
		Strategies: config.StrategyToggles{
			ProcessName: true,
			ProcessPath: true,
			WindowTitle: true,
			ClassName:   true,
			FuzzyMatch:  true,
		},
		BaseInterval:        time.Second,
		MinInterval:         500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		EnableRecovery:      true,
		MaxRecoveryAttempts: 5,
		RecoveryCooldown:    10 * time.Second,
	}
}

func notepadDirectory() *fakeDirectory {
	dir := &fakeDirectory{}
	dir.add(&fakeWindow{
		handle: 100,
		title:  "Untitled - Notepad",
		class:  "Notepad",
		proc:   platform.ProcessInfo{Name: "notepad.exe", Path: `C:\Windows\notepad.exe`},
		valid:  true,
	})
	return dir
}

func TestForceSearchFindsByProcessName(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("notepad.exe"))

	h, ok := l.ForceSearch()
	if !ok {
		t.Fatal("expected the target window to be found")
	}
	if h != 100 {
		t.Errorf("handle = %d, want 100", h)
	}

	stats := l.SearchStats()
	if stats.SuccessfulFinds != 1 {
		t.Errorf("SuccessfulFinds = %d, want 1", stats.SuccessfulFinds)
	}
	if stats.CacheSize != 1 {
		t.Errorf("CacheSize = %d, want 1", stats.CacheSize)
	}
	if stats.State != StateFound {
		t.Errorf("State = %v, want %v", stats.State, StateFound)
	}
}

func TestFirstStrategySuccessLeavesOthersUntouched(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("notepad.exe"))
	l.ForceSearch()

	for _, s := range l.SearchStats().Strategies {
		if s.Strategy == StrategyProcessName.String() {
			if s.Successes != 1 || s.Failures != 0 {
				t.Errorf("%s counters = %d/%d, want 1/0", s.Strategy, s.Successes, s.Failures)
			}
			continue
		}
		if s.Successes != 0 || s.Failures != 0 {
			t.Errorf("%s counters = %d/%d, want untouched", s.Strategy, s.Successes, s.Failures)
		}
	}
}

func TestFailedSearchRecordsEveryTriedStrategy(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("nothing-matches-this"))

	if _, ok := l.ForceSearch(); ok {
		t.Fatal("expected no match")
	}

	stats := l.SearchStats()
	if stats.FailedSearches != 1 {
		t.Errorf("FailedSearches = %d, want 1", stats.FailedSearches)
	}
	for _, s := range stats.Strategies {
		if s.Failures != 1 {
			t.Errorf("%s failures = %d, want 1", s.Strategy, s.Failures)
		}
	}
}

func TestCacheFastPathSkipsStrategies(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("notepad.exe"))
	l.ForceSearch()

	// Drop the tracked handle so the next cycle searches again; the window
	// itself stays valid, so the cache entry must satisfy it.
	l.mu.Lock()
	l.current = 0
	l.mu.Unlock()
	l.ForceSearch()

	stats := l.SearchStats()
	if stats.SuccessfulFinds != 2 {
		t.Fatalf("SuccessfulFinds = %d, want 2", stats.SuccessfulFinds)
	}
	for _, s := range stats.Strategies {
		if s.Strategy == StrategyProcessName.String() && s.Successes != 1 {
			t.Errorf("cache hit should not re-run strategies, successes = %d", s.Successes)
		}
	}
}

func TestDiscoveryEventEmitted(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("notepad.exe"))
	l.ForceSearch()

	found := false
	for {
		select {
		case e := <-l.Events():
			if e.Kind == EventDiscovery {
				found = true
				if e.Process != "notepad.exe" {
					t.Errorf("Process = %q, want notepad.exe", e.Process)
				}
				if e.Title != "Untitled - Notepad" {
					t.Errorf("Title = %q", e.Title)
				}
			}
		default:
			if !found {
				t.Error("no discovery event emitted")
			}
			return
		}
	}
}

func TestLossEntersRecoveryAndRefindsWindow(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("notepad.exe"))
	l.ForceSearch()

	dir.invalidate(100)
	dir.add(&fakeWindow{
		handle: 200,
		title:  "readme.txt - Notepad",
		proc:   platform.ProcessInfo{Name: "notepad.exe", Path: `C:\Windows\notepad.exe`},
		valid:  true,
	})

	h, ok := l.ForceSearch()
	if !ok || h != 200 {
		t.Fatalf("ForceSearch = %d,%v, want 200,true", h, ok)
	}

	var sawLoss, sawRecovered bool
	for done := false; !done; {
		select {
		case e := <-l.Events():
			switch e.Kind {
			case EventLoss:
				sawLoss = true
			case EventRecovered:
				sawRecovered = true
			}
		default:
			done = true
		}
	}
	if !sawLoss {
		t.Error("no loss event emitted")
	}
	if !sawRecovered {
		t.Error("no recovered event emitted")
	}
}

func TestRecoveryAttemptsBoundedWithinCooldown(t *testing.T) {
	dir := notepadDirectory()
	cfg := testConfig("notepad.exe")
	cfg.MaxRecoveryAttempts = 3
	l := New(dir, cfg)
	l.ForceSearch()

	dir.invalidate(100)
	for i := 0; i < 10; i++ {
		l.ForceSearch()
	}

	stats := l.SearchStats()
	if stats.RecoveryAttempts > 3 {
		t.Errorf("RecoveryAttempts = %d, want at most 3", stats.RecoveryAttempts)
	}
	if stats.State != StateSearching {
		t.Errorf("State = %v, want %v after exhausted recovery", stats.State, StateSearching)
	}
}

func TestConfigureNewTargetClearsHistory(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("notepad.exe"))
	l.ForceSearch()

	if l.SearchStats().CacheSize != 1 {
		t.Fatal("expected a cache entry before reconfigure")
	}

	l.Configure(testConfig("calc.exe"))
	stats := l.SearchStats()
	if stats.CacheSize != 0 {
		t.Errorf("CacheSize = %d, want 0 after target change", stats.CacheSize)
	}
	if _, ok := l.CurrentHandle(); ok {
		t.Error("handle should be dropped on target change")
	}
}

func TestStartStopBounded(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("notepad.exe"))
	l.Start()
	l.Start() // second start is a no-op

	start := time.Now()
	l.Stop()
	l.Stop()
	if elapsed := time.Since(start); elapsed > StopWait+time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	if l.SearchStats().State != StateIdle {
		t.Errorf("State = %v, want idle", l.SearchStats().State)
	}
}

func TestResolvePrefersCurrentHandle(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("notepad.exe"))
	l.ForceSearch()

	h, ok := l.Resolve("some-other-pattern", true)
	if !ok || h != 100 {
		t.Errorf("Resolve = %d,%v, want tracked handle 100", h, ok)
	}
}

func TestResolveHonorsDisabledStrategies(t *testing.T) {
	dir := notepadDirectory()
	cfg := testConfig("notepad.exe")
	cfg.Strategies = config.StrategyToggles{}
	l := New(dir, cfg)

	if h, ok := l.Resolve("notepad.exe", true); ok {
		t.Errorf("Resolve = %d, want no match with every strategy disabled", h)
	}
}

func TestIntervalAdaptsWithinBounds(t *testing.T) {
	a := newAdaptiveInterval(time.Second, 500*time.Millisecond, 30*time.Second)
	for i := 0; i < 100; i++ {
		a.observe(true)
		if a.current() > 30*time.Second {
			t.Fatalf("interval %v exceeded max", a.current())
		}
	}
	if a.current() != 30*time.Second {
		t.Errorf("interval = %v, want capped at max", a.current())
	}
	for i := 0; i < 100; i++ {
		a.observe(false)
		if a.current() < 500*time.Millisecond {
			t.Fatalf("interval %v fell below min", a.current())
		}
	}
	if a.current() != 500*time.Millisecond {
		t.Errorf("interval = %v, want floored at min", a.current())
	}
}

func TestCachePurgesStaleEntries(t *testing.T) {
	c := newProcessCache()
	now := time.Now()
	c.upsert("old.exe", 1, "Old", "/bin/old", now.Add(-CacheTTL-time.Minute))
	c.upsert("fresh.exe", 2, "Fresh", "/bin/fresh", now)

	if c.size() != 1 {
		t.Errorf("size = %d, want 1 after purge", c.size())
	}
	if _, ok := c.get("old.exe"); ok {
		t.Error("stale entry survived the purge")
	}
	if _, ok := c.get("fresh.exe"); !ok {
		t.Error("fresh entry was purged")
	}
}

func TestCacheUpdateRefreshesEntry(t *testing.T) {
	c := newProcessCache()
	now := time.Now()
	c.upsert("app.exe", 1, "App", "/bin/app", now)
	c.upsert("app.exe", 2, "App v2", "/opt/app", now)

	e, _ := c.get("app.exe")
	if e.Handle != 2 || e.Title != "App v2" || e.Path != "/opt/app" {
		t.Errorf("entry = %+v, want the latest sighting throughout", e)
	}
}

func TestCacheReliabilityClamped(t *testing.T) {
	c := newProcessCache()
	now := time.Now()
	for i := 0; i < 10; i++ {
		c.upsert("app.exe", 1, "App", "/bin/app", now)
	}
	e, _ := c.get("app.exe")
	if e.Reliability > 1.0 {
		t.Errorf("reliability = %v, want capped at 1.0", e.Reliability)
	}
	for i := 0; i < 10; i++ {
		c.markFailure("app.exe", now)
	}
	e, _ = c.get("app.exe")
	if e.Reliability < 0.0 {
		t.Errorf("reliability = %v, want floored at 0.0", e.Reliability)
	}
}

func TestRankingFavorsSuccessRateWithinPriority(t *testing.T) {
	dir := notepadDirectory()
	l := New(dir, testConfig("notepad.exe"))

	// Equalize priorities so success rate decides, then bias one strategy.
	l.mu.Lock()
	for i := range l.strategies {
		l.strategies[i].priority = 5
	}
	l.strategies[StrategyFuzzy].record(true)
	l.mu.Unlock()

	order := l.ranked()
	if order[0] != StrategyFuzzy {
		t.Errorf("order[0] = %v, want fuzzy first on success rate", order[0])
	}
}

func TestFuzzyTokens(t *testing.T) {
	tokens := fuzzyTokens("my-app_v2.some thing.exe")
	want := map[string]bool{"app": true, "some": true, "thing": true, "exe": true}
	for _, tok := range tokens {
		if !want[tok] {
			t.Errorf("unexpected token %q", tok)
		}
		delete(want, tok)
	}
	for tok := range want {
		t.Errorf("missing token %q", tok)
	}
}
