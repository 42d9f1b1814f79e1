package locator

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/wintrack/wintrack/internal/platform"
)

// Strategy identifies one window lookup rule. The enum is the identity used
// everywhere internally; String() is display only.
type Strategy uint8

const (
	StrategyProcessName Strategy = iota
	StrategyProcessPath
	StrategyWindowTitle
	StrategyClassName
	StrategyFuzzy
	numStrategies
)

func (s Strategy) String() string {
	switch s {
	case StrategyProcessName:
		return "process_name"
	case StrategyProcessPath:
		return "process_path"
	case StrategyWindowTitle:
		return "window_title"
	case StrategyClassName:
		return "class_name"
	case StrategyFuzzy:
		return "fuzzy_match"
	default:
		return "unknown"
	}
}

func (s Strategy) defaultPriority() int {
	switch s {
	case StrategyProcessName:
		return 10
	case StrategyProcessPath:
		return 9
	case StrategyWindowTitle:
		return 8
	case StrategyClassName:
		return 7
	case StrategyFuzzy:
		return 6
	default:
		return 0
	}
}

// strategyState tracks per-strategy effectiveness. Owned by the locator and
// guarded by its mutex.
type strategyState struct {
	enabled   bool
	priority  int
	successes int
	failures  int
	lastUsed  time.Time
}

func (s *strategyState) successRate() float64 {
	total := s.successes + s.failures
	if total == 0 {
		return 0
	}
	return float64(s.successes) / float64(total)
}

func (s *strategyState) record(ok bool) {
	s.lastUsed = time.Now()
	if ok {
		s.successes++
	} else {
		s.failures++
	}
}

// matcher resolves a target pattern to a window handle, or reports no match.
// Directory errors count as no match; matchers never abort a search cycle.
type matcher func(dir platform.Directory, pattern string, partial bool) (platform.Handle, bool)

// matchers is the closed dispatch table for the five strategies.
var matchers = [numStrategies]matcher{
	StrategyProcessName: matchProcessName,
	StrategyProcessPath: matchProcessPath,
	StrategyWindowTitle: matchWindowTitle,
	StrategyClassName:   matchClassName,
	StrategyFuzzy:       matchFuzzy,
}

// matchProcessName matches the executable name exactly, then falls back to a
// substring match on the extension-stripped name when partial matching is on.
func matchProcessName(dir platform.Directory, pattern string, partial bool) (platform.Handle, bool) {
	name := filepath.Base(pattern)
	if name == "" || name == "." {
		name = pattern
	}

	if h, ok := findByProcessName(dir, name, false); ok {
		return h, true
	}
	if !partial {
		return 0, false
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base != name {
		if h, ok := findByProcessName(dir, base, true); ok {
			return h, true
		}
	}
	return findByProcessName(dir, name, true)
}

func findByProcessName(dir platform.Directory, name string, substring bool) (platform.Handle, bool) {
	windows, err := dir.Enumerate()
	if err != nil {
		return 0, false
	}
	want := strings.ToLower(name)
	for _, w := range windows {
		proc, err := dir.ResolveProcess(w.Handle)
		if err != nil {
			continue
		}
		got := strings.ToLower(proc.Name)
		if substring {
			if strings.Contains(got, want) {
				return w.Handle, true
			}
		} else if got == want {
			return w.Handle, true
		}
	}
	return 0, false
}

// matchProcessPath matches the full executable path; only attempted when the
// pattern looks like a path.
func matchProcessPath(dir platform.Directory, pattern string, _ bool) (platform.Handle, bool) {
	if !strings.ContainsAny(pattern, `/\`) {
		return 0, false
	}
	windows, err := dir.Enumerate()
	if err != nil {
		return 0, false
	}
	want := strings.ToLower(pattern)
	for _, w := range windows {
		proc, err := dir.ResolveProcess(w.Handle)
		if err != nil {
			continue
		}
		if strings.ToLower(proc.Path) == want {
			return w.Handle, true
		}
	}
	return 0, false
}

func matchWindowTitle(dir platform.Directory, pattern string, _ bool) (platform.Handle, bool) {
	windows, err := dir.Enumerate()
	if err != nil {
		return 0, false
	}
	want := strings.ToLower(pattern)
	for _, w := range windows {
		if strings.Contains(strings.ToLower(w.Title), want) {
			return w.Handle, true
		}
	}
	return 0, false
}

func matchClassName(dir platform.Directory, pattern string, _ bool) (platform.Handle, bool) {
	windows, err := dir.Enumerate()
	if err != nil {
		return 0, false
	}
	want := strings.ToLower(pattern)
	for _, w := range windows {
		class, err := dir.ClassName(w.Handle)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(class), want) {
			return w.Handle, true
		}
	}
	return 0, false
}

// matchFuzzy splits the pattern on separators and matches any token longer
// than two characters as a title substring.
func matchFuzzy(dir platform.Directory, pattern string, _ bool) (platform.Handle, bool) {
	tokens := fuzzyTokens(pattern)
	if len(tokens) == 0 {
		return 0, false
	}
	windows, err := dir.Enumerate()
	if err != nil {
		return 0, false
	}
	for _, w := range windows {
		title := strings.ToLower(w.Title)
		for _, tok := range tokens {
			if strings.Contains(title, tok) {
				return w.Handle, true
			}
		}
	}
	return 0, false
}

func fuzzyTokens(pattern string) []string {
	fields := strings.FieldsFunc(strings.ToLower(pattern), func(r rune) bool {
		switch r {
		case '.', '_', '-', ' ', '/', '\\':
			return true
		}
		return false
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
