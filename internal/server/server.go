// Package server provides HTTP and WebSocket handlers
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/wintrack/wintrack/internal/errors"
	"github.com/wintrack/wintrack/internal/locator"
	"github.com/wintrack/wintrack/internal/pipeline"
	"github.com/wintrack/wintrack/internal/platform"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type WindowEventMessage struct {
	Type    string `json:"type"`
	Handle  uint64 `json:"handle,omitempty"`
	Process string `json:"process,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

type SearchStatusMessage struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

type CaptureEventMessage struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	OK      bool   `json:"ok"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message,omitempty"`
}

type StatsMessage struct {
	Type             string  `json:"type"`
	Target           string  `json:"target,omitempty"`
	Captured         uint64  `json:"captured"`
	Displayed        uint64  `json:"displayed"`
	Dropped          uint64  `json:"dropped"`
	AvgProcessMillis float64 `json:"avg_process_ms"`
	FPS              int     `json:"fps"`
	LastError        string  `json:"last_error,omitempty"`
}

type StartCaptureMessage struct {
	Type    string `json:"type"`
	Target  string `json:"target"`
	Partial bool   `json:"partial"`
}

type SetFPSMessage struct {
	Type string `json:"type"`
	FPS  int    `json:"fps"`
}

type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Finder is the locator surface the server exposes.
type Finder interface {
	Events() <-chan locator.Event
	ForceSearch() (platform.Handle, bool)
	SearchStats() locator.Stats
	TargetPattern() string
}

// Streamer is the pipeline surface the server exposes.
type Streamer interface {
	Events() <-chan pipeline.Event
	StartWindowCapture(pattern string, partial bool) bool
	StartMonitorCapture(index int) bool
	StopCapture()
	SetFPS(fps int)
	Stats() pipeline.StatsSnapshot
	Lease(name string) *pipeline.Lease
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	dir    platform.Directory
	finder Finder
	stream Streamer

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a new server and starts the event broadcasters.
func New(dir platform.Directory, finder Finder, stream Streamer) *Server {
	s := &Server{
		dir:        dir,
		finder:     finder,
		stream:     stream,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	// Start broadcasters
	go s.broadcastFinderEvents()
	go s.broadcastStreamEvents()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoints
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/ws/frames", s.handleFrameStream)

	// REST API
	mux.HandleFunc("GET /api/windows", s.handleWindows)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/capture/start", s.handleCaptureStart)
	mux.HandleFunc("POST /api/capture/stop", s.handleCaptureStop)
	mux.HandleFunc("POST /api/fps", s.handleSetFPS)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	slog.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			slog.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			slog.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, RateLimitedMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "start_capture":
			var start StartCaptureMessage
			if err := json.Unmarshal(msg, &start); err != nil {
				continue
			}
			// The outcome arrives on the broadcast channel; the blocking
			// start must not stall this read loop.
			go s.stream.StartWindowCapture(start.Target, start.Partial)
		case "stop_capture":
			s.stream.StopCapture()
		case "set_fps":
			var set SetFPSMessage
			if err := json.Unmarshal(msg, &set); err != nil {
				continue
			}
			s.stream.SetFPS(set.FPS)
		case "force_search":
			go s.finder.ForceSearch()
		}
	}
}

// handleFrameStream streams processed frames as binary JPEG messages over a
// dedicated lease, one per connection.
func (s *Server) handleFrameStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	lease := s.stream.Lease("")
	defer lease.Release()

	// Release the lease as soon as the client goes away so Next unblocks.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer lease.Release()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	slog.Info("frame stream connected", "remote", r.RemoteAddr, "lease", lease.Name())
	var buf bytes.Buffer
	for {
		frame, ok := lease.Next()
		if !ok {
			return
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			slog.Error("frame encode failed", "error", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageBinary, buf.Bytes()); err != nil {
			slog.Debug("frame write failed", "error", err)
			return
		}
	}
}

func (s *Server) broadcastFinderEvents() {
	for evt := range s.finder.Events() {
		var msg interface{}
		switch evt.Kind {
		case locator.EventSearchStatus:
			msg = SearchStatusMessage{Type: evt.Kind.String(), Message: evt.Message, Progress: evt.Progress}
		default:
			msg = WindowEventMessage{
				Type:    evt.Kind.String(),
				Handle:  uint64(evt.Handle),
				Process: evt.Process,
				Title:   evt.Title,
				Message: evt.Message,
			}
		}
		s.broadcast(msg)
	}
}

func (s *Server) broadcastStreamEvents() {
	for evt := range s.stream.Events() {
		var msg interface{}
		switch evt.Kind {
		case pipeline.EventStats:
			msg = StatsMessage{
				Type:             evt.Kind.String(),
				Target:           evt.Target,
				Captured:         evt.Stats.Captured,
				Displayed:        evt.Stats.Displayed,
				Dropped:          evt.Stats.Dropped,
				AvgProcessMillis: evt.Stats.AvgProcessMillis,
				FPS:              evt.Stats.FPS,
				LastError:        evt.Stats.LastError,
			}
		default:
			msg = CaptureEventMessage{
				Type:    evt.Kind.String(),
				Target:  evt.Target,
				OK:      evt.OK,
				Op:      evt.Op,
				Message: evt.Message,
			}
		}
		s.broadcast(msg)
	}
}

func (s *Server) broadcast(msg interface{}) {
	s.mu.RLock()
	for conn := range s.conns {
		go func(c *websocket.Conn, m interface{}) {
			_ = wsjson.Write(context.Background(), c, m)
		}(conn, msg)
	}
	s.mu.RUnlock()
}

type windowEntry struct {
	Handle  uint64 `json:"handle"`
	Title   string `json:"title"`
	Process string `json:"process,omitempty"`
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.dir.Enumerate()
	if err != nil {
		// No display backend is a known degraded mode; anything else is on us.
		status := http.StatusInternalServerError
		if apperrors.IsCode(err, apperrors.CodeDirectoryUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	entries := make([]windowEntry, 0, len(windows))
	for _, win := range windows {
		title := win.Title
		if len(title) > WindowTitleLimit {
			title = title[:WindowTitleLimit]
		}
		entry := windowEntry{Handle: uint64(win.Handle), Title: title}
		if proc, err := s.dir.ResolveProcess(win.Handle); err == nil {
			entry.Process = proc.Name
		}
		entries = append(entries, entry)
	}

	writeJSON(w, map[string]interface{}{"windows": entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	search := s.finder.SearchStats()
	capStats := s.stream.Stats()

	strategies := make([]map[string]interface{}, 0, len(search.Strategies))
	for _, st := range search.Strategies {
		strategies = append(strategies, map[string]interface{}{
			"strategy":     st.Strategy,
			"enabled":      st.Enabled,
			"priority":     st.Priority,
			"successes":    st.Successes,
			"failures":     st.Failures,
			"success_rate": st.SuccessRate,
		})
	}

	writeJSON(w, map[string]interface{}{
		"search": map[string]interface{}{
			"state":             search.State.String(),
			"target":            s.finder.TargetPattern(),
			"total_searches":    search.TotalSearches,
			"successful_finds":  search.SuccessfulFinds,
			"failed_searches":   search.FailedSearches,
			"last_search_ms":    search.LastSearchTime.Milliseconds(),
			"avg_search_ms":     search.AvgSearchTime.Milliseconds(),
			"search_interval_s": search.SearchInterval.Seconds(),
			"cache_size":        search.CacheSize,
			"recovery_attempts": search.RecoveryAttempts,
			"strategies":        strategies,
		},
		"capture": map[string]interface{}{
			"captured":       capStats.Captured,
			"displayed":      capStats.Displayed,
			"dropped":        capStats.Dropped,
			"avg_process_ms": capStats.AvgProcessMillis,
			"fps":            capStats.FPS,
			"last_error":     capStats.LastError,
		},
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	h, found := s.finder.ForceSearch()
	writeJSON(w, map[string]interface{}{
		"found":  found,
		"handle": uint64(h),
	})
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target  string `json:"target"`
		Monitor *int   `json:"monitor"`
		Partial bool   `json:"partial"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var ok bool
	switch {
	case req.Monitor != nil:
		ok = s.stream.StartMonitorCapture(*req.Monitor)
	case req.Target != "":
		ok = s.stream.StartWindowCapture(req.Target, req.Partial)
	default:
		http.Error(w, "target or monitor required", http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{"started": ok})
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	s.stream.StopCapture()
	writeJSON(w, map[string]string{"status": "capture_stopped"})
}

func (s *Server) handleSetFPS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FPS int `json:"fps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.stream.SetFPS(req.FPS)
	writeJSON(w, map[string]interface{}{"fps": req.FPS})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
