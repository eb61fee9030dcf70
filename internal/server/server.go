package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"queuecaller/internal/caller"
)

type Config struct {
	Bind              string
	Port              int
	ReadHeaderTimeout time.Duration
}

// Caller is the sequencer surface driven by the control panel.
type Caller interface {
	Announce(ctx context.Context) error
	TestSound(ctx context.Context) error
	Stop() bool
	Navigate(dir int)
	SetQueue(n int)
	SetOperator(n int)
	SetVolume(ctx context.Context, v float64)
	ClearHistory(ctx context.Context) bool
	History() []caller.Entry
	Snapshot() caller.Snapshot
}

type Event struct {
	Time    time.Time        `json:"time"`
	Type    string           `json:"type"` // notification, history, state
	Message string           `json:"message,omitempty"`
	TTLMs   int64            `json:"ttl_ms,omitempty"`
	State   *caller.Snapshot `json:"state,omitempty"`
	History []caller.Entry   `json:"history,omitempty"`
}

const recentNotifications = 20

type Server struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	caller  Caller
	bg      context.Context
	clients map[chan []byte]struct{}
	recent  []Event

	calling atomic.Bool // an announce started here has not returned yet
}

func New(cfg Config, log zerolog.Logger) *Server {
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8092
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		bg:      context.Background(),
		clients: make(map[chan []byte]struct{}),
		recent:  make([]Event, 0, recentNotifications),
	}
}

// SetCaller attaches the sequencer. It is set after construction because the
// sequencer reports its events back to this server.
func (s *Server) SetCaller(c Caller) {
	s.mu.Lock()
	s.caller = c
	s.mu.Unlock()
}

func (s *Server) Addr() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Bind, s.cfg.Port)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// UI
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/app.js", s.handleAppJS)

	// SSE stream
	mux.HandleFunc("/events", s.handleSSE)

	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/call", s.handleCall)
	mux.HandleFunc("/api/test", s.handleTest)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/navigate", s.handleNavigate)
	mux.HandleFunc("/api/queue", s.handleQueue)
	mux.HandleFunc("/api/operator", s.handleOperator)
	mux.HandleFunc("/api/volume", s.handleVolume)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.bg = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	// shutdown
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	s.log.Info().Str("addr", srv.Addr).Msg("http server listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Notify, HistoryChanged and StateChanged make the server the sequencer's
// event sink.
func (s *Server) Notify(text string, ttl time.Duration) {
	s.Broadcast(Event{Time: time.Now(), Type: "notification", Message: text, TTLMs: ttl.Milliseconds()})
}

func (s *Server) HistoryChanged(entries []caller.Entry) {
	s.Broadcast(Event{Time: time.Now(), Type: "history", History: entries})
}

func (s *Server) StateChanged(snap caller.Snapshot) {
	s.Broadcast(Event{Time: time.Now(), Type: "state", State: &snap})
}

func (s *Server) Broadcast(ev Event) {
	b, _ := json.Marshal(ev)

	s.mu.Lock()
	if ev.Type == "notification" {
		if len(s.recent) >= recentNotifications {
			s.recent = append(s.recent[:0], s.recent[1:]...)
		}
		s.recent = append(s.recent, ev)
	}
	for ch := range s.clients {
		select {
		case ch <- b:
		default:
			// slow client: drop
		}
	}
	s.mu.Unlock()
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	c := s.currentCaller()
	if c == nil {
		http.Error(w, "caller not ready", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCh := make(chan []byte, 64)

	s.mu.Lock()
	s.clients[clientCh] = struct{}{}
	recent := append([]Event(nil), s.recent...)
	s.mu.Unlock()

	// initial: current state, history, then recent notifications
	snap := c.Snapshot()
	initial := []Event{
		{Time: time.Now(), Type: "state", State: &snap},
		{Time: time.Now(), Type: "history", History: c.History()},
	}
	for _, ev := range append(initial, recent...) {
		b, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", b)
	}
	flusher.Flush()

	notify := r.Context().Done()
	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	defer func() {
		s.mu.Lock()
		delete(s.clients, clientCh)
		close(clientCh)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-notify:
			return
		case <-keepAlive.C:
			// comment line keeps connection alive
			fmt.Fprintf(w, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
		case msg := <-clientCh:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	c, ok := s.ready(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.ready(w)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"history": c.History()})
	case http.MethodDelete:
		cleared := c.ClearHistory(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	s.runInBackground(w, r, "announce", &s.calling, func(c Caller, ctx context.Context) error {
		return c.Announce(ctx)
	})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	s.runInBackground(w, r, "test sound", nil, func(c Caller, ctx context.Context) error {
		return c.TestSound(ctx)
	})
}

// runInBackground starts a speaking operation that outlives the request. When
// guard is set, a second request is refused until the first one returns.
func (s *Server) runInBackground(w http.ResponseWriter, r *http.Request, name string, guard *atomic.Bool, fn func(Caller, context.Context) error) {
	if !requirePost(w, r) {
		return
	}
	c, ok := s.ready(w)
	if !ok {
		return
	}
	snap := c.Snapshot()
	if !snap.Available {
		http.Error(w, caller.ErrSpeechUnavailable.Error(), http.StatusConflict)
		return
	}
	if guard != nil {
		if snap.Calling || !guard.CompareAndSwap(false, true) {
			http.Error(w, "a call is already in progress", http.StatusConflict)
			return
		}
	}

	s.mu.Lock()
	ctx := s.bg
	s.mu.Unlock()
	go func() {
		if guard != nil {
			defer guard.Store(false)
		}
		if err := fn(c, ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Str("op", name).Msg("background operation failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"started": name})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	c, ok := s.ready(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": c.Stop()})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	s.handleInt(w, r, "dir", func(c Caller, n int) { c.Navigate(n) })
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.handleInt(w, r, "n", func(c Caller, n int) { c.SetQueue(n) })
}

func (s *Server) handleOperator(w http.ResponseWriter, r *http.Request) {
	s.handleInt(w, r, "n", func(c Caller, n int) { c.SetOperator(n) })
}

func (s *Server) handleInt(w http.ResponseWriter, r *http.Request, param string, apply func(Caller, int)) {
	if !requirePost(w, r) {
		return
	}
	c, ok := s.ready(w)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get(param))
	if err != nil {
		http.Error(w, "invalid "+param, http.StatusBadRequest)
		return
	}
	apply(c, n)
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	c, ok := s.ready(w)
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(r.URL.Query().Get("v"), 64)
	if err != nil {
		http.Error(w, "invalid v", http.StatusBadRequest)
		return
	}
	c.SetVolume(r.Context(), v)
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) currentCaller() Caller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caller
}

func (s *Server) ready(w http.ResponseWriter) (Caller, bool) {
	c := s.currentCaller()
	if c == nil {
		http.Error(w, "caller not ready", http.StatusServiceUnavailable)
		return nil, false
	}
	return c, true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
