// Package web provides the HTTP status and control server for the
// presence-sensor daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/sweeney/presence-sensor/internal/event"
	"github.com/sweeney/presence-sensor/internal/status"
)

// DefaultPushInterval is how often the WebSocket feed sends a status frame.
const DefaultPushInterval = time.Second

const (
	maxBodyBytes = 1 << 10
	writeWait    = 5 * time.Second
)

// Controller accepts a manual network disconnect.
type Controller interface {
	RequestDisconnect(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Addr    string
	Tracker *status.Tracker
	// Sink receives control events from the POST endpoints.
	Sink event.Sink
	// Controller handles manual disconnects. When nil, disconnects are
	// enqueued on Sink directly.
	Controller Controller
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// Instrument wraps the router when set.
	Instrument   func(http.Handler) http.Handler
	PushInterval time.Duration
	Logger       *slog.Logger
}

// Server serves the status page, JSON and WebSocket feeds and the control API.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	sink       event.Sink
	controller Controller
	push       time.Duration
	logger     *slog.Logger

	done     chan struct{}
	doneOnce sync.Once
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// New creates a Server.
func New(opts Options) *Server {
	s := &Server{
		tracker:    opts.Tracker,
		sink:       opts.Sink,
		controller: opts.Controller,
		push:       opts.PushInterval,
		logger:     opts.Logger,
		done:       make(chan struct{}),
	}
	if s.push <= 0 {
		s.push = DefaultPushInterval
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Get("/ws", s.handleWebSocket)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/detection", s.handleDetection)
		r.Post("/grace-period", s.handleGracePeriod)
		r.Post("/network/connect", s.handleConnect)
		r.Post("/network/disconnect", s.handleDisconnect)
	})

	var handler http.Handler = r
	if opts.Instrument != nil {
		handler = opts.Instrument(handler)
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and ends WebSocket feeds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Warn("render status page", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleWebSocket pushes a status frame every push interval until the client
// goes away or the server shuts down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reads are only needed to observe the close handshake.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.push)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, status.FormatJSON(s.tracker.Snapshot())); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

type detectionRequest struct {
	Enabled *bool `json:"enabled"`
}

type gracePeriodRequest struct {
	Seconds *int64 `json:"seconds"`
}

type acceptedResponse struct {
	Accepted string `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	var req detectionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "enabled is required"})
		return
	}
	s.enqueue(w, event.DetectionToggled{Enabled: *req.Enabled})
}

func (s *Server) handleGracePeriod(w http.ResponseWriter, r *http.Request) {
	var req gracePeriodRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Seconds == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "seconds is required"})
		return
	}
	if *req.Seconds <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "seconds must be positive"})
		return
	}
	s.enqueue(w, event.GracePeriodChanged{Seconds: *req.Seconds})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, event.NetworkConnectRequested{})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		s.enqueue(w, event.NetworkDisconnectRequested{})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if err := s.controller.RequestDisconnect(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event queue full"})
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: event.NetworkDisconnectRequested{}.Kind()})
}

func (s *Server) enqueue(w http.ResponseWriter, ev event.Event) {
	if !s.sink.TrySend(ev) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event queue full"})
		return
	}
	s.logger.Info("control request queued", "kind", ev.Kind())
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: ev.Kind()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
