// Package gateway exposes the triage surface over HTTP: a REST API for
// listing, replying to and dismissing messages, a WebSocket stream of store
// snapshots, the SMS webhook mount, Prometheus metrics and a health check.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/dispatch"
	"github.com/nextlevelbuilder/veilgate/internal/integrations"
	"github.com/nextlevelbuilder/veilgate/internal/message"
	"github.com/nextlevelbuilder/veilgate/internal/store"
)

// Config holds the listener settings. Token, when set, gates the API and
// WebSocket behind bearer auth; it comes from the environment.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	Token          string
}

// Server is the HTTP surface.
type Server struct {
	cfg        Config
	store      store.MessageStore
	dispatcher *dispatch.Dispatcher
	scheduler  *integrations.Scheduler
	bus        *bus.Bus
	smsHook    http.Handler

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer wires the surface. smsHook is optional; nil leaves the webhook
// unmounted.
func NewServer(cfg Config, st store.MessageStore, d *dispatch.Dispatcher, sched *integrations.Scheduler, b *bus.Bus, smsHook http.Handler) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		dispatcher: d,
		scheduler:  sched,
		bus:        b,
		smsHook:    smsHook,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the WebSocket origin against the allowlist. No
// configured origins means allow all; an empty Origin header (non-browser
// clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range s.cfg.AllowedOrigins {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: origin rejected", "origin", origin)
	return false
}

// BuildMux registers all routes.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/messages", s.auth(s.handleList))
	mux.HandleFunc("GET /api/messages/{id}", s.auth(s.handleGet))
	mux.HandleFunc("POST /api/messages/{id}/reply", s.auth(s.handleReply))
	mux.HandleFunc("POST /api/messages/{id}/dismiss", s.auth(s.handleDismiss))
	mux.HandleFunc("POST /api/sync", s.auth(s.handleSync))
	mux.HandleFunc("GET /ws", s.auth(s.handleWebSocket))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.smsHook != nil {
		mux.Handle("POST /webhooks/sms", s.smsHook)
	}
	return mux
}

// Start listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.BuildMux()}

	slog.Info("gateway: starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != s.cfg.Token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if bucket := r.URL.Query().Get("bucket"); bucket != "" {
		rows = store.FilterBucket(rows, message.ParseBucket(bucket))
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := rows[:0]
		for _, m := range rows {
			if string(m.Status) == status {
				filtered = append(filtered, m)
			}
		}
		rows = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": rows})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if r.Body != nil {
		// An empty body means "send the top candidate".
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Text == "" {
		m, err := s.store.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "message not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(m.GeneratedReplies) == 0 {
			writeError(w, http.StatusBadRequest, "no reply text given and no candidates available")
			return
		}
		body.Text = m.GeneratedReplies[0]
	}

	err := s.dispatcher.Dispatch(r.Context(), id, body.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, dispatch.ErrNotReady):
		writeError(w, http.StatusConflict, "message not yet processed")
	case errors.Is(err, dispatch.ErrNoDeliveryChannel):
		writeError(w, http.StatusBadGateway, "no delivery channel; message stays queued")
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.dispatcher.Dismiss(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.SyncNow(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// wsFrame is what flows to WebSocket clients: full snapshots on every store
// change plus wake pings for dispatch outcomes.
type wsFrame struct {
	Type     string            `json:"type"`
	Messages []message.Message `json:"messages,omitempty"`
	Wake     *bus.WakeEvent    `json:"wake,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	slog.Info("gateway: websocket client connected", "conn", connID, "remote", r.RemoteAddr)
	defer slog.Info("gateway: websocket client disconnected", "conn", connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine: only to notice the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshots := s.store.ObserveAll(ctx)
	wake, cancelWake := s.bus.SubscribeWake()
	defer cancelWake()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsFrame{Type: "snapshot", Messages: snapshot}); err != nil {
				return
			}
		case ev, ok := <-wake:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsFrame{Type: "wake", Wake: &ev}); err != nil {
				return
			}
		}
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
