// Package serve exposes sessions and turns over HTTP with live Server-Sent
// Events updates.
package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/session"
)

const defaultHeartbeat = 15 * time.Second

// maxBodyBytes bounds request bodies; a query is at most a few KB.
const maxBodyBytes = 64 << 10

// Server routes API requests to the session store.
type Server struct {
	store     *session.Store
	logger    *slog.Logger
	heartbeat time.Duration
}

func NewServer(store *session.Store, logger *slog.Logger, heartbeat time.Duration) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Server{store: store, logger: logger, heartbeat: heartbeat}
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)
		r.Get("/{sessionID}", s.handleGetSession)
		r.Post("/{sessionID}/turns", s.handleSubmitTurn)
		r.Delete("/{sessionID}/turn", s.handleCancelTurn)
	})
	r.Route("/api/turns", func(r chi.Router) {
		r.Get("/{turnID}", s.handleGetTurn)
		r.Get("/{turnID}/events", s.handleTurnEvents)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// sessionView is a session with its turns resolved.
type sessionView struct {
	models.Session
	Turns []models.AssistantTurn `json:"turns"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.store.CreateSession()
	s.logger.Info("session created", "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.store.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view := sessionView{Session: sess, Turns: make([]models.AssistantTurn, 0, len(sess.TurnIDs))}
	for _, id := range sess.TurnIDs {
		turn, err := s.store.Turn(id)
		if err != nil {
			continue
		}
		view.Turns = append(view.Turns, turn)
	}
	writeJSON(w, http.StatusOK, view)
}

type submitRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	turn, err := s.store.Submit(sessionID, req.Query)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.logger.Info("turn submitted", "session_id", sessionID, "turn_id", turn.ID)
	writeJSON(w, http.StatusAccepted, turn)
}

func (s *Server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	cancelled, err := s.store.Cancel(sessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if cancelled {
		s.logger.Info("turn cancel requested", "session_id", sessionID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	turn, err := s.store.Turn(chi.URLParam(r, "turnID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// handleTurnEvents streams turn snapshots until the turn settles.
// GET /api/turns/{turnID}/events
func (s *Server) handleTurnEvents(w http.ResponseWriter, r *http.Request) {
	turnID := chi.URLParam(r, "turnID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	updates, release, err := s.store.Subscribe(turnID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": connected to turn %s\n\n", turnID)
	flusher.Flush()

	hb := time.NewTicker(s.heartbeat)
	defer hb.Stop()

	var seq int
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream client disconnected", "turn_id", turnID)
			return
		case snap, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.Error("failed to encode turn", "turn_id", turnID, "error", err)
				return
			}
			seq++
			fmt.Fprintf(w, "id: %d\nevent: turn\ndata: %s\n\n", seq, data)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
