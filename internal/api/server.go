package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tmaxmax/go-sse"

	"github.com/callsight/console/internal/batcher"
	"github.com/callsight/console/internal/events"
	"github.com/callsight/console/internal/gateway"
	"github.com/callsight/console/internal/render"
	"github.com/callsight/console/internal/session"
	"github.com/callsight/console/internal/store"
)

const transcriptSSEType = "transcript"

type Server struct {
	sessions *session.Manager
	store    store.DataStore
	batcher  *batcher.Batcher
	gw       *gateway.Gateway
	sseSrv   *sse.Server
	router   chi.Router
	port     int
}

// NewServer wires the HTTP surface: session lifecycle, local operator input,
// transcript projection (poll and SSE), citation lookup, archive queries, and
// the websocket ingress. store may be nil when the console runs without a
// database.
func NewServer(sessions *session.Manager, s store.DataStore, b *batcher.Batcher, gw *gateway.Gateway, port int) *Server {
	srv := &Server{
		sessions: sessions,
		store:    s,
		batcher:  b,
		gw:       gw,
		port:     port,
	}

	srv.sseSrv = &sse.Server{
		OnSession: func(sess *sse.Session) (sse.Subscription, bool) {
			sessionID := sess.Req.URL.Query().Get("session_id")
			if sessionID == "" {
				return sse.Subscription{}, false
			}
			return sse.Subscription{
				Client:      sess,
				LastEventID: sess.LastEventID,
				Topics:      []string{sse.DefaultTopic, sessionTopic(sessionID)},
			}, true
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Post("/sessions", srv.handleCreateSession)
		r.Delete("/sessions/{sessionID}", srv.handleCloseSession)
		r.Get("/sessions/{sessionID}/transcript", srv.handleGetTranscript)
		r.Post("/sessions/{sessionID}/messages", srv.handleSubmitMessage)
		r.Get("/sessions/{sessionID}/citations/{chunkID}", srv.handleGetCitation)
		r.Get("/live", srv.sseSrv.ServeHTTP)
		r.Get("/transcripts", srv.handleListArchived)
		r.Get("/transcripts/{sessionID}", srv.handleGetArchived)
	})
	r.Get("/ws/{sessionID}", srv.handleWebsocket)

	srv.router = r
	return srv
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// PublishTranscript renders the session and pushes the projection to its SSE
// topic. Wired as the manager's on-change callback.
func (s *Server) PublishTranscript(sessionID string) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}

	view := render.Project(sessionID, sess.Snapshot(), sess.Citations())
	payload, err := json.Marshal(view)
	if err != nil {
		slog.Error("failed to marshal transcript view", "session_id", sessionID, "error", err)
		return
	}

	msg := sse.Message{Type: sse.Type(transcriptSSEType)}
	msg.AppendData(string(payload))
	if err := s.sseSrv.Publish(&msg, sessionTopic(sessionID)); err != nil {
		slog.Warn("failed to publish transcript", "session_id", sessionID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "console",
		"buffer_size": s.batcher.BufferLen(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()

	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"ws_url":     fmt.Sprintf("%s://%s/ws/%s", scheme, r.Host, sess.ID),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.Close(r.Context(), sessionID); err != nil {
		slog.Error("close session failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	writeJSON(w, http.StatusOK, render.Project(sessionID, sess.Snapshot(), sess.Citations()))
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	if err := s.sessions.Deliver(sessionID, events.OperatorSubmit{Text: body.Text}); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleGetCitation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	chunkID := chi.URLParam(r, "chunkID")

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	meta, ok := sess.Citations().Get(chunkID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chunk not found"})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleListArchived(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "archive not configured"})
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	transcripts, err := s.store.QueryTranscripts(r.Context(), limit)
	if err != nil {
		slog.Error("query transcripts failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, transcripts)
}

func (s *Server) handleGetArchived(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "archive not configured"})
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	transcript, err := s.store.GetTranscript(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transcript not found"})
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, ok := s.sessions.Get(sessionID); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.gw.ServeSession(w, r, sessionID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
