// Package httpadapter exposes the session, document and answer operations
// over HTTP.
package httpadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dkorsak/docqa/internal/config"
	"github.com/dkorsak/docqa/internal/core/domain"
	"github.com/dkorsak/docqa/internal/core/ports"
)

type Router struct {
	cfg            config.Config
	indexer        ports.DocumentIndexer
	answers        ports.AnswerService
	repo           ports.DocumentRepository
	queue          ports.MessageQueue
	metricsHandler http.Handler
	middleware     func(http.Handler) http.Handler
}

type Options struct {
	Indexer        ports.DocumentIndexer
	Answers        ports.AnswerService
	Repo           ports.DocumentRepository
	Queue          ports.MessageQueue
	MetricsHandler http.Handler
	// Middleware wraps the routed handler, e.g. with request metrics.
	Middleware func(http.Handler) http.Handler
}

func NewRouter(cfg config.Config, opts Options) *Router {
	return &Router{
		cfg:            cfg,
		indexer:        opts.Indexer,
		answers:        opts.Answers,
		repo:           opts.Repo,
		queue:          opts.Queue,
		metricsHandler: opts.MetricsHandler,
		middleware:     opts.Middleware,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/sessions/{session_id}/documents", rt.indexDocuments)
	mux.HandleFunc("GET /v1/sessions/{session_id}/documents", rt.listDocuments)
	mux.HandleFunc("POST /v1/sessions/{session_id}/answer", rt.answer)
	mux.HandleFunc("DELETE /v1/sessions/{session_id}", rt.closeSession)
	if rt.metricsHandler != nil {
		mux.Handle("GET /metrics", rt.metricsHandler)
	}

	var handler http.Handler = mux
	if rt.middleware != nil {
		handler = rt.middleware(handler)
	}
	if rt.cfg.APIMaxConcurrent > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.APIMaxConcurrent, rt.cfg.APIOverloadTimeout)
	}
	if rt.cfg.APIRateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type documentPayload struct {
	SourceName string `json:"source_name"`
	Group      string `json:"group,omitempty"`
	Text       string `json:"text"`
}

type indexRequest struct {
	Documents []documentPayload `json:"documents"`
}

func (rt *Router) indexDocuments(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "at least one document is required")
		return
	}

	inputs := make([]domain.DocumentInput, 0, len(req.Documents))
	for _, doc := range req.Documents {
		inputs = append(inputs, domain.DocumentInput{
			SourceName: doc.SourceName,
			Group:      doc.Group,
			Text:       doc.Text,
		})
	}

	report, err := rt.indexer.Index(r.Context(), sessionID, inputs)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	if rt.repo == nil {
		writeError(w, http.StatusNotFound, "document listing is not enabled")
		return
	}
	sessionID := r.PathValue("session_id")
	docs, err := rt.repo.ListBySession(r.Context(), sessionID)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	// A session exists only while it holds documents; zero rows means the
	// session is unknown or already cleared.
	if len(docs) == 0 {
		err := domain.WrapError(domain.ErrSessionNotFound, "list documents", fmt.Errorf("session %s", sessionID))
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

type answerRequest struct {
	Question string `json:"question"`
	History  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history,omitempty"`
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	// nil history means "load from the conversation store"; an explicit
	// history in the request overrides it.
	var history []domain.Turn
	if req.History != nil {
		history = make([]domain.Turn, 0, len(req.History))
		for _, turn := range req.History {
			history = append(history, domain.Turn{Role: turn.Role, Content: turn.Content})
		}
	}

	answer, err := rt.answers.Answer(r.Context(), r.PathValue("session_id"), req.Question, history)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) closeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := rt.indexer.ClearSession(r.Context(), sessionID); err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	if rt.queue != nil {
		// The local state is gone either way; a lost event only delays
		// cleanup on other instances.
		if err := rt.queue.PublishSessionClosed(r.Context(), sessionID); err != nil {
			slog.Warn("session_closed_publish_failed", "session_id", sessionID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
