// Package httpapi exposes ingestion and retrieval over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"code-query-agent/application"
	"code-query-agent/domain"
	"code-query-agent/infrastructure/observability"
	"code-query-agent/infrastructure/schema"
)

const maxBodyBytes = 1 << 20

// Ingester populates a repository's collection.
type Ingester interface {
	Ingest(ctx context.Context, user, repo string) (application.IngestResult, error)
}

// Querier searches a repository's collection and optionally answers from it.
type Querier interface {
	Query(ctx context.Context, user, repo, text string) (domain.QueryResult, error)
	Answer(ctx context.Context, user, repo, text string) (application.AnswerResult, error)
}

// AgentChatter holds threaded conversations with the code agent.
type AgentChatter interface {
	Chat(ctx context.Context, threadID, user, repo, message string) (application.AgentReply, error)
}

// HandlerOptions toggles optional routes.
type HandlerOptions struct {
	MetricsPath string // empty disables /metrics
	Agent       AgentChatter
}

// Handler serves the HTTP API.
type Handler struct {
	ingester Ingester
	querier  Querier
	logger   *slog.Logger
	opts     HandlerOptions
}

// NewHandler creates a new Handler.
func NewHandler(ingester Ingester, querier Querier, logger *slog.Logger, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ingester: ingester, querier: querier, logger: logger, opts: opts}
}

// Routes returns the mux wrapped in the default middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h.ping)
	mux.HandleFunc("GET /embed-and-populate/{user}/{repo}", h.embedAndPopulate)
	mux.HandleFunc("POST /embed-and-populate/{user}/{repo}", h.embedAndPopulate)
	mux.HandleFunc("GET /embed-and-populate/{rest...}", h.missingRepository)
	mux.HandleFunc("POST /embed-and-populate/{rest...}", h.missingRepository)
	mux.HandleFunc("POST /query/{user}/{repo}", h.query)
	mux.HandleFunc("POST /query/{rest...}", h.missingRepository)
	mux.HandleFunc("POST /answer/{user}/{repo}", h.answer)
	mux.HandleFunc("POST /answer/{rest...}", h.missingRepository)
	mux.HandleFunc("POST /agent/{user}/{repo}", h.agentChat)
	mux.HandleFunc("POST /agent/{rest...}", h.missingRepository)
	mux.HandleFunc("GET /schemas/{name}", h.schemaDocument)
	if h.opts.MetricsPath != "" {
		mux.Handle("GET "+h.opts.MetricsPath, observability.Handler())
	}

	return h.middleware(mux)
}

// middleware wraps next in the default chain. Metrics sit outside Recovery so
// that panicking requests are counted as 5xx.
func (h *Handler) middleware(next http.Handler) http.Handler {
	return Chain(
		RequestID(),
		Logging(h.logger),
		observability.MetricsMiddleware,
		Recovery(h.logger),
	)(next)
}

type errorResponse struct {
	Error string `json:"error"`
}

type ingestResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type agentRequest struct {
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) embedAndPopulate(w http.ResponseWriter, r *http.Request) {
	result, err := h.ingester.Ingest(r.Context(), r.PathValue("user"), r.PathValue("repo"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Status: "success", Count: result.Count})
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.querier.Query(r.Context(), r.PathValue("user"), r.PathValue("repo"), req.Query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.querier.Answer(r.Context(), r.PathValue("user"), r.PathValue("repo"), req.Query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) agentChat(w http.ResponseWriter, r *http.Request) {
	if h.opts.Agent == nil {
		h.writeError(w, r, domain.ErrAgentDisabled)
		return
	}
	var req agentRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reply, err := h.opts.Agent.Chat(r.Context(), req.ThreadID, r.PathValue("user"), r.PathValue("repo"), req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) schemaDocument(w http.ResponseWriter, r *http.Request) {
	s, err := schema.Lookup(r.PathValue("name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) missingRepository(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, domain.ErrMissingRepository)
}

// badRequestError marks malformed request bodies.
type badRequestError struct{ err error }

func (e badRequestError) Error() string { return "invalid request body: " + e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

// decodeQuery reads {"query": "..."}. An empty body decodes to an empty query.
func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, error) {
	var req queryRequest
	err := decodeBody(w, r, &req)
	return req, err
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return badRequestError{err: err}
	}
	return nil
}

// writeError maps err to a status code. Client mistakes are 400, the rest 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var badBody badRequestError
	switch {
	case errors.Is(err, domain.ErrMissingQuery):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No query provided"})
	case errors.Is(err, domain.ErrMissingThread), errors.Is(err, domain.ErrMissingMessage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error() + " in request body"})
	case errors.Is(err, domain.ErrAgentDisabled):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.As(err, &badBody), domain.IsRequestError(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
