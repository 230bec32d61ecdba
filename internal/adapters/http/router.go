package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/contract-analyzer/internal/adapters/export"
	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
	"github.com/kirillkom/contract-analyzer/internal/observability/metrics"
)

const defaultMaxUploadBytes = 32 << 20

type Options struct {
	Service          string
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
	MaxUploadBytes   int64
}

type Router struct {
	analyzer ports.DocumentAnalyzer
	runs     ports.RunReader
	searcher ports.ClauseSearcher
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
	opts     Options
}

func NewRouter(
	analyzer ports.DocumentAnalyzer,
	runs ports.RunReader,
	searcher ports.ClauseSearcher,
	logger *slog.Logger,
	opts Options,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Service == "" {
		opts.Service = "contract-analyzer-api"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Router{
		analyzer: analyzer,
		runs:     runs,
		searcher: searcher,
		logger:   logger,
		opts:     opts,
	}
}

// WithMetrics enables request metrics and the /metrics endpoint.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/analyze", rt.analyzeDocument)
	mux.HandleFunc("GET /v1/runs/{id}", rt.getRun)
	mux.HandleFunc("POST /v1/runs/{id}/query", rt.queryRun)
	mux.HandleFunc("GET /v1/runs/{id}/export.xlsx", rt.exportRun)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.opts.Service, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) analyzeDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(r, "upload exceeds size limit"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody(r, "multipart field 'file' is required"))
		return
	}
	defer file.Close()

	res, err := rt.analyzer.AnalyzeUpload(r.Context(), fileHeader.Filename, file)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if res.Outcome == domain.OutcomeEmpty {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) getRun(w http.ResponseWriter, r *http.Request) {
	res, err := rt.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) queryRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		K        int    `json:"k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "invalid json"))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "question is required"))
		return
	}

	start := time.Now()
	hits, err := rt.searcher.QueryRun(r.Context(), r.PathValue("id"), req.Question, req.K)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordQuery(rt.opts.Service, len(hits), time.Since(start))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"question": req.Question,
		"results":  hits,
	})
}

func (rt *Router) exportRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := rt.runs.GetRun(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, res); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "analysis_"+id+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	switch {
	case isAborted(status):
		rt.logger.Warn("http_request_aborted", "request_id", requestIDFromContext(r.Context()), "status", status, "error", err)
	case status >= http.StatusInternalServerError:
		rt.logger.Error("http_handler_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, status, errorBody(r, err.Error()))
}

func errorBody(r *http.Request, msg string) map[string]string {
	return map[string]string{
		"error":      msg,
		"request_id": requestIDFromContext(r.Context()),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
