package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/register-extractor/internal/cache"
	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/extract"
	"github.com/spherical/register-extractor/internal/observability"
	"github.com/spherical/register-extractor/internal/pdf"
	"github.com/spherical/register-extractor/internal/stream"
)

// Form fields of the upload endpoints.
const (
	fieldFile         = "file"
	fieldPageRanges   = "pageRanges"
	fieldExisting     = "existingRegisters"
	fieldFullDocument = "fullDocument"

	multipartMemory = 8 << 20
)

// Handler serves the extraction API.
type Handler struct {
	orch        *extract.Orchestrator
	analyzer    *extract.Analyzer
	validator   *pdf.Validator
	uploads     *UploadRegistry
	ready       func(ctx context.Context) error
	maxUpload   int64
	heartbeat   time.Duration
	serviceName string
	logger      *observability.Logger
}

// UploadResponse acknowledges an upload awaiting its subscriber.
type UploadResponse struct {
	Success   bool   `json:"success"`
	UploadID  string `json:"uploadId"`
	EventsURL string `json:"eventsUrl"`
	Filename  string `json:"filename"`
}

// AnalyzeResponse is the analysis-only result.
type AnalyzeResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	*domain.DocumentAnalysis
}

// CacheStatsResponse reports result cache counters.
type CacheStatsResponse struct {
	Success        bool         `json:"success"`
	Enabled        bool         `json:"enabled"`
	Stats          *cache.Stats `json:"stats,omitempty"`
	PendingUploads int          `json:"pendingUploads"`
	ActiveUploads  int          `json:"activeUploads"`
}

// Extract handles POST /api/pdf/extract. Progress is streamed in the
// response body of this request.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	req, err := h.readExtractRequest(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	run, err := h.orch.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	log := h.logger.WithContext(r.Context()).WithRun(run.ID)
	log.Info().
		Str("filename", req.Filename).
		Int("bytes", len(req.Data)).
		Bool("reextraction", req.Existing != nil).
		Msg("Extraction started")

	h.pump(r.Context(), run, stream.NewChunkedWriter(w), 0, log)
}

// CreateUpload handles POST /api/pdf/uploads, the first half of
// upload-then-subscribe. The run starts when the events stream is opened.
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	req, err := h.readExtractRequest(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.orch.Validate(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	p := h.uploads.Register(req)
	h.logger.WithContext(r.Context()).Info().
		Str("upload_id", p.ID).
		Str("filename", req.Filename).
		Msg("Upload registered")

	writeJSON(w, http.StatusCreated, UploadResponse{
		Success:   true,
		UploadID:  p.ID,
		EventsURL: fmt.Sprintf("/api/pdf/uploads/%s/events", p.ID),
		Filename:  req.Filename,
	})
}

// UploadEvents handles GET /api/pdf/uploads/{id}/events.
func (h *Handler) UploadEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.uploads.Claim(id)
	if !ok {
		h.writeStatus(w, http.StatusNotFound, "upload not found or already subscribed", "")
		return
	}

	run, err := h.orch.Start(r.Context(), p.Request)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.uploads.Track(id, run)
	defer h.uploads.Untrack(id)

	log := h.logger.WithContext(r.Context()).WithRun(run.ID)
	log.Info().Str("upload_id", id).Msg("Subscriber attached, extraction started")

	h.pump(r.Context(), run, stream.NewPushWriter(w), h.heartbeat, log)
}

// CancelUpload handles DELETE /api/pdf/uploads/{id}.
func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.uploads.Cancel(id) {
		h.writeStatus(w, http.StatusNotFound, "upload not found", "")
		return
	}
	h.logger.WithContext(r.Context()).Info().Str("upload_id", id).Msg("Upload cancelled")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cancelled": true})
}

func (h *Handler) pump(ctx context.Context, run *extract.Run, w stream.EventWriter, heartbeat time.Duration, log *observability.Logger) {
	terminal, err := stream.Pump(ctx, run.Events(), w, heartbeat)
	if err != nil {
		run.Cancel()
		log.Info().Err(err).Msg("Stream consumer went away, run cancelled")
		return
	}
	if terminal == nil {
		log.Info().Msg("Stream closed without a terminal event")
	}
}

// Analyze handles POST /api/pdf/analyze: page scores and hints without deep extraction.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	filename, data, err := h.readFile(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	analysis, err := h.analyzer.Analyze(r.Context(), filename, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Success:          true,
		Filename:         filename,
		DocumentAnalysis: analysis,
	})
}

// CacheStats handles GET /api/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	resp := CacheStatsResponse{
		Success:        true,
		PendingUploads: h.uploads.Pending(),
		ActiveUploads:  h.uploads.Active(),
	}
	if rc := h.orch.Results(); rc != nil {
		s := rc.Stats()
		resp.Enabled = true
		resp.Stats = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearCache handles DELETE /api/cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	rc := h.orch.Results()
	if rc == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "cleared": 0})
		return
	}

	entries := rc.Stats().Entries
	if err := rc.Clear(r.Context()); err != nil {
		h.writeError(w, r, domain.IOError("failed to clear shared cache", err))
		return
	}
	h.logger.WithContext(r.Context()).Info().Int("entries", entries).Msg("Result cache cleared")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cleared": entries})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.serviceName})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) readFile(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	if h.maxUpload > 0 {
		// multipart framing rides on top of the file itself
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, domain.ValidationError(fmt.Sprintf("file exceeds the %d MB limit", h.maxUpload>>20), nil)
		}
		return "", nil, domain.ValidationError("expected a multipart/form-data upload", err)
	}

	file, header, err := r.FormFile(fieldFile)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, domain.ValidationError("no file uploaded", nil)
		}
		return "", nil, domain.ValidationError("unreadable upload", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, domain.IOError("failed to read upload", err)
	}

	if err := h.validator.ValidateUpload(header.Filename, data); err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

func (h *Handler) readExtractRequest(w http.ResponseWriter, r *http.Request) (extract.Request, error) {
	filename, data, err := h.readFile(w, r)
	if err != nil {
		return extract.Request{}, err
	}

	req := extract.Request{
		Filename:   filename,
		Data:       data,
		PageRanges: r.MultipartForm.Value[fieldPageRanges],
	}

	if raw := r.FormValue(fieldFullDocument); raw != "" {
		full, err := strconv.ParseBool(raw)
		if err != nil {
			return extract.Request{}, domain.ValidationError(fmt.Sprintf("%s must be true or false", fieldFullDocument), nil)
		}
		req.FullDocument = full
	}

	if raw := r.FormValue(fieldExisting); raw != "" {
		var existing []domain.ModbusRegister
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return extract.Request{}, domain.ValidationError(fmt.Sprintf("%s must be a JSON array of registers", fieldExisting), err)
		}
		if existing == nil {
			existing = []domain.ModbusRegister{}
		}
		req.Existing = existing
	}

	return req, nil
}

// ErrorResponse is the body of every non-streaming failure.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	var de *domain.DomainError
	message, detail := err.Error(), ""
	if errors.As(err, &de) {
		message = de.Message
		if de.Err != nil {
			detail = domain.UserMessage(de.Err)
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error().Err(err).Int("status", status).Msg("Request failed")
	}
	h.writeStatus(w, status, message, detail)
}

func (h *Handler) writeStatus(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: message, Detail: detail})
}

func statusFor(err error) int {
	switch {
	case domain.IsType(err, domain.ErrorTypeValidation):
		return http.StatusBadRequest
	case domain.IsType(err, domain.ErrorTypeRateLimit):
		return http.StatusTooManyRequests
	case domain.IsType(err, domain.ErrorTypeConversion):
		return http.StatusUnprocessableEntity
	case domain.IsType(err, domain.ErrorTypeExternal), domain.IsType(err, domain.ErrorTypeAPI):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
