package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sentinel-ueba/internal/behavior"
	"sentinel-ueba/internal/logging"
	"sentinel-ueba/internal/schema"
)

// Handler serves the HTTP ingestion and introspection endpoints.
type Handler struct {
	pipeline   *Pipeline
	maxPayload int
	maxBatch   int
	startTime  time.Time

	accepted uint64
	rejected uint64
}

// NewHandler creates an ingest Handler over the pipeline.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{
		pipeline:   pipeline,
		maxPayload: 10 * 1024 * 1024,
		maxBatch:   1000,
		startTime:  time.Now(),
	}
}

// WithMaxPayload sets the maximum request body size.
func (h *Handler) WithMaxPayload(size int) *Handler {
	h.maxPayload = size
	return h
}

// WithMaxBatch sets the maximum events per request.
func (h *Handler) WithMaxBatch(size int) *Handler {
	h.maxBatch = size
	return h
}

// Routes returns a mux with all ingest endpoints registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", h.HandleEvents)
	mux.HandleFunc("GET /v1/users/{id}/profile", h.HandleProfile)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)
	return mux
}

// EventInput is the wire format for a single event.
type EventInput struct {
	EventID   *uuid.UUID     `json:"event_id,omitempty"`
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IngestRequest is the request body for batch ingestion.
type IngestRequest struct {
	Events []EventInput `json:"events"`
}

// IngestResponse reports per-batch acceptance counts.
type IngestResponse struct {
	Success   bool     `json:"success"`
	Accepted  int      `json:"accepted"`
	Rejected  int      `json:"rejected"`
	Errors    []string `json:"errors,omitempty"`
	RequestID string   `json:"request_id"`
}

// HandleEvents handles POST /v1/events. The body is either a single
// event object or a batch under an "events" key.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large", requestID)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}

	inputs, err := parseBody(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}
	if len(inputs) == 0 {
		respondError(w, http.StatusBadRequest, "no events provided", requestID)
		return
	}
	if len(inputs) > h.maxBatch {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("batch size exceeds maximum of %d", h.maxBatch), requestID)
		return
	}

	var accepted, rejected int
	var errs []string
	for i, input := range inputs {
		if _, err := h.pipeline.Record(r.Context(), input.toEvent()); err != nil {
			rejected++
			errs = append(errs, fmt.Sprintf("event[%d]: %s", i, err.Error()))
			continue
		}
		accepted++
	}
	atomic.AddUint64(&h.accepted, uint64(accepted))
	atomic.AddUint64(&h.rejected, uint64(rejected))

	resp := IngestResponse{
		Success:   rejected == 0,
		Accepted:  accepted,
		Rejected:  rejected,
		Errors:    errs,
		RequestID: requestID,
	}

	status := http.StatusOK
	if accepted == 0 && rejected > 0 {
		status = http.StatusBadRequest
	} else if rejected > 0 {
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, resp)
}

// parseBody accepts both the batch envelope and a bare event object.
func parseBody(body []byte) ([]EventInput, error) {
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil && len(req.Events) > 0 {
		return req.Events, nil
	}

	var single EventInput
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if single.UserID == "" && single.EventType == "" {
		return nil, nil
	}
	return []EventInput{single}, nil
}

func (in EventInput) toEvent() *schema.Event {
	event := &schema.Event{
		UserID:    in.UserID,
		EventType: in.EventType,
		Timestamp: in.Timestamp,
		SessionID: in.SessionID,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		Metadata:  in.Metadata,
	}
	if in.EventID != nil {
		event.EventID = *in.EventID
	}
	return event
}

// HandleProfile handles GET /v1/users/{id}/profile. Event metadata is
// masked before it leaves the process.
func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	snapshot, ok := h.pipeline.Behavior.GetProfile(userID)
	if !ok {
		respondError(w, http.StatusNotFound, "profile not found", uuid.New().String())
		return
	}
	respondJSON(w, http.StatusOK, maskSnapshot(snapshot))
}

// maskSnapshot returns a response copy of the snapshot with sensitive
// event metadata redacted. The snapshot's events are shared with the
// engine, so masked events are copies.
func maskSnapshot(s *behavior.Snapshot) *behavior.Snapshot {
	if len(s.Events) == 0 {
		return s
	}
	masked := *s
	masked.Events = make([]*schema.Event, len(s.Events))
	for i, event := range s.Events {
		if event == nil || event.Metadata == nil {
			masked.Events[i] = event
			continue
		}
		copied := *event
		copied.Metadata = logging.MaskMetadata(event.Metadata)
		masked.Events[i] = &copied
	}
	return &masked
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"behavior":       h.pipeline.Behavior.Stats(),
	}
	if h.pipeline.Patterns != nil {
		resp["patterns"] = h.pipeline.Patterns.Stats()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /metrics in Prometheus text format.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP ueba_events_accepted_total Total events accepted\n")
	fmt.Fprintf(w, "# TYPE ueba_events_accepted_total counter\n")
	fmt.Fprintf(w, "ueba_events_accepted_total %d\n\n", atomic.LoadUint64(&h.accepted))

	fmt.Fprintf(w, "# HELP ueba_events_rejected_total Total events rejected\n")
	fmt.Fprintf(w, "# TYPE ueba_events_rejected_total counter\n")
	fmt.Fprintf(w, "ueba_events_rejected_total %d\n\n", atomic.LoadUint64(&h.rejected))

	stats := h.pipeline.Behavior.Stats()
	fmt.Fprintf(w, "# HELP ueba_profiles Current number of user profiles\n")
	fmt.Fprintf(w, "# TYPE ueba_profiles gauge\n")
	fmt.Fprintf(w, "ueba_profiles %d\n\n", stats["profiles"])

	fmt.Fprintf(w, "# HELP ueba_anomalies_total Total anomalies retained\n")
	fmt.Fprintf(w, "# TYPE ueba_anomalies_total gauge\n")
	fmt.Fprintf(w, "ueba_anomalies_total %d\n\n", stats["anomalies"])

	if h.pipeline.Patterns != nil {
		pstats := h.pipeline.Patterns.Stats()
		fmt.Fprintf(w, "# HELP ueba_pattern_matches Current retained pattern matches\n")
		fmt.Fprintf(w, "# TYPE ueba_pattern_matches gauge\n")
		fmt.Fprintf(w, "ueba_pattern_matches %d\n\n", pstats["matches"])

		fmt.Fprintf(w, "# HELP ueba_buffered_events Events in the pattern window buffer\n")
		fmt.Fprintf(w, "# TYPE ueba_buffered_events gauge\n")
		fmt.Fprintf(w, "ueba_buffered_events %d\n\n", pstats["buffered_events"])
	}

	fmt.Fprintf(w, "# HELP ueba_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE ueba_uptime_seconds gauge\n")
	fmt.Fprintf(w, "ueba_uptime_seconds %d\n", int(time.Since(h.startTime).Seconds()))
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, requestID string) {
	respondJSON(w, status, map[string]any{
		"success":    false,
		"error":      message,
		"request_id": requestID,
	})
}
