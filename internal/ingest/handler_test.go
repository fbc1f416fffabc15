package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sentinel-ueba/internal/behavior"
	"sentinel-ueba/internal/pattern"
)

func newTestHandler() *Handler {
	b := behavior.NewEngine(behavior.DefaultConfig())
	p := pattern.NewEngine(pattern.DefaultConfig(), nil)
	return NewHandler(NewPipeline(b, p))
}

func postEvents(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	return w
}

func TestHandleEvents_Batch(t *testing.T) {
	h := newTestHandler()

	w := postEvents(t, h, `{"events": [
		{"user_id": "alice", "event_type": "login"},
		{"user_id": "alice", "event_type": "api_access"}
	]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Accepted != 2 || resp.Rejected != 0 {
		t.Errorf("accepted/rejected = %d/%d, want 2/0", resp.Accepted, resp.Rejected)
	}
	if resp.RequestID == "" {
		t.Error("missing request_id")
	}
}

func TestHandleEvents_SingleObject(t *testing.T) {
	h := newTestHandler()

	w := postEvents(t, h, `{"user_id": "alice", "event_type": "login",
		"metadata": {"location": "office-nyc"}}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	snapshot, ok := h.pipeline.Behavior.GetProfile("alice")
	if !ok {
		t.Fatal("profile not created")
	}
	if len(snapshot.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(snapshot.Events))
	}
	if snapshot.Events[0].Location() != "office-nyc" {
		t.Errorf("location = %q", snapshot.Events[0].Location())
	}
}

func TestHandleEvents_PartialRejection(t *testing.T) {
	h := newTestHandler()

	w := postEvents(t, h, `{"events": [
		{"user_id": "alice", "event_type": "login"},
		{"user_id": "", "event_type": "login"}
	]}`)

	if w.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207", w.Code)
	}
	var resp IngestResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Errorf("accepted/rejected = %d/%d, want 1/1", resp.Accepted, resp.Rejected)
	}
	if len(resp.Errors) != 1 {
		t.Errorf("errors = %v, want one entry", resp.Errors)
	}
}

func TestHandleEvents_AllRejected(t *testing.T) {
	h := newTestHandler()
	w := postEvents(t, h, `{"events": [{"user_id": "", "event_type": ""}]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleEvents_InvalidJSON(t *testing.T) {
	h := newTestHandler()
	w := postEvents(t, h, `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleEvents_EmptyBatch(t *testing.T) {
	h := newTestHandler()
	w := postEvents(t, h, `{"events": []}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleEvents_BatchLimit(t *testing.T) {
	h := newTestHandler().WithMaxBatch(1)
	w := postEvents(t, h, `{"events": [
		{"user_id": "a", "event_type": "login"},
		{"user_id": "b", "event_type": "login"}
	]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleEvents_SchemaValidation(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name string
		body string
	}{
		{"malformed ip address", `{"user_id": "alice", "event_type": "login", "ip_address": "not-an-ip"}`},
		{"uppercase event type", `{"user_id": "alice", "event_type": "LoginFailed"}`},
		{"stale timestamp", `{"user_id": "alice", "event_type": "login", "timestamp": "2020-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postEvents(t, h, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
		})
	}

	// Nothing invalid reached the engine.
	if _, ok := h.pipeline.Behavior.GetProfile("alice"); ok {
		t.Error("rejected events must not create a profile")
	}
}

func TestHandleEvents_FeedsPatternEngine(t *testing.T) {
	h := newTestHandler()

	for i := 0; i < 6; i++ {
		postEvents(t, h, `{"user_id": "alice", "event_type": "login_failed", "ip_address": "198.51.100.1"}`)
	}
	postEvents(t, h, `{"user_id": "alice", "event_type": "login_success", "ip_address": "198.51.100.1"}`)

	if got := h.pipeline.Patterns.Matches("brute_force_login"); len(got) == 0 {
		t.Error("brute force pattern should fire through the HTTP path")
	}
}

func TestHandleProfile(t *testing.T) {
	h := newTestHandler()
	postEvents(t, h, `{"user_id": "alice", "event_type": "login"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/alice/profile", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/users/nobody/profile", nil)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing profile status = %d, want 404", w.Code)
	}
}

func TestHandleProfile_MasksSensitiveMetadata(t *testing.T) {
	h := newTestHandler()
	postEvents(t, h, `{"user_id": "alice", "event_type": "login",
		"metadata": {"location": "office-nyc", "password": "hunter2"}}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/alice/profile", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	body := w.Body.String()
	if strings.Contains(body, "hunter2") {
		t.Error("profile response leaked a sensitive metadata value")
	}
	if !strings.Contains(body, `"password":"[REDACTED]"`) {
		t.Errorf("sensitive value not masked:\n%s", body)
	}
	if !strings.Contains(body, "office-nyc") {
		t.Error("non-sensitive metadata should pass through")
	}

	// The engine's stored event keeps its raw metadata.
	snapshot, _ := h.pipeline.Behavior.GetProfile("alice")
	if snapshot.Events[0].Metadata["password"] != "hunter2" {
		t.Error("masking must not mutate engine state")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestHandler()
	postEvents(t, h, `{"user_id": "alice", "event_type": "login"}`)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("invalid health body: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("status = %v", health["status"])
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ueba_events_accepted_total 1") {
		t.Errorf("metrics body missing accepted counter:\n%s", w.Body.String())
	}
}
