package ingress

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nuetzliches/subwarm/internal/journal"
	"github.com/nuetzliches/subwarm/internal/preload"
)

type fakeQueue struct {
	mu        sync.Mutex
	triggered []string
	enqueued  []string
	metadata  []any
	result    preload.EnqueueResult
	err       error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{result: preload.EnqueueResult{Accepted: true}}
}

func (q *fakeQueue) Trigger(videoID string, metadata any) (preload.EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.triggered = append(q.triggered, videoID)
	q.metadata = append(q.metadata, metadata)
	return q.result, q.err
}

func (q *fakeQueue) Enqueue(videoID string, metadata any) (preload.EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, videoID)
	q.metadata = append(q.metadata, metadata)
	return q.result, q.err
}

func (q *fakeQueue) Snapshot() preload.Snapshot {
	return preload.Snapshot{Queued: []string{"a", "b"}, InFlight: 1, Pending: 3, Concurrency: 3}
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "http://subwarm"+target, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIngress_VideoUpdateTriggers(t *testing.T) {
	q := newFakeQueue()
	srv := NewServer(q)

	body := `{"videoId":"dQw4w9WgXcQ","title":"t","channel":"c","url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`
	rr := do(t, srv, http.MethodPost, RouteVideoUpdate, body, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(q.triggered) != 1 || q.triggered[0] != "dQw4w9WgXcQ" {
		t.Fatalf("triggered: %v", q.triggered)
	}
	raw, ok := q.metadata[0].(json.RawMessage)
	if !ok || string(raw) != body {
		t.Fatalf("metadata should be the whole document, got %#v", q.metadata[0])
	}
}

func TestIngress_VideoUpdateSkipped(t *testing.T) {
	q := newFakeQueue()
	q.result = preload.EnqueueResult{Accepted: false, Reason: preload.ReasonAlreadyProcessed}
	srv := NewServer(q)

	rr := do(t, srv, http.MethodPost, RouteVideoUpdate, `{"videoId":"v1"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"reason":"already_processed"`) {
		t.Fatalf("body: %s", rr.Body.String())
	}
}

func TestIngress_PreloadConflict(t *testing.T) {
	q := newFakeQueue()
	q.result = preload.EnqueueResult{Accepted: false, Reason: preload.ReasonAlreadyQueued}
	srv := NewServer(q)

	rr := do(t, srv, http.MethodPost, RoutePreload, `{"video_id":"v1","metadata":{"title":"x"}}`, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d", rr.Code)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != "v1" {
		t.Fatalf("enqueued: %v", q.enqueued)
	}
	if raw, ok := q.metadata[0].(json.RawMessage); !ok || string(raw) != `{"title":"x"}` {
		t.Fatalf("metadata: %#v", q.metadata[0])
	}
}

func TestIngress_BadRequests(t *testing.T) {
	var rejects []string
	srv := NewServer(newFakeQueue())
	srv.MaxBodyBytes = 32
	srv.ObserveReject = func(route string, status int, reason string) {
		rejects = append(rejects, reason)
	}

	cases := []struct {
		name   string
		method string
		target string
		body   string
		status int
		reason string
	}{
		{"missing id", http.MethodPost, RouteVideoUpdate, `{"title":"x"}`, http.StatusBadRequest, "missing_video_id"},
		{"bad json", http.MethodPost, RoutePreload, `{`, http.StatusBadRequest, "invalid_json"},
		{"too large", http.MethodPost, RouteVideoUpdate, `{"videoId":"` + strings.Repeat("x", 64) + `"}`, http.StatusRequestEntityTooLarge, "body_too_large"},
		{"unknown route", http.MethodGet, "/api/other", "", http.StatusNotFound, "not_found"},
		{"wrong method", http.MethodDelete, RoutePreload, "", http.StatusMethodNotAllowed, "method"},
		{"no journal", http.MethodGet, RouteAttempts, "", http.StatusNotFound, "journal_disabled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rejects = nil
			rr := do(t, srv, tc.method, tc.target, tc.body, nil)
			if rr.Code != tc.status {
				t.Fatalf("status: got %d, want %d", rr.Code, tc.status)
			}
			if len(rejects) != 1 || rejects[0] != tc.reason {
				t.Fatalf("reject reasons: %v", rejects)
			}
		})
	}

	rr := do(t, srv, http.MethodDelete, RoutePreload, "", nil)
	if got := rr.Header().Get("Allow"); got != "GET, POST, OPTIONS" {
		t.Fatalf("allow header: %q", got)
	}
}

func TestIngress_ClosedQueue(t *testing.T) {
	q := newFakeQueue()
	q.err = preload.ErrClosed
	srv := NewServer(q)
	if rr := do(t, srv, http.MethodPost, RoutePreload, `{"video_id":"v"}`, nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d", rr.Code)
	}

	q.err = errors.New("boom")
	if rr := do(t, srv, http.MethodPost, RoutePreload, `{"video_id":"v"}`, nil); rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rr.Code)
	}
}

func TestIngress_Snapshot(t *testing.T) {
	srv := NewServer(newFakeQueue())
	rr := do(t, srv, http.MethodGet, RoutePreload, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var snap preload.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Queued) != 2 || snap.InFlight != 1 || snap.Pending != 3 || snap.Concurrency != 3 {
		t.Fatalf("snapshot: %#v", snap)
	}
}

func TestIngress_Attempts(t *testing.T) {
	store := journal.NewMemoryStore()
	for _, e := range []journal.Entry{
		{VideoID: "v1", Kind: journal.KindAttempt, Attempt: 1, Strategy: "direct_api", Result: "unavailable"},
		{VideoID: "v1", Kind: journal.KindAttempt, Attempt: 1, Strategy: "hidden_frame", Result: "available"},
		{VideoID: "v2", Kind: journal.KindOutcome, Attempt: 1, Result: "succeeded"},
	} {
		if err := store.Record(e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	srv := NewServer(newFakeQueue())
	srv.Attempts = store

	rr := do(t, srv, http.MethodGet, RouteAttempts+"?video_id=v1&limit=1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp journal.ListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].VideoID != "v1" {
		t.Fatalf("items: %#v", resp.Items)
	}

	if rr := do(t, srv, http.MethodGet, RouteAttempts+"?limit=zero", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid limit status: got %d", rr.Code)
	}
}

func TestIngress_Origins(t *testing.T) {
	srv := NewServer(newFakeQueue())
	srv.Origins = NewOriginPolicy([]string{"https://dash.example.com"})

	cases := []struct {
		origin string
		status int
	}{
		{"", http.StatusAccepted},
		{"http://localhost:5173", http.StatusAccepted},
		{"chrome-extension://abcdefghijklmnop", http.StatusAccepted},
		{"https://dash.example.com", http.StatusAccepted},
		{"https://evil.example.com", http.StatusForbidden},
	}
	for _, tc := range cases {
		rr := do(t, srv, http.MethodPost, RouteVideoUpdate, `{"videoId":"v"}`, map[string]string{"Origin": tc.origin})
		if rr.Code != tc.status {
			t.Fatalf("origin %q: got %d, want %d", tc.origin, rr.Code, tc.status)
		}
		if tc.origin != "" && tc.status == http.StatusAccepted && rr.Header().Get("Access-Control-Allow-Origin") != tc.origin {
			t.Fatalf("origin %q: missing CORS header", tc.origin)
		}
	}

	rr := do(t, srv, http.MethodOptions, RouteVideoUpdate, "", map[string]string{"Origin": "chrome-extension://x"})
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("preflight: %d %v", rr.Code, rr.Header())
	}

	srv.Origins.Set(nil)
	if rr := do(t, srv, http.MethodPost, RouteVideoUpdate, `{"videoId":"v"}`, map[string]string{"Origin": "https://dash.example.com"}); rr.Code != http.StatusForbidden {
		t.Fatalf("reloaded origins: got %d", rr.Code)
	}
}

func TestIngress_RateLimit(t *testing.T) {
	q := newFakeQueue()
	srv := NewServer(q)
	srv.Limiter = NewRateLimiter(0.001, 2)

	for i := 0; i < 2; i++ {
		if rr := do(t, srv, http.MethodPost, RouteVideoUpdate, `{"videoId":"v"}`, nil); rr.Code != http.StatusAccepted {
			t.Fatalf("request %d: got %d", i, rr.Code)
		}
	}
	if rr := do(t, srv, http.MethodPost, RouteVideoUpdate, `{"videoId":"v"}`, nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	// reads are not limited
	if rr := do(t, srv, http.MethodGet, RoutePreload, "", nil); rr.Code != http.StatusOK {
		t.Fatalf("snapshot: got %d", rr.Code)
	}
	if len(q.triggered) != 2 {
		t.Fatalf("triggered: %v", q.triggered)
	}
}
