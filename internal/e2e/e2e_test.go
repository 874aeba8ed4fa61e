package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nuetzliches/subwarm/internal/ingress"
	"github.com/nuetzliches/subwarm/internal/journal"
	"github.com/nuetzliches/subwarm/internal/preload"
	"github.com/nuetzliches/subwarm/internal/subtitles"
)

// ---------- helpers ----------

// subtitleServer fakes the local subtitle store. Counts become available
// after a video has been asked about `warmAfter` times.
type subtitleServer struct {
	mu        sync.Mutex
	asked     map[string]int
	warmAfter int
	missing   map[string]bool
	requests  atomic.Int64
}

func newSubtitleServer(warmAfter int) *subtitleServer {
	return &subtitleServer{asked: make(map[string]int), missing: make(map[string]bool), warmAfter: warmAfter}
}

func (s *subtitleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	if r.URL.Path != "/api/youtube/subtitles/count" {
		http.NotFound(w, r)
		return
	}
	id := r.URL.Query().Get("video_id")

	s.mu.Lock()
	s.asked[id]++
	n := s.asked[id]
	missing := s.missing[id]
	s.mu.Unlock()

	total := 0
	if !missing && n >= s.warmAfter {
		total = 42
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"success":true,"counts":{"total_count":%d},"video_id":%q}`, total, id)
}

type stack struct {
	controller *preload.Controller
	store      *journal.MemoryStore
	hub        *ingress.Hub
	api        *httptest.Server
	subs       *subtitleServer
}

func newStack(t *testing.T, warmAfter int, opts ...preload.Option) *stack {
	t.Helper()

	subs := newSubtitleServer(warmAfter)
	subSrv := httptest.NewServer(subs)
	t.Cleanup(subSrv.Close)

	checker := subtitles.NewHTTPChecker(subSrv.Client(), subSrv.URL, time.Second)
	store := journal.NewMemoryStore()
	origins := ingress.NewOriginPolicy(nil)
	hub := ingress.NewHub(origins, nil)
	t.Cleanup(hub.Close)

	hooks := preload.Hooks{
		OnAttempt: func(a preload.StrategyAttempt) {
			_ = store.Record(journal.FromAttempt(a))
			hub.PublishAttempt(a)
		},
		OnOutcome: func(o preload.Outcome) {
			_ = store.Record(journal.FromOutcome(o))
			hub.PublishOutcome(o)
		},
	}
	all := append([]preload.Option{
		preload.WithConcurrency(2),
		preload.WithRetryDelay(20 * time.Millisecond),
		preload.WithHooks(hooks),
	}, opts...)
	controller := preload.NewController([]preload.Strategy{&preload.DirectAPIStrategy{Checker: checker}}, all...)
	t.Cleanup(func() { controller.Drain(2 * time.Second) })

	srv := ingress.NewServer(controller)
	srv.Attempts = store
	srv.Stream = hub
	srv.Origins = origins
	api := httptest.NewServer(srv)
	t.Cleanup(api.Close)

	return &stack{controller: controller, store: store, hub: hub, api: api, subs: subs}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func readJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *stack) outcomes(t *testing.T, videoID string) []journal.Entry {
	t.Helper()
	resp, err := http.Get(s.api.URL + "/api/preload/attempts?kind=outcome&video_id=" + videoID)
	if err != nil {
		t.Fatalf("GET attempts: %v", err)
	}
	var out journal.ListResponse
	readJSON(t, resp, &out)
	return out.Items
}

// ---------- tests ----------

func TestE2E_VideoUpdateWarmsSubtitles(t *testing.T) {
	s := newStack(t, 1)

	resp := postJSON(t, s.api.URL+"/api/youtube", map[string]any{"videoId": "dQw4w9WgXcQ", "title": "x"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var res preload.EnqueueResult
	readJSON(t, resp, &res)
	if !res.Accepted {
		t.Fatalf("expected accepted, got %+v", res)
	}

	waitFor(t, "succeeded outcome", func() bool {
		items := s.outcomes(t, "dQw4w9WgXcQ")
		return len(items) == 1 && items[0].Result == string(preload.OutcomeSucceeded)
	})

	// the same video again is skipped at the call site
	resp = postJSON(t, s.api.URL+"/api/youtube", map[string]any{"videoId": "dQw4w9WgXcQ"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for a processed video, got %d", resp.StatusCode)
	}
	readJSON(t, resp, &res)
	if res.Accepted || res.Reason != preload.ReasonAlreadyProcessed {
		t.Fatalf("expected already_processed, got %+v", res)
	}
}

func TestE2E_RetriesUntilAvailable(t *testing.T) {
	s := newStack(t, 2, preload.WithMaxRetries(2))

	resp := postJSON(t, s.api.URL+"/api/preload", map[string]any{"video_id": "abc"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	waitFor(t, "retry then success", func() bool {
		items := s.outcomes(t, "abc")
		return len(items) == 2
	})
	items := s.outcomes(t, "abc")
	kinds := []string{items[0].Result, items[1].Result}
	joined := strings.Join(kinds, ",")
	if !strings.Contains(joined, string(preload.OutcomeRetryScheduled)) || !strings.Contains(joined, string(preload.OutcomeSucceeded)) {
		t.Fatalf("unexpected outcomes: %v", kinds)
	}
}

func TestE2E_DiscardedAfterRetries(t *testing.T) {
	s := newStack(t, 1, preload.WithMaxRetries(1))
	s.subs.mu.Lock()
	s.subs.missing["nope"] = true
	s.subs.mu.Unlock()

	resp := postJSON(t, s.api.URL+"/api/preload", map[string]any{"video_id": "nope"})
	resp.Body.Close()

	waitFor(t, "discard", func() bool {
		for _, e := range s.outcomes(t, "nope") {
			if e.Result == string(preload.OutcomeDiscarded) {
				return true
			}
		}
		return false
	})

	// a discarded video may be triggered again
	resp = postJSON(t, s.api.URL+"/api/youtube", map[string]any{"videoId": "nope"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected discarded video to be accepted again, got %d", resp.StatusCode)
	}
}

func TestE2E_DuplicateWhileQueued(t *testing.T) {
	release := make(chan struct{})
	slow := preload.NewController([]preload.Strategy{blockingStrategy{release}}, preload.WithConcurrency(1))
	srv := httptest.NewServer(ingress.NewServer(slow))
	defer srv.Close()
	defer slow.Drain(time.Second)
	defer close(release)

	// "a" occupies the only worker, "b" waits behind it
	for _, id := range []string{"a", "b"} {
		resp := postJSON(t, srv.URL+"/api/preload", map[string]any{"video_id": id})
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("%s: expected 202, got %d", id, resp.StatusCode)
		}
	}
	resp := postJSON(t, srv.URL+"/api/preload", map[string]any{"video_id": "b"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", resp.StatusCode)
	}
	var res preload.EnqueueResult
	readJSON(t, resp, &res)
	if res.Reason != preload.ReasonAlreadyQueued {
		t.Fatalf("expected already_queued, got %+v", res)
	}

	resp, err := http.Get(srv.URL + "/api/preload")
	if err != nil {
		t.Fatalf("GET snapshot: %v", err)
	}
	var snap preload.Snapshot
	readJSON(t, resp, &snap)
	if snap.InFlight != 1 || len(snap.Queued) != 1 || snap.Queued[0] != "b" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

type blockingStrategy struct{ release <-chan struct{} }

func (blockingStrategy) Name() string { return "blocking" }

func (b blockingStrategy) Attempt(ctx context.Context, _ preload.Request) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestE2E_StreamDeliversOutcome(t *testing.T) {
	s := newStack(t, 1)

	wsURL := "ws" + strings.TrimPrefix(s.api.URL, "http") + "/api/preload/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()
	waitFor(t, "stream client registered", func() bool { return s.hub.Clients() == 1 })

	post := postJSON(t, s.api.URL+"/api/youtube", map[string]any{"videoId": "live1"})
	post.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev ingress.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type == "preload.outcome" {
			if ev.Outcome == nil || ev.Outcome.VideoID != "live1" || ev.Outcome.Kind != preload.OutcomeSucceeded {
				t.Fatalf("unexpected outcome event: %+v", ev)
			}
			return
		}
	}
}
