package ingress

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func FuzzVideoUpdate(f *testing.F) {
	f.Add(`{"videoId":"dQw4w9WgXcQ","title":"x"}`)
	f.Add(`{"videoId":""}`)
	f.Add(`[]`)

	f.Fuzz(func(t *testing.T, body string) {
		q := newFakeQueue()
		srv := NewServer(q)
		req := httptest.NewRequest(http.MethodPost, "http://subwarm"+RouteVideoUpdate, strings.NewReader(body))
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)

		switch rr.Code {
		case http.StatusAccepted:
			if len(q.triggered) != 1 || strings.TrimSpace(q.triggered[0]) == "" {
				t.Fatalf("accepted without a video id: %v", q.triggered)
			}
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
			if len(q.triggered) != 0 {
				t.Fatalf("rejected body still triggered: %v", q.triggered)
			}
		default:
			t.Fatalf("unexpected status %d", rr.Code)
		}
	})
}
