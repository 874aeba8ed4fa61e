// Package ingress is the local HTTP API the browser extension talks to:
// video updates, explicit preloads, queue inspection and the outcome stream.
package ingress

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/nuetzliches/subwarm/internal/journal"
	"github.com/nuetzliches/subwarm/internal/preload"
)

const (
	RouteVideoUpdate = "/api/youtube"
	RoutePreload     = "/api/preload"
	RouteAttempts    = "/api/preload/attempts"
	RouteStream      = "/api/preload/stream"

	defaultMaxBodyBytes = 64 << 10
)

// Queue is the part of the preload controller the API drives.
type Queue interface {
	Trigger(videoID string, metadata any) (preload.EnqueueResult, error)
	Enqueue(videoID string, metadata any) (preload.EnqueueResult, error)
	Snapshot() preload.Snapshot
}

// AttemptLister reads the attempt journal.
type AttemptLister interface {
	List(req journal.ListRequest) (journal.ListResponse, error)
}

type Server struct {
	Queue         Queue
	Attempts      AttemptLister
	Stream        http.Handler
	Limiter       *RateLimiter
	Origins       *OriginPolicy
	Logger        *slog.Logger
	MaxBodyBytes  int64
	ObserveReject func(route string, statusCode int, reason string)
}

func NewServer(q Queue) *Server {
	return &Server{
		Queue:        q,
		Logger:       slog.Default(),
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}

type videoUpdate struct {
	VideoID string `json:"videoId"`
}

type preloadRequest struct {
	VideoID  string          `json:"video_id"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := path.Clean(r.URL.Path)

	allowed := allowedMethods(route)
	if len(allowed) == 0 {
		s.reject(w, route, http.StatusNotFound, "not_found")
		return
	}
	if !slices.Contains(allowed, r.Method) {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		s.reject(w, route, http.StatusMethodNotAllowed, "method")
		return
	}

	origin := r.Header.Get("Origin")
	if s.Origins != nil && !s.Origins.Allowed(origin) {
		s.reject(w, route, http.StatusForbidden, "origin")
		return
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(allowed, ", "))
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.Limiter != nil && r.Method == http.MethodPost && !s.Limiter.Allow(clientKey(r)) {
		s.reject(w, route, http.StatusTooManyRequests, "rate_limit")
		return
	}

	switch route {
	case RouteVideoUpdate:
		s.handleVideoUpdate(w, r)
	case RoutePreload:
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, s.Queue.Snapshot())
			return
		}
		s.handlePreload(w, r)
	case RouteAttempts:
		s.handleAttempts(w, r)
	case RouteStream:
		if s.Stream == nil {
			s.reject(w, route, http.StatusNotFound, "not_found")
			return
		}
		s.Stream.ServeHTTP(w, r)
	}
}

func allowedMethods(route string) []string {
	switch route {
	case RouteVideoUpdate:
		return []string{http.MethodPost, http.MethodOptions}
	case RoutePreload:
		return []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	case RouteAttempts, RouteStream:
		return []string{http.MethodGet}
	default:
		return nil
	}
}

// handleVideoUpdate accepts the extension's video update document. The whole
// document travels with the request as metadata.
func (s *Server) handleVideoUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var update videoUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		s.reject(w, RouteVideoUpdate, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(update.VideoID) == "" {
		s.reject(w, RouteVideoUpdate, http.StatusBadRequest, "missing_video_id")
		return
	}

	res, err := s.Queue.Trigger(update.VideoID, json.RawMessage(body))
	s.writeEnqueueResult(w, RouteVideoUpdate, res, err, http.StatusOK)
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req preloadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(w, RoutePreload, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.VideoID) == "" {
		s.reject(w, RoutePreload, http.StatusBadRequest, "missing_video_id")
		return
	}

	var metadata any
	if len(req.Metadata) > 0 {
		metadata = req.Metadata
	}
	res, err := s.Queue.Enqueue(req.VideoID, metadata)
	s.writeEnqueueResult(w, RoutePreload, res, err, http.StatusConflict)
}

func (s *Server) writeEnqueueResult(w http.ResponseWriter, route string, res preload.EnqueueResult, err error, skippedStatus int) {
	switch {
	case errors.Is(err, preload.ErrClosed):
		s.reject(w, route, http.StatusServiceUnavailable, "closed")
	case err != nil:
		s.logger().Error("ingress_enqueue_failed", slog.String("route", route), slog.Any("err", err))
		s.reject(w, route, http.StatusInternalServerError, "other")
	case res.Accepted:
		writeJSON(w, http.StatusAccepted, res)
	default:
		writeJSON(w, skippedStatus, res)
	}
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.Attempts == nil {
		s.reject(w, RouteAttempts, http.StatusNotFound, "journal_disabled")
		return
	}
	q := r.URL.Query()
	req := journal.ListRequest{
		VideoID:  q.Get("video_id"),
		Kind:     journal.Kind(q.Get("kind")),
		Strategy: q.Get("strategy"),
		Result:   q.Get("result"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.reject(w, RouteAttempts, http.StatusBadRequest, "invalid_limit")
			return
		}
		req.Limit = n
	}
	resp, err := s.Attempts.List(req)
	if err != nil {
		s.logger().Error("ingress_journal_list_failed", slog.Any("err", err))
		s.reject(w, RouteAttempts, http.StatusInternalServerError, "other")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	maxBody := s.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	route := path.Clean(r.URL.Path)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.reject(w, route, http.StatusRequestEntityTooLarge, "body_too_large")
			return nil, false
		}
		s.reject(w, route, http.StatusBadRequest, "read_body")
		return nil, false
	}
	return body, true
}

func (s *Server) reject(w http.ResponseWriter, route string, statusCode int, reason string) {
	writeJSON(w, statusCode, errorResponse{Error: reason})
	if s.ObserveReject != nil {
		s.ObserveReject(route, statusCode, reason)
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
