// Package subtitles talks to the local subtitle server that stores captured
// subtitle tracks.
package subtitles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nuetzliches/subwarm/internal/preload"
)

const countPath = "/api/youtube/subtitles/count"

var ErrUnexpectedStatus = errors.New("unexpected status")

// countResponse mirrors the subtitle server payload.
type countResponse struct {
	Success bool `json:"success"`
	Counts  struct {
		TotalCount int `json:"total_count"`
	} `json:"counts"`
	VideoID string `json:"video_id"`
}

// HTTPChecker asks the subtitle server how many subtitle lines it holds for a
// video.
type HTTPChecker struct {
	Client  *http.Client
	BaseURL string
	Timeout time.Duration
}

var _ preload.AvailabilityChecker = (*HTTPChecker)(nil)

func NewHTTPChecker(client *http.Client, baseURL string, timeout time.Duration) *HTTPChecker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPChecker{
		Client:  client,
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Timeout: timeout,
	}
}

func (c *HTTPChecker) CheckAvailability(ctx context.Context, videoID string) (preload.Availability, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	u, err := url.Parse(c.BaseURL + countPath)
	if err != nil {
		return preload.Availability{}, fmt.Errorf("subtitle server url: %w", err)
	}
	q := u.Query()
	q.Set("video_id", videoID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return preload.Availability{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return preload.Availability{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return preload.Availability{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var body countResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return preload.Availability{}, fmt.Errorf("decode subtitle count: %w", err)
	}

	// Older servers ignore the query and answer for whatever video they saw
	// last; a count for another video says nothing about this one.
	if body.VideoID != "" && body.VideoID != videoID {
		return preload.Availability{}, nil
	}
	return preload.Availability{
		Available: body.Success && body.Counts.TotalCount > 0,
		Count:     body.Counts.TotalCount,
	}, nil
}
