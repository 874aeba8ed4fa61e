package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nuetzliches/subwarm/internal/preload"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })

	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { raw.Close() })
	return mr, raw
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedisPublisher_PublishesOutcome(t *testing.T) {
	mr, raw := setupRedis(t)
	ctx := context.Background()

	sub := raw.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p, err := NewRedisPublisher(ctx, Config{URL: "redis://" + mr.Addr(), Stream: "subwarm:outcomes"}, quietLogger(), nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	p.Notify(preload.Outcome{VideoID: "v1", Kind: preload.OutcomeSucceeded, Attempts: 1, Strategy: preload.StrategyDirectAPI})

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	var ev struct {
		Type    string `json:"type"`
		Outcome struct {
			VideoID string `json:"video_id"`
			Outcome string `json:"outcome"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != "preload.outcome" || ev.Outcome.VideoID != "v1" || ev.Outcome.Outcome != "succeeded" {
		t.Fatalf("event=%+v", ev)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	entries, err := raw.XRange(ctx, "subwarm:outcomes", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 || entries[0].Values["video_id"] != "v1" {
		t.Fatalf("stream entries=%+v", entries)
	}
}

func TestRedisPublisher_ReportsErrors(t *testing.T) {
	mr, _ := setupRedis(t)
	var failures atomic.Int32
	p, err := NewRedisPublisher(context.Background(), Config{URL: "redis://" + mr.Addr()}, quietLogger(), func(error) {
		failures.Add(1)
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	mr.Close()
	p.Notify(preload.Outcome{VideoID: "v1", Kind: preload.OutcomeDiscarded})
	_ = p.Close()

	if failures.Load() == 0 {
		t.Fatalf("expected publish failure to be reported")
	}
	p.Notify(preload.Outcome{VideoID: "v2"})
}

func TestNewRedisPublisher_BadURL(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), Config{URL: "not a url"}, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}
