// Package notify fans preload outcomes out to Redis so other processes (the
// browser extension backend, dashboards) can react to them.
//
// Every event is PUBLISHed on a pub/sub channel. When a stream name is
// configured it is also appended with XADD, trimmed to StreamMaxLen.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nuetzliches/subwarm/internal/preload"
)

const (
	DefaultChannel      = "subwarm:preload:outcomes"
	DefaultStreamMaxLen = 10000
	defaultBuffer       = 256
	publishTimeout      = 2 * time.Second
)

var ErrBufferFull = errors.New("notify buffer full")

// Event is the JSON payload published for each outcome.
type Event struct {
	Version string          `json:"version"`
	Type    string          `json:"type"`
	Outcome preload.Outcome `json:"outcome"`
}

type Config struct {
	URL          string
	Password     string
	Channel      string
	Stream       string
	StreamMaxLen int64
	Buffer       int
}

type RedisPublisher struct {
	client  *redis.Client
	channel string
	stream  string
	maxLen  int64
	logger  *slog.Logger
	onError func(error)

	mu     sync.RWMutex
	closed bool
	events chan Event
	wg     sync.WaitGroup
}

// NewRedisPublisher parses cfg.URL and pings the server.
func NewRedisPublisher(ctx context.Context, cfg Config, logger *slog.Logger, onError func(error)) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &RedisPublisher{
		client:  client,
		channel: cfg.Channel,
		stream:  cfg.Stream,
		maxLen:  cfg.StreamMaxLen,
		logger:  logger,
		onError: onError,
		events:  make(chan Event, cfg.Buffer),
	}
	p.wg.Add(1)
	go p.loop()
	return p, nil
}

// Notify queues an outcome for publishing without blocking the caller.
func (p *RedisPublisher) Notify(out preload.Outcome) {
	if p == nil {
		return
	}
	ev := Event{Version: "1", Type: "preload.outcome", Outcome: out}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.fail(out.VideoID, ErrBufferFull)
	}
}

func (p *RedisPublisher) loop() {
	defer p.wg.Done()
	for ev := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.publish(ctx, ev); err != nil {
			p.fail(ev.Outcome.VideoID, err)
		}
		cancel()
	}
}

func (p *RedisPublisher) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if p.stream == "" {
		return nil
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"video_id": ev.Outcome.VideoID,
			"outcome":  string(ev.Outcome.Kind),
			"payload":  string(data),
		},
	}).Err()
}

func (p *RedisPublisher) fail(videoID string, err error) {
	p.logger.Warn("notify_publish_failed",
		slog.String("video_id", videoID),
		slog.String("channel", p.channel),
		slog.Any("err", err),
	)
	if p.onError != nil {
		p.onError(err)
	}
}

// Close flushes queued events and closes the client.
func (p *RedisPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	p.wg.Wait()
	return p.client.Close()
}
