package preload

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultConcurrency = 3
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 2 * time.Second
)

const tracerName = "github.com/nuetzliches/subwarm/internal/preload"

// Hooks receive controller events. They run outside the controller lock and
// must not block for long.
type Hooks struct {
	OnEnqueue func(videoID string, res EnqueueResult)
	OnAttempt func(StrategyAttempt)
	OnOutcome func(Outcome)
}

type Option func(*Controller)

func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxRetries sets how many times an exhausted request is re-queued.
// A request is attempted at most 1+n times.
func WithMaxRetries(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.nowFn = now
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(c *Controller) {
		c.hooks = h
	}
}

// Controller owns the preload queue, the pending and processed sets and the
// in-flight counter. All of them are guarded by mu.
type Controller struct {
	strategies  []Strategy
	concurrency int
	maxRetries  int
	retryDelay  time.Duration
	logger      *slog.Logger
	nowFn       func() time.Time
	hooks       Hooks
	tracer      trace.Tracer

	mu        sync.Mutex
	queue     []*Request
	pending   map[string]struct{}
	processed map[string]struct{}
	retries   map[string]*pendingRetry
	inFlight  int
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pendingRetry struct {
	req   *Request
	timer *time.Timer
}

// Snapshot is a point-in-time view of the controller state.
type Snapshot struct {
	Queued       []string `json:"queued"`
	InFlight     int      `json:"in_flight"`
	RetryWaiting int      `json:"retry_waiting"`
	Pending      int      `json:"pending"`
	Processed    int      `json:"processed"`
	Concurrency  int      `json:"concurrency"`
	Closed       bool     `json:"closed"`
}

func NewController(strategies []Strategy, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		strategies:  append([]Strategy(nil), strategies...),
		concurrency: DefaultConcurrency,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		logger:      slog.Default(),
		nowFn:       time.Now,
		tracer:      otel.Tracer(tracerName),
		pending:     make(map[string]struct{}),
		processed:   make(map[string]struct{}),
		retries:     make(map[string]*pendingRetry),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue appends a request for videoID unless one is already pending.
// It never waits for processing.
func (c *Controller) Enqueue(videoID string, metadata any) (EnqueueResult, error) {
	if strings.TrimSpace(videoID) == "" {
		return EnqueueResult{}, ErrEmptyVideoID
	}
	c.mu.Lock()
	res, err := c.enqueueLocked(videoID, metadata)
	c.mu.Unlock()
	if err != nil {
		return res, err
	}
	c.reportEnqueue(videoID, res)
	return res, nil
}

// Trigger is the call-site entry point. It skips videos that were already
// handed to the queue and have not failed terminally since.
func (c *Controller) Trigger(videoID string, metadata any) (EnqueueResult, error) {
	if strings.TrimSpace(videoID) == "" {
		return EnqueueResult{}, ErrEmptyVideoID
	}
	c.mu.Lock()
	if _, ok := c.processed[videoID]; ok {
		c.mu.Unlock()
		res := EnqueueResult{Accepted: false, Reason: ReasonAlreadyProcessed}
		c.reportEnqueue(videoID, res)
		return res, nil
	}
	res, err := c.enqueueLocked(videoID, metadata)
	if err == nil {
		c.processed[videoID] = struct{}{}
	}
	c.mu.Unlock()
	if err != nil {
		return res, err
	}
	c.reportEnqueue(videoID, res)
	return res, nil
}

func (c *Controller) enqueueLocked(videoID string, metadata any) (EnqueueResult, error) {
	if c.closed {
		return EnqueueResult{}, ErrClosed
	}
	if _, ok := c.pending[videoID]; ok {
		return EnqueueResult{Accepted: false, Reason: ReasonAlreadyQueued}, nil
	}
	req := &Request{
		VideoID:    videoID,
		Metadata:   metadata,
		EnqueuedAt: c.nowFn().UTC(),
	}
	c.pending[videoID] = struct{}{}
	c.queue = append(c.queue, req)
	c.dispatchLocked()
	return EnqueueResult{Accepted: true}, nil
}

// dispatchLocked starts workers while slots are free. The caller holds mu,
// so only one pass pops at a time.
func (c *Controller) dispatchLocked() {
	if c.closed {
		return
	}
	for c.inFlight < c.concurrency && len(c.queue) > 0 {
		req := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.inFlight++
		c.wg.Add(1)
		go c.process(req)
	}
}

func (c *Controller) process(req *Request) {
	defer c.wg.Done()

	attempt := req.Attempts + 1
	ctx, span := c.tracer.Start(c.ctx, "preload.item",
		trace.WithAttributes(
			attribute.String("subwarm.video_id", req.VideoID),
			attribute.Int("subwarm.attempt", attempt),
		),
	)
	winner, err := c.runStrategies(ctx, *req, attempt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("subwarm.strategy", winner))
	}
	span.End()

	c.finish(req, winner, err)
}

func (c *Controller) runStrategies(ctx context.Context, req Request, attempt int) (string, error) {
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		name := s.Name()
		sctx, span := c.tracer.Start(ctx, "preload.strategy",
			trace.WithAttributes(attribute.String("subwarm.strategy", name)),
		)
		start := c.nowFn()
		err := s.Attempt(sctx, req)
		result := classifyAttempt(err)
		span.SetAttributes(attribute.String("subwarm.result", string(result)))
		span.End()

		rec := StrategyAttempt{
			VideoID:  req.VideoID,
			Attempt:  attempt,
			Strategy: name,
			Result:   result,
			Duration: Duration(c.nowFn().Sub(start)),
			At:       c.nowFn().UTC(),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		c.logAttempt(rec, err)
		if c.hooks.OnAttempt != nil {
			c.hooks.OnAttempt(rec)
		}
		if err == nil {
			return name, nil
		}
	}
	return "", ErrAllStrategiesExhausted
}

func (c *Controller) finish(req *Request, winner string, err error) {
	c.mu.Lock()
	c.inFlight--

	out := Outcome{
		VideoID:    req.VideoID,
		Strategy:   winner,
		EnqueuedAt: req.EnqueuedAt,
	}
	switch {
	case err == nil:
		delete(c.pending, req.VideoID)
		out.Kind = OutcomeSucceeded
	case c.closed:
		req.Attempts++
		delete(c.pending, req.VideoID)
		delete(c.processed, req.VideoID)
		out.Kind = OutcomeDropped
	default:
		req.Attempts++
		if req.Attempts <= c.maxRetries {
			c.scheduleRetryLocked(req)
			out.Kind = OutcomeRetryScheduled
			out.RetryIn = Duration(c.retryDelay)
		} else {
			delete(c.pending, req.VideoID)
			delete(c.processed, req.VideoID)
			out.Kind = OutcomeDiscarded
		}
	}
	out.Attempts = req.Attempts
	out.At = c.nowFn().UTC()
	c.dispatchLocked()
	c.mu.Unlock()

	c.reportOutcome(out, err)
}

func (c *Controller) scheduleRetryLocked(req *Request) {
	entry := &pendingRetry{req: req}
	entry.timer = time.AfterFunc(c.retryDelay, func() {
		c.requeueFront(entry)
	})
	c.retries[req.VideoID] = entry
}

func (c *Controller) requeueFront(entry *pendingRetry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.retries[entry.req.VideoID]
	if !ok || cur != entry {
		return
	}
	delete(c.retries, entry.req.VideoID)
	if c.closed {
		return
	}
	c.queue = append([]*Request{entry.req}, c.queue...)
	c.dispatchLocked()
}

// Drain stops dispatching, drops queued and retry-waiting requests and waits
// for in-flight requests. It returns false if the timeout expired first; in
// that case running strategies are cancelled.
func (c *Controller) Drain(timeout time.Duration) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.wait(timeout)
	}
	c.closed = true
	dropped := make([]*Request, 0, len(c.queue)+len(c.retries))
	dropped = append(dropped, c.queue...)
	c.queue = nil
	for id, entry := range c.retries {
		entry.timer.Stop()
		dropped = append(dropped, entry.req)
		delete(c.retries, id)
	}
	for _, req := range dropped {
		delete(c.pending, req.VideoID)
		delete(c.processed, req.VideoID)
	}
	now := c.nowFn().UTC()
	c.mu.Unlock()

	for _, req := range dropped {
		c.reportOutcome(Outcome{
			VideoID:    req.VideoID,
			Kind:       OutcomeDropped,
			Attempts:   req.Attempts,
			EnqueuedAt: req.EnqueuedAt,
			At:         now,
		}, ErrClosed)
	}
	return c.wait(timeout)
}

func (c *Controller) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return true
	case <-time.After(timeout):
		c.cancel()
		return false
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Queued:       lo.Map(c.queue, func(r *Request, _ int) string { return r.VideoID }),
		InFlight:     c.inFlight,
		RetryWaiting: len(c.retries),
		Pending:      len(c.pending),
		Processed:    len(c.processed),
		Concurrency:  c.concurrency,
		Closed:       c.closed,
	}
}

func (c *Controller) reportEnqueue(videoID string, res EnqueueResult) {
	if res.Accepted {
		c.logger.Info("preload_enqueued", slog.String("video_id", videoID))
	} else {
		c.logger.Debug("preload_enqueue_skipped",
			slog.String("video_id", videoID),
			slog.String("reason", res.Reason),
		)
	}
	if c.hooks.OnEnqueue != nil {
		c.hooks.OnEnqueue(videoID, res)
	}
}

func (c *Controller) logAttempt(rec StrategyAttempt, err error) {
	attrs := []any{
		slog.String("video_id", rec.VideoID),
		slog.String("strategy", rec.Strategy),
		slog.Int("attempt", rec.Attempt),
		slog.Duration("duration", time.Duration(rec.Duration)),
	}
	switch rec.Result {
	case AttemptAvailable:
		c.logger.Info("preload_strategy_available", attrs...)
	case AttemptSkipped:
		c.logger.Info("preload_strategy_skipped", append(attrs, slog.Any("err", err))...)
	case AttemptTimeout:
		c.logger.Warn("preload_strategy_timeout", append(attrs, slog.Any("err", err))...)
	case AttemptUnavailable:
		c.logger.Info("preload_strategy_unavailable", append(attrs, slog.Any("err", err))...)
	default:
		c.logger.Warn("preload_strategy_failed", append(attrs, slog.Any("err", err))...)
	}
}

func (c *Controller) reportOutcome(out Outcome, err error) {
	attrs := []any{
		slog.String("video_id", out.VideoID),
		slog.Int("attempts", out.Attempts),
	}
	switch out.Kind {
	case OutcomeSucceeded:
		c.logger.Info("preload_succeeded", append(attrs, slog.String("strategy", out.Strategy))...)
	case OutcomeRetryScheduled:
		c.logger.Info("preload_retry_scheduled", append(attrs, slog.Duration("delay", time.Duration(out.RetryIn)))...)
	case OutcomeDiscarded:
		c.logger.Warn("preload_discarded", append(attrs, slog.Any("err", err))...)
	case OutcomeDropped:
		if errors.Is(err, ErrClosed) {
			c.logger.Info("preload_dropped", attrs...)
		} else {
			c.logger.Info("preload_dropped", append(attrs, slog.Any("err", err))...)
		}
	}
	if c.hooks.OnOutcome != nil {
		c.hooks.OnOutcome(out)
	}
}
