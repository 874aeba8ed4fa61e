// Package browser drives a Chrome instance over the DevTools protocol to load
// videos into hidden frames and non-focused tabs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/nuetzliches/subwarm/internal/preload"
)

const (
	DefaultEmbedURL     = "https://www.youtube.com/embed/{id}?enablejsapi=1&autoplay=0&controls=0&cc_load_policy=1"
	DefaultWatchURL     = "https://www.youtube.com/watch?v={id}"
	DefaultStartTimeout = 30 * time.Second

	videoIDPlaceholder = "{id}"
)

var ErrNotStarted = errors.New("browser not started")

type Config struct {
	// RemoteURL attaches to an already running Chrome (ws:// or http://
	// DevTools endpoint). When empty a local Chrome is launched.
	RemoteURL    string
	ExecPath     string
	UserDataDir  string
	Headless     bool
	ExtraFlags   []string
	EmbedURL     string
	WatchURL     string
	StartTimeout time.Duration
}

// Browser implements preload.SurfaceLoader and preload.TabLoader.
type Browser struct {
	cfg    Config
	logger *slog.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var (
	_ preload.SurfaceLoader = (*Browser)(nil)
	_ preload.TabLoader     = (*Browser)(nil)
)

// Start launches or attaches to Chrome and waits until the first target is
// usable.
func Start(cfg Config, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		logger.Info("browser_connecting", slog.String("url", cfg.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		if cfg.UserDataDir != "" {
			if err := os.MkdirAll(cfg.UserDataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create browser profile dir: %w", err)
			}
		}
		logger.Info("browser_launching",
			slog.Bool("headless", cfg.Headless),
			slog.String("profile", cfg.UserDataDir),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOptions(cfg)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(browserCtx) }()

	timer := time.NewTimer(cfg.StartTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-timer.C:
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: timed out after %s", cfg.StartTimeout)
	}

	return &Browser{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func execOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("autoplay-policy", "user-gesture-required"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-sync", true),
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, f := range cfg.ExtraFlags {
		if k, v, ok := strings.Cut(f, "="); ok {
			opts = append(opts, chromedp.Flag(strings.TrimLeft(k, "-"), v))
		} else {
			opts = append(opts, chromedp.Flag(strings.TrimLeft(f, "-"), true))
		}
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// Close shuts the browser down. Tabs opened by a local Chrome go with it.
func (b *Browser) Close() {
	if b == nil {
		return
	}
	b.browserCancel()
	b.allocCancel()
}

func (b *Browser) EmbedURL(videoID string) string {
	return expandVideoURL(b.cfg.EmbedURL, DefaultEmbedURL, videoID)
}

func (b *Browser) WatchURL(videoID string) string {
	return expandVideoURL(b.cfg.WatchURL, DefaultWatchURL, videoID)
}

func expandVideoURL(tmpl, fallback, videoID string) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = fallback
	}
	return strings.ReplaceAll(tmpl, videoIDPlaceholder, url.QueryEscape(videoID))
}

// OpenTabCount reports the number of page targets, including tabs this
// process did not open.
func (b *Browser) OpenTabCount(ctx context.Context) (int, error) {
	if b == nil || b.browserCtx == nil {
		return 0, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	runCtx, release := bound(b.browserCtx, ctx)
	defer release()
	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}
	n := 0
	for _, info := range infos {
		if info.Type == "page" {
			n++
		}
	}
	return n, nil
}

// LoadHiddenSurface opens a throwaway background target, injects a zero-size
// iframe with the embed player and waits for its load event.
func (b *Browser) LoadHiddenSurface(ctx context.Context, videoID string) (preload.Surface, error) {
	t, err := b.openTarget(ctx, "about:blank")
	if t == nil {
		return nil, err
	}
	if err != nil {
		return t, err
	}

	var loaded bool
	err = t.run(ctx, chromedp.Evaluate(hiddenFrameScript(b.EmbedURL(videoID)), &loaded,
		func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		return t, fmt.Errorf("hidden frame: %w", err)
	}
	if !loaded {
		return t, errors.New("hidden frame: load event not observed")
	}
	return t, nil
}

// LoadBackgroundTab opens the watch page in a non-focused tab and waits for
// the document body.
func (b *Browser) LoadBackgroundTab(ctx context.Context, videoID string) (preload.Surface, error) {
	t, err := b.openTarget(ctx, b.WatchURL(videoID))
	if t == nil {
		return nil, err
	}
	if err != nil {
		return t, err
	}
	if err := t.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return t, fmt.Errorf("background tab: %w", err)
	}
	return t, nil
}

func (b *Browser) openTarget(ctx context.Context, rawURL string) (*tab, error) {
	if b == nil || b.browserCtx == nil {
		return nil, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var id target.ID
	err := runBounded(b.browserCtx, ctx, chromedp.ActionFunc(func(runCtx context.Context) error {
		c := chromedp.FromContext(runCtx)
		var err error
		id, err = target.CreateTarget(rawURL).WithBackground(true).Do(cdp.WithExecutor(runCtx, c.Browser))
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithTargetID(id))
	return &tab{browser: b, id: id, ctx: tabCtx, cancel: cancel}, nil
}

// tab is a target opened for one strategy attempt.
type tab struct {
	browser *Browser
	id      target.ID
	ctx     context.Context
	cancel  context.CancelFunc

	once sync.Once
	err  error
}

// run executes actions on the tab while honouring the caller's deadline and
// cancellation.
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	return runBounded(t.ctx, ctx, actions...)
}

// Close detaches from the target and closes it. Cancelling an attached
// chromedp context sends CloseTarget itself; a tab that never got a session
// is closed through the browser connection instead.
func (t *tab) Close() error {
	t.once.Do(func() {
		if c := chromedp.FromContext(t.ctx); c != nil && c.Target != nil {
			t.err = chromedp.Cancel(t.ctx)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.err = runBounded(t.browser.browserCtx, ctx, chromedp.ActionFunc(func(runCtx context.Context) error {
			c := chromedp.FromContext(runCtx)
			return target.CloseTarget(t.id).Do(cdp.WithExecutor(runCtx, c.Browser))
		}))
		t.cancel()
	})
	return t.err
}

// bound derives a context from parent, which carries the chromedp session,
// that also ends when ctx is cancelled or hits its deadline.
func bound(parent, ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(parent)
	release := cancel
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, deadline)
		release = func() {
			dcancel()
			cancel()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		release()
	}
}

func runBounded(parent, ctx context.Context, actions ...chromedp.Action) error {
	runCtx, release := bound(parent, ctx)
	defer release()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func hiddenFrameScript(src string) string {
	return fmt.Sprintf(`new Promise((resolve, reject) => {
  const f = document.createElement('iframe');
  f.width = '0';
  f.height = '0';
  f.style.cssText = 'position:absolute;left:-9999px;width:0;height:0;border:0;visibility:hidden;';
  f.allow = 'autoplay; encrypted-media';
  f.onload = () => resolve(true);
  f.onerror = () => reject(new Error('iframe failed to load'));
  f.src = %q;
  (document.body || document.documentElement).appendChild(f);
})`, src)
}
