package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"

	"github.com/nuetzliches/subwarm/internal/browser"
	"github.com/nuetzliches/subwarm/internal/config"
	"github.com/nuetzliches/subwarm/internal/healthapi"
	"github.com/nuetzliches/subwarm/internal/ingress"
	"github.com/nuetzliches/subwarm/internal/journal"
	"github.com/nuetzliches/subwarm/internal/notify"
	"github.com/nuetzliches/subwarm/internal/preload"
	"github.com/nuetzliches/subwarm/internal/secrets"
	"github.com/nuetzliches/subwarm/internal/subtitles"
)

// drainTimeout bounds shutdown. It covers the longest strategy chain
// (hidden frame load + settle + background tab timeout).
const drainTimeout = 30 * time.Second

func run() int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "./Subwarmfile", "path to config file")
	pidFile := fs.String("pid-file", "", "write process PID to file")
	logLevel := fs.String("log-level", "info", "log level (debug|info|warn|error)")
	dotenvPath := fs.String("dotenv", "", "load environment variables from file (dev only)")
	watch := fs.Bool("watch", false, "watch config file for reload")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return 2
	}

	baseLogger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	slog.SetDefault(baseLogger)

	releasePIDFile, err := claimPIDFile(strings.TrimSpace(*pidFile))
	if err != nil {
		baseLogger.Error("pid_file_failed", slog.Any("err", err))
		return 1
	}
	defer releasePIDFile()

	if strings.TrimSpace(*dotenvPath) != "" {
		if err := loadDotenv(strings.TrimSpace(*dotenvPath)); err != nil {
			baseLogger.Error("dotenv_failed", slog.Any("err", err))
			return 1
		}
	}

	compiled, ok := loadCompiled(*configPath, baseLogger)
	if !ok {
		return 1
	}

	runtimeLogger := baseLogger
	var runtimeLogCloser io.Closer
	if compiled.Observability.RuntimeLogDisabled {
		runtimeLogger = newDiscardLogger()
	} else if compiled.Observability.RuntimeLogSet {
		level := strings.TrimSpace(*logLevel)
		if compiled.Observability.RuntimeLogLevel != "" {
			level = compiled.Observability.RuntimeLogLevel
		}
		l, closer, err := newLoggerToSink(level, compiled.Observability.RuntimeLogOutput, compiled.Observability.RuntimeLogPath)
		if err != nil {
			baseLogger.Error("runtime_log_failed", slog.Any("err", err))
			return 1
		}
		runtimeLogger = l
		runtimeLogCloser = closer
	}
	if runtimeLogCloser != nil {
		defer func() { _ = runtimeLogCloser.Close() }()
	}
	slog.SetDefault(runtimeLogger)

	appMetrics := newRuntimeMetrics()

	if compiled.Observability.TracingEnabled {
		shutdownTracing, err := initTracing(context.Background(), compiled.Observability, func(err error) {
			appMetrics.incTracingExportErrors()
			runtimeLogger.Error("tracing_export_failed", slog.Any("err", err))
		})
		if err != nil {
			appMetrics.incTracingInitFailures()
			runtimeLogger.Error("tracing_init_failed", slog.Any("err", err))
			return 1
		}
		appMetrics.setTracingEnabled(true)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
		runtimeLogger.Info("tracing_enabled")
	}

	var accessLogger *slog.Logger
	if compiled.Observability.AccessLogEnabled {
		l, closer, err := newLoggerToSink("info", compiled.Observability.AccessLogOutput, compiled.Observability.AccessLogPath)
		if err != nil {
			runtimeLogger.Error("access_log_failed", slog.Any("err", err))
			return 1
		}
		accessLogger = l
		if closer != nil {
			defer func() { _ = closer.Close() }()
		}
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newJournalStore(compiled.Journal)
	if err != nil {
		runtimeLogger.Error("open_journal_failed", slog.Any("err", err))
		return 1
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}
	runtimeLogger.Info("journal_backend_selected", slog.String("backend", compiled.Journal.Backend))

	observers := preloadObservers{metrics: appMetrics, logger: runtimeLogger}
	if store != nil {
		observers.journal = store
	}

	if compiled.Notify.Enabled {
		password, err := secrets.Resolve(compiled.Notify.Password)
		if err != nil {
			runtimeLogger.Error("notify_secret_failed", slog.Any("err", err))
			return 1
		}
		pub, err := notify.NewRedisPublisher(ctx, notify.Config{
			URL:          compiled.Notify.RedisURL,
			Password:     password,
			Channel:      compiled.Notify.Channel,
			Stream:       compiled.Notify.Stream,
			StreamMaxLen: compiled.Notify.StreamMaxLen,
		}, runtimeLogger, func(error) { appMetrics.incNotifyErrors() })
		if err != nil {
			runtimeLogger.Error("notify_connect_failed", slog.Any("err", err))
			return 1
		}
		defer func() { _ = pub.Close() }()
		observers.notifier = pub
		runtimeLogger.Info("notify_enabled", slog.String("stream", compiled.Notify.Stream))
	}

	checker := subtitles.NewHTTPChecker(checkerHTTPClient(compiled.Observability.TracingEnabled), compiled.Checker.URL, compiled.Checker.Timeout)

	var br *browser.Browser
	if compiled.Preload.NeedsBrowser() {
		br, err = browser.Start(browserConfig(compiled.Browser), runtimeLogger)
		if err != nil {
			runtimeLogger.Error("browser_start_failed", slog.Any("err", err))
			return 1
		}
		defer br.Close()
	}

	strategies := buildStrategies(compiled.Preload, checker, br, runtimeLogger)
	runtimeLogger.Info("preload_strategies",
		slog.Any("strategies", lo.Map(strategies, func(s preload.Strategy, _ int) string { return s.Name() })),
	)

	origins := ingress.NewOriginPolicy(compiled.Ingress.AllowedOrigins)
	hub := ingress.NewHub(origins, runtimeLogger)
	defer hub.Close()
	observers.stream = hub

	controller := preload.NewController(strategies,
		preload.WithConcurrency(compiled.Preload.Concurrency),
		preload.WithMaxRetries(compiled.Preload.MaxRetries),
		preload.WithRetryDelay(compiled.Preload.RetryDelay),
		preload.WithLogger(runtimeLogger),
		preload.WithHooks(observers.hooks()),
	)
	appMetrics.snapshot = controller.Snapshot

	state := newRuntimeState(compiled, origins)

	running := compiled
	var reloadMu sync.Mutex
	reloadNow := func(trigger string) {
		reloadMu.Lock()
		defer reloadMu.Unlock()

		updated, ok := reloadConfig(*configPath, running, state, runtimeLogger, trigger)
		if ok {
			running = updated
		}
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				reloadNow("signal_sighup")
			}
		}
	}()

	api := ingress.NewServer(controller)
	api.Stream = hub
	api.Origins = origins
	api.Limiter = state.limiter()
	api.MaxBodyBytes = compiled.Ingress.MaxBody
	api.Logger = runtimeLogger
	if store != nil {
		api.Attempts = store
	}
	api.ObserveReject = appMetrics.observeIngressReject

	servers, err := startServers(api, compiled, runtimeLogger, accessLogger, appMetrics, cancel)
	if err != nil {
		runtimeLogger.Error("start_servers_failed", slog.Any("err", err))
		return 1
	}

	var health *healthapi.Server
	if compiled.HealthAPI.Enabled {
		health, err = startHealthAPI(compiled.HealthAPI.Listen, runtimeLogger, cancel)
		if err != nil {
			runtimeLogger.Error("start_servers_failed", slog.Any("err", err))
			return 1
		}
		health.SetServing(true)
	}

	if *watch {
		go watchConfig(ctx, *configPath, runtimeLogger, func() {
			reloadNow("watch")
		})
	}

	<-ctx.Done()

	if health != nil {
		health.SetServing(false)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, s := range servers {
		_ = s.Shutdown(shutdownCtx)
	}
	if ok := controller.Drain(drainTimeout); !ok {
		runtimeLogger.Warn("preload_drain_timeout", slog.Duration("timeout", drainTimeout))
	} else {
		runtimeLogger.Info("preload_drained")
	}
	if health != nil {
		health.Stop(time.Second)
	}

	return 0
}

func loadCompiled(path string, logger *slog.Logger) (config.Compiled, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read_config_failed", slog.Any("err", err))
		return config.Compiled{}, false
	}
	cfg, err := config.Parse(data)
	if err != nil {
		logger.Error("parse_config_failed", slog.Any("err", err))
		return config.Compiled{}, false
	}
	compiled, res := config.Compile(cfg)
	if !res.OK {
		logger.Error("compile_config_failed", slog.String("error", config.FormatValidationText(res)))
		return config.Compiled{}, false
	}
	for _, w := range res.Warnings {
		logger.Warn("config_warning", slog.String("warning", w))
	}
	logger.Info("config_ok")
	return compiled, true
}

func browserConfig(c config.BrowserConfig) browser.Config {
	return browser.Config{
		RemoteURL:    c.RemoteURL,
		ExecPath:     c.ExecPath,
		UserDataDir:  c.UserDataDir,
		Headless:     c.Headless,
		ExtraFlags:   append([]string(nil), c.Flags...),
		EmbedURL:     c.EmbedURL,
		WatchURL:     c.WatchURL,
		StartTimeout: c.StartTimeout,
	}
}

type pageLoader interface {
	preload.SurfaceLoader
	preload.TabLoader
}

// buildStrategies returns the configured strategies in order. Browser
// strategies are skipped when no loader is available.
func buildStrategies(cfg config.PreloadConfig, checker preload.AvailabilityChecker, loader pageLoader, logger *slog.Logger) []preload.Strategy {
	out := make([]preload.Strategy, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		switch name {
		case preload.StrategyDirectAPI:
			out = append(out, &preload.DirectAPIStrategy{Checker: checker})
		case preload.StrategyHiddenFrame:
			if isNilLoader(loader) {
				logger.Warn("preload_strategy_disabled", slog.String("strategy", name), slog.String("reason", "no browser"))
				continue
			}
			out = append(out, &preload.HiddenFrameStrategy{
				Loader:      loader,
				Checker:     checker,
				Tabs:        loader,
				MaxTabs:     cfg.MaxTabs,
				LoadTimeout: cfg.HiddenFrameLoadTimeout,
				Settle:      cfg.HiddenFrameSettle,
				Logger:      logger,
			})
		case preload.StrategyBackgroundTab:
			if isNilLoader(loader) {
				logger.Warn("preload_strategy_disabled", slog.String("strategy", name), slog.String("reason", "no browser"))
				continue
			}
			out = append(out, &preload.BackgroundTabStrategy{
				Tabs:    loader,
				Checker: checker,
				MaxTabs: cfg.MaxTabs,
				Settle:  cfg.BackgroundTabSettle,
				Timeout: cfg.BackgroundTabTimeout,
				Logger:  logger,
			})
		}
	}
	return out
}

func isNilLoader(l pageLoader) bool {
	if l == nil {
		return true
	}
	b, ok := l.(*browser.Browser)
	return ok && b == nil
}

func newJournalStore(cfg config.JournalConfig) (journal.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		var opts []journal.MemoryOption
		if cfg.MaxEntries > 0 {
			opts = append(opts, journal.WithMaxEntries(cfg.MaxEntries))
		}
		return journal.NewMemoryStore(opts...), nil
	case "sqlite":
		s, err := journal.NewSQLiteStore(cfg.Path, journal.WithSQLiteRetention(cfg.Retention, cfg.PruneInterval))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		dsn, err := secrets.Resolve(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("journal.dsn: %w", err)
		}
		s, err := journal.NewPostgresStore(dsn, journal.WithPostgresRetention(cfg.Retention, cfg.PruneInterval))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported journal backend %q", cfg.Backend)
	}
}

// runtimeState holds what a reload may change without a restart.
type runtimeState struct {
	mu      sync.Mutex
	origins *ingress.OriginPolicy
	limit   *ingress.RateLimiter
}

func newRuntimeState(compiled config.Compiled, origins *ingress.OriginPolicy) *runtimeState {
	s := &runtimeState{origins: origins}
	s.apply(compiled)
	return s
}

func (s *runtimeState) apply(compiled config.Compiled) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.origins != nil {
		s.origins.Set(compiled.Ingress.AllowedOrigins)
	}
	rl := compiled.Ingress.RateLimit
	if s.limit == nil {
		s.limit = ingress.NewRateLimiter(rl.RPS, rl.Burst)
	} else {
		s.limit.SetLimit(rl.RPS, rl.Burst)
	}
	s.limit.SetEnabled(rl.Enabled)
}

func (s *runtimeState) limiter() *ingress.RateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

func watchConfig(ctx context.Context, path string, logger *slog.Logger, reload func()) {
	if logger == nil {
		logger = slog.Default()
	}
	if reload == nil {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}
	defer w.Close()

	// Watch the directory: editors replace the file on save.
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}

	logger.Info("watching_config", slog.String("path", path))

	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
		}
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watch_error", slog.Any("err", err))
		case <-timerCh:
			timerCh = nil
			reload()
		}
	}
}

func reloadConfig(path string, running config.Compiled, state *runtimeState, logger *slog.Logger, trigger string) (config.Compiled, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("config_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return running, false
	}
	cfg, err := config.Parse(data)
	if err != nil {
		logger.Error("config_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return running, false
	}
	compiled, res := config.Compile(cfg)
	if !res.OK {
		logger.Error("config_reload_failed", slog.String("error", config.FormatValidationText(res)), slog.String("trigger", trigger))
		return running, false
	}

	if requiresRestartForReload(compiled, running) {
		logger.Info("config_reloaded_restart_required", slog.String("trigger", trigger))
		return running, false
	}

	state.apply(compiled)
	logger.Info("config_reloaded_ok", slog.String("trigger", trigger))
	return compiled, true
}

// requiresRestartForReload reports whether anything besides the ingress rate
// limit and allowed origins changed.
func requiresRestartForReload(compiled, running config.Compiled) bool {
	a, b := compiled, running
	a.Ingress.RateLimit, b.Ingress.RateLimit = config.RateLimitConfig{}, config.RateLimitConfig{}
	a.Ingress.AllowedOrigins, b.Ingress.AllowedOrigins = nil, nil

	if a.Ingress.Listen != b.Ingress.Listen || a.Ingress.MaxBody != b.Ingress.MaxBody {
		return true
	}
	if a.Checker != b.Checker || a.HealthAPI != b.HealthAPI || a.Notify != b.Notify || a.Journal != b.Journal {
		return true
	}
	if !browserConfigEqual(a.Browser, b.Browser) || !preloadConfigEqual(a.Preload, b.Preload) {
		return true
	}
	return !observabilityEqual(a.Observability, b.Observability)
}

func browserConfigEqual(a, b config.BrowserConfig) bool {
	return a.RemoteURL == b.RemoteURL &&
		a.ExecPath == b.ExecPath &&
		a.UserDataDir == b.UserDataDir &&
		a.Headless == b.Headless &&
		slices.Equal(a.Flags, b.Flags) &&
		a.EmbedURL == b.EmbedURL &&
		a.WatchURL == b.WatchURL &&
		a.StartTimeout == b.StartTimeout
}

func preloadConfigEqual(a, b config.PreloadConfig) bool {
	return a.Concurrency == b.Concurrency &&
		a.MaxRetries == b.MaxRetries &&
		a.RetryDelay == b.RetryDelay &&
		slices.Equal(a.Strategies, b.Strategies) &&
		a.HiddenFrameLoadTimeout == b.HiddenFrameLoadTimeout &&
		a.HiddenFrameSettle == b.HiddenFrameSettle &&
		a.BackgroundTabSettle == b.BackgroundTabSettle &&
		a.BackgroundTabTimeout == b.BackgroundTabTimeout &&
		a.MaxTabs == b.MaxTabs
}

func observabilityEqual(a, b config.ObservabilityConfig) bool {
	if a.AccessLogEnabled != b.AccessLogEnabled ||
		a.AccessLogOutput != b.AccessLogOutput ||
		a.AccessLogPath != b.AccessLogPath ||
		a.RuntimeLogLevel != b.RuntimeLogLevel ||
		a.RuntimeLogDisabled != b.RuntimeLogDisabled ||
		a.RuntimeLogOutput != b.RuntimeLogOutput ||
		a.RuntimeLogPath != b.RuntimeLogPath ||
		a.Metrics != b.Metrics {
		return false
	}
	if a.TracingEnabled != b.TracingEnabled ||
		a.TracingCollector != b.TracingCollector ||
		a.TracingURLPath != b.TracingURLPath ||
		a.TracingCompression != b.TracingCompression ||
		a.TracingInsecure != b.TracingInsecure ||
		a.TracingTimeout != b.TracingTimeout ||
		a.TracingTimeoutSet != b.TracingTimeoutSet ||
		a.TracingProxyURL != b.TracingProxyURL ||
		a.TracingTLSCAFile != b.TracingTLSCAFile ||
		a.TracingTLSCertFile != b.TracingTLSCertFile ||
		a.TracingTLSKeyFile != b.TracingTLSKeyFile ||
		a.TracingTLSServerName != b.TracingTLSServerName ||
		a.TracingTLSInsecureSkipVerify != b.TracingTLSInsecureSkipVerify {
		return false
	}
	return slices.Equal(a.TracingHeaders, b.TracingHeaders)
}

func startServers(
	api http.Handler,
	compiled config.Compiled,
	runtimeLogger *slog.Logger,
	accessLogger *slog.Logger,
	appMetrics *runtimeMetrics,
	cancel context.CancelFunc,
) ([]*http.Server, error) {
	if runtimeLogger == nil {
		runtimeLogger = slog.Default()
	}

	var servers []*http.Server

	ingressLn, err := net.Listen("tcp", compiled.Ingress.Listen)
	if err != nil {
		return nil, fmt.Errorf("ingress listen %s: %w", compiled.Ingress.Listen, err)
	}
	handler := wrapTracingHandler(compiled.Observability.TracingEnabled, "ingress", api)
	if accessLogger != nil {
		handler = withAccessLog(accessLogger.With(slog.String("component", "ingress")), handler)
	}
	ingressSrv := &http.Server{
		Addr:              compiled.Ingress.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	servers = append(servers, ingressSrv)
	serveOnListener(runtimeLogger, "ingress", ingressSrv, ingressLn, cancel)
	runtimeLogger.Info("ingress_listening", slog.String("addr", ingressLn.Addr().String()))

	if compiled.Observability.Metrics.Enabled {
		metricsLn, err := net.Listen("tcp", compiled.Observability.Metrics.Listen)
		if err != nil {
			_ = ingressSrv.Close()
			return nil, fmt.Errorf("metrics listen %s: %w", compiled.Observability.Metrics.Listen, err)
		}
		mux := http.NewServeMux()
		mux.Handle(compiled.Observability.Metrics.Path, newMetricsHandler(version, time.Now(), appMetrics))
		metricsSrv := &http.Server{
			Addr:              compiled.Observability.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, metricsSrv)
		serveOnListener(runtimeLogger, "metrics", metricsSrv, metricsLn, cancel)
		runtimeLogger.Info("metrics_listening",
			slog.String("addr", metricsLn.Addr().String()),
			slog.String("path", compiled.Observability.Metrics.Path),
		)
	}

	return servers, nil
}

func startHealthAPI(addr string, logger *slog.Logger, cancel context.CancelFunc) (*healthapi.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health_api listen %s: %w", addr, err)
	}
	srv := healthapi.NewServer(logger)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Error("health_api_error", slog.Any("err", err))
			cancel()
		}
	}()
	logger.Info("health_api_listening", slog.String("addr", ln.Addr().String()))
	return srv, nil
}

func claimPIDFile(pidFile string) (func(), error) {
	pidFile = strings.TrimSpace(pidFile)
	if pidFile == "" {
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(pidFile), 0o755); err != nil {
		return nil, err
	}

	if pid, err := readPIDFile(pidFile); err == nil && pid > 0 {
		if pidRunning(pid) {
			return nil, fmt.Errorf("pid file %q points to running process %d", pidFile, pid)
		}
	}

	pid := os.Getpid()
	if err := writeFileAtomic(pidFile, []byte(strconv.Itoa(pid)+"\n")); err != nil {
		return nil, err
	}

	return func() {
		cur, err := readPIDFile(pidFile)
		if err != nil {
			return
		}
		if cur == pid {
			_ = os.Remove(pidFile)
		}
	}, nil
}

// writeFileAtomic replaces path via a synced temp file and rename. New files
// get mode 0600; existing files keep their mode.
func writeFileAtomic(path string, data []byte) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("empty path")
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	mode := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	} else if !os.IsNotExist(err) {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	keepTemp := false
	defer func() {
		_ = tmp.Close()
		if !keepTemp {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	keepTemp = true

	return syncDir(dir)
}

func syncDir(dir string) error {
	if dir == "" {
		dir = "."
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := f.Sync(); err != nil {
		if runtime.GOOS == "windows" {
			// no fsync on directory handles
			return nil
		}
		return err
	}
	return nil
}

func readPIDFile(pidFile string) (int, error) {
	b, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return 0, fmt.Errorf("pid file %q is empty", pidFile)
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q contains invalid pid %q", pidFile, raw)
	}
	return pid, nil
}

func pidRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombiePID(pid) {
		return false
	}
	return processExists(pid)
}

func isZombiePID(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return false
	}
	return fields[2] == "Z"
}
