package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/nuetzliches/subwarm/internal/httpheader"
	"github.com/nuetzliches/subwarm/internal/secrets"
)

const (
	DefaultIngressListen   = ":3100"
	DefaultCheckerURL      = "http://localhost:3000"
	DefaultCheckerTimeout  = 5 * time.Second
	DefaultMaxBody         = 64 << 10
	DefaultJournalBackend  = "memory"
	DefaultSQLiteJournal   = "./subwarm-journal.db"
	DefaultMetricsPath     = "/metrics"
	DefaultMetricsListen   = "127.0.0.1:9900"
	DefaultHealthAPIListen = "127.0.0.1:3101"

	defaultConcurrency   = 3
	defaultMaxRetries    = 2
	defaultRetryDelay    = 2 * time.Second
	defaultLoadTimeout   = 10 * time.Second
	defaultHiddenSettle  = 5 * time.Second
	defaultTabSettle     = 8 * time.Second
	defaultTabTimeout    = 15 * time.Second
	defaultMaxTabs       = 50
	defaultStartTimeout  = 30 * time.Second
	defaultPruneInterval = 5 * time.Minute
)

// Strategy names accepted by `preload.strategies`, in default order.
var KnownStrategies = []string{"direct_api", "hidden_frame", "background_tab"}

type Compiled struct {
	Ingress       IngressConfig
	Checker       CheckerConfig
	Browser       BrowserConfig
	Preload       PreloadConfig
	Journal       JournalConfig
	Notify        NotifyConfig
	HealthAPI     HealthAPIConfig
	Observability ObservabilityConfig
}

type IngressConfig struct {
	Listen         string
	MaxBody        int64
	AllowedOrigins []string
	RateLimit      RateLimitConfig
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type CheckerConfig struct {
	URL     string
	Timeout time.Duration
}

type BrowserConfig struct {
	RemoteURL    string
	ExecPath     string
	UserDataDir  string
	Headless     bool
	Flags        []string
	EmbedURL     string
	WatchURL     string
	StartTimeout time.Duration
}

type PreloadConfig struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	Strategies  []string

	HiddenFrameLoadTimeout time.Duration
	HiddenFrameSettle      time.Duration

	BackgroundTabSettle  time.Duration
	BackgroundTabTimeout time.Duration
	MaxTabs              int
}

// NeedsBrowser reports whether any configured strategy drives Chrome.
func (c PreloadConfig) NeedsBrowser() bool {
	return lo.Contains(c.Strategies, "hidden_frame") || lo.Contains(c.Strategies, "background_tab")
}

type JournalConfig struct {
	Backend       string
	Path          string
	DSN           string
	Retention     time.Duration
	PruneInterval time.Duration
	MaxEntries    int
}

type NotifyConfig struct {
	Enabled      bool
	RedisURL     string
	Password     string
	Channel      string
	Stream       string
	StreamMaxLen int64
}

type HealthAPIConfig struct {
	Enabled bool
	Listen  string
}

type ObservabilityConfig struct {
	AccessLogEnabled   bool
	AccessLogOutput    string
	AccessLogPath      string
	RuntimeLogLevel    string
	RuntimeLogDisabled bool
	RuntimeLogOutput   string
	RuntimeLogPath     string
	RuntimeLogSet      bool
	Metrics            MetricsConfig

	TracingEnabled               bool
	TracingCollector             string
	TracingURLPath               string
	TracingCompression           string
	TracingInsecure              bool
	TracingTimeout               time.Duration
	TracingTimeoutSet            bool
	TracingProxyURL              string
	TracingTLSCAFile             string
	TracingTLSCertFile           string
	TracingTLSKeyFile            string
	TracingTLSServerName         string
	TracingTLSInsecureSkipVerify bool
	TracingHeaders               []TracingHeaderConfig
}

type MetricsConfig struct {
	Enabled bool
	Listen  string
	Path    string
}

type TracingHeaderConfig struct {
	Name  string
	Value string
}

// Compile resolves placeholders, applies defaults and validates the parsed
// config. The returned Compiled is only meaningful when res.OK is true.
func Compile(cfg *Config) (Compiled, ValidationResult) {
	var res ValidationResult
	if cfg == nil {
		res.errorf("nil config")
		return Compiled{}, res
	}

	out := Compiled{
		Ingress:       compileIngress(cfg.Ingress, &res),
		Checker:       compileChecker(cfg.Checker, &res),
		Browser:       compileBrowser(cfg.Browser, &res),
		Preload:       compilePreload(cfg.Preload, &res),
		Journal:       compileJournal(cfg.Journal, &res),
		Notify:        compileNotify(cfg.Notify, &res),
		HealthAPI:     compileHealthAPI(cfg.HealthAPI, &res),
		Observability: compileObservability(cfg.Observability, &res),
	}

	if cfg.Browser != nil && !out.Preload.NeedsBrowser() {
		res.warnf("browser block is set but no strategy uses the browser")
	}
	if out.Observability.Metrics.Enabled && out.Observability.Metrics.Listen == out.Ingress.Listen {
		res.errorf("observability.metrics.listen must differ from ingress.listen")
	}
	if out.HealthAPI.Enabled {
		clash := out.HealthAPI.Listen == out.Ingress.Listen
		if out.Observability.Metrics.Enabled && out.HealthAPI.Listen == out.Observability.Metrics.Listen {
			clash = true
		}
		if clash {
			res.errorf("health_api.listen must differ from other listeners")
		}
	}

	res.OK = len(res.Errors) == 0
	return out, res
}

func compileIngress(in *IngressBlock, res *ValidationResult) IngressConfig {
	out := IngressConfig{Listen: DefaultIngressListen, MaxBody: DefaultMaxBody}
	if in == nil {
		return out
	}
	if in.Listen.Set {
		out.Listen = compileListen(in.Listen, "ingress.listen", res)
	}
	if in.MaxBody.Set {
		raw := resolveValue(in.MaxBody, "ingress.max_body", res)
		n, err := parseByteSize(raw)
		if err != nil || n <= 0 {
			res.errorf("ingress.max_body must be a positive size like 64kb or 1mb")
		} else {
			out.MaxBody = n
		}
	}
	for i, item := range in.AllowedOrigins.Items {
		field := fmt.Sprintf("ingress.allowed_origins[%d]", i)
		origin := resolveValue(item, field, res)
		if origin == "" {
			res.errorf("%s must not be empty", field)
			continue
		}
		if origin != "*" && !strings.HasSuffix(origin, "*") {
			if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
				res.errorf("%s must be an origin like https://example.com or chrome-extension://*", field)
				continue
			}
		}
		out.AllowedOrigins = append(out.AllowedOrigins, origin)
	}
	out.AllowedOrigins = lo.Uniq(out.AllowedOrigins)

	if in.RateLimit != nil {
		out.RateLimit = compileRateLimit(in.RateLimit, res)
	}
	return out
}

func compileRateLimit(in *RateLimitBlock, res *ValidationResult) RateLimitConfig {
	out := RateLimitConfig{Enabled: true, RPS: 5, Burst: 10}
	if in.RPS.Set {
		raw := resolveValue(in.RPS, "ingress.rate_limit.rps", res)
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			res.errorf("ingress.rate_limit.rps must be a positive number")
		} else {
			out.RPS = v
		}
	}
	if in.Burst.Set {
		if v, ok := parsePositiveIntInRange(resolveValue(in.Burst, "ingress.rate_limit.burst", res), "ingress.rate_limit.burst", 1, 100000, res); ok {
			out.Burst = v
		}
	}
	return out
}

func compileChecker(in *CheckerBlock, res *ValidationResult) CheckerConfig {
	out := CheckerConfig{URL: DefaultCheckerURL, Timeout: DefaultCheckerTimeout}
	if in == nil {
		return out
	}
	if in.URL.Set {
		out.URL = compileHTTPURL(in.URL, "checker.url", res)
	}
	compileDuration(in.Timeout, "checker.timeout", &out.Timeout, res)
	return out
}

func compileBrowser(in *BrowserBlock, res *ValidationResult) BrowserConfig {
	out := BrowserConfig{Headless: true, StartTimeout: defaultStartTimeout}
	if in == nil {
		return out
	}
	if in.RemoteURL.Set {
		raw := resolveValue(in.RemoteURL, "browser.remote_url", res)
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || !lo.Contains([]string{"ws", "wss", "http", "https"}, u.Scheme) {
			res.errorf("browser.remote_url must be a ws:// or http:// DevTools endpoint")
		} else {
			out.RemoteURL = raw
		}
	}
	if in.ExecPath.Set {
		out.ExecPath = resolveValue(in.ExecPath, "browser.exec_path", res)
	}
	if in.UserDataDir.Set {
		out.UserDataDir = resolveValue(in.UserDataDir, "browser.user_data_dir", res)
	}
	if out.RemoteURL != "" && (out.ExecPath != "" || out.UserDataDir != "") {
		res.warnf("browser.exec_path and browser.user_data_dir are ignored with browser.remote_url")
	}
	compileBool(in.Headless, "browser.headless", &out.Headless, res)
	for i, item := range in.Flags.Items {
		if flag := resolveValue(item, fmt.Sprintf("browser.flags[%d]", i), res); flag != "" {
			out.Flags = append(out.Flags, flag)
		}
	}
	for _, t := range []struct {
		v     Value
		field string
		dst   *string
	}{
		{in.EmbedURL, "browser.embed_url", &out.EmbedURL},
		{in.WatchURL, "browser.watch_url", &out.WatchURL},
	} {
		if !t.v.Set {
			continue
		}
		raw := resolveValue(t.v, t.field, res)
		if !strings.Contains(raw, "{id}") {
			res.errorf("%s must contain the {id} placeholder", t.field)
			continue
		}
		*t.dst = raw
	}
	compileDuration(in.StartTimeout, "browser.start_timeout", &out.StartTimeout, res)
	return out
}

func compilePreload(in *PreloadBlock, res *ValidationResult) PreloadConfig {
	out := PreloadConfig{
		Concurrency:            defaultConcurrency,
		MaxRetries:             defaultMaxRetries,
		RetryDelay:             defaultRetryDelay,
		Strategies:             append([]string(nil), KnownStrategies...),
		HiddenFrameLoadTimeout: defaultLoadTimeout,
		HiddenFrameSettle:      defaultHiddenSettle,
		BackgroundTabSettle:    defaultTabSettle,
		BackgroundTabTimeout:   defaultTabTimeout,
		MaxTabs:                defaultMaxTabs,
	}
	if in == nil {
		return out
	}

	if in.Concurrency.Set {
		if v, ok := parsePositiveIntInRange(resolveValue(in.Concurrency, "preload.concurrency", res), "preload.concurrency", 1, 64, res); ok {
			out.Concurrency = v
		}
	}
	if in.MaxRetries.Set {
		if v, ok := parsePositiveIntInRange(resolveValue(in.MaxRetries, "preload.max_retries", res), "preload.max_retries", 0, 100, res); ok {
			out.MaxRetries = v
		}
	}
	compileDuration(in.RetryDelay, "preload.retry_delay", &out.RetryDelay, res)

	if in.Strategies.Set {
		names := make([]string, 0, len(in.Strategies.Items))
		for i, item := range in.Strategies.Items {
			name := strings.ToLower(resolveValue(item, fmt.Sprintf("preload.strategies[%d]", i), res))
			if !lo.Contains(KnownStrategies, name) {
				res.errorf("preload.strategies: unknown strategy %q (use: %s)", name, strings.Join(KnownStrategies, "|"))
				continue
			}
			if lo.Contains(names, name) {
				res.errorf("preload.strategies: duplicate strategy %q", name)
				continue
			}
			names = append(names, name)
		}
		out.Strategies = names
	}

	if in.HiddenFrame != nil {
		compileDuration(in.HiddenFrame.LoadTimeout, "preload.hidden_frame.load_timeout", &out.HiddenFrameLoadTimeout, res)
		compileDuration(in.HiddenFrame.Settle, "preload.hidden_frame.settle", &out.HiddenFrameSettle, res)
	}
	if in.BackgroundTab != nil {
		compileDuration(in.BackgroundTab.Settle, "preload.background_tab.settle", &out.BackgroundTabSettle, res)
		compileDuration(in.BackgroundTab.Timeout, "preload.background_tab.timeout", &out.BackgroundTabTimeout, res)
		if in.BackgroundTab.MaxTabs.Set {
			if v, ok := parsePositiveIntInRange(resolveValue(in.BackgroundTab.MaxTabs, "preload.background_tab.max_tabs", res), "preload.background_tab.max_tabs", 1, 1000, res); ok {
				out.MaxTabs = v
			}
		}
		if out.BackgroundTabSettle >= out.BackgroundTabTimeout {
			res.warnf("preload.background_tab.settle (%s) is not below timeout (%s); every tab attempt will time out", out.BackgroundTabSettle, out.BackgroundTabTimeout)
		}
	}
	if in.HiddenFrame != nil && !lo.Contains(out.Strategies, "hidden_frame") {
		res.warnf("preload.hidden_frame is set but hidden_frame is not in preload.strategies")
	}
	if in.BackgroundTab != nil && !lo.Contains(out.Strategies, "background_tab") {
		res.warnf("preload.background_tab is set but background_tab is not in preload.strategies")
	}
	return out
}

func compileJournal(in *JournalBlock, res *ValidationResult) JournalConfig {
	out := JournalConfig{Backend: DefaultJournalBackend, PruneInterval: defaultPruneInterval}
	if in == nil {
		return out
	}
	if in.Backend.Set {
		b := strings.ToLower(resolveValue(in.Backend, "journal.backend", res))
		switch b {
		case "memory", "sqlite", "postgres", "off":
			out.Backend = b
		default:
			res.errorf("journal.backend must be memory|sqlite|postgres|off")
		}
	}
	if in.Path.Set {
		out.Path = resolveValue(in.Path, "journal.path", res)
	}
	if in.DSN.Set {
		out.DSN = compileSecretValue(in.DSN, "journal.dsn", res)
	}
	switch out.Backend {
	case "sqlite":
		if out.Path == "" {
			out.Path = DefaultSQLiteJournal
		}
	case "postgres":
		if out.DSN == "" {
			res.errorf("journal.dsn is required for the postgres backend")
		}
	}
	if out.Backend != "sqlite" && in.Path.Set {
		res.warnf("journal.path is only used by the sqlite backend")
	}
	if out.Backend != "postgres" && in.DSN.Set {
		res.warnf("journal.dsn is only used by the postgres backend")
	}
	if in.Retention.Set {
		d, _, err := parseDurationValue(resolveValue(in.Retention, "journal.retention", res))
		if err != nil {
			res.errorf("journal.retention %s", err)
		} else {
			out.Retention = d
		}
	}
	compileDuration(in.PruneInterval, "journal.prune_interval", &out.PruneInterval, res)
	if in.MaxEntries.Set {
		if v, ok := parsePositiveIntInRange(resolveValue(in.MaxEntries, "journal.max_entries", res), "journal.max_entries", 1, 10_000_000, res); ok {
			out.MaxEntries = v
		}
		if out.Backend != "memory" {
			res.warnf("journal.max_entries only bounds the memory backend; use retention for %s", out.Backend)
		}
	}
	return out
}

func compileNotify(in *NotifyBlock, res *ValidationResult) NotifyConfig {
	var out NotifyConfig
	if in == nil {
		return out
	}
	if !in.RedisURL.Set {
		res.errorf("notify.redis_url is required")
		return out
	}
	raw := resolveValue(in.RedisURL, "notify.redis_url", res)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") || u.Host == "" {
		res.errorf("notify.redis_url must be a redis:// or rediss:// url")
	} else {
		out.Enabled = true
		out.RedisURL = raw
	}
	if in.Password.Set {
		out.Password = compileSecretValue(in.Password, "notify.password", res)
	}
	if in.Channel.Set {
		out.Channel = resolveValue(in.Channel, "notify.channel", res)
		if out.Channel == "" {
			res.errorf("notify.channel must not be empty")
		}
	}
	if in.Stream.Set {
		out.Stream = resolveValue(in.Stream, "notify.stream", res)
	}
	if in.StreamMaxLen.Set {
		if v, ok := parsePositiveIntInRange(resolveValue(in.StreamMaxLen, "notify.stream_max_len", res), "notify.stream_max_len", 1, 100_000_000, res); ok {
			out.StreamMaxLen = int64(v)
		}
		if out.Stream == "" {
			res.warnf("notify.stream_max_len has no effect without notify.stream")
		}
	}
	return out
}

func compileHealthAPI(in *HealthAPIBlock, res *ValidationResult) HealthAPIConfig {
	if in == nil {
		return HealthAPIConfig{}
	}
	out := HealthAPIConfig{Enabled: true, Listen: DefaultHealthAPIListen}
	if in.Listen.Set {
		out.Listen = compileListen(in.Listen, "health_api.listen", res)
	}
	return out
}

func compileObservability(in *ObservabilityBlock, res *ValidationResult) ObservabilityConfig {
	out := ObservabilityConfig{
		AccessLogEnabled: true,
		AccessLogOutput:  "stderr",
		RuntimeLogOutput: "stderr",
		Metrics:          MetricsConfig{Listen: DefaultMetricsListen, Path: DefaultMetricsPath},
	}
	if in == nil {
		return out
	}

	if in.RuntimeLogShort.Set {
		out.RuntimeLogSet = true
		compileRuntimeLevel(in.RuntimeLogShort, "observability.runtime_log", &out, res)
	}
	if b := in.RuntimeLog; b != nil {
		out.RuntimeLogSet = true
		if b.Level.Set {
			compileRuntimeLevel(b.Level, "observability.runtime_log.level", &out, res)
		}
		out.RuntimeLogOutput, out.RuntimeLogPath = compileLogSink("observability.runtime_log", b.Output, b.Path, res)
	}

	compileBool(in.AccessLogShort, "observability.access_log", &out.AccessLogEnabled, res)
	if b := in.AccessLog; b != nil {
		compileBool(b.Enabled, "observability.access_log.enabled", &out.AccessLogEnabled, res)
		out.AccessLogOutput, out.AccessLogPath = compileLogSink("observability.access_log", b.Output, b.Path, res)
	}

	compileBool(in.MetricsShort, "observability.metrics", &out.Metrics.Enabled, res)
	if b := in.Metrics; b != nil {
		out.Metrics.Enabled = true
		compileBool(b.Enabled, "observability.metrics.enabled", &out.Metrics.Enabled, res)
		if b.Listen.Set {
			out.Metrics.Listen = compileListen(b.Listen, "observability.metrics.listen", res)
		}
		if b.Path.Set {
			p := resolveValue(b.Path, "observability.metrics.path", res)
			if !strings.HasPrefix(p, "/") {
				res.errorf("observability.metrics.path must start with '/'")
			} else {
				out.Metrics.Path = p
			}
		}
	}

	compileBool(in.TracingShort, "observability.tracing", &out.TracingEnabled, res)
	if b := in.Tracing; b != nil {
		compileTracing(b, &out, res)
	}
	return out
}

func compileTracing(b *TracingBlock, out *ObservabilityConfig, res *ValidationResult) {
	out.TracingEnabled = true
	compileBool(b.Enabled, "observability.tracing.enabled", &out.TracingEnabled, res)
	if b.Collector.Set {
		out.TracingCollector = compileHTTPURL(b.Collector, "observability.tracing.collector", res)
	}
	if b.URLPath.Set {
		out.TracingURLPath = resolveValue(b.URLPath, "observability.tracing.url_path", res)
		if !strings.HasPrefix(out.TracingURLPath, "/") {
			res.errorf("observability.tracing.url_path must start with '/'")
		}
	}
	if b.Timeout.Set {
		out.TracingTimeoutSet = true
		compileDuration(b.Timeout, "observability.tracing.timeout", &out.TracingTimeout, res)
	}
	if b.Compression.Set {
		c := strings.ToLower(resolveValue(b.Compression, "observability.tracing.compression", res))
		if c != "none" && c != "gzip" {
			res.errorf("observability.tracing.compression must be none|gzip")
		} else {
			out.TracingCompression = c
		}
	}
	compileBool(b.Insecure, "observability.tracing.insecure", &out.TracingInsecure, res)
	if b.ProxyURL.Set {
		out.TracingProxyURL = compileHTTPURL(b.ProxyURL, "observability.tracing.proxy_url", res)
	}
	if t := b.TLS; t != nil {
		if t.CAFile.Set {
			out.TracingTLSCAFile = resolveValue(t.CAFile, "observability.tracing.tls.ca_file", res)
		}
		if t.CertFile.Set {
			out.TracingTLSCertFile = resolveValue(t.CertFile, "observability.tracing.tls.cert_file", res)
		}
		if t.KeyFile.Set {
			out.TracingTLSKeyFile = resolveValue(t.KeyFile, "observability.tracing.tls.key_file", res)
		}
		if (out.TracingTLSCertFile == "") != (out.TracingTLSKeyFile == "") {
			res.errorf("observability.tracing.tls.cert_file and key_file must be set together")
		}
		if t.ServerName.Set {
			out.TracingTLSServerName = resolveValue(t.ServerName, "observability.tracing.tls.server_name", res)
		}
		compileBool(t.InsecureSkipVerify, "observability.tracing.tls.insecure_skip_verify", &out.TracingTLSInsecureSkipVerify, res)
	}
	for i, h := range b.Headers {
		field := fmt.Sprintf("observability.tracing.header[%d]", i)
		name := resolveValue(h.Name, field+".name", res)
		if name == "" {
			res.errorf("%s.name must not be empty", field)
			continue
		}
		value := resolveValue(h.Value, field+".value", res)
		canonical, err := httpheader.Validate(name, value)
		if err != nil {
			res.errorf("%s: %s", field, err)
			continue
		}
		out.TracingHeaders = append(out.TracingHeaders, TracingHeaderConfig{
			Name:  canonical,
			Value: value,
		})
	}
}

func compileRuntimeLevel(v Value, field string, out *ObservabilityConfig, res *ValidationResult) {
	switch raw := strings.ToLower(resolveValue(v, field, res)); raw {
	case "off":
		out.RuntimeLogDisabled = true
	case "debug", "info", "warn", "error":
		out.RuntimeLogLevel = raw
	case "warning":
		out.RuntimeLogLevel = "warn"
	default:
		res.errorf("%s must be debug|info|warn|error|off", field)
	}
}

func compileLogSink(prefix string, outputV, pathV Value, res *ValidationResult) (output, path string) {
	output = "stderr"
	if outputV.Set {
		switch raw := strings.ToLower(resolveValue(outputV, prefix+".output", res)); raw {
		case "stdout", "stderr", "file":
			output = raw
		default:
			res.errorf("%s.output must be stdout|stderr|file", prefix)
		}
	}
	if pathV.Set {
		path = resolveValue(pathV, prefix+".path", res)
	}
	switch {
	case output == "file" && path == "":
		res.errorf("%s.path is required when output is file", prefix)
	case output != "file" && pathV.Set:
		res.errorf("%s.path requires output file", prefix)
	}
	return output, path
}

// compileSecretValue accepts a literal or a secret reference (env:, file:,
// raw:). References are validated here and loaded at startup.
func compileSecretValue(v Value, field string, res *ValidationResult) string {
	raw := resolveValue(v, field, res)
	if secrets.IsRef(raw) {
		if err := secrets.ValidateRef(raw); err != nil {
			res.errorf("%s: %s", field, err)
		}
	}
	return raw
}

func compileListen(v Value, field string, res *ValidationResult) string {
	raw := resolveValue(v, field, res)
	if _, _, err := net.SplitHostPort(raw); err != nil {
		res.errorf("%s must be host:port or :port", field)
		return ""
	}
	return raw
}

func compileHTTPURL(v Value, field string, res *ValidationResult) string {
	raw := resolveValue(v, field, res)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		res.errorf("%s must be an http(s) url", field)
		return ""
	}
	return strings.TrimRight(raw, "/")
}

func compileDuration(v Value, field string, dst *time.Duration, res *ValidationResult) {
	if !v.Set {
		return
	}
	d, err := parsePositiveDuration(resolveValue(v, field, res))
	if err != nil {
		res.errorf("%s %s", field, err)
		return
	}
	*dst = d
}

func compileBool(v Value, field string, dst *bool, res *ValidationResult) {
	if !v.Set {
		return
	}
	b, ok := parseBoolValue(resolveValue(v, field, res))
	if !ok {
		res.errorf("%s must be on|off|true|false|1|0", field)
		return
	}
	*dst = b
}

func parseBoolValue(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on":
		return true, true
	case "0", "false", "off":
		return false, true
	default:
		return false, false
	}
}

// parseDurationValue accepts Go durations plus a day suffix ("7d") and "off".
func parseDurationValue(raw string) (time.Duration, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, fmt.Errorf("must not be empty")
	}
	if strings.EqualFold(raw, "off") || raw == "0" {
		return 0, true, nil
	}
	if num, ok := strings.CutSuffix(strings.ToLower(raw), "d"); ok {
		v, err := strconv.Atoi(num)
		if err != nil || v < 0 {
			return 0, false, fmt.Errorf("must be a duration like 5m, 2h, 7d, or off")
		}
		return time.Duration(v) * 24 * time.Hour, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("must be a duration like 5m, 2h, 7d, or off")
	}
	if d < 0 {
		return 0, false, fmt.Errorf("must be a non-negative duration")
	}
	return d, false, nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	d, off, err := parseDurationValue(raw)
	if err != nil {
		return 0, err
	}
	if off || d <= 0 {
		return 0, fmt.Errorf("must be a positive duration like 5s")
	}
	return d, nil
}

func parsePositiveIntInRange(raw string, field string, min int, max int, res *ValidationResult) (int, bool) {
	if raw == "" {
		res.errorf("%s must not be empty", field)
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		res.errorf("%s must be an integer", field)
		return 0, false
	}
	if v < min || v > max {
		res.errorf("%s must be between %d and %d", field, min, max)
		return 0, false
	}
	return v, true
}

// parseByteSize accepts plain bytes or kb/mb suffixes (base 1024).
func parseByteSize(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"kb", 1 << 10}, {"mb", 1 << 20}, {"k", 1 << 10}, {"m", 1 << 20}, {"b", 1}} {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			s, mult = strings.TrimSpace(num), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
