// Package config parses, formats and compiles the Subwarmfile.
//
// The file is a small block DSL:
//
//	preload {
//	  concurrency 3
//	  strategies direct_api hidden_frame background_tab
//	  background_tab { max_tabs 50 }
//	}
//
// Parse keeps values exactly as written (placeholders unresolved) so Format can
// round-trip a file. Compile resolves placeholders, applies defaults and
// validates ranges.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Value is a single directive argument as written in the file.
type Value struct {
	Raw    string
	Quoted bool
	Set    bool
}

// List holds the arguments of a directive that takes several values on one
// line, e.g. `strategies direct_api hidden_frame`.
type List struct {
	Items []Value
	Set   bool
}

// Config is the parsed, user-authored configuration file. Optional blocks are
// pointers so "not set" and "set but empty" stay distinguishable.
type Config struct {
	// Preamble holds leading comment lines (including the leading '#').
	Preamble []string

	Ingress       *IngressBlock
	Checker       *CheckerBlock
	Browser       *BrowserBlock
	Preload       *PreloadBlock
	Journal       *JournalBlock
	Notify        *NotifyBlock
	HealthAPI     *HealthAPIBlock
	Observability *ObservabilityBlock
}

type IngressBlock struct {
	Listen         Value
	MaxBody        Value
	AllowedOrigins List
	RateLimit      *RateLimitBlock
}

type RateLimitBlock struct {
	RPS   Value
	Burst Value
}

type CheckerBlock struct {
	URL     Value
	Timeout Value
}

type BrowserBlock struct {
	RemoteURL    Value
	ExecPath     Value
	UserDataDir  Value
	Headless     Value
	Flags        List
	EmbedURL     Value
	WatchURL     Value
	StartTimeout Value
}

type PreloadBlock struct {
	Concurrency   Value
	MaxRetries    Value
	RetryDelay    Value
	Strategies    List
	HiddenFrame   *HiddenFrameBlock
	BackgroundTab *BackgroundTabBlock
}

type HiddenFrameBlock struct {
	LoadTimeout Value
	Settle      Value
}

type BackgroundTabBlock struct {
	Settle  Value
	Timeout Value
	MaxTabs Value
}

type JournalBlock struct {
	Backend       Value
	Path          Value
	DSN           Value
	Retention     Value
	PruneInterval Value
	MaxEntries    Value
}

type NotifyBlock struct {
	RedisURL     Value
	Password     Value
	Channel      Value
	Stream       Value
	StreamMaxLen Value
}

type HealthAPIBlock struct {
	Listen Value
}

// ObservabilityBlock accepts both `metrics on` and `metrics { ... }` styles;
// the short form is kept separately so fmt preserves it.
type ObservabilityBlock struct {
	RuntimeLogShort Value
	RuntimeLog      *RuntimeLogBlock
	AccessLogShort  Value
	AccessLog       *AccessLogBlock
	MetricsShort    Value
	Metrics         *MetricsBlock
	TracingShort    Value
	Tracing         *TracingBlock
}

type RuntimeLogBlock struct {
	Level  Value
	Output Value
	Path   Value
}

type AccessLogBlock struct {
	Enabled Value
	Output  Value
	Path    Value
}

type MetricsBlock struct {
	Enabled Value
	Listen  Value
	Path    Value
}

type TracingBlock struct {
	Enabled     Value
	Collector   Value
	URLPath     Value
	Timeout     Value
	Compression Value
	Insecure    Value
	ProxyURL    Value
	TLS         *TracingTLSBlock
	Headers     []TracingHeader
}

type TracingTLSBlock struct {
	CAFile             Value
	CertFile           Value
	KeyFile            Value
	ServerName         Value
	InsecureSkipVerify Value
}

type TracingHeader struct {
	Name  Value
	Value Value
}

func Parse(input []byte) (*Config, error) {
	p := newParser(string(normalizeInput(input)))
	cfg, err := p.parse()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errors.New("empty config")
	}
	return cfg, nil
}

// Format returns a deterministic representation of the parsed config. It
// formats only what is present in the input; defaults are not expanded.
func Format(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	return canonicalize(format(cfg)), nil
}

// Validate checks whether the config can be compiled for runtime.
func Validate(cfg *Config) error {
	_, res := Compile(cfg)
	if res.OK {
		return nil
	}
	if len(res.Errors) == 0 {
		return errors.New("invalid config")
	}
	return errors.New(res.Errors[0])
}

type ValidationResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func ValidateWithResult(cfg *Config) ValidationResult {
	_, res := Compile(cfg)
	return res
}

func FormatValidationJSON(res ValidationResult) (string, error) {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func FormatValidationText(res ValidationResult) string {
	if res.OK {
		if len(res.Warnings) == 0 {
			return "config ok"
		}
		return fmt.Sprintf("config ok (warnings: %d)", len(res.Warnings))
	}
	if len(res.Errors) == 0 {
		return "config invalid"
	}
	return fmt.Sprintf("config invalid: %s", res.Errors[0])
}
