package app

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/nuetzliches/subwarm/internal/config"
)

// initTracing installs the global tracer provider. Preload items and their
// strategy attempts become spans; the returned func flushes them.
func initTracing(ctx context.Context, obs config.ObservabilityConfig, onError func(error)) (func(context.Context) error, error) {
	opts, err := tracingExporterOptions(obs)
	if err != nil {
		return nil, err
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithProcessPID(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName("subwarm"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	if onError != nil {
		otel.SetErrorHandler(otel.ErrorHandlerFunc(onError))
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func tracingExporterOptions(obs config.ObservabilityConfig) ([]otlptracehttp.Option, error) {
	var opts []otlptracehttp.Option
	if obs.TracingCollector != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(obs.TracingCollector))
	}
	if obs.TracingURLPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(obs.TracingURLPath))
	}
	switch obs.TracingCompression {
	case "":
	case "gzip":
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	default:
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.NoCompression))
	}
	if obs.TracingTimeoutSet {
		opts = append(opts, otlptracehttp.WithTimeout(obs.TracingTimeout))
	}
	if len(obs.TracingHeaders) > 0 {
		headers := lo.SliceToMap(obs.TracingHeaders, func(h config.TracingHeaderConfig) (string, string) {
			return h.Name, h.Value
		})
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	if obs.TracingInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if obs.TracingProxyURL != "" {
		proxyURL, err := url.Parse(obs.TracingProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid tracing proxy_url: %w", err)
		}
		opts = append(opts, otlptracehttp.WithProxy(http.ProxyURL(proxyURL)))
	}
	tlsCfg, err := buildTracingTLSConfig(obs)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(tlsCfg))
	}
	return opts, nil
}

func wrapTracingHandler(enabled bool, name string, h http.Handler) http.Handler {
	if !enabled {
		return h
	}
	return otelhttp.NewHandler(h, name,
		otelhttp.WithSpanNameFormatter(func(op string, r *http.Request) string {
			return op + " " + r.Method + " " + r.URL.Path
		}),
	)
}

// checkerHTTPClient is the client for the availability server. With
// tracing on, outgoing checks carry the strategy span as parent.
func checkerHTTPClient(tracing bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 8
	if !tracing {
		return &http.Client{Transport: transport}
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(transport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "checker " + r.Method + " " + r.URL.Path
			}),
		),
	}
}

func buildTracingTLSConfig(obs config.ObservabilityConfig) (*tls.Config, error) {
	if obs.TracingTLSCAFile == "" && obs.TracingTLSCertFile == "" && obs.TracingTLSKeyFile == "" &&
		obs.TracingTLSServerName == "" && !obs.TracingTLSInsecureSkipVerify {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         obs.TracingTLSServerName,
		InsecureSkipVerify: obs.TracingTLSInsecureSkipVerify,
	}

	if path := obs.TracingTLSCAFile; path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tracing tls.ca_file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("parse tracing tls.ca_file: no certificates found")
		}
		cfg.RootCAs = pool
	}

	if obs.TracingTLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(obs.TracingTLSCertFile, obs.TracingTLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tracing client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
