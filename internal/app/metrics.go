package app

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nuetzliches/subwarm/internal/preload"
)

// strategyDurationBuckets are upper bounds in seconds. Browser strategies
// settle for several seconds, so the tail is long.
var strategyDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, math.Inf(1)}

type runtimeMetrics struct {
	tracingEnabled           atomic.Int64
	tracingInitFailuresTotal atomic.Int64
	tracingExportErrorsTotal atomic.Int64
	journalErrorsTotal       atomic.Int64
	notifyErrorsTotal        atomic.Int64

	mu                sync.Mutex
	enqueueByResult   map[string]int64
	strategyByResult  map[strategyResultKey]int64
	outcomeByKind     map[string]int64
	ingressRejects    map[ingressRejectKey]int64
	strategyDurations map[string]*histogram

	// snapshot reads queue depth and in-flight count on scrape.
	snapshot func() preload.Snapshot
}

type strategyResultKey struct {
	strategy string
	result   string
}

type ingressRejectKey struct {
	route  string
	status int
	reason string
}

type histogram struct {
	counts []int64
	sum    float64
	count  int64
}

func newRuntimeMetrics() *runtimeMetrics {
	return &runtimeMetrics{
		enqueueByResult:   make(map[string]int64),
		strategyByResult:  make(map[strategyResultKey]int64),
		outcomeByKind:     make(map[string]int64),
		ingressRejects:    make(map[ingressRejectKey]int64),
		strategyDurations: make(map[string]*histogram),
	}
}

func (m *runtimeMetrics) setTracingEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.tracingEnabled.Store(1)
		return
	}
	m.tracingEnabled.Store(0)
}

func (m *runtimeMetrics) incTracingInitFailures() {
	if m == nil {
		return
	}
	m.tracingInitFailuresTotal.Add(1)
}

func (m *runtimeMetrics) incTracingExportErrors() {
	if m == nil {
		return
	}
	m.tracingExportErrorsTotal.Add(1)
}

func (m *runtimeMetrics) incJournalErrors() {
	if m == nil {
		return
	}
	m.journalErrorsTotal.Add(1)
}

func (m *runtimeMetrics) incNotifyErrors() {
	if m == nil {
		return
	}
	m.notifyErrorsTotal.Add(1)
}

func (m *runtimeMetrics) observeEnqueue(res preload.EnqueueResult) {
	if m == nil {
		return
	}
	result := "accepted"
	if !res.Accepted {
		result = res.Reason
	}
	m.mu.Lock()
	m.enqueueByResult[result]++
	m.mu.Unlock()
}

func (m *runtimeMetrics) observeAttempt(a preload.StrategyAttempt) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategyByResult[strategyResultKey{strategy: a.Strategy, result: string(a.Result)}]++

	h := m.strategyDurations[a.Strategy]
	if h == nil {
		h = &histogram{counts: make([]int64, len(strategyDurationBuckets))}
		m.strategyDurations[a.Strategy] = h
	}
	secs := time.Duration(a.Duration).Seconds()
	for i, le := range strategyDurationBuckets {
		if secs <= le {
			h.counts[i]++
		}
	}
	h.sum += secs
	h.count++
}

func (m *runtimeMetrics) observeOutcome(o preload.Outcome) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.outcomeByKind[string(o.Kind)]++
	m.mu.Unlock()
}

func (m *runtimeMetrics) observeIngressReject(route string, status int, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ingressRejects[ingressRejectKey{route: route, status: status, reason: reason}]++
	m.mu.Unlock()
}

type metricsSnapshot struct {
	enqueueByResult   map[string]int64
	strategyByResult  map[strategyResultKey]int64
	outcomeByKind     map[string]int64
	ingressRejects    map[ingressRejectKey]int64
	strategyDurations map[string]histogram
}

func (m *runtimeMetrics) copySnapshot() metricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := metricsSnapshot{
		enqueueByResult:   make(map[string]int64, len(m.enqueueByResult)),
		strategyByResult:  make(map[strategyResultKey]int64, len(m.strategyByResult)),
		outcomeByKind:     make(map[string]int64, len(m.outcomeByKind)),
		ingressRejects:    make(map[ingressRejectKey]int64, len(m.ingressRejects)),
		strategyDurations: make(map[string]histogram, len(m.strategyDurations)),
	}
	for k, v := range m.enqueueByResult {
		s.enqueueByResult[k] = v
	}
	for k, v := range m.strategyByResult {
		s.strategyByResult[k] = v
	}
	for k, v := range m.outcomeByKind {
		s.outcomeByKind[k] = v
	}
	for k, v := range m.ingressRejects {
		s.ingressRejects[k] = v
	}
	for k, h := range m.strategyDurations {
		s.strategyDurations[k] = histogram{counts: append([]int64(nil), h.counts...), sum: h.sum, count: h.count}
	}
	return s
}

func newMetricsHandler(version string, start time.Time, rm *runtimeMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if rm == nil {
			rm = newRuntimeMetrics()
		}
		snap := rm.copySnapshot()
		var queue preload.Snapshot
		if rm.snapshot != nil {
			queue = rm.snapshot()
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeGauge(w, "subwarm_up", "Whether the subwarm process is up.", 1)
		_, _ = fmt.Fprintf(w, "# HELP subwarm_build_info Build information.\n")
		_, _ = fmt.Fprintf(w, "# TYPE subwarm_build_info gauge\n")
		_, _ = fmt.Fprintf(w, "subwarm_build_info{version=%q} 1\n", version)
		writeGauge(w, "subwarm_start_time_seconds", "Start time since unix epoch.", start.Unix())
		writeGauge(w, "subwarm_tracing_enabled", "Whether tracing is enabled.", rm.tracingEnabled.Load())
		writeCounter(w, "subwarm_tracing_init_failures_total", "Total number of tracing initialization failures.", rm.tracingInitFailuresTotal.Load())
		writeCounter(w, "subwarm_tracing_export_errors_total", "Total number of tracing exporter errors reported by OpenTelemetry.", rm.tracingExportErrorsTotal.Load())
		writeCounter(w, "subwarm_journal_errors_total", "Total number of journal write failures.", rm.journalErrorsTotal.Load())
		writeCounter(w, "subwarm_notify_errors_total", "Total number of outcome notification failures.", rm.notifyErrorsTotal.Load())

		writeGauge(w, "subwarm_preload_queue_depth", "Number of requests waiting in the preload queue.", int64(len(queue.Queued)))
		writeGauge(w, "subwarm_preload_in_flight", "Number of requests currently being processed.", int64(queue.InFlight))
		writeGauge(w, "subwarm_preload_retry_waiting", "Number of requests waiting for a retry timer.", int64(queue.RetryWaiting))

		_, _ = fmt.Fprintf(w, "# HELP subwarm_preload_enqueue_total Total number of enqueue calls by result.\n")
		_, _ = fmt.Fprintf(w, "# TYPE subwarm_preload_enqueue_total counter\n")
		for _, result := range sortedKeys(snap.enqueueByResult) {
			_, _ = fmt.Fprintf(w, "subwarm_preload_enqueue_total{result=%q} %d\n", result, snap.enqueueByResult[result])
		}

		_, _ = fmt.Fprintf(w, "# HELP subwarm_preload_strategy_total Total number of strategy attempts by strategy and result.\n")
		_, _ = fmt.Fprintf(w, "# TYPE subwarm_preload_strategy_total counter\n")
		strategyKeys := make([]strategyResultKey, 0, len(snap.strategyByResult))
		for k := range snap.strategyByResult {
			strategyKeys = append(strategyKeys, k)
		}
		sort.Slice(strategyKeys, func(i, j int) bool {
			if strategyKeys[i].strategy != strategyKeys[j].strategy {
				return strategyKeys[i].strategy < strategyKeys[j].strategy
			}
			return strategyKeys[i].result < strategyKeys[j].result
		})
		for _, k := range strategyKeys {
			_, _ = fmt.Fprintf(w, "subwarm_preload_strategy_total{strategy=%q,result=%q} %d\n", k.strategy, k.result, snap.strategyByResult[k])
		}

		_, _ = fmt.Fprintf(w, "# HELP subwarm_preload_strategy_duration_seconds Strategy attempt duration.\n")
		_, _ = fmt.Fprintf(w, "# TYPE subwarm_preload_strategy_duration_seconds histogram\n")
		for _, strategy := range sortedKeys(snap.strategyDurations) {
			h := snap.strategyDurations[strategy]
			for i, le := range strategyDurationBuckets {
				_, _ = fmt.Fprintf(w, "subwarm_preload_strategy_duration_seconds_bucket{strategy=%q,le=%q} %d\n", strategy, prometheusLe(le), h.counts[i])
			}
			_, _ = fmt.Fprintf(w, "subwarm_preload_strategy_duration_seconds_sum{strategy=%q} %.9f\n", strategy, h.sum)
			_, _ = fmt.Fprintf(w, "subwarm_preload_strategy_duration_seconds_count{strategy=%q} %d\n", strategy, h.count)
		}

		_, _ = fmt.Fprintf(w, "# HELP subwarm_preload_outcome_total Total number of preload outcomes by kind.\n")
		_, _ = fmt.Fprintf(w, "# TYPE subwarm_preload_outcome_total counter\n")
		for _, kind := range []preload.OutcomeKind{preload.OutcomeSucceeded, preload.OutcomeRetryScheduled, preload.OutcomeDiscarded, preload.OutcomeDropped} {
			_, _ = fmt.Fprintf(w, "subwarm_preload_outcome_total{outcome=%q} %d\n", kind, snap.outcomeByKind[string(kind)])
		}

		_, _ = fmt.Fprintf(w, "# HELP subwarm_ingress_rejected_total Total number of rejected ingress requests.\n")
		_, _ = fmt.Fprintf(w, "# TYPE subwarm_ingress_rejected_total counter\n")
		rejectKeys := make([]ingressRejectKey, 0, len(snap.ingressRejects))
		for k := range snap.ingressRejects {
			rejectKeys = append(rejectKeys, k)
		}
		sort.Slice(rejectKeys, func(i, j int) bool {
			a, b := rejectKeys[i], rejectKeys[j]
			if a.route != b.route {
				return a.route < b.route
			}
			if a.status != b.status {
				return a.status < b.status
			}
			return a.reason < b.reason
		})
		for _, k := range rejectKeys {
			_, _ = fmt.Fprintf(w, "subwarm_ingress_rejected_total{route=%q,status=\"%d\",reason=%q} %d\n", k.route, k.status, k.reason, snap.ingressRejects[k])
		}
	})
}

func writeGauge(w http.ResponseWriter, name, help string, v int64) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	_, _ = fmt.Fprintf(w, "%s %d\n", name, v)
}

func writeCounter(w http.ResponseWriter, name, help string, v int64) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", name)
	_, _ = fmt.Fprintf(w, "%s %d\n", name, v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func prometheusLe(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
