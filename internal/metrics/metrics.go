// Package metrics exposes the service's Prometheus counters plus four
// "today" gauges that reset at the local (UTC+8) date rollover. Counters and
// gauges are snapshotted to one JSON file per day so a restart mid-day does
// not zero the dashboards.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dsproxy/dsproxy/internal/timeutil"
)

// Metrics owns its own registry so tests can run several instances.
type Metrics struct {
	Registry *prometheus.Registry

	LoginAttempts          *prometheus.CounterVec // result: success|failure|blocked
	LoginBruteforceBlocked prometheus.Counter
	RateLimitRejections    prometheus.Counter
	QuotaChecks            *prometheus.CounterVec // status: ok|exceeded
	ChatRequests           *prometheus.CounterVec // status: ok|error
	UpstreamErrors         *prometheus.CounterVec // kind: network|status|timeout
	UpstreamLatency        prometheus.Histogram

	TodayInputTokens           prometheus.Gauge
	TodayOutputTokens          prometheus.Gauge
	TodayPromptCacheHitTokens  prometheus.Gauge
	TodayPromptCacheMissTokens prometheus.Gauge

	mu         sync.Mutex
	currentDay string

	now func() time.Time // test hook
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Login attempts grouped by result",
		}, []string{"result"}),
		LoginBruteforceBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "login_bruteforce_blocked_total",
			Help: "Blocked brute force logins",
		}),
		RateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the global rate limiter",
		}),
		QuotaChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quota_checks_total",
			Help: "Quota check results",
		}, []string{"status"}),
		ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat requests grouped by status",
		}, []string{"status"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Upstream errors grouped by kind",
		}, []string{"kind"}),
		UpstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}),
		TodayInputTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "today_input_tokens",
			Help: "Input tokens consumed today",
		}),
		TodayOutputTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "today_output_tokens",
			Help: "Output tokens consumed today (estimated when upstream omits usage)",
		}),
		TodayPromptCacheHitTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "today_prompt_cache_hit_tokens",
			Help: "Prompt cache HIT tokens today",
		}),
		TodayPromptCacheMissTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "today_prompt_cache_miss_tokens",
			Help: "Prompt cache MISS tokens today",
		}),
		now: timeutil.Now,
	}

	reg.MustRegister(
		m.LoginAttempts,
		m.LoginBruteforceBlocked,
		m.RateLimitRejections,
		m.QuotaChecks,
		m.ChatRequests,
		m.UpstreamErrors,
		m.UpstreamLatency,
		m.TodayInputTokens,
		m.TodayOutputTokens,
		m.TodayPromptCacheHitTokens,
		m.TodayPromptCacheMissTokens,
	)

	m.currentDay = timeutil.Day(m.now())
	return m
}

// rolloverIfNeeded zeros the daily gauges when the local date changes.
func (m *Metrics) rolloverIfNeeded() {
	today := timeutil.Day(m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentDay == today {
		return
	}
	m.currentDay = today
	m.TodayInputTokens.Set(0)
	m.TodayOutputTokens.Set(0)
	m.TodayPromptCacheHitTokens.Set(0)
	m.TodayPromptCacheMissTokens.Set(0)
}

// CurrentDay returns the local date the gauges currently describe.
func (m *Metrics) CurrentDay() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentDay
}

func (m *Metrics) RecordInputTokens(n uint64) {
	m.rolloverIfNeeded()
	if n > 0 {
		m.TodayInputTokens.Add(float64(n))
	}
}

func (m *Metrics) RecordOutputTokens(n uint64) {
	m.rolloverIfNeeded()
	if n > 0 {
		m.TodayOutputTokens.Add(float64(n))
	}
}

func (m *Metrics) RecordPromptCacheHitTokens(n uint64) {
	m.rolloverIfNeeded()
	if n > 0 {
		m.TodayPromptCacheHitTokens.Add(float64(n))
	}
}

func (m *Metrics) RecordPromptCacheMissTokens(n uint64) {
	m.rolloverIfNeeded()
	if n > 0 {
		m.TodayPromptCacheMissTokens.Add(float64(n))
	}
}

// ObserveUpstream records one upstream call's latency.
func (m *Metrics) ObserveUpstream(d time.Duration) {
	m.UpstreamLatency.Observe(d.Seconds())
}
