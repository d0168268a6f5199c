package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// DailySnapshot is the on-disk form, <metrics_dir>/daily/YYYY-MM-DD.json.
// Counter keys are "name" or "name{label}" for vec children.
type DailySnapshot struct {
	Day      string             `json:"day"`
	Counters map[string]float64 `json:"counters"`
	Gauges   map[string]float64 `json:"gauges"`
}

var gaugeNames = []string{
	"today_input_tokens",
	"today_output_tokens",
	"today_prompt_cache_hit_tokens",
	"today_prompt_cache_miss_tokens",
}

// Snapshot gathers the current counter and gauge values.
func (m *Metrics) Snapshot() (DailySnapshot, error) {
	families, err := m.Registry.Gather()
	if err != nil {
		return DailySnapshot{}, fmt.Errorf("gather metrics: %w", err)
	}

	snap := DailySnapshot{
		Day:      m.CurrentDay(),
		Counters: make(map[string]float64),
		Gauges:   make(map[string]float64),
	}

	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				snap.Counters[counterKey(fam.GetName(), metric)] = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				snap.Gauges[fam.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	return snap, nil
}

func counterKey(name string, metric *dto.Metric) string {
	labels := metric.GetLabel()
	if len(labels) == 0 {
		return name
	}
	// Every vec here carries exactly one label.
	return name + "{" + labels[0].GetValue() + "}"
}

// SaveDaily writes today's snapshot atomically under dir/daily/.
func (m *Metrics) SaveDaily(dir string) error {
	snap, err := m.Snapshot()
	if err != nil {
		return err
	}

	dailyDir := filepath.Join(dir, "daily")
	if err := os.MkdirAll(dailyDir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize metrics snapshot: %w", err)
	}

	path := filepath.Join(dailyDir, snap.Day+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metrics snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename metrics snapshot: %w", err)
	}
	return nil
}

// RestoreDaily loads today's snapshot if present and folds it into the
// fresh (near-zero) metrics: counters advance by the stored delta, gauges
// are set directly. Snapshots for a different day are ignored.
func (m *Metrics) RestoreDaily(dir string) error {
	path := filepath.Join(dir, "daily", m.CurrentDay()+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read metrics snapshot: %w", err)
	}

	var snap DailySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse metrics snapshot: %w", err)
	}
	if snap.Day != m.CurrentDay() {
		return nil
	}

	for key, value := range snap.Counters {
		if value <= 0 {
			continue
		}
		name, label := splitCounterKey(key)
		switch name {
		case "login_attempts_total":
			m.LoginAttempts.WithLabelValues(label).Add(value)
		case "login_bruteforce_blocked_total":
			m.LoginBruteforceBlocked.Add(value)
		case "rate_limit_rejections_total":
			m.RateLimitRejections.Add(value)
		case "quota_checks_total":
			m.QuotaChecks.WithLabelValues(label).Add(value)
		case "chat_requests_total":
			m.ChatRequests.WithLabelValues(label).Add(value)
		case "upstream_errors_total":
			m.UpstreamErrors.WithLabelValues(label).Add(value)
		default:
			log.Warn().Str("metric", name).Msg("unknown counter in metrics snapshot, skipping")
		}
	}

	for _, name := range gaugeNames {
		if value, ok := snap.Gauges[name]; ok {
			m.gaugeByName(name).Set(value)
		}
	}

	log.Info().Str("day", snap.Day).Msg("restored daily metrics snapshot")
	return nil
}

func splitCounterKey(key string) (name, label string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '{' {
			return key[:i], key[i+1 : len(key)-1]
		}
	}
	return key, ""
}

func (m *Metrics) gaugeByName(name string) interface{ Set(float64) } {
	switch name {
	case "today_input_tokens":
		return m.TodayInputTokens
	case "today_output_tokens":
		return m.TodayOutputTokens
	case "today_prompt_cache_hit_tokens":
		return m.TodayPromptCacheHitTokens
	default:
		return m.TodayPromptCacheMissTokens
	}
}
