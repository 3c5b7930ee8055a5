// Package health runs the market data health monitor: it probes the gas and
// rate sources on an interval, keeps a rolling window of results per target,
// and raises or clears threshold alerts. The monitor only observes; nothing
// in the checkout path waits on it.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magickw/linkDAO-sub011/internal/config"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/market"
	"github.com/magickw/linkDAO-sub011/internal/metrics"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

const (
	// minSamples is how many window entries a target needs before its
	// rolling stats can raise alerts. Keeps one blip from paging anyone.
	minSamples = 3

	// failureWindow is how far back the settlement failure rate looks.
	failureWindow = time.Hour

	stablecoinUSDC = "USDC"
	stablecoinUSDT = "USDT"
)

// AlertLevel grades an alert's severity.
type AlertLevel string

const (
	// AlertWarning represents a threshold breach worth watching
	AlertWarning AlertLevel = "warning"
	// AlertCritical represents a breach that degrades checkout quality
	AlertCritical AlertLevel = "critical"
)

// Alert is one active threshold breach. Alerts are keyed by source, target
// and metric; repeated breaches update the existing alert in place.
type Alert struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Target    string     `json:"target"`
	Metric    string     `json:"metric"`
	Level     AlertLevel `json:"level"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold"`
	Message   string     `json:"message"`
	RaisedAt  time.Time  `json:"raisedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Status summarizes monitor state for the health endpoint.
type Status struct {
	Status string    `json:"status"`
	Alerts []Alert   `json:"alerts"`
	AsOf   time.Time `json:"asOf"`
}

// SampleSink persists probe samples for offline analysis.
type SampleSink interface {
	Insert(ctx context.Context, sample *models.MonitorSample) error
}

// FailureCounter aggregates settlement outcomes for the failure-rate check.
type FailureCounter interface {
	FailureSince(ctx context.Context, since time.Time) (failed, total uint64, err error)
}

type probeStat struct {
	ok         bool
	latency    time.Duration
	confidence float64
}

// window is a fixed-size ring of the most recent probe results for a target.
type window struct {
	stats []probeStat
	next  int
	count int
}

func newWindow(size int) *window {
	if size <= 0 {
		size = 1
	}
	return &window{stats: make([]probeStat, size)}
}

func (w *window) add(s probeStat) {
	w.stats[w.next] = s
	w.next = (w.next + 1) % len(w.stats)
	if w.count < len(w.stats) {
		w.count++
	}
}

func (w *window) availability() float64 {
	if w.count == 0 {
		return 1.0
	}
	ok := 0
	for i := 0; i < w.count; i++ {
		if w.stats[i].ok {
			ok++
		}
	}
	return float64(ok) / float64(w.count)
}

func (w *window) avgLatency() time.Duration {
	if w.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < w.count; i++ {
		sum += w.stats[i].latency
	}
	return sum / time.Duration(w.count)
}

// avgConfidence averages over successful probes only; failed probes already
// count against availability.
func (w *window) avgConfidence() (float64, bool) {
	sum, ok := 0.0, 0
	for i := 0; i < w.count; i++ {
		if w.stats[i].ok {
			sum += w.stats[i].confidence
			ok++
		}
	}
	if ok == 0 {
		return 0, false
	}
	return sum / float64(ok), true
}

// Monitor probes the market data sources and tracks per-target health.
type Monitor struct {
	gas      market.GasFeeSource
	rates    market.RateSource
	quota    *market.RequestQuota
	samples  SampleSink
	outcomes FailureCounter
	recorder metrics.Recorder
	cfg      config.MonitorConfig
	chains   []types.ChainID
	symbols  []string

	mu      sync.Mutex
	windows map[string]*window
	alerts  map[string]*Alert

	logger *logging.Logger
}

// NewMonitor creates a monitor for the enabled chains' gas sources and the
// rate pairs the snapshot consumes. Rate probes draw from the shared request
// quota so probing never starves checkout of rate-API budget; a nil quota
// disables pacing.
func NewMonitor(gas market.GasFeeSource, rates market.RateSource, quota *market.RequestQuota, samples SampleSink, outcomes FailureCounter, recorder metrics.Recorder, cfg *config.Config) *Monitor {
	chains := make([]types.ChainID, 0, len(cfg.Chains.Enabled))
	seen := map[string]bool{}
	var symbols []string
	for _, name := range cfg.Chains.Enabled {
		chain := types.ChainID(name)
		chains = append(chains, chain)
		if native := chain.NativeSymbol(); !seen[native] {
			seen[native] = true
			symbols = append(symbols, native)
		}
	}
	for _, stable := range []string{stablecoinUSDC, stablecoinUSDT} {
		if !seen[stable] {
			seen[stable] = true
			symbols = append(symbols, stable)
		}
	}
	sort.Strings(symbols)

	return &Monitor{
		gas:      gas,
		rates:    rates,
		quota:    quota,
		samples:  samples,
		outcomes: outcomes,
		recorder: recorder,
		cfg:      cfg.Monitor,
		chains:   chains,
		symbols:  symbols,
		windows:  make(map[string]*window),
		alerts:   make(map[string]*Alert),
		logger:   logging.GetGlobalLogger().WithField("component", "health_monitor"),
	}
}

// Run probes on the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.WithFields(map[string]interface{}{
		"interval":   m.cfg.Interval.String(),
		"windowSize": m.cfg.WindowSize,
	}).Info("Health monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce executes one probe sweep across every target.
func (m *Monitor) RunOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, chain := range m.chains {
		wg.Add(1)
		go func(chain types.ChainID) {
			defer wg.Done()
			m.probeGas(ctx, chain)
		}(chain)
	}
	for _, symbol := range m.symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			m.probeRate(ctx, symbol)
		}(symbol)
	}
	wg.Wait()

	m.checkFailureRate(ctx)
}

func (m *Monitor) probeGas(ctx context.Context, chain types.ChainID) {
	tctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	estimate, err := m.gas.Estimate(tctx, chain)
	latency := time.Since(start)

	stat := probeStat{ok: err == nil, latency: latency}
	if err == nil {
		stat.confidence = estimate.Confidence
	} else {
		m.logger.WithError(err).WithField("chain", string(chain)).Debug("Gas probe failed")
	}

	m.record(ctx, "gas", string(chain), stat)
}

func (m *Monitor) probeRate(ctx context.Context, symbol string) {
	tctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	// A skipped probe is not a source failure: it must not count against
	// the target's availability window.
	if m.quota != nil {
		if ok, _ := m.quota.TryAcquire(tctx, market.PoolProbe); !ok {
			m.recorder.IncCounter("probe_skipped", map[string]string{"target": "rate:" + symbol + "-USD"})
			m.logger.WithField("pair", symbol+"/USD").Debug("Rate probe skipped, request quota exhausted")
			return
		}
	}

	start := time.Now()
	rate, err := m.rates.Rate(tctx, symbol, "USD")
	latency := time.Since(start)

	stat := probeStat{ok: err == nil, latency: latency}
	if err == nil {
		stat.confidence = rate.Confidence
	} else {
		m.logger.WithError(err).WithField("pair", symbol+"/USD").Debug("Rate probe failed")
	}

	m.record(ctx, "rate", symbol+"-USD", stat)
}

func (m *Monitor) record(ctx context.Context, source, target string, stat probeStat) {
	m.recorder.ObserveLatency("probe_"+source, stat.latency, map[string]string{"target": target})
	if !stat.ok {
		m.recorder.IncCounter("probe_failed", map[string]string{"target": source + ":" + target})
	}

	sample := &models.MonitorSample{
		Timestamp:  time.Now().UTC(),
		Source:     source,
		Target:     target,
		OK:         stat.ok,
		LatencyMS:  stat.latency.Milliseconds(),
		Confidence: stat.confidence,
	}
	if err := m.samples.Insert(ctx, sample); err != nil {
		m.logger.WithError(err).Warn("Failed to persist monitor sample")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := source + ":" + target
	w, ok := m.windows[key]
	if !ok {
		w = newWindow(m.cfg.WindowSize)
		m.windows[key] = w
	}
	w.add(stat)

	if w.count < minSamples {
		return
	}
	m.evaluateLocked(source, target, w)
}

// evaluateLocked applies the thresholds to a target's rolling stats.
// Callers hold m.mu.
func (m *Monitor) evaluateLocked(source, target string, w *window) {
	avail := w.availability()
	switch {
	case avail < m.cfg.AvailabilityCritical:
		m.raiseLocked(source, target, "availability", AlertCritical, avail, m.cfg.AvailabilityCritical)
	case avail < m.cfg.AvailabilityWarn:
		m.raiseLocked(source, target, "availability", AlertWarning, avail, m.cfg.AvailabilityWarn)
	default:
		m.clearLocked(source, target, "availability")
	}

	latency := w.avgLatency()
	switch {
	case latency > m.cfg.LatencyCritical:
		m.raiseLocked(source, target, "latency", AlertCritical, latency.Seconds(), m.cfg.LatencyCritical.Seconds())
	case latency > m.cfg.LatencyWarn:
		m.raiseLocked(source, target, "latency", AlertWarning, latency.Seconds(), m.cfg.LatencyWarn.Seconds())
	default:
		m.clearLocked(source, target, "latency")
	}

	if conf, ok := w.avgConfidence(); ok {
		switch {
		case conf < m.cfg.ConfidenceCritical:
			m.raiseLocked(source, target, "confidence", AlertCritical, conf, m.cfg.ConfidenceCritical)
		case conf < m.cfg.ConfidenceWarn:
			m.raiseLocked(source, target, "confidence", AlertWarning, conf, m.cfg.ConfidenceWarn)
		default:
			m.clearLocked(source, target, "confidence")
		}
	}
}

// checkFailureRate compares the recent settlement failure rate against the
// configured thresholds.
func (m *Monitor) checkFailureRate(ctx context.Context) {
	if m.outcomes == nil {
		return
	}

	failed, total, err := m.outcomes.FailureSince(ctx, time.Now().UTC().Add(-failureWindow))
	if err != nil {
		m.logger.WithError(err).Warn("Failed to read settlement outcomes")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if total == 0 {
		m.clearLocked("settlement", "all", "failure_rate")
		return
	}

	rate := float64(failed) / float64(total)
	switch {
	case rate > m.cfg.FailureRateCritical:
		m.raiseLocked("settlement", "all", "failure_rate", AlertCritical, rate, m.cfg.FailureRateCritical)
	case rate > m.cfg.FailureRateWarn:
		m.raiseLocked("settlement", "all", "failure_rate", AlertWarning, rate, m.cfg.FailureRateWarn)
	default:
		m.clearLocked("settlement", "all", "failure_rate")
	}
}

func alertID(source, target, metric string) string {
	return source + ":" + target + ":" + metric
}

func (m *Monitor) raiseLocked(source, target, metric string, level AlertLevel, value, threshold float64) {
	id := alertID(source, target, metric)
	now := time.Now().UTC()

	if existing, ok := m.alerts[id]; ok {
		if existing.Level != level {
			m.logger.WithFields(map[string]interface{}{
				"alert": id,
				"from":  string(existing.Level),
				"to":    string(level),
			}).Warn("Alert level changed")
		}
		existing.Level = level
		existing.Value = value
		existing.Threshold = threshold
		existing.UpdatedAt = now
		return
	}

	alert := &Alert{
		ID:        id,
		Source:    source,
		Target:    target,
		Metric:    metric,
		Level:     level,
		Value:     value,
		Threshold: threshold,
		Message:   fmt.Sprintf("%s %s for %s at %.3f breaches %s threshold %.3f", source, metric, target, value, level, threshold),
		RaisedAt:  now,
		UpdatedAt: now,
	}
	m.alerts[id] = alert
	m.recorder.IncCounter("monitor_alert_raised", map[string]string{"target": id})
	m.logger.WithFields(map[string]interface{}{
		"alert": id,
		"level": string(level),
		"value": value,
	}).Warn("Alert raised")
}

func (m *Monitor) clearLocked(source, target, metric string) {
	id := alertID(source, target, metric)
	if _, ok := m.alerts[id]; !ok {
		return
	}
	delete(m.alerts, id)
	m.recorder.IncCounter("monitor_alert_cleared", map[string]string{"target": id})
	m.logger.WithField("alert", id).Info("Alert cleared")
}

// Alerts returns the active alerts sorted by ID.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot reports overall health: critical if any alert is critical,
// degraded if any alert is active, ok otherwise.
func (m *Monitor) Snapshot() Status {
	alerts := m.Alerts()

	status := "ok"
	for _, alert := range alerts {
		if alert.Level == AlertCritical {
			status = "critical"
			break
		}
		status = "degraded"
	}

	return Status{Status: status, Alerts: alerts, AsOf: time.Now().UTC()}
}
