// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package detection

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
	"github.com/tomtom215/chatwatch/internal/models"
)

// Content bonuses added to the severity-weighted risk score.
const (
	riskLongContentBonus = 0.1
	riskNonTextBonus     = 0.05
	riskInboundLinkBonus = 0.15
)

// Analyzer runs all detectors over a message and aggregates a risk score.
//
// Detectors run in a fixed order (duplicate, spam, rate limit, patterns,
// behavior) so results are deterministic given the cache state.
type Analyzer struct {
	duplicate *DuplicateDetector
	rate      *RateLimitDetector
	detectors []Detector
	now       func() time.Time

	analyzed atomic.Int64
	alerts   atomic.Int64
	errors   atomic.Int64
}

// NewAnalyzer creates an analyzer from cfg. Zero fields fall back to DefaultConfig.
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.SpamKeywords == nil {
		cfg.SpamKeywords = def.SpamKeywords
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	if cfg.RateLimitThreshold <= 0 {
		cfg.RateLimitThreshold = def.RateLimitThreshold
	}
	if cfg.FingerprintCapacity <= 0 {
		cfg.FingerprintCapacity = def.FingerprintCapacity
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.NormalHoursStart == 0 && cfg.NormalHoursEnd == 0 {
		cfg.NormalHoursStart, cfg.NormalHoursEnd = def.NormalHoursStart, def.NormalHoursEnd
	}

	a := &Analyzer{
		duplicate: NewDuplicateDetector(cfg.FingerprintCapacity),
		rate:      NewRateLimitDetector(cfg.RateLimitWindow, cfg.RateLimitThreshold),
		now:       time.Now,
	}
	a.detectors = []Detector{
		a.duplicate,
		NewSpamDetector(cfg.SpamKeywords),
		a.rate,
		NewPatternDetector(nil),
		NewBehaviorDetector(cfg.NormalHoursStart, cfg.NormalHoursEnd, cfg.Location),
	}

	logging.Info().
		Int("keywords", len(cfg.SpamKeywords)).
		Dur("rate_window", cfg.RateLimitWindow).
		Int("rate_threshold", cfg.RateLimitThreshold).
		Int("fingerprint_capacity", cfg.FingerprintCapacity).
		Msg("threat analyzer configured")
	return a
}

// Analyze runs every detector and returns the alerts and aggregate risk score.
// A detector error aborts the analysis with ErrAnalysis; callers that must
// never fail use SafeAnalyze.
func (a *Analyzer) Analyze(ctx context.Context, msg *models.NormalizedMessage) (Result, error) {
	start := time.Now()
	now := a.now()

	var result Result
	for _, d := range a.detectors {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrAnalysis, err)
		}
		alert, err := d.Check(ctx, msg, now)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrAnalysis, d.Type(), err)
		}
		if alert != nil {
			result.Alerts = append(result.Alerts, *alert)
		}
	}
	result.RiskScore = RiskScore(msg, result.Alerts)

	a.analyzed.Add(1)
	a.alerts.Add(int64(len(result.Alerts)))
	for _, alert := range result.Alerts {
		metrics.RecordAlert(string(alert.Type), string(alert.Severity))
	}
	metrics.DetectionDuration.Observe(time.Since(start).Seconds())
	metrics.DetectionRiskScore.Observe(result.RiskScore)

	return result, nil
}

// SafeAnalyze wraps Analyze so that errors and panics yield an empty result
// with zero risk. The returned error (wrapping ErrAnalysis) is informational.
func (a *Analyzer) SafeAnalyze(ctx context.Context, msg *models.NormalizedMessage) (result Result, err error) {
	if msg == nil {
		return Result{}, fmt.Errorf("%w: nil message", ErrAnalysis)
	}
	defer func() {
		if r := recover(); r != nil {
			a.errors.Add(1)
			metrics.DetectionErrors.Inc()
			err = fmt.Errorf("%w: panic: %v", ErrAnalysis, r)
			logging.Error().
				Str("message_id", msg.ID).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("analysis panicked, continuing with zero risk")
			result = Result{}
		}
	}()

	result, err = a.Analyze(ctx, msg)
	if err != nil {
		a.errors.Add(1)
		metrics.DetectionErrors.Inc()
		logging.Warn().Err(err).Str("message_id", msg.ID).Msg("analysis failed, continuing with zero risk")
		return Result{}, err
	}
	return result, nil
}

// RiskScore folds alert severities and content signals into [0,1].
//
//	sum(severity weights) + [len>1000]*0.1 + [non-text]*0.05 + [inbound link]*0.15
func RiskScore(msg *models.NormalizedMessage, alerts []models.Alert) float64 {
	var score float64
	for _, a := range alerts {
		score += a.Severity.Weight()
	}
	if len([]rune(msg.Content)) > spamLengthThreshold {
		score += riskLongContentBonus
	}
	if !msg.MediaKind.IsText() {
		score += riskNonTextBonus
	}
	if msg.Direction.Inbound() && ContainsURL(msg.Content) {
		score += riskInboundLinkBonus
	}
	return math.Min(score, 1)
}

// Sweep drops idle rate-window senders. The ingestion queue calls it between batches.
func (a *Analyzer) Sweep() int {
	return a.rate.Sweep(a.now())
}

// Stats returns counters and cache sizes.
func (a *Analyzer) Stats() Stats {
	return Stats{
		MessagesAnalyzed:     a.analyzed.Load(),
		AlertsRaised:         a.alerts.Load(),
		Errors:               a.errors.Load(),
		TrackedSenders:       a.rate.TrackedSenders(),
		Fingerprints:         a.duplicate.fingerprints.Len(),
		FingerprintEvictions: a.duplicate.fingerprints.Evictions(),
	}
}
