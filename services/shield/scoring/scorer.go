// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Risk Scoring
// =============================================================================

var tracer = otel.Tracer("shield.scoring")

// Scoring configuration constants.
const (
	// DefaultScoreBudget is the wall-clock budget for one score request.
	DefaultScoreBudget = 100 * time.Millisecond

	// DefaultSubScoreCap bounds each factor's contribution.
	DefaultSubScoreCap = 25.0

	// Default factor weights, tuned so a clearly abusive account
	// saturates each factor.
	DefaultVelocityWeight      = 1.0
	DefaultDiversityWeight     = 1.5
	DefaultVolumeWeight        = 0.0002 // per dollar
	DefaultDeviceSharingWeight = 3.0

	// Default level thresholds on the 0-100 total.
	DefaultCriticalThreshold = 90.0
	DefaultHighThreshold     = 70.0
	DefaultMediumThreshold   = 40.0
)

// RiskLevel is the deterministic banding of a risk score.
type RiskLevel string

// Risk levels, lowest to highest.
const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Options configures the scorer. Weights, caps, and thresholds are
// operator-tunable at runtime.
type Options struct {
	// Budget is the wall-clock budget per score request.
	// Default: 100ms
	Budget time.Duration

	// Window is the trailing window features look back over.
	// Default: 24h
	Window time.Duration

	// SubScoreCap bounds each factor's contribution. Default: 25
	SubScoreCap float64

	// Per-factor weights applied before capping.
	VelocityWeight      float64
	DiversityWeight     float64
	VolumeWeight        float64
	DeviceSharingWeight float64

	// Level thresholds on the total score.
	CriticalThreshold float64
	HighThreshold     float64
	MediumThreshold   float64
}

// Validate checks options and applies defaults for invalid values.
func (o *Options) Validate() {
	if o.Budget <= 0 {
		o.Budget = DefaultScoreBudget
	}
	if o.Window <= 0 {
		o.Window = DefaultFeatureWindow
	}
	if o.SubScoreCap <= 0 {
		o.SubScoreCap = DefaultSubScoreCap
	}
	if o.VelocityWeight <= 0 {
		o.VelocityWeight = DefaultVelocityWeight
	}
	if o.DiversityWeight <= 0 {
		o.DiversityWeight = DefaultDiversityWeight
	}
	if o.VolumeWeight <= 0 {
		o.VolumeWeight = DefaultVolumeWeight
	}
	if o.DeviceSharingWeight <= 0 {
		o.DeviceSharingWeight = DefaultDeviceSharingWeight
	}
	if o.CriticalThreshold <= 0 {
		o.CriticalThreshold = DefaultCriticalThreshold
	}
	if o.HighThreshold <= 0 {
		o.HighThreshold = DefaultHighThreshold
	}
	if o.MediumThreshold <= 0 {
		o.MediumThreshold = DefaultMediumThreshold
	}
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	o := &Options{}
	o.Validate()
	return o
}

// Factor is one weighted sub-score in the breakdown.
type Factor struct {
	// Raw is the unweighted feature value.
	Raw float64 `json:"raw"`

	// Score is min(cap, Raw * weight).
	Score float64 `json:"score"`
}

// RiskScore is the scoring response for one account. It is computed at
// query time and not persisted.
type RiskScore struct {
	// AccountID is the scored account.
	AccountID string `json:"account_id"`

	// Score is the 0-100 total.
	Score float64 `json:"score"`

	// Level is the deterministic banding of Score.
	Level RiskLevel `json:"level"`

	// Factors is the per-feature breakdown.
	Factors map[string]Factor `json:"factors"`

	// Degraded is true when any feature fell back to a neutral value
	// because its budget slice expired.
	Degraded bool `json:"degraded"`

	// Elapsed is the wall-clock time spent computing the score.
	Elapsed time.Duration `json:"elapsed_ms"`
}

// Scorer computes risk scores against the live graph store.
//
// Thread Safety: Safe for concurrent use.
type Scorer struct {
	store *graph.Store
	opts  Options

	scoresComputed metric.Int64Counter
	scoresDegraded metric.Int64Counter
}

// NewScorer creates a scorer over the given store.
func NewScorer(store *graph.Store, opts *Options) *Scorer {
	if opts == nil {
		opts = DefaultOptions()
	} else {
		opts.Validate()
	}
	s := &Scorer{store: store, opts: *opts}
	meter := otel.Meter("shield.scoring")
	s.scoresComputed, _ = meter.Int64Counter("shield.scoring.computed",
		metric.WithDescription("Risk scores computed"))
	s.scoresDegraded, _ = meter.Int64Counter("shield.scoring.degraded",
		metric.WithDescription("Risk scores with degraded features"))
	return s
}

// Score computes the risk score for one account.
//
// Description:
//
//	Extracts velocity, diversity, volume, and device-sharing features
//	from the live store under the configured budget, maps each through
//	a capped monotonic weighting, and bands the 0-100 total into a
//	risk level. The call always returns within the budget: slow
//	sub-queries degrade to neutral values and flag the response.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	accountID - Node id of the account to score.
//
// Outputs:
//
//	*RiskScore - The score with factor breakdown.
//	error - graph.ErrNodeNotFound when the account is unknown.
func (s *Scorer) Score(ctx context.Context, accountID string) (*RiskScore, error) {
	ctx, span := tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(attribute.String("account_id", accountID)),
	)
	defer span.End()

	if !s.store.HasNode(accountID) {
		return nil, fmt.Errorf("scoring %q: %w", accountID, graph.ErrNodeNotFound)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.Budget)
	defer cancel()

	ex := &extractor{store: s.store, window: s.opts.Window, now: start.UTC()}
	feats := ex.Extract(ctx, accountID)

	result := &RiskScore{
		AccountID: accountID,
		Factors:   make(map[string]Factor, 4),
		Degraded:  feats.Degraded,
	}
	result.addFactor("velocity", float64(feats.Velocity), s.opts.VelocityWeight, s.opts.SubScoreCap)
	result.addFactor("diversity", float64(feats.Diversity), s.opts.DiversityWeight, s.opts.SubScoreCap)
	result.addFactor("volume", feats.Volume, s.opts.VolumeWeight, s.opts.SubScoreCap)
	result.addFactor("device_sharing", float64(feats.DeviceSharing), s.opts.DeviceSharingWeight, s.opts.SubScoreCap)
	result.Level = s.level(result.Score)
	result.Elapsed = time.Since(start)

	if s.scoresComputed != nil {
		s.scoresComputed.Add(ctx, 1)
	}
	if result.Degraded && s.scoresDegraded != nil {
		s.scoresDegraded.Add(ctx, 1)
	}
	span.SetAttributes(
		attribute.Float64("score", result.Score),
		attribute.String("level", string(result.Level)),
		attribute.Bool("degraded", result.Degraded),
	)
	return result, nil
}

// addFactor records one capped weighted sub-score and adds it to the
// running total.
func (r *RiskScore) addFactor(name string, raw, weight, cap float64) {
	score := min(cap, raw*weight)
	r.Factors[name] = Factor{Raw: raw, Score: score}
	r.Score += score
}

// level bands a total score into a risk level.
func (s *Scorer) level(score float64) RiskLevel {
	switch {
	case score >= s.opts.CriticalThreshold:
		return RiskCritical
	case score >= s.opts.HighThreshold:
		return RiskHigh
	case score >= s.opts.MediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}
