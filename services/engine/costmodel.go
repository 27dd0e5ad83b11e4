package engine

// Layered execution-cost model: spread -> slippage -> impact -> commission.
// Each stage consumes the previous stage's output price.

import (
	"fmt"
	"math"
)

// ImpactModel selects the functional form mapping cumulative participation to
// raw impact.
type ImpactModel int

const (
	ImpactLinear ImpactModel = iota
	ImpactSqrt
	ImpactPower
)

func (m ImpactModel) String() string {
	switch m {
	case ImpactSqrt:
		return "sqrt"
	case ImpactPower:
		return "power"
	default:
		return "linear"
	}
}

// ParseImpactModel maps the config tag to an ImpactModel.
func ParseImpactModel(s string) (ImpactModel, error) {
	switch s {
	case "linear", "":
		return ImpactLinear, nil
	case "sqrt":
		return ImpactSqrt, nil
	case "power":
		return ImpactPower, nil
	default:
		return ImpactLinear, fmt.Errorf("unknown impact model %q", s)
	}
}

// CostConfig holds the execution-cost parameters for one run. Immutable once
// validated. A nil ParticipationCap disables partial fills and the spread
// adjustment.
type CostConfig struct {
	CommissionPct    float64     `json:"commission_pct"`
	SlippageBps      float64     `json:"slippage_bps"`
	ParticipationCap *float64    `json:"participation_cap,omitempty"`
	BaseSpreadBps    float64     `json:"base_spread_bps"`
	ImpactCoef       float64     `json:"impact_coef"`
	ImpactModel      ImpactModel `json:"impact_model"`
	ImpactPower      float64     `json:"impact_power"`
}

// Validate rejects an unusable configuration before any simulation starts.
func (c CostConfig) Validate() error {
	if c.CommissionPct < 0 {
		return &ConfigError{Param: "commission_pct", Reason: "must be >= 0"}
	}
	if c.ParticipationCap != nil {
		if cap := *c.ParticipationCap; cap <= 0 || cap > 1 {
			return &ConfigError{Param: "participation_cap", Reason: fmt.Sprintf("must be in (0,1], got %v", cap)}
		}
	}
	if c.BaseSpreadBps < 0 {
		return &ConfigError{Param: "base_spread_bps", Reason: "must be >= 0"}
	}
	if c.ImpactCoef < 0 {
		return &ConfigError{Param: "impact_coef", Reason: "must be >= 0"}
	}
	switch c.ImpactModel {
	case ImpactLinear, ImpactSqrt:
	case ImpactPower:
		if c.ImpactPower <= 0 {
			return &ConfigError{Param: "impact_power", Reason: "must be > 0 when impact_model is power"}
		}
	default:
		return &ConfigError{Param: "impact_model", Reason: fmt.Sprintf("unknown model %d", c.ImpactModel)}
	}
	return nil
}

// CostBreakdown is the output of the cost model for a single fill, with each
// friction component reported separately for auditability.
type CostBreakdown struct {
	EffectivePrice float64
	Commission     float64
	SlippageBps    float64
	// ImpactApplied is the impact price delta as a fraction of the
	// post-slippage price.
	ImpactApplied float64
}

// impactRaw dispatches on the configured functional form. Sqrt and power
// (<1) are concave: marginal cost falls as participation share grows.
func (c CostConfig) impactRaw(cumParticipation float64) float64 {
	if cumParticipation < 0 {
		cumParticipation = 0
	}
	switch c.ImpactModel {
	case ImpactSqrt:
		return c.ImpactCoef * math.Sqrt(cumParticipation)
	case ImpactPower:
		return c.ImpactCoef * math.Pow(cumParticipation, c.ImpactPower)
	default:
		return c.ImpactCoef * cumParticipation
	}
}

// ApplyCosts computes the effective fill price and cost breakdown for one
// fill. Deterministic, no side effects.
//
// Stages, in fixed order:
//  1. spread: half of BaseSpreadBps against the trader, only when a
//     participation cap is set
//  2. slippage: SlippageBps directionally
//  3. impact: impactRaw(cumParticipation) applied to the post-slippage price
//  4. commission: CommissionPct of the notional at the effective price
func ApplyCosts(refPrice float64, side TradeSide, qty, cumParticipation float64, cfg CostConfig) CostBreakdown {
	dir := side.direction()

	price := refPrice
	if cfg.ParticipationCap != nil {
		price += dir * (cfg.BaseSpreadBps / 2 / 10000) * refPrice
	}

	price *= 1 + dir*cfg.SlippageBps/10000

	impact := cfg.impactRaw(cumParticipation)
	effective := price + dir*impact*price

	return CostBreakdown{
		EffectivePrice: effective,
		Commission:     cfg.CommissionPct * qty * effective,
		SlippageBps:    cfg.SlippageBps,
		ImpactApplied:  impact,
	}
}
