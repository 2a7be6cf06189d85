// Package rules implements the pure roll-rule evaluator: a synchronous
// function with no I/O, so Monitor can call it once per (rule, position)
// pair per scan without any provider round-trip in the hot path beyond
// what's already been fetched.
package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rollwatch/rollwatch/internal/models"
)

// Live is the best-effort market context available at evaluation time.
// Any field may be nil; a nil field simply skips its gate.
type Live struct {
	Delta           *decimal.Decimal
	UnderlyingPrice *decimal.Decimal
	CurrentPremium  *decimal.Decimal
}

// Evaluate reports whether rule fires for position given live, as of
// asOf. Gates run in order: inactive rules never fire; the
// premium-override gate fires unconditionally, bypassing the DTE and
// delta gates, so a near-worthless short leg can be flagged for
// wind-down however far from expiry it sits; the DTE band is inclusive
// at both ends; a missing live field skips its gate rather than
// failing it.
func Evaluate(rule models.Rule, position models.Position, live Live, asOf time.Time) bool {
	if !rule.IsActive {
		return false
	}

	if rule.PremiumCloseThreshold != nil && live.CurrentPremium != nil {
		if live.CurrentPremium.LessThanOrEqual(*rule.PremiumCloseThreshold) {
			return true
		}
	}

	dte := position.DTE(asOf)
	if dte < rule.DTEMin || dte > rule.DTEMax {
		return false
	}

	// A configured gate whose live input is missing is skipped, not
	// failed: Monitor feeds nil for whatever the provider couldn't
	// fetch, and a market-data outage must not mute DTE-based rules.
	if rule.DeltaThreshold != nil && live.Delta != nil {
		if live.Delta.Abs().LessThan(*rule.DeltaThreshold) {
			return false
		}
	}

	if rule.SpreadThreshold != nil && live.UnderlyingPrice != nil {
		spreadPct := live.UnderlyingPrice.Sub(position.Strike).Abs().
			Div(position.Strike).Mul(decimal.NewFromInt(100))
		if spreadPct.LessThan(*rule.SpreadThreshold) {
			return false
		}
	}

	return true
}
