package models

import "github.com/shopspring/decimal"

// Rule is a user-defined roll rule evaluated against open positions.
//
// All numeric fields except the DTE band are optional; a nil pointer means
// "this gate is not configured" rather than zero. See internal/rules for
// the evaluation semantics.
type Rule struct {
	ID                    string           `json:"id"`
	AccountID             string           `json:"account_id"`
	DeltaThreshold        *decimal.Decimal `json:"delta_threshold,omitempty"`
	DTEMin                int              `json:"dte_min"`
	DTEMax                int              `json:"dte_max"`
	SpreadThreshold       *decimal.Decimal `json:"spread_threshold,omitempty"`
	PriceToStrikeRatio    *decimal.Decimal `json:"price_to_strike_ratio,omitempty"`
	MinVolume             *int64           `json:"min_volume,omitempty"`
	MaxSpread             *decimal.Decimal `json:"max_spread,omitempty"`
	MinOI                 *int64           `json:"min_oi,omitempty"`
	TargetOTMPctLow       decimal.Decimal  `json:"target_otm_pct_low"`
	TargetOTMPctHigh      decimal.Decimal  `json:"target_otm_pct_high"`
	PremiumCloseThreshold *decimal.Decimal `json:"premium_close_threshold,omitempty"`
	NotifyChannels        []Channel        `json:"notify_channels"`
	IsActive              bool             `json:"is_active"`
}
