package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlertReason identifies why an Alert was queued.
type AlertReason string

const (
	ReasonRollTrigger       AlertReason = "roll_trigger"
	ReasonExpirationWarning AlertReason = "expiration_warning"
	ReasonDeltaThreshold    AlertReason = "delta_threshold"
	ReasonManual            AlertReason = "manual"
)

// AlertStatus is the Alert's position in the queue lifecycle.
type AlertStatus string

const (
	AlertPending    AlertStatus = "PENDING"
	AlertProcessing AlertStatus = "PROCESSING"
	AlertSent       AlertStatus = "SENT"
	AlertFailed     AlertStatus = "FAILED"
)

// Payload carries the contextual snapshot attached to an Alert. It is
// modeled as a record of optional fields rather than a bare map: every
// reason shares the same struct, but only the fields relevant to that
// reason are populated. Extra retains any field the persistence
// boundary doesn't know about yet, so round-tripping through a tolerant
// legacy store never loses data.
type Payload struct {
	Ticker          string           `json:"ticker,omitempty"`
	Side            Side             `json:"side,omitempty"`
	Strike          *decimal.Decimal `json:"strike,omitempty"`
	Expiration      *time.Time       `json:"expiration,omitempty"`
	DTE             *int             `json:"dte,omitempty"`
	UnderlyingPrice *decimal.Decimal `json:"underlying_price,omitempty"`
	CurrentPremium  *decimal.Decimal `json:"current_premium,omitempty"`
	AvgPremium      *decimal.Decimal `json:"avg_premium,omitempty"`
	Delta           *decimal.Decimal `json:"delta,omitempty"`
	Moneyness       *decimal.Decimal `json:"moneyness,omitempty"`
	OTMPct          *decimal.Decimal `json:"otm_pct,omitempty"`
	PnLPremium      *decimal.Decimal `json:"pnl_premium,omitempty"`
	DeltaThreshold  *decimal.Decimal `json:"delta_threshold,omitempty"`
	RuleID          string           `json:"rule_id,omitempty"`
	Channels        []Channel        `json:"channels,omitempty"`
	ErrorExcerpt    string           `json:"error_excerpt,omitempty"`
	ManualRetry     bool             `json:"manual_retry,omitempty"`
	Extra           map[string]any   `json:"extra,omitempty"`
}

// UnmarshalJSON tolerates two legacy shapes: a stringified-JSON payload,
// and a channels list encoded as a comma-separated string instead of a
// JSON array.
func (p *Payload) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) >= 2 && trimmed[0] == '"' {
		// The whole payload arrived as a JSON string containing JSON.
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		if inner == "" {
			*p = Payload{}
			return nil
		}
		data = []byte(inner)
	}

	type raw struct {
		Ticker          string           `json:"ticker,omitempty"`
		Side            Side             `json:"side,omitempty"`
		Strike          *decimal.Decimal `json:"strike,omitempty"`
		Expiration      *time.Time       `json:"expiration,omitempty"`
		DTE             *int             `json:"dte,omitempty"`
		UnderlyingPrice *decimal.Decimal `json:"underlying_price,omitempty"`
		CurrentPremium  *decimal.Decimal `json:"current_premium,omitempty"`
		AvgPremium      *decimal.Decimal `json:"avg_premium,omitempty"`
		Delta           *decimal.Decimal `json:"delta,omitempty"`
		Moneyness       *decimal.Decimal `json:"moneyness,omitempty"`
		OTMPct          *decimal.Decimal `json:"otm_pct,omitempty"`
		PnLPremium      *decimal.Decimal `json:"pnl_premium,omitempty"`
		DeltaThreshold  *decimal.Decimal `json:"delta_threshold,omitempty"`
		RuleID          string           `json:"rule_id,omitempty"`
		Channels        json.RawMessage  `json:"channels,omitempty"`
		ErrorExcerpt    string           `json:"error_excerpt,omitempty"`
		ManualRetry     bool             `json:"manual_retry,omitempty"`
		Extra           map[string]any   `json:"extra,omitempty"`
	}

	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}

	*p = Payload{
		Ticker:          r.Ticker,
		Side:            r.Side,
		Strike:          r.Strike,
		Expiration:      r.Expiration,
		DTE:             r.DTE,
		UnderlyingPrice: r.UnderlyingPrice,
		CurrentPremium:  r.CurrentPremium,
		AvgPremium:      r.AvgPremium,
		Delta:           r.Delta,
		Moneyness:       r.Moneyness,
		OTMPct:          r.OTMPct,
		PnLPremium:      r.PnLPremium,
		DeltaThreshold:  r.DeltaThreshold,
		RuleID:          r.RuleID,
		ErrorExcerpt:    r.ErrorExcerpt,
		ManualRetry:     r.ManualRetry,
		Extra:           r.Extra,
	}
	p.Channels = decodeChannels(r.Channels)
	return nil
}

// decodeChannels accepts either a JSON array of strings or a single
// comma-separated string, the lists-as-strings legacy shape.
func decodeChannels(raw json.RawMessage) []Channel {
	if len(raw) == 0 {
		return nil
	}
	var list []Channel
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		parts := strings.Split(s, ",")
		out := make([]Channel, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, Channel(part))
			}
		}
		return out
	}
	return nil
}

// Merge applies non-nil/non-empty fields of patch onto p, leaving existing
// values untouched otherwise. Used by Notifier enrichment and by the
// repository's MergePayload.
func (p *Payload) Merge(patch Payload) {
	if patch.Ticker != "" {
		p.Ticker = patch.Ticker
	}
	if patch.Side != "" {
		p.Side = patch.Side
	}
	if patch.Strike != nil {
		p.Strike = patch.Strike
	}
	if patch.Expiration != nil {
		p.Expiration = patch.Expiration
	}
	if patch.DTE != nil {
		p.DTE = patch.DTE
	}
	if patch.UnderlyingPrice != nil {
		p.UnderlyingPrice = patch.UnderlyingPrice
	}
	if patch.CurrentPremium != nil {
		p.CurrentPremium = patch.CurrentPremium
	}
	if patch.AvgPremium != nil {
		p.AvgPremium = patch.AvgPremium
	}
	if patch.Delta != nil {
		p.Delta = patch.Delta
	}
	if patch.Moneyness != nil {
		p.Moneyness = patch.Moneyness
	}
	if patch.OTMPct != nil {
		p.OTMPct = patch.OTMPct
	}
	if patch.PnLPremium != nil {
		p.PnLPremium = patch.PnLPremium
	}
	if patch.DeltaThreshold != nil {
		p.DeltaThreshold = patch.DeltaThreshold
	}
	if patch.RuleID != "" {
		p.RuleID = patch.RuleID
	}
	if len(patch.Channels) > 0 {
		p.Channels = patch.Channels
	}
	if patch.ErrorExcerpt != "" {
		p.ErrorExcerpt = patch.ErrorExcerpt
	}
	if patch.ManualRetry {
		p.ManualRetry = true
	}
	if len(patch.Extra) > 0 {
		if p.Extra == nil {
			p.Extra = make(map[string]any, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			p.Extra[k] = v
		}
	}
}

// Alert is a queued notification awaiting (or having completed) delivery.
type Alert struct {
	ID               string      `json:"id"`
	AccountID        string      `json:"account_id"`
	OptionPositionID *string     `json:"option_position_id,omitempty"`
	Reason           AlertReason `json:"reason"`
	Payload          Payload     `json:"payload"`
	Status           AlertStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	DispatchedAt     *time.Time  `json:"dispatched_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}
