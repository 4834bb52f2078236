package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Action ids. One parameter shape per action, validated at the trigger
// boundary; unknown fields are rejected outright.
const (
	ActionRecoverAbandonedCheckout = "recover_abandoned_checkout"
	ActionSendPromo                = "send_promo"
	ActionWinbackLapsed            = "winback_lapsed"
)

// Params is the tagged union of per-action parameter shapes.
type Params struct {
	ActionID string

	RecoverCheckout *RecoverCheckoutParams
	SendPromo       *SendPromoParams
	Winback         *WinbackParams
}

type RecoverCheckoutParams struct {
	LookbackHours int     `json:"lookbackHours"`
	MinCartValue  float64 `json:"minCartValue,omitempty"`
}

type SendPromoParams struct {
	Segment     string `json:"segment"`
	PromoCode   string `json:"promoCode"`
	SubjectLine string `json:"subjectLine,omitempty"`
}

type WinbackParams struct {
	LapsedDays int `json:"lapsedDays"`
}

// Promo segments.
const (
	SegmentAll    = "all"
	SegmentRecent = "recent_buyers"
)

func decodeStrict(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// ParseParams validates the raw parameter payload against the shape for the
// action and applies defaults. A validation failure here rejects the trigger
// before anything is persisted.
func ParseParams(actionID string, raw json.RawMessage) (*Params, error) {
	switch actionID {
	case ActionRecoverAbandonedCheckout:
		var p RecoverCheckoutParams
		if err := decodeStrict(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid params for %s: %w", actionID, err)
		}
		if p.LookbackHours <= 0 {
			p.LookbackHours = 24
		}
		if p.LookbackHours > 168 {
			return nil, fmt.Errorf("lookbackHours must be at most 168")
		}
		if p.MinCartValue < 0 {
			return nil, fmt.Errorf("minCartValue must not be negative")
		}
		return &Params{ActionID: actionID, RecoverCheckout: &p}, nil

	case ActionSendPromo:
		var p SendPromoParams
		if err := decodeStrict(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid params for %s: %w", actionID, err)
		}
		if p.Segment == "" {
			p.Segment = SegmentAll
		}
		if p.Segment != SegmentAll && p.Segment != SegmentRecent {
			return nil, fmt.Errorf("unknown segment %q", p.Segment)
		}
		if p.PromoCode == "" {
			return nil, fmt.Errorf("promoCode is required")
		}
		return &Params{ActionID: actionID, SendPromo: &p}, nil

	case ActionWinbackLapsed:
		var p WinbackParams
		if err := decodeStrict(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid params for %s: %w", actionID, err)
		}
		if p.LapsedDays <= 0 {
			p.LapsedDays = 90
		}
		return &Params{ActionID: actionID, Winback: &p}, nil
	}
	return nil, fmt.Errorf("unknown action %q", actionID)
}

// Encode serializes the validated union back to the stored payload.
func (p *Params) Encode() (string, error) {
	var v interface{}
	switch p.ActionID {
	case ActionRecoverAbandonedCheckout:
		v = p.RecoverCheckout
	case ActionSendPromo:
		v = p.SendPromo
	case ActionWinbackLapsed:
		v = p.Winback
	default:
		return "", fmt.Errorf("unknown action %q", p.ActionID)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
