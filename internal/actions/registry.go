package actions

import (
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// Risk tiers. High-risk actions require the owner role at trigger time.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Outcome models describe what counts as a win for an action.
const (
	OutcomeRecoveredRevenue = "recovered_revenue"
	OutcomePromoRevenue     = "promo_revenue"
	OutcomeReactivation     = "reactivation"
)

// ActionDefinition is a static catalog entry. Definitions are code, not rows:
// the catalog only changes with a deploy.
type ActionDefinition struct {
	ID                   string
	Name                 string
	RiskTier             string
	RequiresConfirmation bool
	SupportsPreview      bool
	OutcomeModel         string
	TemplateID           string
	MinRecipients        int
	MaxRecipients        int
	CooldownHours        int
	Prerequisites        []string
}

// RequiresElevatedRole reports whether policy should gate this action on the
// owner role.
func (d *ActionDefinition) RequiresElevatedRole() bool {
	return d.RiskTier == RiskHigh
}

var catalog = map[string]*ActionDefinition{
	ActionRecoverAbandonedCheckout: {
		ID:                   ActionRecoverAbandonedCheckout,
		Name:                 "Recover abandoned checkouts",
		RiskTier:             RiskMedium,
		RequiresConfirmation: true,
		SupportsPreview:      true,
		OutcomeModel:         OutcomeRecoveredRevenue,
		TemplateID:           "tmpl_checkout_recovery",
		MinRecipients:        1,
		MaxRecipients:        500,
		CooldownHours:        24,
		Prerequisites:        []string{domain.EventCheckoutAbandoned},
	},
	ActionSendPromo: {
		ID:                   ActionSendPromo,
		Name:                 "Send a promotional email",
		RiskTier:             RiskHigh,
		RequiresConfirmation: true,
		SupportsPreview:      true,
		OutcomeModel:         OutcomePromoRevenue,
		TemplateID:           "tmpl_promo",
		MinRecipients:        1,
		MaxRecipients:        5000,
		CooldownHours:        72,
		Prerequisites:        []string{domain.EventOrderCompleted, domain.EventCustomerSignup},
	},
	ActionWinbackLapsed: {
		ID:                   ActionWinbackLapsed,
		Name:                 "Win back lapsed customers",
		RiskTier:             RiskMedium,
		RequiresConfirmation: true,
		SupportsPreview:      true,
		OutcomeModel:         OutcomeReactivation,
		TemplateID:           "tmpl_winback",
		MinRecipients:        1,
		MaxRecipients:        1000,
		CooldownHours:        168,
		Prerequisites:        []string{domain.EventOrderCompleted},
	},
}

// Get returns the definition for an action id, or nil for unknown actions.
func Get(actionID string) *ActionDefinition {
	return catalog[actionID]
}

// All returns every catalog entry in a stable order.
func All() []*ActionDefinition {
	ids := []string{ActionRecoverAbandonedCheckout, ActionSendPromo, ActionWinbackLapsed}
	out := make([]*ActionDefinition, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog[id])
	}
	return out
}
