// Package domain contains core business types and interfaces.
//
// This file defines plan entitlements and the price table for chargeable actions.
package domain

import "sort"

// PlanID identifies a subscription plan in the catalog.
type PlanID string

// FeatureID identifies an entitlement a plan may grant.
type FeatureID string

// ActionType identifies a chargeable action.
type ActionType string

const (
	FeatureChatbot        FeatureID = "chatbot"
	FeatureWelcomeMessage FeatureID = "welcome-message"
	FeatureIntegrations   FeatureID = "integrations"
	FeatureForms          FeatureID = "forms"
	FeatureCalendarSync   FeatureID = "calendar-sync"
	FeatureAnalytics      FeatureID = "analytics"
)

const (
	ActionChatbotInteraction ActionType = "chatbot-interaction"
	ActionCreateIntegration  ActionType = "create-integration"
	ActionCreateForm         ActionType = "create-form"
	ActionSyncCalendar       ActionType = "sync-calendar"
	ActionSendWelcome        ActionType = "send-welcome-message"
	ActionExportAnalytics    ActionType = "export-analytics"
)

// FeatureSet is an unordered set of features.
type FeatureSet map[FeatureID]struct{}

// NewFeatureSet builds a set from a list of features.
func NewFeatureSet(features ...FeatureID) FeatureSet {
	fs := make(FeatureSet, len(features))
	for _, f := range features {
		fs[f] = struct{}{}
	}
	return fs
}

// Has reports whether the set contains f.
func (fs FeatureSet) Has(f FeatureID) bool {
	_, ok := fs[f]
	return ok
}

// List returns the features in sorted order.
func (fs FeatureSet) List() []FeatureID {
	out := make([]FeatureID, 0, len(fs))
	for f := range fs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Plan is a subscription tier. Plans are immutable once the catalog is loaded.
//
// Money amounts are integer minor units (cents).
type Plan struct {
	ID               PlanID
	Name             string
	InteractionQuota int64 // 0 means unlimited
	BudgetCeiling    int64
	PriceMonthly     int64
	Features         FeatureSet
	TierRank         int
}

// HasFeature reports whether the plan grants f.
func (p Plan) HasFeature(f FeatureID) bool {
	return p.Features.Has(f)
}

// UnlimitedInteractions reports whether the plan has no interaction quota.
func (p Plan) UnlimitedInteractions() bool {
	return p.InteractionQuota == 0
}

// ActionCost is the price and entitlement requirement of one action.
type ActionCost struct {
	Action       ActionType
	Price        int64
	Feature      FeatureID
	Interactions int64
}
