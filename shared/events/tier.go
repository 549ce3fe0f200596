package events

import "time"

// TierChanged describes a tier transition applied to a Tier Record by webhook reconciliation.
type TierChanged struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	PreviousTier string    `json:"previousTier"`
	NewTier      string    `json:"newTier"`
	Status       string    `json:"subscriptionStatus"`
	Provider     string    `json:"provider"`
	EventType    string    `json:"eventType"`
	At           time.Time `json:"at"`
}

// Changed reports whether the event actually moved the record to a different tier.
func (e TierChanged) Changed() bool {
	return e.PreviousTier != e.NewTier
}
