package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Conversion statuses. Transitions only happen through the orchestrator;
// reporting endpoints never mutate status directly.
const (
	StatusPending  = "pending"
	StatusHold     = "hold"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Conversion types.
const (
	TypeLead    = "lead"
	TypeSale    = "sale"
	TypeInstall = "install"
)

// Conversion is one record per reported user action attributed to a click.
type Conversion struct {
	ID              int64                  `json:"-"`
	ConversionID    string                 `json:"conversion_id"`
	ClickID         string                 `json:"click_id"`
	OfferID         string                 `json:"offer_id"`
	PublisherID     string                 `json:"publisher_id"`
	AdvertiserID    string                 `json:"advertiser_id"`
	Type            string                 `json:"type"`
	AdvertiserCost  decimal.Decimal        `json:"advertiser_cost"`
	PublisherPayout decimal.Decimal        `json:"publisher_payout"`
	Currency        string                 `json:"currency"`
	Status          string                 `json:"status"`
	HoldUntil       *time.Time             `json:"hold_until,omitempty"`
	RejectionReason string                 `json:"rejection_reason,omitempty"`
	ExternalID      string                 `json:"external_id,omitempty"`
	SuspectedFraud  bool                   `json:"suspected_fraud,omitempty"`
	FraudReason     string                 `json:"fraud_reason,omitempty"`
	CapCounted      bool                   `json:"-"`
	Geo             string                 `json:"geo,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	ApprovedAt      *time.Time             `json:"approved_at,omitempty"`
	RejectedAt      *time.Time             `json:"rejected_at,omitempty"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

func (conversion *Conversion) ToJSON() ([]byte, error) {
	return json.Marshal(conversion)
}

// ValidType reports whether t is a recognized conversion type.
func ValidType(t string) bool {
	switch t {
	case TypeLead, TypeSale, TypeInstall:
		return true
	}
	return false
}
