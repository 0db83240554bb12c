package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout models.
const (
	ModelCPA      = "CPA"
	ModelCPL      = "CPL"
	ModelCPI      = "CPI"
	ModelCPS      = "CPS"
	ModelRevShare = "RevShare"
	ModelHybrid   = "Hybrid"
)

// Offer holds the pricing configuration a conversion is priced against.
// HoldPeriodDays is a pointer because an explicit zero is meaningful: it
// disables the hold window even when the advertiser default is non-zero.
type Offer struct {
	ID              int64           `json:"-"`
	OfferID         string          `json:"offer_id"`
	AdvertiserID    string          `json:"advertiser_id"`
	Name            string          `json:"name"`
	PayoutModel     string          `json:"payout_model"`
	Cost            decimal.Decimal `json:"cost"`
	Payout          decimal.Decimal `json:"payout"`
	RevSharePercent decimal.Decimal `json:"rev_share_percent"`
	HoldPeriodDays  *int            `json:"hold_period_days,omitempty"`
	Currency        string          `json:"currency"`
	CapsEnabled     bool            `json:"caps_enabled"`
	DailyCap        int             `json:"daily_cap,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Landing is a per-landing-page pricing override. A nil override falls back
// to the offer default.
type Landing struct {
	ID        int64            `json:"-"`
	LandingID string           `json:"landing_id"`
	OfferID   string           `json:"offer_id"`
	URL       string           `json:"url"`
	Cost      *decimal.Decimal `json:"cost,omitempty"`
	Payout    *decimal.Decimal `json:"payout,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Advertiser carries the settings the conversion lifecycle reads. Everything
// else about an advertiser lives in the admin surface.
type Advertiser struct {
	ID                    int64     `json:"-"`
	AdvertiserID          string    `json:"advertiser_id"`
	Name                  string    `json:"name"`
	DefaultHoldPeriodDays int       `json:"default_hold_period_days"`
	CreatedAt             time.Time `json:"created_at"`
}
