package model

import "time"

// Fraud dispositions carried on a click. The disposition is computed upstream
// by the antifraud pipeline and consumed here as an opaque input.
const (
	FraudAllow  = "allow"
	FraudFlag   = "flag"
	FraudHold   = "hold"
	FraudReject = "reject"
	FraudBlock  = "block"
)

// Click is a recorded visit produced by a tracking redirect. It carries the
// offer/publisher/geo context that a conversion is attributed to.
type Click struct {
	ID              int64             `json:"-"`
	ClickID         string            `json:"click_id"`
	OfferID         string            `json:"offer_id"`
	LandingID       string            `json:"landing_id,omitempty"`
	PublisherID     string            `json:"publisher_id"`
	AdvertiserID    string            `json:"advertiser_id"`
	Geo             string            `json:"geo,omitempty"`
	AntifraudAction string            `json:"antifraud_action,omitempty"`
	FraudReason     string            `json:"fraud_reason,omitempty"`
	SubIDs          map[string]string `json:"sub_ids,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Suspicious reports whether the click's fraud disposition should tag
// outbound conversion events with a fraud flag.
func (c *Click) Suspicious() bool {
	switch c.AntifraudAction {
	case FraudFlag, FraudHold:
		return true
	}
	return false
}

// Blocked reports whether the disposition rejects the conversion outright.
func (c *Click) Blocked() bool {
	switch c.AntifraudAction {
	case FraudReject, FraudBlock:
		return true
	}
	return false
}
