package model

import (
	"encoding/json"
	"time"
)

// Advertiser webhook events.
const (
	EventLead           = "lead"
	EventSale           = "sale"
	EventInstall        = "install"
	EventRejected       = "rejected"
	EventHoldReleased   = "hold_released"
	EventPayoutApproved = "payout_approved"
	EventPayoutPaid     = "payout_paid"
)

// Platform events.
const (
	EventConversionCreated       = "conversion.created"
	EventConversionStatusChanged = "conversion.status_changed"
)

// Webhook is an advertiser-scoped subscription. OfferIDs and PublisherIDs are
// allow-lists: an empty list matches everything. The dispatcher only mutates
// the failure counters and last-triggered timestamp; everything else is
// admin-managed.
type Webhook struct {
	ID              int64             `json:"-"`
	WebhookID       string            `json:"webhook_id"`
	AdvertiserID    string            `json:"advertiser_id"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Events          []string          `json:"events"`
	OfferIDs        []string          `json:"offer_ids,omitempty"`
	PublisherIDs    []string          `json:"publisher_ids,omitempty"`
	Secret          string            `json:"-"`
	Headers         map[string]string `json:"headers,omitempty"`
	Active          bool              `json:"active"`
	FailureCount    int               `json:"failure_count"`
	LastError       string            `json:"last_error,omitempty"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// PlatformWebhook is an operator-level subscriber. No per-tenant filtering
// beyond the event set.
type PlatformWebhook struct {
	ID           int64      `json:"-"`
	WebhookID    string     `json:"webhook_id"`
	URL          string     `json:"url"`
	Events       []string   `json:"events"`
	Secret       string     `json:"-"`
	Active       bool       `json:"active"`
	FailureCount int        `json:"failure_count"`
	LastError    string     `json:"last_error,omitempty"`
	LastSentAt   *time.Time `json:"last_sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Delivery outcomes.
const (
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
)

// DeliveryLog is one row per delivery attempt. Append-only: subsequent
// attempts add rows, nothing is updated after the fact.
type DeliveryLog struct {
	ID           int64           `json:"-"`
	DeliveryID   string          `json:"delivery_id"`
	WebhookID    string          `json:"webhook_id"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	HTTPStatus   int             `json:"http_status,omitempty"`
	ResponseBody string          `json:"response_body,omitempty"`
	Attempt      int             `json:"attempt"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SubscribedTo reports whether the webhook's event set contains event.
func (w *Webhook) SubscribedTo(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Matches applies the optional offer/publisher allow-lists. Empty lists match
// any id; an empty id matches any list.
func (w *Webhook) Matches(offerID, publisherID string) bool {
	if len(w.OfferIDs) > 0 && offerID != "" && !containsString(w.OfferIDs, offerID) {
		return false
	}
	if len(w.PublisherIDs) > 0 && publisherID != "" && !containsString(w.PublisherIDs, publisherID) {
		return false
	}
	return true
}

// SubscribedTo reports whether the platform webhook's event set contains event.
func (w *PlatformWebhook) SubscribedTo(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

func containsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
