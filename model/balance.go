package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance bucket names, used for metrics labels and delta logging.
const (
	BucketAvailable = "available"
	BucketHold      = "hold"
	BucketPending   = "pending"
)

// Balance is the per (publisher, advertiser) ledger row. Available is
// withdrawable, Hold is provisionally credited pending hold expiry, Pending
// awaits approval.
type Balance struct {
	ID           int64           `json:"-"`
	BalanceID    string          `json:"balance_id"`
	PublisherID  string          `json:"publisher_id"`
	AdvertiserID string          `json:"advertiser_id"`
	Available    decimal.Decimal `json:"available"`
	Hold         decimal.Decimal `json:"hold"`
	Pending      decimal.Decimal `json:"pending"`
	Currency     string          `json:"currency"`
	CreatedAt    time.Time       `json:"created_at"`
}

// BalanceDelta is the single ledger mutation a conversion transition applies.
// Negative components are clamped at zero when applied; the clamp is reported
// so callers can surface it instead of silently absorbing a double-deduction.
type BalanceDelta struct {
	Available decimal.Decimal `json:"available"`
	Hold      decimal.Decimal `json:"hold"`
	Pending   decimal.Decimal `json:"pending"`
}

// IsZero reports whether the delta mutates nothing.
func (d BalanceDelta) IsZero() bool {
	return d.Available.IsZero() && d.Hold.IsZero() && d.Pending.IsZero()
}

// applyClamped adds delta to bucket, flooring at zero. The second return is
// true when the floor actually triggered.
func applyClamped(bucket, delta decimal.Decimal) (decimal.Decimal, bool) {
	next := bucket.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, true
	}
	return next, false
}

// ApplyDelta mutates the balance buckets in memory with the clamp-to-zero
// semantics the storage layer enforces. Returns the bucket names that were
// clamped, empty when none.
func (balance *Balance) ApplyDelta(delta BalanceDelta) []string {
	var clamped []string
	var c bool
	if balance.Available, c = applyClamped(balance.Available, delta.Available); c {
		clamped = append(clamped, BucketAvailable)
	}
	if balance.Hold, c = applyClamped(balance.Hold, delta.Hold); c {
		clamped = append(clamped, BucketHold)
	}
	if balance.Pending, c = applyClamped(balance.Pending, delta.Pending); c {
		clamped = append(clamped, BucketPending)
	}
	return clamped
}

// CreationDelta is the ledger mutation applied when a conversion is first
// persisted: held payouts credit the hold bucket, immediately approved
// payouts credit available, rejected conversions touch nothing.
func CreationDelta(status string, payout decimal.Decimal) BalanceDelta {
	switch status {
	case StatusHold:
		return BalanceDelta{Hold: payout}
	case StatusApproved:
		return BalanceDelta{Available: payout}
	}
	return BalanceDelta{}
}

// ApprovalDelta moves a payout into the available bucket: out of hold when
// the conversion was held, or credited directly when it was pending or is
// being reversed out of rejection.
func ApprovalDelta(previousStatus string, payout decimal.Decimal) BalanceDelta {
	if previousStatus == StatusHold {
		return BalanceDelta{Available: payout, Hold: payout.Neg()}
	}
	return BalanceDelta{Available: payout}
}

// RejectionDelta removes a payout from the bucket it currently sits in.
// A pending conversion has not been credited, so nothing moves.
func RejectionDelta(previousStatus string, payout decimal.Decimal) BalanceDelta {
	switch previousStatus {
	case StatusApproved:
		return BalanceDelta{Available: payout.Neg()}
	case StatusHold:
		return BalanceDelta{Hold: payout.Neg()}
	}
	return BalanceDelta{}
}

// HoldDelta moves a payout into the hold bucket: out of available when the
// conversion was approved, or credited fresh for a delayed hold on a pending
// conversion. Rejected moves nothing: the payout was already removed and the
// state machine has no rejected to hold edge.
func HoldDelta(previousStatus string, payout decimal.Decimal) BalanceDelta {
	switch previousStatus {
	case StatusApproved:
		return BalanceDelta{Available: payout.Neg(), Hold: payout}
	case StatusRejected:
		return BalanceDelta{}
	}
	return BalanceDelta{Hold: payout}
}
