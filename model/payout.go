package model

import "github.com/shopspring/decimal"

var oneHundred = decimal.NewFromInt(100)

// basePricing resolves the base cost/payout pair from the landing-level
// override when present, falling back to the offer defaults.
func basePricing(offer *Offer, landing *Landing) (cost, payout decimal.Decimal) {
	cost = offer.Cost
	payout = offer.Payout
	if landing != nil {
		if landing.Cost != nil {
			cost = *landing.Cost
		}
		if landing.Payout != nil {
			payout = *landing.Payout
		}
	}
	return cost, payout
}

// revShareComponent computes the revenue-share part of a price: the payout is
// a percentage of the transaction amount, the cost is the full amount. Both
// are zero when no transaction amount or no percent is configured. A negative
// amount (refund-style reports) prices as zero, cost and payout never go
// below zero.
func revShareComponent(offer *Offer, txnAmount *decimal.Decimal) (cost, payout decimal.Decimal) {
	if txnAmount == nil || txnAmount.IsNegative() || offer.RevSharePercent.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	payout = txnAmount.Mul(offer.RevSharePercent).Div(oneHundred)
	return *txnAmount, payout
}

// ComputePayout resolves (advertiser cost, publisher payout) for a reported
// conversion. Pure and deterministic, no I/O.
//
// CPA/CPS pay only on sale, CPL only on lead, CPI only on install. RevShare
// derives both sides from the transaction amount. Hybrid stacks the RevShare
// component on top of the base price. An unrecognized payout model falls
// through to a flat pass-through of the base price regardless of conversion
// type; that silent fallback is deliberate and must not be turned into an
// error.
func ComputePayout(offer *Offer, landing *Landing, conversionType string, txnAmount *decimal.Decimal) (cost, payout decimal.Decimal) {
	baseCost, basePayout := basePricing(offer, landing)

	switch offer.PayoutModel {
	case ModelCPA, ModelCPS:
		if conversionType == TypeSale {
			return baseCost, basePayout
		}
		return decimal.Zero, decimal.Zero
	case ModelCPL:
		if conversionType == TypeLead {
			return baseCost, basePayout
		}
		return decimal.Zero, decimal.Zero
	case ModelCPI:
		if conversionType == TypeInstall {
			return baseCost, basePayout
		}
		return decimal.Zero, decimal.Zero
	case ModelRevShare:
		return revShareComponent(offer, txnAmount)
	case ModelHybrid:
		rsCost, rsPayout := revShareComponent(offer, txnAmount)
		return baseCost.Add(rsCost), basePayout.Add(rsPayout)
	default:
		return baseCost, basePayout
	}
}
