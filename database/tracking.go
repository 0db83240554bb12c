package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/outclick-labs/outclick/internal/apierror"
	"github.com/outclick-labs/outclick/model"
)

// Offers and advertiser settings change rarely relative to how often the
// conversion path reads them, so they sit behind a short cache.
const trackingCacheTTL = 5 * time.Minute

// GetClickByClickID resolves the attribution context a conversion hangs off.
// The click rows themselves are produced by the tracking redirect, this
// subsystem only reads them.
func (d Datasource) GetClickByClickID(ctx context.Context, clickID string) (*model.Click, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT click_id, offer_id, COALESCE(landing_id, ''), publisher_id, advertiser_id,
			COALESCE(geo, ''), antifraud_action, COALESCE(fraud_reason, ''), sub_ids, created_at
		FROM clicks WHERE click_id = $1
	`, clickID)

	click := &model.Click{}
	var subIDsJSON []byte
	err := row.Scan(&click.ClickID, &click.OfferID, &click.LandingID, &click.PublisherID, &click.AdvertiserID,
		&click.Geo, &click.AntifraudAction, &click.FraudReason, &subIDsJSON, &click.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewNotFound("click", clickID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching click")
	}
	if len(subIDsJSON) > 0 {
		if err := json.Unmarshal(subIDsJSON, &click.SubIDs); err != nil {
			return nil, errors.Wrap(err, "unmarshaling click sub ids")
		}
	}
	return click, nil
}

// GetOffer retrieves the pricing configuration for an offer.
func (d Datasource) GetOffer(ctx context.Context, offerID string) (*model.Offer, error) {
	cacheKey := fmt.Sprintf("offer:%s", offerID)
	if d.Cache != nil {
		cached := &model.Offer{}
		if err := d.Cache.Get(ctx, cacheKey, cached); err == nil && cached.OfferID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT offer_id, advertiser_id, name, payout_model, cost, payout, rev_share_percent,
			hold_period_days, currency, caps_enabled, daily_cap, created_at
		FROM offers WHERE offer_id = $1
	`, offerID)

	offer := &model.Offer{}
	var holdDays sql.NullInt64
	err := row.Scan(&offer.OfferID, &offer.AdvertiserID, &offer.Name, &offer.PayoutModel,
		&offer.Cost, &offer.Payout, &offer.RevSharePercent,
		&holdDays, &offer.Currency, &offer.CapsEnabled, &offer.DailyCap, &offer.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewNotFound("offer", offerID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching offer")
	}
	if holdDays.Valid {
		days := int(holdDays.Int64)
		offer.HoldPeriodDays = &days
	}
	if d.Cache != nil {
		if err := d.Cache.Set(ctx, cacheKey, offer, trackingCacheTTL); err != nil {
			logrus.Warnf("caching offer %s failed: %v", offerID, err)
		}
	}
	return offer, nil
}

// GetLanding retrieves a landing page pricing override.
func (d Datasource) GetLanding(ctx context.Context, landingID string) (*model.Landing, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT landing_id, offer_id, url, cost, payout, created_at
		FROM landings WHERE landing_id = $1
	`, landingID)

	landing := &model.Landing{}
	var cost, payout decimal.NullDecimal
	err := row.Scan(&landing.LandingID, &landing.OfferID, &landing.URL,
		&cost, &payout, &landing.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewNotFound("landing", landingID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching landing")
	}
	if cost.Valid {
		landing.Cost = &cost.Decimal
	}
	if payout.Valid {
		landing.Payout = &payout.Decimal
	}
	return landing, nil
}

// GetAdvertiser retrieves the advertiser settings the lifecycle reads.
func (d Datasource) GetAdvertiser(ctx context.Context, advertiserID string) (*model.Advertiser, error) {
	cacheKey := fmt.Sprintf("advertiser:%s", advertiserID)
	if d.Cache != nil {
		cached := &model.Advertiser{}
		if err := d.Cache.Get(ctx, cacheKey, cached); err == nil && cached.AdvertiserID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT advertiser_id, name, default_hold_period_days, created_at
		FROM advertisers WHERE advertiser_id = $1
	`, advertiserID)

	advertiser := &model.Advertiser{}
	err := row.Scan(&advertiser.AdvertiserID, &advertiser.Name,
		&advertiser.DefaultHoldPeriodDays, &advertiser.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewNotFound("advertiser", advertiserID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching advertiser")
	}
	if d.Cache != nil {
		if err := d.Cache.Set(ctx, cacheKey, advertiser, trackingCacheTTL); err != nil {
			logrus.Warnf("caching advertiser %s failed: %v", advertiserID, err)
		}
	}
	return advertiser, nil
}
