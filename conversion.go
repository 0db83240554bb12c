/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package outclick

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/internal/apierror"
	redlock "github.com/outclick-labs/outclick/internal/lock"
	"github.com/outclick-labs/outclick/internal/metrics"
	"github.com/outclick-labs/outclick/internal/notification"
	"github.com/outclick-labs/outclick/model"
)

var tracer = otel.Tracer("outclick.conversions")

// ConversionRequest is a reported user action attributed to a click.
type ConversionRequest struct {
	ClickID           string                 `json:"click_id"`
	Type              string                 `json:"type"`
	TransactionAmount *decimal.Decimal       `json:"transaction_amount,omitempty"`
	ExternalID        string                 `json:"external_id,omitempty"`
	MetaData          map[string]interface{} `json:"meta_data,omitempty"`
}

// ProcessConversion turns a reported action into a persisted conversion:
// resolve the click context, price it, decide the initial status from the
// fraud disposition and the hold-period policy, write the initial ledger
// delta and fan out notifications. The caller only ever sees NotFound for a
// missing click or offer; every downstream notification failure is invisible
// here and observable through delivery logs.
func (o *Outclick) ProcessConversion(ctx context.Context, req ConversionRequest) (*model.Conversion, error) {
	ctx, span := tracer.Start(ctx, "ProcessConversion")
	defer span.End()

	click, err := o.datasource.GetClickByClickID(ctx, req.ClickID)
	if err != nil {
		return nil, err
	}
	offer, err := o.datasource.GetOffer(ctx, click.OfferID)
	if err != nil {
		return nil, err
	}
	advertiser, err := o.datasource.GetAdvertiser(ctx, offer.AdvertiserID)
	if err != nil {
		return nil, err
	}

	var landing *model.Landing
	if click.LandingID != "" {
		landing, err = o.datasource.GetLanding(ctx, click.LandingID)
		if err != nil {
			// Pricing falls back to the offer default.
			logrus.WithField("landing_id", click.LandingID).Warn("landing lookup failed: ", err)
			landing = nil
		}
	}

	cost, payout := model.ComputePayout(offer, landing, req.Type, req.TransactionAmount)
	holdDays := resolveHoldDays(offer, advertiser, click.AntifraudAction)

	now := time.Now()
	cvn := &model.Conversion{
		ClickID:         click.ClickID,
		OfferID:         offer.OfferID,
		PublisherID:     click.PublisherID,
		AdvertiserID:    offer.AdvertiserID,
		Type:            req.Type,
		AdvertiserCost:  cost,
		PublisherPayout: payout,
		Currency:        offer.Currency,
		Status:          model.StatusApproved,
		ExternalID:      req.ExternalID,
		SuspectedFraud:  click.Suspicious(),
		FraudReason:     click.FraudReason,
		Geo:             click.Geo,
		CreatedAt:       now,
		MetaData:        req.MetaData,
	}

	switch {
	case click.Blocked():
		cvn.Status = model.StatusRejected
		cvn.RejectedAt = &now
		cvn.RejectionReason = click.FraudReason
		if cvn.RejectionReason == "" {
			cvn.RejectionReason = "blocked by antifraud"
		}
	case holdDays > 0:
		cvn.Status = model.StatusHold
		holdUntil := now.AddDate(0, 0, holdDays)
		cvn.HoldUntil = &holdUntil
	default:
		cvn.ApprovedAt = &now
	}

	if offer.CapsEnabled && cvn.Status != model.StatusRejected {
		cvn.CapCounted = true
	}

	cvn, err = o.datasource.RecordConversion(ctx, cvn)
	if err != nil {
		return nil, err
	}
	metrics.ConversionTransitionTotal.WithLabelValues(cvn.Status, "false").Inc()

	if err := o.applyLedgerDelta(ctx, cvn, model.CreationDelta(cvn.Status, cvn.PublisherPayout)); err != nil {
		return nil, err
	}

	// Cap counters are best-effort: their failure never fails the conversion.
	if cvn.CapCounted {
		if err := o.datasource.IncrementOfferCap(ctx, cvn.OfferID, now); err != nil {
			logrus.WithField("offer_id", cvn.OfferID).Warn("offer cap increment failed: ", err)
		}
	}

	if cvn.Status == model.StatusHold {
		if err := o.queue.queueHoldExpiry(cvn.ConversionID, *cvn.HoldUntil); err != nil {
			notification.NotifyError(err)
		}
	}

	o.fanOutCreation(cvn)
	return cvn, nil
}

// resolveHoldDays applies the hold-period policy: an explicit offer-level
// value wins, including an explicit zero, over the advertiser default. A
// suspicious disposition with a zero-resolved window forces the minimum.
func resolveHoldDays(offer *model.Offer, advertiser *model.Advertiser, disposition string) int {
	days := advertiser.DefaultHoldPeriodDays
	if offer.HoldPeriodDays != nil {
		days = *offer.HoldPeriodDays
	}
	if days == 0 && (disposition == model.FraudHold || disposition == model.FraudFlag) {
		days = config.DefaultHoldDays
	}
	return days
}

// ApproveConversion approves the conversion, crediting the publisher's
// available bucket. Approving an already approved conversion is a logged
// no-op. Approving out of rejected is the manual reversal path.
func (o *Outclick) ApproveConversion(ctx context.Context, conversionID string) (*model.Conversion, error) {
	return o.approveConversion(ctx, conversionID, model.EventPayoutApproved)
}

func (o *Outclick) approveConversion(ctx context.Context, conversionID, event string) (*model.Conversion, error) {
	ctx, span := tracer.Start(ctx, "ApproveConversion")
	defer span.End()

	locker, err := o.acquireLock(ctx, conversionID)
	if err != nil {
		return nil, err
	}
	defer o.releaseLock(ctx, locker)

	cvn, err := o.datasource.GetConversion(ctx, conversionID)
	if err != nil {
		return nil, err
	}
	if cvn.Status == model.StatusApproved {
		return o.transitionNoop(cvn, model.StatusApproved), nil
	}

	now := time.Now()
	applied, err := o.datasource.ApproveConversionStatus(ctx, conversionID, cvn.Status, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the optimistic race; the row moved under us.
		return o.datasource.GetConversion(ctx, conversionID)
	}

	if err := o.applyLedgerDelta(ctx, cvn, model.ApprovalDelta(cvn.Status, cvn.PublisherPayout)); err != nil {
		return nil, err
	}
	metrics.ConversionTransitionTotal.WithLabelValues(model.StatusApproved, "false").Inc()

	previous := cvn.Status
	cvn.Status = model.StatusApproved
	cvn.ApprovedAt = &now
	cvn.HoldUntil = nil
	cvn.RejectionReason = ""
	cvn.RejectedAt = nil

	logrus.WithFields(logrus.Fields{
		"conversion_id": cvn.ConversionID,
		"from":          previous,
	}).Info("conversion approved")

	o.fanOutStatusChange(cvn, event)
	return cvn, nil
}

// RejectConversion rejects the conversion, reclaiming the payout from
// whichever bucket currently holds it. Rejecting an already rejected
// conversion is a logged no-op.
func (o *Outclick) RejectConversion(ctx context.Context, conversionID, reason string) (*model.Conversion, error) {
	ctx, span := tracer.Start(ctx, "RejectConversion")
	defer span.End()

	locker, err := o.acquireLock(ctx, conversionID)
	if err != nil {
		return nil, err
	}
	defer o.releaseLock(ctx, locker)

	cvn, err := o.datasource.GetConversion(ctx, conversionID)
	if err != nil {
		return nil, err
	}
	if cvn.Status == model.StatusRejected {
		return o.transitionNoop(cvn, model.StatusRejected), nil
	}

	if reason == "" {
		reason = "rejected"
	}
	now := time.Now()
	applied, err := o.datasource.RejectConversionStatus(ctx, conversionID, cvn.Status, reason, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return o.datasource.GetConversion(ctx, conversionID)
	}

	if err := o.applyLedgerDelta(ctx, cvn, model.RejectionDelta(cvn.Status, cvn.PublisherPayout)); err != nil {
		return nil, err
	}
	metrics.ConversionTransitionTotal.WithLabelValues(model.StatusRejected, "false").Inc()

	if cvn.CapCounted {
		if err := o.datasource.DecrementOfferCap(ctx, cvn.OfferID, cvn.CreatedAt); err != nil {
			logrus.WithField("offer_id", cvn.OfferID).Warn("offer cap decrement failed: ", err)
		}
	}

	previous := cvn.Status
	cvn.Status = model.StatusRejected
	cvn.RejectionReason = reason
	cvn.RejectedAt = &now
	cvn.HoldUntil = nil

	logrus.WithFields(logrus.Fields{
		"conversion_id": cvn.ConversionID,
		"from":          previous,
		"reason":        reason,
	}).Info("conversion rejected")

	o.fanOutStatusChange(cvn, model.EventRejected)
	return cvn, nil
}

// HoldConversion moves the conversion into hold. An explicit day count
// overrides the offer/advertiser policy. Holding an already held conversion
// is a logged no-op.
func (o *Outclick) HoldConversion(ctx context.Context, conversionID string, days *int) (*model.Conversion, error) {
	ctx, span := tracer.Start(ctx, "HoldConversion")
	defer span.End()

	locker, err := o.acquireLock(ctx, conversionID)
	if err != nil {
		return nil, err
	}
	defer o.releaseLock(ctx, locker)

	cvn, err := o.datasource.GetConversion(ctx, conversionID)
	if err != nil {
		return nil, err
	}
	if cvn.Status == model.StatusHold {
		return o.transitionNoop(cvn, model.StatusHold), nil
	}
	// The only way out of rejected is the approve reversal; holding a
	// rejected conversion would re-credit a payout rejection already removed.
	if cvn.Status == model.StatusRejected {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("conversion %s is rejected and cannot be held", conversionID), nil)
	}

	holdDays := config.DefaultHoldDays
	if days != nil && *days > 0 {
		holdDays = *days
	} else {
		offer, err := o.datasource.GetOffer(ctx, cvn.OfferID)
		if err == nil {
			advertiser, advErr := o.datasource.GetAdvertiser(ctx, offer.AdvertiserID)
			if advErr == nil {
				if resolved := resolveHoldDays(offer, advertiser, model.FraudHold); resolved > 0 {
					holdDays = resolved
				}
			}
		}
	}

	now := time.Now()
	holdUntil := now.AddDate(0, 0, holdDays)
	applied, err := o.datasource.HoldConversionStatus(ctx, conversionID, cvn.Status, holdUntil)
	if err != nil {
		return nil, err
	}
	if !applied {
		return o.datasource.GetConversion(ctx, conversionID)
	}

	if err := o.applyLedgerDelta(ctx, cvn, model.HoldDelta(cvn.Status, cvn.PublisherPayout)); err != nil {
		return nil, err
	}
	metrics.ConversionTransitionTotal.WithLabelValues(model.StatusHold, "false").Inc()

	if err := o.queue.queueHoldExpiry(cvn.ConversionID, holdUntil); err != nil {
		notification.NotifyError(err)
	}

	previous := cvn.Status
	cvn.Status = model.StatusHold
	cvn.HoldUntil = &holdUntil

	logrus.WithFields(logrus.Fields{
		"conversion_id": cvn.ConversionID,
		"from":          previous,
		"hold_until":    holdUntil,
	}).Info("conversion held")

	o.fanOutStatusChange(cvn, "")
	return cvn, nil
}

// ProcessHoldExpiry is the worker handler for the hold timer. A conversion
// still on hold when the timer fires is auto-approved with hold-released
// semantics. Anything already moved out of hold makes the timer a no-op.
func (o *Outclick) ProcessHoldExpiry(ctx context.Context, task *asynq.Task) error {
	var conversionID string
	if err := json.Unmarshal(task.Payload(), &conversionID); err != nil {
		return err
	}

	cvn, err := o.datasource.GetConversion(ctx, conversionID)
	if err != nil {
		return err
	}
	if cvn.Status != model.StatusHold {
		return nil
	}

	_, err = o.approveConversion(ctx, conversionID, model.EventHoldReleased)
	return err
}

// GetConversion retrieves a conversion by id.
func (o *Outclick) GetConversion(ctx context.Context, conversionID string) (*model.Conversion, error) {
	return o.datasource.GetConversion(ctx, conversionID)
}

func (o *Outclick) GetConversionsByExternalID(ctx context.Context, externalID string) ([]model.Conversion, error) {
	return o.datasource.GetConversionsByExternalID(ctx, externalID)
}

func (o *Outclick) transitionNoop(cvn *model.Conversion, status string) *model.Conversion {
	metrics.ConversionTransitionTotal.WithLabelValues(status, "true").Inc()
	logrus.WithFields(logrus.Fields{
		"conversion_id": cvn.ConversionID,
		"status":        status,
	}).Info("conversion already in target status, skipping")
	return cvn
}

func (o *Outclick) acquireLock(ctx context.Context, conversionID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(o.redis, fmt.Sprintf("conversion:%s", conversionID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, 30*time.Second, 30*time.Second); err != nil {
		return nil, err
	}
	return locker, nil
}

func (o *Outclick) releaseLock(ctx context.Context, locker *redlock.Locker) {
	if err := locker.Unlock(ctx); err != nil {
		logrus.Error("failed to release conversion lock: ", err)
	}
}

// fanOutCreation announces a freshly created conversion: the platform event
// stream, the advertiser webhook for the conversion type and the publisher
// postback. None of these may block or fail the creation response.
func (o *Outclick) fanOutCreation(cvn *model.Conversion) {
	go func() {
		ctx := context.Background()
		if err := o.TriggerPlatformEvent(ctx, model.EventConversionCreated, cvn); err != nil {
			notification.NotifyError(err)
		}
		if cvn.Status != model.StatusRejected {
			if err := o.TriggerEvent(ctx, cvn.AdvertiserID, cvn.Type, cvn, cvn.OfferID, cvn.PublisherID); err != nil {
				notification.NotifyError(err)
			}
		}
		if err := o.postback.SendPostback(ctx, cvn.ConversionID); err != nil {
			notification.NotifyError(err)
		}
		notification.NotifyEvent("conversion.created", cvn.ConversionID)
	}()
}

// fanOutStatusChange announces a transition. advertiserEvent may be empty
// when no advertiser-facing event exists for the transition.
func (o *Outclick) fanOutStatusChange(cvn *model.Conversion, advertiserEvent string) {
	go func() {
		ctx := context.Background()
		if err := o.TriggerPlatformEvent(ctx, model.EventConversionStatusChanged, cvn); err != nil {
			notification.NotifyError(err)
		}
		if advertiserEvent != "" {
			if err := o.TriggerEvent(ctx, cvn.AdvertiserID, advertiserEvent, cvn, cvn.OfferID, cvn.PublisherID); err != nil {
				notification.NotifyError(err)
			}
		}
		if err := o.postback.SendPostback(ctx, cvn.ConversionID); err != nil {
			notification.NotifyError(err)
		}
	}()
}
