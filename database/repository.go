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

package database

import (
	"context"
	"time"

	"github.com/outclick-labs/outclick/model"
)

// IDataSource defines the interface for data source operations, grouping
// related functionalities.
type IDataSource interface {
	conversion
	balance
	webhook
	platformWebhook
	deliveryLog
	tracking
	offerCap
}

// conversion defines methods for persisting and transitioning conversions.
type conversion interface {
	RecordConversion(ctx context.Context, cvn *model.Conversion) (*model.Conversion, error)
	GetConversion(ctx context.Context, id string) (*model.Conversion, error)
	GetConversionsByExternalID(ctx context.Context, externalID string) ([]model.Conversion, error)
	// The status transitions are optimistic: they only apply when the row
	// is still in the expected previous status and report whether a row
	// was updated.
	ApproveConversionStatus(ctx context.Context, id, from string, approvedAt time.Time) (bool, error)
	RejectConversionStatus(ctx context.Context, id, from, reason string, rejectedAt time.Time) (bool, error)
	HoldConversionStatus(ctx context.Context, id, from string, holdUntil time.Time) (bool, error)
}

// balance defines methods for the publisher/advertiser ledger rows.
type balance interface {
	GetBalance(ctx context.Context, publisherID, advertiserID string) (*model.Balance, error)
	GetOrCreateBalance(ctx context.Context, publisherID, advertiserID, currency string) (*model.Balance, error)
	// ApplyBalanceDelta applies the delta in a single row-locked statement
	// with a zero floor on every bucket. It returns the names of buckets
	// where the floor actually clamped the result.
	ApplyBalanceDelta(ctx context.Context, publisherID, advertiserID string, delta model.BalanceDelta) ([]string, error)
}

// webhook defines the read/bookkeeping methods the dispatcher needs.
// Endpoint CRUD lives in the admin surface.
type webhook interface {
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
	GetActiveWebhooks(ctx context.Context, advertiserID, event string) ([]model.Webhook, error)
	ResetWebhookFailures(ctx context.Context, id string, triggeredAt time.Time) error
	IncrementWebhookFailure(ctx context.Context, id, lastError string) error
}

type platformWebhook interface {
	GetPlatformWebhook(ctx context.Context, id string) (*model.PlatformWebhook, error)
	GetActivePlatformWebhooks(ctx context.Context, event string) ([]model.PlatformWebhook, error)
	ResetPlatformWebhookFailures(ctx context.Context, id string, sentAt time.Time) error
	IncrementPlatformWebhookFailure(ctx context.Context, id, lastError string) error
}

// deliveryLog is append-only: one row per delivery attempt.
type deliveryLog interface {
	RecordDeliveryLog(ctx context.Context, entry *model.DeliveryLog) (*model.DeliveryLog, error)
	GetDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]model.DeliveryLog, error)
}

// tracking defines the read-only lookups into the click/offer context owned
// by the tracking redirect and admin surfaces.
type tracking interface {
	GetClickByClickID(ctx context.Context, clickID string) (*model.Click, error)
	GetOffer(ctx context.Context, offerID string) (*model.Offer, error)
	GetLanding(ctx context.Context, landingID string) (*model.Landing, error)
	GetAdvertiser(ctx context.Context, advertiserID string) (*model.Advertiser, error)
}

// offerCap defines the non-critical daily cap counters. Increments are
// single atomic statements.
type offerCap interface {
	IncrementOfferCap(ctx context.Context, offerID string, day time.Time) error
	DecrementOfferCap(ctx context.Context, offerID string, day time.Time) error
	GetOfferCapCount(ctx context.Context, offerID string, day time.Time) (int, error)
}
