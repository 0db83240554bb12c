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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/outclick-labs/outclick/internal/metrics"
	"github.com/outclick-labs/outclick/model"
)

var balanceTracer = otel.Tracer("outclick.ledger")

// applyLedgerDelta writes one balance delta for the conversion's
// publisher/advertiser pair. The ledger row is created lazily on first
// contact. A clamped subtraction is kept (the floor at zero stands) but it
// is never silent: it feeds the clamp counter and a warning, because a
// clamp firing usually means a delta was applied twice somewhere upstream.
func (o *Outclick) applyLedgerDelta(ctx context.Context, cvn *model.Conversion, delta model.BalanceDelta) error {
	if delta.IsZero() {
		return nil
	}

	ctx, span := balanceTracer.Start(ctx, "ApplyLedgerDelta")
	defer span.End()

	if _, err := o.datasource.GetOrCreateBalance(ctx, cvn.PublisherID, cvn.AdvertiserID, cvn.Currency); err != nil {
		return err
	}

	clamped, err := o.datasource.ApplyBalanceDelta(ctx, cvn.PublisherID, cvn.AdvertiserID, delta)
	if err != nil {
		return err
	}
	for _, bucket := range clamped {
		metrics.BalanceClampTotal.WithLabelValues(bucket).Inc()
		logrus.WithFields(logrus.Fields{
			"conversion_id": cvn.ConversionID,
			"publisher_id":  cvn.PublisherID,
			"advertiser_id": cvn.AdvertiserID,
			"bucket":        bucket,
		}).Warn("balance subtraction clamped at zero")
	}
	return nil
}
