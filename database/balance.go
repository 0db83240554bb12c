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
	"database/sql"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/outclick-labs/outclick/internal/apierror"
	"github.com/outclick-labs/outclick/model"
)

// GetBalance retrieves the ledger row for a publisher/advertiser pair.
func (d Datasource) GetBalance(ctx context.Context, publisherID, advertiserID string) (*model.Balance, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT balance_id, publisher_id, advertiser_id, available, hold, pending, currency, created_at
		FROM balances WHERE publisher_id = $1 AND advertiser_id = $2
	`, publisherID, advertiserID)

	balance := &model.Balance{}
	err := row.Scan(&balance.BalanceID, &balance.PublisherID, &balance.AdvertiserID,
		&balance.Available, &balance.Hold, &balance.Pending, &balance.Currency, &balance.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewNotFound("balance", publisherID+"/"+advertiserID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching balance")
	}
	return balance, nil
}

// GetOrCreateBalance returns the ledger row for the pair, creating an empty
// one on first contact. The insert is idempotent under concurrency via the
// pair's unique constraint.
func (d Datasource) GetOrCreateBalance(ctx context.Context, publisherID, advertiserID, currency string) (*model.Balance, error) {
	balance, err := d.GetBalance(ctx, publisherID, advertiserID)
	if err == nil {
		return balance, nil
	}
	if !apierror.IsNotFound(err) {
		return nil, err
	}

	balanceID := model.GenerateUUIDWithSuffix("bln")
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO balances (balance_id, publisher_id, advertiser_id, currency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (publisher_id, advertiser_id) DO NOTHING
	`, balanceID, publisherID, advertiserID, currency)
	if err != nil {
		return nil, errors.Wrap(err, "creating balance")
	}
	return d.GetBalance(ctx, publisherID, advertiserID)
}

// ApplyBalanceDelta mutates the three buckets in one row-locked statement
// with a GREATEST floor at zero, so concurrent transitions for the same pair
// cannot overwrite each other's delta. The previous bucket values come back
// through RETURNING, which is how the clamp is detected: when old + delta
// went negative, the floor absorbed part of the subtraction.
func (d Datasource) ApplyBalanceDelta(ctx context.Context, publisherID, advertiserID string, delta model.BalanceDelta) ([]string, error) {
	row := d.Conn.QueryRowContext(ctx, `
		UPDATE balances b
		SET available = GREATEST(b.available + $3::numeric, 0),
		    hold      = GREATEST(b.hold + $4::numeric, 0),
		    pending   = GREATEST(b.pending + $5::numeric, 0)
		FROM (
			SELECT balance_id, available, hold, pending FROM balances
			WHERE publisher_id = $1 AND advertiser_id = $2
			FOR UPDATE
		) old
		WHERE b.balance_id = old.balance_id
		RETURNING old.available, old.hold, old.pending
	`, publisherID, advertiserID, delta.Available, delta.Hold, delta.Pending)

	var oldAvailable, oldHold, oldPending decimal.Decimal
	err := row.Scan(&oldAvailable, &oldHold, &oldPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewNotFound("balance", publisherID+"/"+advertiserID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "applying balance delta")
	}

	var clamped []string
	if oldAvailable.Add(delta.Available).IsNegative() {
		clamped = append(clamped, model.BucketAvailable)
	}
	if oldHold.Add(delta.Hold).IsNegative() {
		clamped = append(clamped, model.BucketHold)
	}
	if oldPending.Add(delta.Pending).IsNegative() {
		clamped = append(clamped, model.BucketPending)
	}
	return clamped, nil
}
