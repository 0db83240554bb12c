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
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/outclick-labs/outclick/internal/apierror"
	"github.com/outclick-labs/outclick/model"
)

// RecordConversion persists a new conversion row. The conversion id is
// generated here when the caller has not set one.
func (d Datasource) RecordConversion(ctx context.Context, cvn *model.Conversion) (*model.Conversion, error) {
	if cvn.ConversionID == "" {
		cvn.ConversionID = model.GenerateUUIDWithSuffix("cvn")
	}
	if cvn.CreatedAt.IsZero() {
		cvn.CreatedAt = time.Now()
	}

	metaDataJSON, err := json.Marshal(cvn.MetaData)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling conversion metadata")
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO conversions (conversion_id, click_id, offer_id, publisher_id, advertiser_id,
			type, advertiser_cost, publisher_payout, currency, status, hold_until,
			rejection_reason, external_id, suspected_fraud, fraud_reason, cap_counted,
			geo, created_at, approved_at, rejected_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, cvn.ConversionID, cvn.ClickID, cvn.OfferID, cvn.PublisherID, cvn.AdvertiserID,
		cvn.Type, cvn.AdvertiserCost, cvn.PublisherPayout, cvn.Currency, cvn.Status, cvn.HoldUntil,
		cvn.RejectionReason, cvn.ExternalID, cvn.SuspectedFraud, cvn.FraudReason, cvn.CapCounted,
		cvn.Geo, cvn.CreatedAt, cvn.ApprovedAt, cvn.RejectedAt, metaDataJSON)
	if err != nil {
		return nil, errors.Wrap(err, "saving conversion")
	}
	return cvn, nil
}

const conversionColumns = `conversion_id, click_id, offer_id, publisher_id, advertiser_id,
	type, advertiser_cost, publisher_payout, currency, status, hold_until,
	COALESCE(rejection_reason, ''), COALESCE(external_id, ''), suspected_fraud,
	COALESCE(fraud_reason, ''), cap_counted, COALESCE(geo, ''), created_at, approved_at, rejected_at, meta_data`

func scanConversion(row interface{ Scan(...interface{}) error }) (*model.Conversion, error) {
	cvn := &model.Conversion{}
	var metaDataJSON []byte
	err := row.Scan(&cvn.ConversionID, &cvn.ClickID, &cvn.OfferID, &cvn.PublisherID, &cvn.AdvertiserID,
		&cvn.Type, &cvn.AdvertiserCost, &cvn.PublisherPayout, &cvn.Currency, &cvn.Status, &cvn.HoldUntil,
		&cvn.RejectionReason, &cvn.ExternalID, &cvn.SuspectedFraud,
		&cvn.FraudReason, &cvn.CapCounted, &cvn.Geo, &cvn.CreatedAt, &cvn.ApprovedAt, &cvn.RejectedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &cvn.MetaData); err != nil {
			return nil, errors.Wrap(err, "unmarshaling conversion metadata")
		}
	}
	return cvn, nil
}

// GetConversion retrieves a conversion by its id.
func (d Datasource) GetConversion(ctx context.Context, id string) (*model.Conversion, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+conversionColumns+` FROM conversions WHERE conversion_id = $1
	`, id)
	cvn, err := scanConversion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewNotFound("conversion", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching conversion")
	}
	return cvn, nil
}

// GetConversionsByExternalID lists conversions reported under a caller
// external id. Not unique: double submission from a flaky caller creates
// duplicates, surfacing them is the caller's concern.
func (d Datasource) GetConversionsByExternalID(ctx context.Context, externalID string) ([]model.Conversion, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+conversionColumns+` FROM conversions WHERE external_id = $1 ORDER BY created_at
	`, externalID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching conversions by external id")
	}
	defer func() {
		_ = rows.Close()
	}()

	var conversions []model.Conversion
	for rows.Next() {
		cvn, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		conversions = append(conversions, *cvn)
	}
	return conversions, rows.Err()
}

// ApproveConversionStatus flips the row to approved only when it is still in
// the expected previous status, clearing hold and rejection metadata.
func (d Datasource) ApproveConversionStatus(ctx context.Context, id, from string, approvedAt time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE conversions
		SET status = $1, approved_at = $2, hold_until = NULL, rejection_reason = NULL, rejected_at = NULL
		WHERE conversion_id = $3 AND status = $4
	`, model.StatusApproved, approvedAt, id, from)
	if err != nil {
		return false, errors.Wrap(err, "approving conversion")
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// RejectConversionStatus flips the row to rejected with a human reason.
func (d Datasource) RejectConversionStatus(ctx context.Context, id, from, reason string, rejectedAt time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE conversions
		SET status = $1, rejection_reason = $2, rejected_at = $3, hold_until = NULL
		WHERE conversion_id = $4 AND status = $5
	`, model.StatusRejected, reason, rejectedAt, id, from)
	if err != nil {
		return false, errors.Wrap(err, "rejecting conversion")
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// HoldConversionStatus flips the row to hold with the computed hold window.
// A rejected row never matches: the only way out of rejected is the approve
// reversal.
func (d Datasource) HoldConversionStatus(ctx context.Context, id, from string, holdUntil time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE conversions
		SET status = $1, hold_until = $2
		WHERE conversion_id = $3 AND status = $4 AND status != $5
	`, model.StatusHold, holdUntil, id, from, model.StatusRejected)
	if err != nil {
		return false, errors.Wrap(err, "holding conversion")
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}
