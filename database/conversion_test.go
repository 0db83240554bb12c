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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/outclick-labs/outclick/internal/apierror"
	"github.com/outclick-labs/outclick/model"
)

func TestRecordConversion_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	cvn := &model.Conversion{
		ClickID:         "clk_123",
		OfferID:         "off_1",
		PublisherID:     "pub_1",
		AdvertiserID:    "adv_1",
		Type:            model.TypeSale,
		AdvertiserCost:  decimal.NewFromInt(20),
		PublisherPayout: decimal.NewFromInt(10),
		Currency:        "USD",
		Status:          model.StatusPending,
		MetaData:        map[string]interface{}{"txn": "abc"},
	}

	mock.ExpectExec("INSERT INTO conversions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	saved, err := ds.RecordConversion(context.Background(), cvn)
	assert.NoError(t, err)
	assert.NotEmpty(t, saved.ConversionID)
	assert.Contains(t, saved.ConversionID, "cvn_")
	assert.WithinDuration(t, time.Now(), saved.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConversion_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM conversions WHERE conversion_id =").
		WithArgs("cvn_missing").
		WillReturnRows(sqlmock.NewRows([]string{"conversion_id"}))

	_, err = ds.GetConversion(context.Background(), "cvn_missing")
	assert.Error(t, err)
	assert.True(t, apierror.IsNotFound(err))
}

func TestGetConversion_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"conversion_id", "click_id", "offer_id", "publisher_id", "advertiser_id",
		"type", "advertiser_cost", "publisher_payout", "currency", "status", "hold_until",
		"rejection_reason", "external_id", "suspected_fraud", "fraud_reason", "cap_counted",
		"geo", "created_at", "approved_at", "rejected_at", "meta_data",
	}).AddRow(
		"cvn_1", "clk_1", "off_1", "pub_1", "adv_1",
		model.TypeSale, "20", "10", "USD", model.StatusHold, now.Add(72*time.Hour),
		"", "ext-9", false, "", true,
		"US", now, nil, nil, []byte(`{"txn":"abc"}`),
	)

	mock.ExpectQuery("SELECT .* FROM conversions WHERE conversion_id =").
		WithArgs("cvn_1").
		WillReturnRows(rows)

	cvn, err := ds.GetConversion(context.Background(), "cvn_1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusHold, cvn.Status)
	assert.True(t, cvn.PublisherPayout.Equal(decimal.NewFromInt(10)))
	assert.NotNil(t, cvn.HoldUntil)
	assert.Equal(t, "abc", cvn.MetaData["txn"])
}

func TestApproveConversionStatus_Optimistic(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	approvedAt := time.Now()

	mock.ExpectExec("UPDATE conversions").
		WithArgs(model.StatusApproved, approvedAt, "cvn_1", model.StatusHold).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := ds.ApproveConversionStatus(context.Background(), "cvn_1", model.StatusHold, approvedAt)
	assert.NoError(t, err)
	assert.True(t, applied)
}

func TestApproveConversionStatus_LostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	approvedAt := time.Now()

	// Another worker already moved the row out of hold.
	mock.ExpectExec("UPDATE conversions").
		WithArgs(model.StatusApproved, approvedAt, "cvn_1", model.StatusHold).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := ds.ApproveConversionStatus(context.Background(), "cvn_1", model.StatusHold, approvedAt)
	assert.NoError(t, err)
	assert.False(t, applied)
}

func TestRejectConversionStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	rejectedAt := time.Now()

	mock.ExpectExec("UPDATE conversions").
		WithArgs(model.StatusRejected, "fraud", rejectedAt, "cvn_1", model.StatusApproved).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := ds.RejectConversionStatus(context.Background(), "cvn_1", model.StatusApproved, "fraud", rejectedAt)
	assert.NoError(t, err)
	assert.True(t, applied)
}
