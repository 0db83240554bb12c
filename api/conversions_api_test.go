package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	outclick "github.com/outclick-labs/outclick"
	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/database"
	"github.com/outclick-labs/outclick/model"
)

func newTestRouter(t *testing.T) (*Api, sqlmock.Sqlmock) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)

	engine, err := outclick.NewOutclick(&database.Datasource{Conn: db})
	require.NoError(t, err)
	return NewAPI(engine), mock
}

func TestGetConversionEndpoint(t *testing.T) {
	a, mock := newTestRouter(t)
	router := a.Router()

	mock.ExpectQuery("SELECT .* FROM conversions WHERE conversion_id =").
		WithArgs("cvn_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"conversion_id", "click_id", "offer_id", "publisher_id", "advertiser_id",
			"type", "advertiser_cost", "publisher_payout", "currency", "status", "hold_until",
			"rejection_reason", "external_id", "suspected_fraud", "fraud_reason", "cap_counted",
			"geo", "created_at", "approved_at", "rejected_at", "meta_data",
		}).AddRow("cvn_1", "clk_1", "off_1", "pub_1", "adv_1",
			model.TypeLead, "20", "10", "USD", model.StatusApproved, nil,
			"", "", false, "", false,
			"US", time.Now(), time.Now(), nil, []byte(`{}`)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversions/cvn_1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"conversion_id":"cvn_1"`)
}

func TestGetConversionEndpoint_NotFound(t *testing.T) {
	a, mock := newTestRouter(t)
	router := a.Router()

	mock.ExpectQuery("SELECT .* FROM conversions WHERE conversion_id =").
		WithArgs("cvn_missing").
		WillReturnRows(sqlmock.NewRows([]string{"conversion_id"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversions/cvn_missing", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordConversionEndpoint_ValidationError(t *testing.T) {
	a, _ := newTestRouter(t)
	router := a.Router()

	// Missing click_id and an unknown type.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversions", strings.NewReader(`{"type":"purchase"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordConversionEndpoint_NegativeAmount(t *testing.T) {
	a, _ := newTestRouter(t)
	router := a.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversions",
		strings.NewReader(`{"click_id":"clk_1","type":"sale","transaction_amount":"-49.99"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "transaction_amount")
}
