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
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/model"
)

func expectWebhookRow(mock sqlmock.Sqlmock, id, url, secret string, active bool) {
	mock.ExpectQuery("SELECT .* FROM webhooks WHERE webhook_id =").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"webhook_id", "advertiser_id", "url", "method", "events", "offer_ids", "publisher_ids",
			"secret", "headers", "active", "failure_count", "last_error", "last_triggered_at", "created_at",
		}).AddRow(id, "adv_1", url, "POST",
			pq.Array([]string{model.EventSale}), pq.Array([]string{}), pq.Array([]string{}),
			secret, []byte(`{}`), active, 0, "", nil, time.Now()))
}

func deliveryTask(t *testing.T, delivery *WebhookDelivery) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(delivery)
	assert.NoError(t, err)
	cfg, err := config.Fetch()
	assert.NoError(t, err)
	return asynq.NewTask(cfg.Queue.WebhookQueue, payload)
}

func TestProcessWebhookDelivery_Success(t *testing.T) {
	engine, mock := newTestEngine(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://example.com/hook",
		httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))

	expectWebhookRow(mock, "whk_1", "https://example.com/hook", "s3cret", true)
	mock.ExpectExec("INSERT INTO delivery_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE webhooks SET failure_count = 0").WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(EventBody{Event: model.EventSale, Timestamp: time.Now().Unix(), Data: map[string]string{"conversion_id": "cvn_1"}})
	task := deliveryTask(t, &WebhookDelivery{WebhookID: "whk_1", Event: model.EventSale, Body: body, Attempt: 1})

	err := engine.ProcessWebhookDelivery(context.Background(), task)
	assert.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessWebhookDelivery_FailureSchedulesRetry(t *testing.T) {
	engine, mock := newTestEngine(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://example.com/hook",
		httpmock.NewStringResponder(http.StatusBadRequest, "bad payload"))

	expectWebhookRow(mock, "whk_1", "https://example.com/hook", "", true)
	mock.ExpectExec("INSERT INTO delivery_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE webhooks SET failure_count = failure_count").WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(EventBody{Event: model.EventSale, Timestamp: time.Now().Unix(), Data: map[string]string{}})
	task := deliveryTask(t, &WebhookDelivery{WebhookID: "whk_1", Event: model.EventSale, Body: body, Attempt: 1})

	err := engine.ProcessWebhookDelivery(context.Background(), task)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// A retry for attempt 2 sits scheduled in the queue.
	cfg, _ := config.Fetch()
	scheduled, err := engine.queue.Inspector.ListScheduledTasks(cfg.Queue.WebhookQueue)
	assert.NoError(t, err)
	assert.Len(t, scheduled, 1)

	var next WebhookDelivery
	assert.NoError(t, json.Unmarshal(scheduled[0].Payload, &next))
	assert.Equal(t, 2, next.Attempt)
}

func TestProcessWebhookDelivery_ExhaustedStops(t *testing.T) {
	engine, mock := newTestEngine(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://example.com/hook",
		httpmock.NewStringResponder(http.StatusBadRequest, "still broken"))

	expectWebhookRow(mock, "whk_1", "https://example.com/hook", "", true)
	mock.ExpectExec("INSERT INTO delivery_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE webhooks SET failure_count = failure_count").WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(EventBody{Event: model.EventSale, Timestamp: time.Now().Unix(), Data: map[string]string{}})
	task := deliveryTask(t, &WebhookDelivery{WebhookID: "whk_1", Event: model.EventSale, Body: body, Attempt: maxWebhookAttempts})

	err := engine.ProcessWebhookDelivery(context.Background(), task)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The final attempt schedules nothing further.
	cfg, _ := config.Fetch()
	scheduled, err := engine.queue.Inspector.ListScheduledTasks(cfg.Queue.WebhookQueue)
	assert.NoError(t, err)
	assert.Empty(t, scheduled)
}

func TestProcessWebhookDelivery_FailureLogsResponseBody(t *testing.T) {
	engine, mock := newTestEngine(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://example.com/hook",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "upstream maintenance window"))

	expectWebhookRow(mock, "whk_1", "https://example.com/hook", "", true)
	// The log row carries the failing status and the endpoint's body.
	mock.ExpectExec("INSERT INTO delivery_logs").
		WithArgs(sqlmock.AnyArg(), "whk_1", model.EventSale, sqlmock.AnyArg(), model.DeliveryStatusFailed,
			http.StatusServiceUnavailable, "upstream maintenance window", 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE webhooks SET failure_count = failure_count").WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(EventBody{Event: model.EventSale, Timestamp: time.Now().Unix(), Data: map[string]string{}})
	task := deliveryTask(t, &WebhookDelivery{WebhookID: "whk_1", Event: model.EventSale, Body: body, Attempt: 1})

	err := engine.ProcessWebhookDelivery(context.Background(), task)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessWebhookDelivery_InactiveEndpointSkipped(t *testing.T) {
	engine, mock := newTestEngine(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	expectWebhookRow(mock, "whk_1", "https://example.com/hook", "", false)

	body, _ := json.Marshal(EventBody{Event: model.EventSale, Timestamp: time.Now().Unix(), Data: map[string]string{}})
	task := deliveryTask(t, &WebhookDelivery{WebhookID: "whk_1", Event: model.EventSale, Body: body, Attempt: 1})

	err := engine.ProcessWebhookDelivery(context.Background(), task)
	assert.NoError(t, err)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestTriggerEvent_AllowListFiltering(t *testing.T) {
	engine, mock := newTestEngine(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"webhook_id", "advertiser_id", "url", "method", "events", "offer_ids", "publisher_ids",
		"secret", "headers", "active", "failure_count", "last_error", "last_triggered_at", "created_at",
	}).AddRow("whk_match", "adv_1", "https://a.example.com", "POST",
		pq.Array([]string{model.EventSale}), pq.Array([]string{"off_1"}), pq.Array([]string{}),
		"", []byte(`{}`), true, 0, "", nil, now,
	).AddRow("whk_other", "adv_1", "https://b.example.com", "POST",
		pq.Array([]string{model.EventSale}), pq.Array([]string{"off_9"}), pq.Array([]string{}),
		"", []byte(`{}`), true, 0, "", nil, now,
	)

	mock.ExpectQuery("SELECT .* FROM webhooks").
		WithArgs("adv_1", model.EventSale).
		WillReturnRows(rows)

	err := engine.TriggerEvent(context.Background(), "adv_1", model.EventSale,
		map[string]string{"conversion_id": "cvn_1"}, "off_1", "pub_1")
	assert.NoError(t, err)

	cfg, _ := config.Fetch()
	pending, err := engine.queue.Inspector.ListPendingTasks(cfg.Queue.WebhookQueue)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)

	var delivery WebhookDelivery
	assert.NoError(t, json.Unmarshal(pending[0].Payload, &delivery))
	assert.Equal(t, "whk_match", delivery.WebhookID)
	assert.Equal(t, 1, delivery.Attempt)
}

func expectPlatformWebhookRow(mock sqlmock.Sqlmock, id, url string, active bool) {
	mock.ExpectQuery("SELECT .* FROM platform_webhooks WHERE webhook_id =").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"webhook_id", "url", "events", "secret", "active",
			"failure_count", "last_error", "last_sent_at", "created_at",
		}).AddRow(id, url, pq.Array([]string{model.EventConversionCreated}), "", active, 0, "", nil, time.Now()))
}

func platformDeliveryTask(t *testing.T, delivery *PlatformDelivery) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(delivery)
	assert.NoError(t, err)
	cfg, err := config.Fetch()
	assert.NoError(t, err)
	return asynq.NewTask(cfg.Queue.PlatformWebhookQueue, payload)
}

func TestProcessPlatformDelivery_FailureSchedulesRetry(t *testing.T) {
	engine, mock := newTestEngine(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://ops.example.com/hook",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "maintenance"))

	expectPlatformWebhookRow(mock, "pwh_1", "https://ops.example.com/hook", true)
	mock.ExpectExec("INSERT INTO delivery_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE platform_webhooks SET failure_count = failure_count").WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(EventBody{Event: model.EventConversionCreated, Timestamp: time.Now().Unix(), Data: map[string]string{}})
	task := platformDeliveryTask(t, &PlatformDelivery{WebhookID: "pwh_1", Event: model.EventConversionCreated, Body: body, Attempt: 1})

	err := engine.ProcessPlatformDelivery(context.Background(), task)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	cfg, _ := config.Fetch()
	scheduled, err := engine.queue.Inspector.ListScheduledTasks(cfg.Queue.PlatformWebhookQueue)
	assert.NoError(t, err)
	assert.Len(t, scheduled, 1)

	var next PlatformDelivery
	assert.NoError(t, json.Unmarshal(scheduled[0].Payload, &next))
	assert.Equal(t, 2, next.Attempt)
}

func TestProcessPlatformDelivery_ExhaustedStops(t *testing.T) {
	engine, mock := newTestEngine(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://ops.example.com/hook",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "still down"))

	expectPlatformWebhookRow(mock, "pwh_1", "https://ops.example.com/hook", true)
	mock.ExpectExec("INSERT INTO delivery_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE platform_webhooks SET failure_count = failure_count").WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(EventBody{Event: model.EventConversionCreated, Timestamp: time.Now().Unix(), Data: map[string]string{}})
	task := platformDeliveryTask(t, &PlatformDelivery{WebhookID: "pwh_1", Event: model.EventConversionCreated, Body: body, Attempt: maxPlatformAttempts})

	err := engine.ProcessPlatformDelivery(context.Background(), task)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The third attempt is the last one.
	cfg, _ := config.Fetch()
	scheduled, err := engine.queue.Inspector.ListScheduledTasks(cfg.Queue.PlatformWebhookQueue)
	assert.NoError(t, err)
	assert.Empty(t, scheduled)
}

func TestWebhookBackoffTables(t *testing.T) {
	assert.Len(t, webhookBackoff, maxWebhookAttempts)
	assert.Equal(t, time.Minute, webhookBackoff[0])
	assert.Equal(t, 2*time.Hour, webhookBackoff[4])

	assert.Len(t, platformBackoff, maxPlatformAttempts)
	assert.Equal(t, 5*time.Second, platformBackoff[0])
	assert.Equal(t, 2*time.Minute, platformBackoff[2])
}
