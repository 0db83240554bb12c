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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/internal/apierror"
	"github.com/outclick-labs/outclick/internal/metrics"
	"github.com/outclick-labs/outclick/internal/request"
	"github.com/outclick-labs/outclick/model"
)

const maxWebhookAttempts = 5

// webhookBackoff is indexed by attempt number: the delay before attempt n+1.
var webhookBackoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	2 * time.Hour,
}

// EventBody is the canonical delivery payload. The body is serialized once
// at trigger time and carried verbatim through every attempt, so the
// signature is stable across retries.
type EventBody struct {
	Event     string      `json:"event"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WebhookDelivery is the task payload for one advertiser delivery attempt.
type WebhookDelivery struct {
	WebhookID string          `json:"webhook_id"`
	Event     string          `json:"event"`
	Body      json.RawMessage `json:"body"`
	Attempt   int             `json:"attempt"`
}

// TriggerEvent matches the advertiser's active endpoints against the event
// and the optional offer/publisher allow-lists, then enqueues one delivery
// task per match. Each endpoint is dispatched independently; one endpoint's
// failure never touches another's delivery or the caller.
func (o *Outclick) TriggerEvent(ctx context.Context, advertiserID, event string, data interface{}, offerID, publisherID string) error {
	hooks, err := o.datasource.GetActiveWebhooks(ctx, advertiserID, event)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		return nil
	}

	body, err := json.Marshal(EventBody{Event: event, Timestamp: time.Now().Unix(), Data: data})
	if err != nil {
		return err
	}

	for _, hook := range hooks {
		if !hook.Matches(offerID, publisherID) {
			continue
		}
		delivery := &WebhookDelivery{WebhookID: hook.WebhookID, Event: event, Body: body, Attempt: 1}
		if err := o.queue.queueWebhookDelivery(delivery, 0); err != nil {
			logrus.WithFields(logrus.Fields{"webhook_id": hook.WebhookID, "event": event}).
				Error("failed to enqueue webhook delivery: ", err)
		}
	}
	return nil
}

// ProcessWebhookDelivery is the worker handler for one advertiser delivery
// attempt. It always returns nil on delivery failure: the retry schedule is
// managed here, not by asynq's retry machinery, so the delivery log shows
// exactly one row per attempt.
func (o *Outclick) ProcessWebhookDelivery(ctx context.Context, task *asynq.Task) error {
	var delivery WebhookDelivery
	if err := json.Unmarshal(task.Payload(), &delivery); err != nil {
		return err
	}

	hook, err := o.datasource.GetWebhook(ctx, delivery.WebhookID)
	if apierror.IsNotFound(err) {
		// Endpoint deleted between scheduling and firing.
		return nil
	}
	if err != nil {
		return err
	}
	if !hook.Active {
		return nil
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	status, responseBody, deliveryErr := o.deliver(ctx, hook.URL, hook.Method, hook.Headers, hook.Secret,
		delivery.Body, time.Duration(cfg.Delivery.WebhookTimeout)*time.Second)

	entry := &model.DeliveryLog{
		WebhookID:    hook.WebhookID,
		Event:        delivery.Event,
		Payload:      delivery.Body,
		HTTPStatus:   status,
		ResponseBody: responseBody,
		Attempt:      delivery.Attempt,
	}

	if deliveryErr == nil {
		entry.Status = model.DeliveryStatusSuccess
		metrics.WebhookDeliveryTotal.WithLabelValues("advertiser", "success").Inc()
		if _, err := o.datasource.RecordDeliveryLog(ctx, entry); err != nil {
			logrus.Error("failed to record delivery log: ", err)
		}
		if err := o.datasource.ResetWebhookFailures(ctx, hook.WebhookID, time.Now()); err != nil {
			logrus.Error("failed to reset webhook failures: ", err)
		}
		return nil
	}

	entry.Status = model.DeliveryStatusFailed
	metrics.WebhookDeliveryTotal.WithLabelValues("advertiser", "failure").Inc()

	if delivery.Attempt < maxWebhookAttempts {
		delay := webhookBackoff[delivery.Attempt-1]
		nextRetryAt := time.Now().Add(delay)
		entry.NextRetryAt = &nextRetryAt

		next := &WebhookDelivery{WebhookID: delivery.WebhookID, Event: delivery.Event, Body: delivery.Body, Attempt: delivery.Attempt + 1}
		if err := o.queue.queueWebhookDelivery(next, delay); err != nil {
			logrus.Error("failed to schedule webhook retry: ", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"webhook_id": hook.WebhookID,
		"event":      delivery.Event,
		"attempt":    delivery.Attempt,
		"status":     status,
	}).Warn("webhook delivery failed: ", deliveryErr)

	if _, err := o.datasource.RecordDeliveryLog(ctx, entry); err != nil {
		logrus.Error("failed to record delivery log: ", err)
	}
	if err := o.datasource.IncrementWebhookFailure(ctx, hook.WebhookID, deliveryErr.Error()); err != nil {
		logrus.Error("failed to increment webhook failures: ", err)
	}
	// Exhausted endpoints stay visibly failing for operator review.
	return nil
}

// GetDeliveryLogs lists the newest delivery attempts for a webhook.
func (o *Outclick) GetDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]model.DeliveryLog, error) {
	return o.datasource.GetDeliveryLogs(ctx, webhookID, limit)
}

// deliver sends one signed HTTP attempt. The signature covers the exact
// serialized body. It returns the HTTP status, the truncated response body
// and a non-nil error when the attempt did not land 2xx/3xx.
func (o *Outclick) deliver(ctx context.Context, url, method string, headers map[string]string, secret string, body []byte, timeout time.Duration) (int, string, error) {
	if method == "" {
		method = http.MethodPost
	}

	requestHeaders := map[string]string{
		"Content-Type": "application/json",
	}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if secret != "" {
		requestHeaders["X-Webhook-Signature"] = model.SignPayload(secret, body)
	}

	// Retry scheduling belongs to the dispatcher, so every status comes
	// back as a Response and the delivery log keeps the failing body.
	client := request.NewClient("webhook")
	resp, err := client.Do(ctx, url, request.Options{
		Method:            method,
		RawBody:           body,
		Headers:           requestHeaders,
		Timeout:           timeout,
		SkipRetryOnStatus: request.RetriableStatusCodes(),
	})
	if err != nil {
		var apiErr *request.ExternalAPIError
		if errors.As(err, &apiErr) {
			return apiErr.StatusCode, "", err
		}
		return 0, "", err
	}
	if !resp.Ok() {
		return resp.StatusCode, string(resp.Body), fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, string(resp.Body), nil
}
