package outclick

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/internal/apierror"
	"github.com/outclick-labs/outclick/internal/metrics"
	"github.com/outclick-labs/outclick/model"
)

const maxPlatformAttempts = 3

// platformBackoff is the fixed operator-side schedule.
var platformBackoff = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
}

// PlatformDelivery is the task payload for one platform delivery attempt.
type PlatformDelivery struct {
	WebhookID string          `json:"webhook_id"`
	Event     string          `json:"event"`
	Body      json.RawMessage `json:"body"`
	Attempt   int             `json:"attempt"`
}

// TriggerPlatformEvent fans an operator-level event out to all active
// platform subscribers. Filtering is by event type only.
func (o *Outclick) TriggerPlatformEvent(ctx context.Context, event string, data interface{}) error {
	hooks, err := o.datasource.GetActivePlatformWebhooks(ctx, event)
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
		delivery := &PlatformDelivery{WebhookID: hook.WebhookID, Event: event, Body: body, Attempt: 1}
		if err := o.queue.queuePlatformDelivery(delivery, 0); err != nil {
			logrus.WithFields(logrus.Fields{"webhook_id": hook.WebhookID, "event": event}).
				Error("failed to enqueue platform delivery: ", err)
		}
	}
	return nil
}

// ProcessPlatformDelivery is the worker handler for one platform delivery
// attempt. Same delivery core as the advertiser dispatcher with the short
// fixed schedule and per-attempt timeout.
func (o *Outclick) ProcessPlatformDelivery(ctx context.Context, task *asynq.Task) error {
	var delivery PlatformDelivery
	if err := json.Unmarshal(task.Payload(), &delivery); err != nil {
		return err
	}

	hook, err := o.datasource.GetPlatformWebhook(ctx, delivery.WebhookID)
	if apierror.IsNotFound(err) {
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

	status, responseBody, deliveryErr := o.deliver(ctx, hook.URL, "", nil, hook.Secret,
		delivery.Body, time.Duration(cfg.Delivery.PlatformWebhookTimeout)*time.Second)

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
		metrics.WebhookDeliveryTotal.WithLabelValues("platform", "success").Inc()
		if _, err := o.datasource.RecordDeliveryLog(ctx, entry); err != nil {
			logrus.Error("failed to record delivery log: ", err)
		}
		if err := o.datasource.ResetPlatformWebhookFailures(ctx, hook.WebhookID, time.Now()); err != nil {
			logrus.Error("failed to reset platform webhook failures: ", err)
		}
		return nil
	}

	entry.Status = model.DeliveryStatusFailed
	metrics.WebhookDeliveryTotal.WithLabelValues("platform", "failure").Inc()

	if delivery.Attempt < maxPlatformAttempts {
		delay := platformBackoff[delivery.Attempt-1]
		nextRetryAt := time.Now().Add(delay)
		entry.NextRetryAt = &nextRetryAt

		next := &PlatformDelivery{WebhookID: delivery.WebhookID, Event: delivery.Event, Body: delivery.Body, Attempt: delivery.Attempt + 1}
		if err := o.queue.queuePlatformDelivery(next, delay); err != nil {
			logrus.Error("failed to schedule platform retry: ", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"webhook_id": hook.WebhookID,
		"event":      delivery.Event,
		"attempt":    delivery.Attempt,
		"status":     status,
	}).Warn("platform delivery failed: ", deliveryErr)

	if _, err := o.datasource.RecordDeliveryLog(ctx, entry); err != nil {
		logrus.Error("failed to record delivery log: ", err)
	}
	if err := o.datasource.IncrementPlatformWebhookFailure(ctx, hook.WebhookID, deliveryErr.Error()); err != nil {
		logrus.Error("failed to increment platform webhook failures: ", err)
	}
	return nil
}
