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

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/outclick-labs/outclick/internal/apierror"
	"github.com/outclick-labs/outclick/model"
)

const webhookColumns = `webhook_id, advertiser_id, url, method, events, offer_ids, publisher_ids,
	COALESCE(secret, ''), headers, active, failure_count, COALESCE(last_error, ''), last_triggered_at, created_at`

func scanWebhook(row interface{ Scan(...interface{}) error }) (*model.Webhook, error) {
	hook := &model.Webhook{}
	var headersJSON []byte
	err := row.Scan(&hook.WebhookID, &hook.AdvertiserID, &hook.URL, &hook.Method,
		pq.Array(&hook.Events), pq.Array(&hook.OfferIDs), pq.Array(&hook.PublisherIDs),
		&hook.Secret, &headersJSON, &hook.Active, &hook.FailureCount, &hook.LastError,
		&hook.LastTriggeredAt, &hook.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &hook.Headers); err != nil {
			return nil, errors.Wrap(err, "unmarshaling webhook headers")
		}
	}
	return hook, nil
}

// GetWebhook retrieves a webhook endpoint by id.
func (d Datasource) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+webhookColumns+` FROM webhooks WHERE webhook_id = $1
	`, id)
	hook, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewNotFound("webhook", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching webhook")
	}
	return hook, nil
}

// GetActiveWebhooks lists the advertiser's active endpoints subscribed to the
// event. Offer/publisher allow-list filtering happens in the dispatcher,
// where the conversion context lives.
func (d Datasource) GetActiveWebhooks(ctx context.Context, advertiserID, event string) ([]model.Webhook, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE advertiser_id = $1 AND active = TRUE AND $2 = ANY(events)
	`, advertiserID, event)
	if err != nil {
		return nil, errors.Wrap(err, "fetching active webhooks")
	}
	defer func() {
		_ = rows.Close()
	}()

	var hooks []model.Webhook
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *hook)
	}
	return hooks, rows.Err()
}

// ResetWebhookFailures clears the failure counter after a successful
// delivery and stamps the last trigger time.
func (d Datasource) ResetWebhookFailures(ctx context.Context, id string, triggeredAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE webhooks SET failure_count = 0, last_error = NULL, last_triggered_at = $1
		WHERE webhook_id = $2
	`, triggeredAt, id)
	return errors.Wrap(err, "resetting webhook failures")
}

// IncrementWebhookFailure bumps the failure counter atomically and records
// the last error for operator review. Endpoints are never auto-disabled.
func (d Datasource) IncrementWebhookFailure(ctx context.Context, id, lastError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE webhooks SET failure_count = failure_count + 1, last_error = $1
		WHERE webhook_id = $2
	`, lastError, id)
	return errors.Wrap(err, "incrementing webhook failures")
}

const platformWebhookColumns = `webhook_id, url, events, COALESCE(secret, ''), active,
	failure_count, COALESCE(last_error, ''), last_sent_at, created_at`

func scanPlatformWebhook(row interface{ Scan(...interface{}) error }) (*model.PlatformWebhook, error) {
	hook := &model.PlatformWebhook{}
	err := row.Scan(&hook.WebhookID, &hook.URL, pq.Array(&hook.Events), &hook.Secret, &hook.Active,
		&hook.FailureCount, &hook.LastError, &hook.LastSentAt, &hook.CreatedAt)
	if err != nil {
		return nil, err
	}
	return hook, nil
}

// GetPlatformWebhook retrieves a platform-operator subscriber by id.
func (d Datasource) GetPlatformWebhook(ctx context.Context, id string) (*model.PlatformWebhook, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+platformWebhookColumns+` FROM platform_webhooks WHERE webhook_id = $1
	`, id)
	hook, err := scanPlatformWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewNotFound("platform webhook", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching platform webhook")
	}
	return hook, nil
}

// GetActivePlatformWebhooks lists active operator subscribers for an event.
func (d Datasource) GetActivePlatformWebhooks(ctx context.Context, event string) ([]model.PlatformWebhook, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+platformWebhookColumns+` FROM platform_webhooks
		WHERE active = TRUE AND $1 = ANY(events)
	`, event)
	if err != nil {
		return nil, errors.Wrap(err, "fetching active platform webhooks")
	}
	defer func() {
		_ = rows.Close()
	}()

	var hooks []model.PlatformWebhook
	for rows.Next() {
		hook, err := scanPlatformWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *hook)
	}
	return hooks, rows.Err()
}

func (d Datasource) ResetPlatformWebhookFailures(ctx context.Context, id string, sentAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE platform_webhooks SET failure_count = 0, last_error = NULL, last_sent_at = $1
		WHERE webhook_id = $2
	`, sentAt, id)
	return errors.Wrap(err, "resetting platform webhook failures")
}

func (d Datasource) IncrementPlatformWebhookFailure(ctx context.Context, id, lastError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE platform_webhooks SET failure_count = failure_count + 1, last_error = $1
		WHERE webhook_id = $2
	`, lastError, id)
	return errors.Wrap(err, "incrementing platform webhook failures")
}
