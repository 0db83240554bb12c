package database

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/outclick-labs/outclick/internal/apierror"
	"github.com/outclick-labs/outclick/model"
)

// Response bodies are stored for operator diagnosis, not archival. 1KB is
// enough to see an error page's opening.
const maxStoredResponseBody = 1024

// RecordDeliveryLog appends one attempt row. Rows are never updated; the
// latest attempt for a delivery id tells the current state.
func (d Datasource) RecordDeliveryLog(ctx context.Context, entry *model.DeliveryLog) (*model.DeliveryLog, error) {
	if entry.DeliveryID == "" {
		entry.DeliveryID = model.GenerateUUIDWithSuffix("dlv")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if len(entry.ResponseBody) > maxStoredResponseBody {
		entry.ResponseBody = entry.ResponseBody[:maxStoredResponseBody]
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO delivery_logs (delivery_id, webhook_id, event, payload, status,
			http_status, response_body, attempt, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.DeliveryID, entry.WebhookID, entry.Event, []byte(entry.Payload), entry.Status,
		entry.HTTPStatus, entry.ResponseBody, entry.Attempt, entry.NextRetryAt, entry.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "error recording delivery attempt", err)
	}
	return entry, nil
}

// GetDeliveryLogs returns the newest attempt rows for a webhook.
func (d Datasource) GetDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]model.DeliveryLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT delivery_id, webhook_id, event, payload, status, http_status,
			COALESCE(response_body, ''), attempt, next_retry_at, created_at
		FROM delivery_logs WHERE webhook_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetching delivery logs")
	}
	defer func() {
		_ = rows.Close()
	}()

	var logs []model.DeliveryLog
	for rows.Next() {
		var entry model.DeliveryLog
		var payload []byte
		err := rows.Scan(&entry.DeliveryID, &entry.WebhookID, &entry.Event, &payload,
			&entry.Status, &entry.HTTPStatus, &entry.ResponseBody, &entry.Attempt,
			&entry.NextRetryAt, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		entry.Payload = payload
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
