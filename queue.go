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
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/outclick-labs/outclick/config"
	redis_db "github.com/outclick-labs/outclick/internal/redis-db"
)

// Queue wraps the asynq client used for webhook delivery attempts and hold
// expiry timers. Delivery tasks are enqueued with MaxRetry(0): the handlers
// schedule their own follow-up attempts so the delivery log sees exactly one
// row per attempt.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueWebhookDelivery enqueues one advertiser delivery attempt, optionally
// delayed. Retries are durable: a scheduled attempt survives a process
// restart because it lives in Redis, not in an in-process timer.
func (q *Queue) queueWebhookDelivery(delivery *WebhookDelivery, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(delivery)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.WebhookQueue),
		asynq.MaxRetry(0),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// queuePlatformDelivery enqueues one platform delivery attempt.
func (q *Queue) queuePlatformDelivery(delivery *PlatformDelivery, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(delivery)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.PlatformWebhookQueue),
		asynq.MaxRetry(0),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}
	task := asynq.NewTask(cfg.Queue.PlatformWebhookQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// queueHoldExpiry schedules the auto-approval timer for a held conversion.
// The task id pins one timer per conversion; re-holding replaces nothing,
// the idempotent status guard makes a stale timer a no-op.
func (q *Queue) queueHoldExpiry(conversionID string, holdUntil time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(conversionID)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("hold-expiry:%s", conversionID)),
		asynq.Queue(cfg.Queue.HoldExpiryQueue),
		asynq.ProcessIn(time.Until(holdUntil)),
	}
	task := asynq.NewTask(cfg.Queue.HoldExpiryQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Println(err, info)
		return err
	}
	return nil
}
