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

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/outclick-labs/outclick/config"
	redis_db "github.com/outclick-labs/outclick/internal/redis-db"
)

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.PlatformWebhookQueue] = 1
	queues[cfg.Queue.HoldExpiryQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 5,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *outclickInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Fatalf("Error fetching config: %v", err)
	}

	mux.HandleFunc(cfg.Queue.WebhookQueue, b.engine.ProcessWebhookDelivery)
	mux.HandleFunc(cfg.Queue.PlatformWebhookQueue, b.engine.ProcessPlatformDelivery)
	mux.HandleFunc(cfg.Queue.HoldExpiryQueue, b.engine.ProcessHoldExpiry)
}

func workerCommands(b *outclickInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start outclick delivery workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			if b.cnf.EnableTelemetry {
				shutdown, err := initializeTracing(ctx)
				if err != nil {
					log.Printf("Tracing initialization error: %v", err)
				} else {
					defer func() {
						if err := shutdown(ctx); err != nil {
							log.Printf("Error during tracing shutdown: %v", err)
						}
					}()
				}
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(b.cnf, queues)
			if err != nil {
				log.Fatalf("Error initializing worker server: %v", err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			log.Println(" [*] Starting delivery workers")
			if err := srv.Run(mux); err != nil {
				log.Fatalf("Error running worker server: %v", err)
			}
		},
	}
	return cmd
}
