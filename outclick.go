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
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/database"
	redis_db "github.com/outclick-labs/outclick/internal/redis-db"
)

// Outclick is the conversion lifecycle engine: it owns the state machine,
// the balance ledger writes and the notification fan-out.
type Outclick struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	postback   PostbackSender
}

// NewOutclick initializes the engine with the provided datasource. Redis,
// the task queue and the postback sender come from the loaded configuration.
func NewOutclick(db database.IDataSource) (*Outclick, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	return &Outclick{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		postback:   NewHTTPPostbackSender(db),
	}, nil
}
