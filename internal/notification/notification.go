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

package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/internal/request"
)

// slackMessage posts a formatted block message to the configured Slack
// webhook. Used for both error reports and best-effort operator notices.
func slackMessage(header, body string) {
	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]interface{}{"type": "plain_text", "text": header, "emoji": true},
			},
			{
				"type": "section",
				"fields": []map[string]interface{}{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Detail:*\n%s", body)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Time:*\n%s", time.Now().Format(time.RFC822))},
				},
			},
		},
	}

	client := request.NewClient("slack")
	_, err = client.Do(context.Background(), conf.Notification.Slack.WebhookUrl, request.Options{
		Method:  "POST",
		Body:    payload,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		log.Println(err)
	}
}

// NotifyError sends an error notification through the configured channel.
// It logs the error locally and reports to Slack when configured. Runs
// asynchronously; failures are never propagated to the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		slackMessage("Error From Outclick", systemError.Error())
	}(systemError)
}

// NotifyEvent announces a noteworthy domain event (conversion created,
// rejected, held) to the operator channel. Best effort only.
func NotifyEvent(event, detail string) {
	go func() {
		slackMessage(fmt.Sprintf("Outclick: %s", event), detail)
	}()
}
