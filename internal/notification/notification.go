/*
Copyright 2024 Blnk Finance Authors.

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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/internal/request"
)

// SystemErrorEvent is the webhook event emitted for operator-facing errors.
const SystemErrorEvent = "system.error"

// WebhookSender delivers an event to the configured webhook endpoint.
type WebhookSender func(event string, payload interface{}) error

var (
	senderMu      sync.RWMutex
	webhookSender WebhookSender
)

// RegisterWebhookSender installs the function NotifyError uses to forward
// errors as webhooks. It breaks the import cycle with the webhook queue.
func RegisterWebhookSender(sender WebhookSender) {
	senderMu.Lock()
	defer senderMu.Unlock()
	webhookSender = sender
}

func currentSender() WebhookSender {
	senderMu.RLock()
	defer senderMu.RUnlock()
	return webhookSender
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func slackPayload(err error, at time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Error From Payouts 🐞", Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822))}}},
	}}
}

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(err error) error {
	conf, cfgErr := config.Fetch()
	if cfgErr != nil {
		return cfgErr
	}

	payload, encErr := request.ToJsonReq(slackPayload(err, time.Now()))
	if encErr != nil {
		return encErr
	}

	req, reqErr := http.NewRequest(http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if reqErr != nil {
		return reqErr
	}
	_, callErr := request.Call(req, nil)
	return callErr
}

// NotifyError logs systemError and forwards it to Slack and the webhook
// sender when configured. It never blocks the caller.
func NotifyError(systemError error) {
	go notify(systemError)
}

func notify(systemError error) {
	logrus.Error(systemError)

	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}

	if conf.Notification.Slack.WebhookUrl != "" {
		if err := SlackNotification(systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}

	if sender := currentSender(); sender != nil && conf.Notification.Webhook.Url != "" {
		payload := map[string]interface{}{
			"error":       systemError.Error(),
			"occurred_at": time.Now().UTC(),
		}
		if err := sender(SystemErrorEvent, payload); err != nil {
			logrus.WithError(err).Warn("failed to queue error webhook")
		}
	}
}
