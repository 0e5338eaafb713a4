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

package payouts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/internal/notification"
	"github.com/blnkfinance/payouts/internal/request"
	"github.com/blnkfinance/payouts/model"
)

const (
	TaskWebhook         = "payout:webhook"
	webhookTaskMaxRetry = 10
	webhookTaskTimeout  = 30 * time.Second
	webhookHandlerName  = "webhook"
)

// NewWebhook is the body posted to the configured webhook url.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

type webhookEnqueuer interface {
	EnqueueWebhook(ctx context.Context, hook NewWebhook) error
}

// EnqueueWebhook queues a webhook delivery. It is a no-op when no webhook
// url is configured.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskWebhook, payload,
		asynq.Queue(q.webhookQueue),
		asynq.MaxRetry(webhookTaskMaxRetry),
		asynq.Timeout(webhookTaskTimeout),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		logrus.WithError(err).Errorf("failed to enqueue %s webhook", hook.Event)
		return err
	}
	logrus.WithField("task_id", info.ID).Debugf("enqueued %s webhook", hook.Event)
	return nil
}

// WebhookSender adapts the queue for system error notifications.
func (q *Queue) WebhookSender() notification.WebhookSender {
	return func(event string, payload interface{}) error {
		return q.EnqueueWebhook(context.Background(), NewWebhook{Event: event, Payload: payload})
	}
}

// WebhookHandler forwards terminal payout events to the webhook queue.
type WebhookHandler struct {
	queue webhookEnqueuer
}

// NewWebhookHandler forwards terminal payout events to the webhook queue.
func NewWebhookHandler(queue webhookEnqueuer) *WebhookHandler {
	return &WebhookHandler{queue: queue}
}

func (h *WebhookHandler) Name() string {
	return webhookHandlerName
}

func (h *WebhookHandler) Handle(ctx context.Context, event model.PayoutEvent) error {
	return h.queue.EnqueueWebhook(ctx, NewWebhook{Event: string(event.Type), Payload: event})
}

// ProcessWebhook delivers a queued webhook. Delivery failures are returned
// so asynq retries them.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %v: %w", err, asynq.SkipRetry)
	}
	logrus.Debugf("processing webhook %s", payload.Event)
	return processHTTP(ctx, conf.Notification.Webhook, payload)
}

func processHTTP(ctx context.Context, cfg config.WebhookConfig, data NewWebhook) error {
	body, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Url, body)
	if err != nil {
		return err
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	if _, err := request.Call(req, nil); err != nil {
		return fmt.Errorf("deliver %s webhook: %w", data.Event, err)
	}
	return nil
}
