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
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/payouts/config"
	redis_db "github.com/blnkfinance/payouts/internal/redis-db"
)

const retryTaskMaxRetry = 5

// Queue is the durable delayed-task queue behind retries and webhooks.
type Queue struct {
	Client       *asynq.Client
	Inspector    *asynq.Inspector
	retryQueue   string
	webhookQueue string
}

// NewQueue initializes a Queue against the configured Redis.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %w", err)
	}

	queueOptions := asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}
	return NewQueueWithOptions(queueOptions, conf.Queue), nil
}

// NewQueueWithOptions builds a Queue from an explicit asynq connection.
func NewQueueWithOptions(opt asynq.RedisConnOpt, cfg config.QueueConfig) *Queue {
	return &Queue{
		Client:       asynq.NewClient(opt),
		Inspector:    asynq.NewInspector(opt),
		retryQueue:   cfg.RetryQueue,
		webhookQueue: cfg.WebhookQueue,
	}
}

func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

func retryTaskID(payoutID string, attempt int) string {
	return fmt.Sprintf("%s:%d", payoutID, attempt)
}

// EnqueueRetry schedules retry `attempt` of a payout at `at`. The task id is
// derived from both, so a second enqueue while the task is still pending is a
// no-op; a finished or archived task with the same id is replaced.
func (q *Queue) EnqueueRetry(ctx context.Context, payoutID string, attempt int, at time.Time) error {
	payload, err := json.Marshal(RetryPayload{PayoutID: payoutID, Attempt: attempt})
	if err != nil {
		return err
	}

	taskID := retryTaskID(payoutID, attempt)
	task := asynq.NewTask(TaskPayoutRetry, payload,
		asynq.TaskID(taskID),
		asynq.Queue(q.retryQueue),
		asynq.ProcessAt(at),
		asynq.MaxRetry(retryTaskMaxRetry),
	)

	_, err = q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return q.replaceFinishedTask(ctx, task, taskID)
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"payout_id": payoutID, "attempt": attempt}).Debug("enqueued payout retry")
	return nil
}

func (q *Queue) replaceFinishedTask(ctx context.Context, task *asynq.Task, taskID string) error {
	info, err := q.Inspector.GetTaskInfo(q.retryQueue, taskID)
	if err != nil {
		return err
	}
	if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
		return nil
	}
	if err := q.Inspector.DeleteTask(q.retryQueue, taskID); err != nil {
		return err
	}
	_, err = q.Client.EnqueueContext(ctx, task)
	return err
}
