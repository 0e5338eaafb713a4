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
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrPoolFull    = errors.New("payout worker pool queue is full")
	ErrPoolStopped = errors.New("payout worker pool is not running")
)

// WorkerPool runs payout submissions on a fixed number of workers so the
// provider never sees more than that many concurrent transfers from us.
type WorkerPool struct {
	workers int
	process func(ctx context.Context, payoutID string) error
	jobs    chan string
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewWorkerPool creates a stopped pool. Non-positive sizes fall back to 2
// workers and a queue of 100.
func NewWorkerPool(workers, queueSize int, process func(ctx context.Context, payoutID string) error) *WorkerPool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &WorkerPool{
		workers: workers,
		process: process,
		jobs:    make(chan string, queueSize),
	}
}

// Start launches the workers. They exit when ctx is cancelled or Stop is
// called.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.run(ctx, worker)
		}(i + 1)
	}
	logrus.Infof("payout worker pool started with %d workers", p.workers)
}

// Stop signals the workers and waits for in-progress payouts to finish.
// Queued ids that were not picked up are left for the sweeper.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("payout worker pool stopped")
}

// Pending is the number of queued ids not yet picked up by a worker.
func (p *WorkerPool) Pending() int {
	return len(p.jobs)
}

func (p *WorkerPool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Submit queues a payout for processing without blocking.
func (p *WorkerPool) Submit(payoutID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- payoutID:
		return nil
	default:
		return ErrPoolFull
	}
}

func (p *WorkerPool) run(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case payoutID := <-p.jobs:
			if err := p.process(ctx, payoutID); err != nil {
				logrus.WithFields(logrus.Fields{
					"worker":    worker,
					"payout_id": payoutID,
				}).WithError(err).Error("failed to process payout")
			}
		}
	}
}
