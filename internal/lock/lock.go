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

// Package redlock provides a single-instance Redis lock used to serialize
// payout work per creator and per payout.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("lock is already held")

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// CreatorKey is the lock key guarding reservation for a creator.
func CreatorKey(creatorID string) string {
	return "payouts:creator:" + creatorID
}

// PayoutKey is the lock key guarding submission of a single payout.
func PayoutKey(payoutID string) string {
	return "payouts:payout:" + payoutID
}

// Locker holds one lock key with a unique owner value.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string // only the holder of value may release or extend
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{client: client, key: key, value: value}
}

func (l *Locker) Key() string {
	return l.key
}

// Lock takes the key with ttl, or returns ErrLockHeld.
func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %s: %w", l.key, ErrLockHeld)
	}
	return nil
}

// Unlock releases the key if this Locker still owns it.
func (l *Locker) Unlock(ctx context.Context) error {
	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("unlock failed for key %s: lock expired or held by another owner", l.key)
	}
	return nil
}

// ExtendLock resets the key's ttl to extension if this Locker still owns it.
func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	res, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("extend failed for key %s: lock expired or held by another owner", l.key)
	}
	return nil
}

// WaitLock polls until the lock is acquired, wait elapses or ctx is done.
func (l *Locker) WaitLock(ctx context.Context, ttl, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		err := l.Lock(ctx, ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("key %s not acquired within %s: %w", l.key, wait, ErrLockHeld)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(10+rand.Intn(90)) * time.Millisecond):
		}
	}
}
