/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package msgq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/msgq-zcpy/api"
)

// DefaultOpenInterval is the pause between two open attempts.
const DefaultOpenInterval = time.Second

// RetryPolicy controls how Dial waits for a queue to be created.
type RetryPolicy struct {
	// Interval between attempts, DefaultOpenInterval when zero.
	Interval time.Duration
	// MaxRetries bounds the attempts after the first one. Zero retries until
	// ctx is done.
	MaxRetries uint64
}

// Dial opens name on t, retrying at a fixed interval while the queue does
// not exist yet. Any error other than not-found ends the wait immediately.
func Dial(ctx context.Context, t api.Transport, name string, policy RetryPolicy) (api.RemoteQueue, error) {
	interval := policy.Interval
	if interval <= 0 {
		interval = DefaultOpenInterval
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(interval)
	if policy.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, policy.MaxRetries)
	}
	b = backoff.WithContext(b, ctx)

	var rq api.RemoteQueue
	op := func() error {
		q, err := t.Open(ctx, name)
		if err == nil {
			rq = q
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		internalLogger.Tracef("open %s: %v, retrying in %v", name, err, next)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, api.NewOpError("MessageQ_open", api.StatusUnblocked, fmt.Errorf("%w: %s", ErrCancelled, name))
		}
		return nil, err
	}
	return rq, nil
}
