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

import "errors"

var (
	// ErrDuplicateName is returned by Create when the queue name is live.
	ErrDuplicateName = errors.New("msgq: queue name already exists")
	// ErrNotFound is returned by Open, and by Dial once its retry budget is spent.
	ErrNotFound = errors.New("msgq: queue not found")
	// ErrSend is returned by Put when the transport refuses a message.
	ErrSend = errors.New("msgq: send failed")
	// ErrTimeout is returned by Get when the receive deadline elapses.
	ErrTimeout = errors.New("msgq: receive timed out")
	// ErrCancelled is returned when the caller's context is done.
	ErrCancelled = errors.New("msgq: operation cancelled")
	// ErrQueueDeleted is returned by Get when the queue is deleted while waiting.
	ErrQueueDeleted = errors.New("msgq: queue deleted")
	// ErrNotStarted is returned by a port that has not been started.
	ErrNotStarted = errors.New("msgq: transport not started")
)
