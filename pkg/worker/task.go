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

package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/config"
	"github.com/srediag/msgq-zcpy/pkg/shm"
)

// ErrSequence is matched by every *SequenceError.
var ErrSequence = errors.New("worker: message id out of sequence")

// SequenceError reports a message whose id broke the expected sequence.
type SequenceError struct {
	Worker int
	Want   uint32
	Got    uint32
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("worker %d: data integrity failure: expected id %d, received %d", e.Worker, e.Want, e.Got)
}

func (e *SequenceError) Is(target error) bool { return target == ErrSequence }

// Task is one worker's assignment: its configuration, the part of the shared
// buffer its descriptors reference and the queues it talks on.
type Task struct {
	Config config.WorkerConfig
	View   *shm.View
	// LocalQueue is created by the worker, empty for send-only workers.
	LocalQueue string
	// RemoteQueue is opened by the worker, empty for receive-only workers.
	RemoteQueue string
}

// Tasks pairs each worker with its view and names its queues.
func Tasks(workers []config.WorkerConfig, views []*shm.View) ([]Task, error) {
	if len(workers) != len(views) {
		return nil, fmt.Errorf("worker: %d workers but %d views", len(workers), len(views))
	}
	tasks := make([]Task, len(workers))
	for i, w := range workers {
		t := Task{Config: w, View: views[i]}
		switch w.Direction {
		case config.Send:
			t.RemoteQueue = transport.RemoteRecvQueue(w.Index)
		case config.Receive:
			t.LocalQueue = transport.HostRecvQueue(w.Index)
		case config.Bidirectional:
			t.LocalQueue = transport.HostQueue(w.Index)
			t.RemoteQueue = transport.RemoteQueue(w.Index)
		default:
			return nil, fmt.Errorf("worker %d: unknown direction %d", w.Index, w.Direction)
		}
		tasks[i] = t
	}
	return tasks, nil
}

// Result is the outcome of one task.
type Result struct {
	Index     int
	Direction config.Direction
	Sent      int
	Received  int
	Elapsed   time.Duration
	Err       error
}

// PerMessage returns the average time per message exchanged.
func (r Result) PerMessage() time.Duration {
	n := r.Sent
	if r.Received > n {
		n = r.Received
	}
	if n == 0 {
		return 0
	}
	return r.Elapsed / time.Duration(n)
}
