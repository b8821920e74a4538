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
	"context"
	"fmt"
	"time"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
)

// send puts MessageCount descriptors on the peer queue, pausing Interval
// after each. Nothing is acknowledged.
func (p *Pool) send(ctx context.Context, task Task, res *Result) error {
	t := p.opts.Transport
	desc, err := task.View.Descriptor()
	if err != nil {
		return err
	}
	rq, err := msgq.Dial(ctx, t, task.RemoteQueue, p.opts.Open)
	if err != nil {
		return err
	}
	defer rq.Close()

	for i := 0; i < task.Config.MessageCount; i++ {
		if err := p.put(rq, desc, uint32(i), ""); err != nil {
			return err
		}
		res.Sent++
		if err := pause(ctx, task.Config.Interval); err != nil {
			return err
		}
	}
	return nil
}

// receive takes MessageCount messages off its own queue and checks their ids
// count up from zero.
func (p *Pool) receive(ctx context.Context, task Task, res *Result) error {
	t := p.opts.Transport
	lq, err := t.Create(task.LocalQueue)
	if err != nil {
		return err
	}
	defer lq.Delete()

	for i := 0; i < task.Config.MessageCount; i++ {
		msg, err := lq.Get(ctx, p.opts.ReceiveTimeout)
		if err != nil {
			return err
		}
		id := msg.ID
		t.Free(msg)
		if id != uint32(i) {
			return &SequenceError{Worker: task.Config.Index, Want: uint32(i), Got: id}
		}
		res.Received++
	}
	return nil
}

// pingPong sends each descriptor and waits for the reply carrying the same id
// before sending the next.
func (p *Pool) pingPong(ctx context.Context, task Task, res *Result) error {
	t := p.opts.Transport
	desc, err := task.View.Descriptor()
	if err != nil {
		return err
	}
	lq, err := t.Create(task.LocalQueue)
	if err != nil {
		return err
	}
	defer lq.Delete()
	rq, err := msgq.Dial(ctx, t, task.RemoteQueue, p.opts.Open)
	if err != nil {
		return err
	}
	defer rq.Close()

	for i := 0; i < task.Config.MessageCount; i++ {
		if err := p.put(rq, desc, uint32(i), lq.Name()); err != nil {
			return err
		}
		res.Sent++
		reply, err := lq.Get(ctx, p.opts.ReceiveTimeout)
		if err != nil {
			return err
		}
		id := reply.ID
		t.Free(reply)
		if id != uint32(i) {
			return &SequenceError{Worker: task.Config.Index, Want: uint32(i), Got: id}
		}
		res.Received++
		if err := pause(ctx, task.Config.Interval); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) put(rq api.RemoteQueue, desc api.Descriptor, id uint32, reply string) error {
	t := p.opts.Transport
	msg := t.Alloc(api.DescriptorSize)
	if err := desc.Encode(msg.Payload.B); err != nil {
		t.Free(msg)
		return err
	}
	msg.ID = id
	msg.ReplyQueue = reply
	if err := rq.Put(msg); err != nil {
		t.Free(msg)
		return err
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return api.NewOpError("Worker_sleep", api.StatusUnblocked, fmt.Errorf("%w: %v", msgq.ErrCancelled, ctx.Err()))
	case <-timer.C:
		return nil
	}
}
