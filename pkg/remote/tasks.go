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

package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/handshake"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
	"github.com/srediag/msgq-zcpy/pkg/shm"
	"github.com/srediag/msgq-zcpy/pkg/verify"
)

// loopback returns every message on SLAVE_<i> to its reply queue, checking
// the ids count up from zero.
func (p *Processor) loopback(i, messages int) func(context.Context, api.LocalQueue) error {
	return func(ctx context.Context, lq api.LocalQueue) error {
		var (
			rq    api.RemoteQueue
			reply string
		)
		defer func() {
			if rq != nil {
				_ = rq.Close()
			}
		}()
		start := time.Now()
		for id := 0; id < messages; id++ {
			msg, err := lq.Get(ctx, msgq.Forever)
			if err != nil {
				return err
			}
			if msg.ID != uint32(id) {
				got := msg.ID
				p.port.Free(msg)
				return fmt.Errorf("loopback %d: the id received is incorrect: expected %d, received %d", i, id, got)
			}
			if rq == nil || reply != msg.ReplyQueue {
				if rq != nil {
					_ = rq.Close()
				}
				if rq, err = p.port.Open(ctx, msg.ReplyQueue); err != nil {
					p.port.Free(msg)
					return err
				}
				reply = msg.ReplyQueue
			}
			if err := rq.Put(msg); err != nil {
				p.port.Free(msg)
				return err
			}
		}
		p.logRate("loopback", i, messages, time.Since(start))
		return nil
	}
}

// receiver drains M4_RECV_MQ_<i>, checking ids and that every descriptor
// points into a persistent buffer.
func (p *Processor) receiver(i, messages int) func(context.Context, api.LocalQueue) error {
	return func(ctx context.Context, lq api.LocalQueue) error {
		start := time.Now()
		for id := 0; id < messages; id++ {
			msg, err := lq.Get(ctx, msgq.Forever)
			if err != nil {
				return err
			}
			got := msg.ID
			d, derr := api.DecodeDescriptor(msg.Bytes())
			p.port.Free(msg)
			if got != uint32(id) {
				return fmt.Errorf("receiver %d: data integrity failure: expected id %d, received %d", i, id, got)
			}
			if derr != nil {
				return derr
			}
			if _, err := p.srv.Resolve(d.Addr, int(d.Size)); err != nil {
				return fmt.Errorf("receiver %d: %w", i, err)
			}
		}
		p.logRate("receiver", i, messages, time.Since(start))
		return nil
	}
}

// sender puts rec.Messages descriptors on A15_RECV_MQ_<i>, pausing rec.WaitUs
// between sends.
func (p *Processor) sender(i int, rec handshake.Record) func(context.Context, api.LocalQueue) error {
	return func(ctx context.Context, _ api.LocalQueue) error {
		if rec.Messages == 0 {
			return nil
		}
		rq, err := msgq.Dial(ctx, p.port, transport.HostRecvQueue(i), p.opts.Open)
		if err != nil {
			return err
		}
		defer rq.Close()
		desc := api.Descriptor{Addr: rec.BufAddr, Size: rec.BufSize}
		wait := time.Duration(rec.WaitUs) * time.Microsecond
		start := time.Now()
		for id := 0; id < int(rec.Messages); id++ {
			msg := p.port.Alloc(api.DescriptorSize)
			if err := desc.Encode(msg.Payload.B); err != nil {
				p.port.Free(msg)
				return err
			}
			msg.ID = uint32(id)
			if err := rq.Put(msg); err != nil {
				p.port.Free(msg)
				return err
			}
			if wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		p.logRate("sender", i, int(rec.Messages), time.Since(start))
		return nil
	}
}

// dataTransact checks the buffer the host hands over still holds the seed,
// overwrites it with the result pattern and replies.
func (p *Processor) dataTransact(ctx context.Context, lq api.LocalQueue) error {
	msg, err := lq.Get(ctx, msgq.Forever)
	if err != nil {
		return err
	}
	d, err := api.DecodeDescriptor(msg.Bytes())
	if err != nil {
		p.port.Free(msg)
		return err
	}
	view, err := p.srv.Resolve(d.Addr, int(d.Size))
	if err != nil {
		p.port.Free(msg)
		return err
	}
	if err := view.Verify(shm.SeedWord); err != nil {
		p.log.Warnf("data transact: %v", err)
	}
	view.Fill(shm.ResultWord)
	id := msg.ID
	if err := p.reply(ctx, msg); err != nil {
		return err
	}
	if id != verify.MessageID {
		return fmt.Errorf("data transact: the id received is incorrect: expected %d, received %d", verify.MessageID, id)
	}
	return nil
}

func (p *Processor) logRate(kind string, i, messages int, elapsed time.Duration) {
	if messages == 0 {
		return
	}
	p.log.Infof("%s %d: %d iterations took %v or %d usecs/msg", kind, i, messages, elapsed, elapsed.Microseconds()/int64(messages))
}
