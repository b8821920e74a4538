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

// Package verify checks, after a run, that the remote side can still address
// the whole shared buffer and transform it in place.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/internal/logger"
	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
	"github.com/srediag/msgq-zcpy/pkg/shm"
)

// ErrDataIntegrity wraps the *shm.MismatchError of the first bad word.
var ErrDataIntegrity = errors.New("verify: data integrity failure")

// MessageID is the id of the single verification message.
const MessageID uint32 = 1

// Options configures a Verifier.
type Options struct {
	Open msgq.RetryPolicy
	// Timeout bounds the wait for the remote queue to appear and the wait
	// for the reply, each on its own. Zero waits forever.
	Timeout time.Duration
	Logger  *logger.Logger
}

// Verifier runs the final data transaction.
type Verifier struct {
	t    api.Transport
	opts Options
	log  *logger.Logger
}

func New(t api.Transport, opts Options) *Verifier {
	log := opts.Logger
	if log == nil {
		log = logger.New("verify", nil)
	}
	return &Verifier{t: t, opts: opts, log: log}
}

// Verify seeds buf, hands the whole of it to the remote side in one message
// and checks every word came back transformed.
func (v *Verifier) Verify(ctx context.Context, buf *shm.Buffer) error {
	whole := buf.Whole()
	desc, err := whole.Descriptor()
	if err != nil {
		return err
	}
	lq, err := v.t.Create(transport.HostQueue(0))
	if err != nil {
		return err
	}
	defer lq.Delete()
	rq, err := v.dial(ctx)
	if err != nil {
		return err
	}
	defer rq.Close()

	whole.Fill(shm.SeedWord)
	msg := v.t.Alloc(api.DescriptorSize)
	if err := desc.Encode(msg.Payload.B); err != nil {
		v.t.Free(msg)
		return err
	}
	msg.ID = MessageID
	msg.ReplyQueue = lq.Name()
	if err := rq.Put(msg); err != nil {
		v.t.Free(msg)
		return err
	}

	reply, err := lq.Get(ctx, v.opts.Timeout)
	if err != nil {
		return err
	}
	id := reply.ID
	v.t.Free(reply)
	if id != MessageID {
		v.log.Warnf("verification reply carries id %d, expected %d", id, MessageID)
	}
	if err := whole.Verify(shm.ResultWord); err != nil {
		return api.NewOpError("DataTransact", api.StatusIntegrity, fmt.Errorf("%w: %w", ErrDataIntegrity, err))
	}
	return nil
}

// dial opens the remote data-transact queue, giving up after Timeout.
func (v *Verifier) dial(ctx context.Context) (api.RemoteQueue, error) {
	if v.opts.Timeout <= 0 {
		return msgq.Dial(ctx, v.t, transport.RemoteQueue(0), v.opts.Open)
	}
	dctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()
	rq, err := msgq.Dial(dctx, v.t, transport.RemoteQueue(0), v.opts.Open)
	if err != nil && ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
		return nil, api.NewOpError("MessageQ_open", api.StatusTimeout,
			fmt.Errorf("%w: %s not created after %v", msgq.ErrTimeout, transport.RemoteQueue(0), v.opts.Timeout))
	}
	return rq, err
}
