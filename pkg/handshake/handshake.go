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

// Package handshake tells the remote processor what the host is about to do:
// how many workers, how many messages each, how large and how paced, and
// which part of the shared buffer every worker owns.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/internal/logger"
	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
)

var (
	// ErrTimeout is returned when an acknowledgement does not arrive in time.
	ErrTimeout = errors.New("handshake: acknowledgement timed out")
	// ErrUnexpectedAck is returned when an acknowledgement answers another record.
	ErrUnexpectedAck = errors.New("handshake: unexpected acknowledgement")
)

// State is the progress of a handshake.
type State int32

const (
	Idle State = iota
	LocalQueueCreated
	RemoteQueueDiscovered
	ParametersSent
	ParametersAcknowledged
	Done
	Failed
)

var stateNames = [...]string{
	"Idle",
	"LocalQueueCreated",
	"RemoteQueueDiscovered",
	"ParametersSent",
	"ParametersAcknowledged",
	"Done",
	"Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configures a Protocol.
type Options struct {
	// RemoteProc is the processor the handshake is addressed to.
	RemoteProc uint16
	// Open controls how long the remote handshake queue is waited for.
	Open msgq.RetryPolicy
	// Timeout bounds each acknowledgement wait. Zero waits forever.
	Timeout time.Duration
	Logger  *logger.Logger
}

// Protocol runs one handshake over a transport.
type Protocol struct {
	t     api.Transport
	opts  Options
	log   *logger.Logger
	state atomic.Int32
	seq   uint32
}

func New(t api.Transport, opts Options) *Protocol {
	log := opts.Logger
	if log == nil {
		log = logger.New("handshake", nil)
	}
	return &Protocol{t: t, opts: opts, log: log}
}

// State returns the current state.
func (p *Protocol) State() State {
	return State(p.state.Load())
}

func (p *Protocol) setState(s State) {
	p.state.Store(int32(s))
	p.log.Tracef("handshake state %v", s)
}

// Negotiate sends a single run record from the HOST queue and waits for it
// to be acknowledged.
func (p *Protocol) Negotiate(ctx context.Context, rec Record) error {
	rec.Kind = KindRun
	return p.run(ctx, transport.HostHandshakeQueue, []Record{rec})
}

// NegotiatePerThread announces len(recs) workers and then sends one record
// per worker, each acknowledged before the next goes out.
func (p *Protocol) NegotiatePerThread(ctx context.Context, recs []Record) error {
	out := make([]Record, 0, len(recs)+1)
	out = append(out, Record{Kind: KindCount, Threads: uint32(len(recs)), ProcID: uint32(p.opts.RemoteProc)})
	for i, r := range recs {
		r.Kind = KindThread
		r.Index = uint32(i)
		out = append(out, r)
	}
	return p.run(ctx, transport.PerThreadHandshakeQueue, out)
}

// PerThreadRecords builds the per-worker records for buffer views laid out
// back to back from remote address base.
func PerThreadRecords(base uint32, params []Record) []Record {
	out := make([]Record, len(params))
	offset := uint32(0)
	for i, r := range params {
		r.BufAddr = base + offset
		r.BufSize = r.PayloadSize
		offset += r.PayloadSize
		out[i] = r
	}
	return out
}

func (p *Protocol) run(ctx context.Context, local string, recs []Record) (err error) {
	defer func() {
		if err != nil {
			p.setState(Failed)
		}
	}()
	p.setState(Idle)

	procName, err := transport.ProcName(p.opts.RemoteProc)
	if err != nil {
		return api.NewOpError("Handshake", api.StatusInvalidArg, err)
	}
	lq, err := p.t.Create(local)
	if err != nil {
		return err
	}
	defer func() {
		if derr := lq.Delete(); derr != nil {
			p.log.Warnf("delete %s: %v", local, derr)
		}
	}()
	p.setState(LocalQueueCreated)

	remote := transport.RemoteHandshakeQueue(procName)
	rq, err := msgq.Dial(ctx, p.t, remote, p.opts.Open)
	if err != nil {
		return err
	}
	defer rq.Close()
	p.setState(RemoteQueueDiscovered)

	for _, rec := range recs {
		if err := p.exchange(ctx, lq, rq, rec); err != nil {
			return err
		}
	}
	p.setState(Done)
	p.log.Infof("exchanged %d handshake record(s) with %s", len(recs), procName)
	return nil
}

func (p *Protocol) exchange(ctx context.Context, lq api.LocalQueue, rq api.RemoteQueue, rec Record) error {
	p.seq++
	msg := p.t.Alloc(RecordSize)
	if err := rec.Encode(msg.Payload.B); err != nil {
		p.t.Free(msg)
		return err
	}
	msg.ID = p.seq
	msg.ReplyQueue = lq.Name()
	if err := rq.Put(msg); err != nil {
		p.t.Free(msg)
		return err
	}
	p.setState(ParametersSent)

	ack, err := lq.Get(ctx, p.opts.Timeout)
	if err != nil {
		if errors.Is(err, msgq.ErrTimeout) {
			return api.NewOpError("Handshake", api.StatusTimeout, fmt.Errorf("%w: %s record %d: %w", ErrTimeout, rec.Kind, rec.Index, err))
		}
		return err
	}
	id := ack.ID
	p.t.Free(ack)
	if id != p.seq {
		return api.NewOpError("Handshake", api.StatusFail, fmt.Errorf("%w: got id %d, want %d", ErrUnexpectedAck, id, p.seq))
	}
	p.setState(ParametersAcknowledged)
	return nil
}
