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

// Package remote simulates the remote processor side of the benchmark on the
// in-process transport: the compute RPC service, the handshake listener and
// the loopback, sender, receiver and data-transact tasks.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/internal/logger"
	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/config"
	"github.com/srediag/msgq-zcpy/pkg/handshake"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
	"github.com/srediag/msgq-zcpy/pkg/rpc"
	"github.com/srediag/msgq-zcpy/pkg/shm"
)

// retryPause separates a failed cycle from the next one.
const retryPause = 10 * time.Millisecond

// Options configures a Processor.
type Options struct {
	// Proc is the processor id served, transport.ProcIPU2 when zero.
	Proc uint16
	// Registry receives the compute service.
	Registry *rpc.Registry
	// RemoteBase is the first address buffers are mapped at.
	RemoteBase uint32
	// Open controls how sender tasks wait for host queues.
	Open   msgq.RetryPolicy
	Logger *logger.Logger
}

// Processor is one simulated remote core.
type Processor struct {
	opts Options
	name string
	port *msgq.Port
	srv  *rpc.Server
	log  *logger.Logger
	runs atomic.Int64
}

// New attaches a processor to bus.
func New(bus *msgq.Bus, opts Options) (*Processor, error) {
	if opts.Proc == transport.ProcHost {
		opts.Proc = transport.ProcIPU2
	}
	name, err := transport.ProcName(opts.Proc)
	if err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		return nil, errors.New("remote: a registry is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("remote."+name, nil)
	}
	p := &Processor{
		opts: opts,
		name: name,
		port: bus.Port(opts.Proc),
		srv:  rpc.NewServer(transport.RPCServiceName(opts.Proc), opts.RemoteBase),
		log:  log,
	}
	p.srv.Handle(rpc.FxnCompute, p.compute)
	return p, nil
}

// Name returns the processor name.
func (p *Processor) Name() string { return p.name }

// Server returns the processor's RPC service.
func (p *Processor) Server() *rpc.Server { return p.srv }

// Runs returns the number of completed benchmark cycles.
func (p *Processor) Runs() int64 { return p.runs.Load() }

// Start attaches the transport port and publishes the compute service.
func (p *Processor) Start() error {
	if err := p.port.Start(); err != nil {
		return err
	}
	if err := p.opts.Registry.Register(p.srv); err != nil {
		_ = p.port.Stop()
		return err
	}
	return nil
}

// Stop withdraws the service and detaches the port.
func (p *Processor) Stop() error {
	p.opts.Registry.Unregister(p.srv.Name())
	return p.port.Stop()
}

// Serve runs benchmark cycles until ctx is done.
func (p *Processor) Serve(ctx context.Context) error {
	for {
		err := p.cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			p.log.Errorf("cycle failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryPause):
			}
			continue
		}
		p.runs.Add(1)
	}
}

// compute fills the buffer of parameter 0 with the result pattern and stores
// the buffer's service-side address in its first word.
func (p *Processor) compute(call *rpc.Call) int32 {
	m, err := call.Mapping(0)
	if err != nil {
		p.log.Errorf("compute: %v", err)
		return -1
	}
	words := int(call.Params[0].Value)
	v, err := m.Buf.Slice(0, words*shm.WordSize)
	if err != nil {
		p.log.Errorf("compute: %v", err)
		return -1
	}
	v.Fill(shm.ResultWord)
	v.SetWord(0, m.Addr)
	return 0
}

// step is one remote task and the queue it receives on, if any.
type step struct {
	queue string
	run   func(ctx context.Context, lq api.LocalQueue) error
}

type plan struct {
	steps []step
}

// cycle is one handshake, the tasks it asks for and the final data transaction.
func (p *Processor) cycle(ctx context.Context) error {
	pl, err := p.listen(ctx)
	if err != nil {
		return err
	}
	owned := make(map[string]api.LocalQueue)
	defer func() {
		for _, lq := range owned {
			_ = lq.Delete()
		}
	}()
	for _, st := range pl.steps {
		if st.queue == "" {
			continue
		}
		lq, err := p.port.Create(st.queue)
		if err != nil {
			return err
		}
		owned[st.queue] = lq
	}

	// SLAVE_0 carries the data transaction whatever the tasks do.
	dt, ok := owned[transport.RemoteQueue(0)]
	if !ok {
		if dt, err = p.port.Create(transport.RemoteQueue(0)); err != nil {
			return err
		}
		owned[dt.Name()] = dt
	}

	var g errgroup.Group
	for _, st := range pl.steps {
		st := st
		lq := owned[st.queue]
		g.Go(func() error { return st.run(ctx, lq) })
	}
	taskErr := g.Wait()
	if taskErr != nil && ctx.Err() != nil {
		return taskErr
	}
	return errors.Join(taskErr, p.dataTransact(ctx, dt))
}

// listen waits for a handshake and turns it into a plan.
func (p *Processor) listen(ctx context.Context) (*plan, error) {
	lq, err := p.port.Create(transport.RemoteHandshakeQueue(p.name))
	if err != nil {
		return nil, err
	}
	defer lq.Delete()

	first, err := p.ack(ctx, lq)
	if err != nil {
		return nil, err
	}
	switch first.Kind {
	case handshake.KindRun:
		p.log.Infof("handshake: threads %d messages %d payload %d bytes", first.Threads, first.Messages, first.PayloadSize)
		pl := &plan{}
		for i := 0; i < int(first.Threads); i++ {
			pl.add(p.loopback(i, int(first.Messages)), transport.RemoteQueue(i))
		}
		return pl, nil
	case handshake.KindCount:
		pl := &plan{}
		for i := 0; i < int(first.Threads); i++ {
			rec, err := p.ack(ctx, lq)
			if err != nil {
				return nil, err
			}
			if rec.Kind != handshake.KindThread {
				return nil, fmt.Errorf("remote: expected a thread record, got %v", rec.Kind)
			}
			p.log.Debugf("thread %d: direction %d addr 0x%08x size %d messages %d wait %dus",
				rec.Index, rec.Direction, rec.BufAddr, rec.BufSize, rec.Messages, rec.WaitUs)
			idx := int(rec.Index)
			switch config.Direction(rec.Direction) {
			case config.Send:
				pl.add(p.receiver(idx, int(rec.Messages)), transport.RemoteRecvQueue(idx))
			case config.Receive:
				pl.add(p.sender(idx, rec), "")
			case config.Bidirectional:
				pl.add(p.loopback(idx, int(rec.Messages)), transport.RemoteQueue(idx))
			default:
				return nil, fmt.Errorf("remote: thread %d has unknown direction %d", idx, rec.Direction)
			}
		}
		return pl, nil
	}
	return nil, fmt.Errorf("remote: unexpected %v record", first.Kind)
}

func (pl *plan) add(run func(context.Context, api.LocalQueue) error, queue string) {
	pl.steps = append(pl.steps, step{queue: queue, run: run})
}

// ack receives one handshake record and echoes it to the reply queue.
func (p *Processor) ack(ctx context.Context, lq api.LocalQueue) (handshake.Record, error) {
	msg, err := lq.Get(ctx, msgq.Forever)
	if err != nil {
		return handshake.Record{}, err
	}
	rec, err := handshake.DecodeRecord(msg.Bytes())
	if err != nil {
		p.port.Free(msg)
		return handshake.Record{}, err
	}
	if err := p.reply(ctx, msg); err != nil {
		return handshake.Record{}, err
	}
	return rec, nil
}

func (p *Processor) reply(ctx context.Context, msg *api.Message) error {
	rq, err := p.port.Open(ctx, msg.ReplyQueue)
	if err != nil {
		p.port.Free(msg)
		return err
	}
	defer rq.Close()
	if err := rq.Put(msg); err != nil {
		p.port.Free(msg)
		return err
	}
	return nil
}
