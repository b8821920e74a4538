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

// Package negotiate obtains the shared buffer both processors work on: it maps
// the region, has the remote side transform it once through an RPC call and
// learns the address the remote side sees the buffer at.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/internal/logger"
	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/rpc"
	"github.com/srediag/msgq-zcpy/pkg/shm"
)

var (
	ErrAllocation = errors.New("negotiate: shared buffer allocation failed")
	ErrRemoteCall = errors.New("negotiate: remote compute call failed")
	ErrIntegrity  = errors.New("negotiate: buffer not transformed by the remote side")
)

// Options configures a Negotiator.
type Options struct {
	Registry *rpc.Registry
	// ShmName names the backing region; empty maps an anonymous region.
	ShmName string
	ShmDir  string
	Meter   metric.Meter
	Tracer  trace.Tracer
	Logger  *logger.Logger
}

// Negotiator owns the shared buffer and its RPC registration for one run.
type Negotiator struct {
	opts Options
	log  *logger.Logger

	mu     sync.Mutex
	client *rpc.Client
	buf    *shm.Buffer
}

func New(opts Options) *Negotiator {
	log := opts.Logger
	if log == nil {
		log = logger.New("negotiate", nil)
	}
	return &Negotiator{opts: opts, log: log}
}

// Acquire maps size bytes, seeds them, lets the remote service of procID
// transform them and records the remote base address. On success the buffer
// is held until Release.
func (n *Negotiator) Acquire(ctx context.Context, procID uint16, size int) (*shm.Buffer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.buf != nil {
		return nil, api.NewOpError("Negotiate_acquire", api.StatusInvalidState, fmt.Errorf("%w: a buffer is already held", ErrAllocation))
	}
	if size <= 0 || size%shm.WordSize != 0 {
		return nil, api.NewOpError("Negotiate_acquire", api.StatusInvalidArg, fmt.Errorf("%w: size %d is not a positive multiple of %d", ErrAllocation, size, shm.WordSize))
	}

	client, err := rpc.Create(ctx, n.opts.Registry, transport.RPCServiceName(procID))
	if err != nil {
		return nil, api.NewOpError("Negotiate_acquire", api.StatusOf(err), fmt.Errorf("%w: %w", ErrRemoteCall, err))
	}
	buf, err := shm.Open(ctx, shm.OpenOptions{
		Name:   n.opts.ShmName,
		Size:   size,
		Create: true,
		Dir:    n.opts.ShmDir,
		Meter:  n.opts.Meter,
		Tracer: n.opts.Tracer,
	})
	if err != nil {
		_ = client.Close()
		return nil, api.NewOpError("Negotiate_acquire", api.StatusMemory, fmt.Errorf("%w: %w", ErrAllocation, err))
	}
	if err := n.transform(ctx, client, buf); err != nil {
		_ = client.Close()
		_ = buf.Close()
		return nil, err
	}
	n.client, n.buf = client, buf
	base, _ := buf.RemoteBase()
	n.log.Debugf("buffer handle %d (%d bytes) mapped remotely at 0x%08x", buf.Handle(), size, base)
	return buf, nil
}

func (n *Negotiator) transform(ctx context.Context, client *rpc.Client, buf *shm.Buffer) error {
	buf.Fill(shm.SeedWord)
	if _, err := client.Use(buf); err != nil {
		return api.NewOpError("Negotiate_acquire", api.StatusFail, fmt.Errorf("%w: %w", ErrRemoteCall, err))
	}
	ret, err := client.Call(ctx, rpc.FxnCompute, rpc.Param{Value: uint32(buf.Words()), Handle: buf.Handle()})
	if err != nil {
		return api.NewOpError("Negotiate_acquire", api.StatusFail, fmt.Errorf("%w: %w", ErrRemoteCall, err))
	}
	if ret < 0 {
		return api.NewOpError("Negotiate_acquire", api.StatusFail, fmt.Errorf("%w: compute returned %d", ErrRemoteCall, ret))
	}
	whole := buf.Whole()
	if err := whole.VerifyFrom(1, shm.ResultWord); err != nil {
		return api.NewOpError("Negotiate_acquire", api.StatusIntegrity, fmt.Errorf("%w: %w", ErrIntegrity, err))
	}
	if err := buf.SetRemoteBase(whole.Word(0)); err != nil {
		return api.NewOpError("Negotiate_acquire", api.StatusInvalidState, err)
	}
	return nil
}

// Buffer returns the held buffer, nil when none is held.
func (n *Negotiator) Buffer() *shm.Buffer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.buf
}

// Release ends the buffer's persistence on the remote service and unmaps it.
// Releasing when nothing is held is a no-op.
func (n *Negotiator) Release() error {
	n.mu.Lock()
	client, buf := n.client, n.buf
	n.client, n.buf = nil, nil
	n.mu.Unlock()
	if buf == nil {
		return nil
	}
	err := errors.Join(client.Release(buf), client.Close(), buf.Close())
	if err != nil {
		n.log.Warnf("release buffer handle %d: %v", buf.Handle(), err)
		return api.NewOpError("Negotiate_release", api.StatusFail, err)
	}
	return nil
}
