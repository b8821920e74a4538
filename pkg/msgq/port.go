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
	"fmt"
	"strconv"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/msgq-zcpy/api"
)

// Port attaches one processor to a Bus. It implements api.Transport.
type Port struct {
	bus     *Bus
	proc    uint16
	started atomic.Bool
	owned   cmap.ConcurrentMap[string, *endpoint]
}

var _ api.Transport = (*Port)(nil)

// Port returns a new, stopped port for processor proc.
func (b *Bus) Port(proc uint16) *Port {
	return &Port{
		bus:   b,
		proc:  proc,
		owned: cmap.New[*endpoint](),
	}
}

func (p *Port) ProcID() uint16 { return p.proc }

// Started reports whether the port is attached.
func (p *Port) Started() bool { return p.started.Load() }

// Start attaches the port. Starting twice is harmless.
func (p *Port) Start() error {
	p.started.Store(true)
	internalLogger.Debugf("proc %d attached", p.proc)
	return nil
}

// Stop detaches the port and deletes every queue it still owns.
func (p *Port) Stop() error {
	if !p.started.CompareAndSwap(true, false) {
		return nil
	}
	for _, name := range p.owned.Keys() {
		if ep, ok := p.owned.Pop(name); ok {
			p.drop(ep)
		}
	}
	internalLogger.Debugf("proc %d detached", p.proc)
	return nil
}

func (p *Port) Create(name string) (api.LocalQueue, error) {
	if !p.started.Load() {
		return nil, api.NewOpError("MessageQ_create", api.StatusInvalidState, ErrNotStarted)
	}
	ep := newEndpoint(name, p.proc)
	if !p.bus.register(ep) {
		return nil, api.NewOpError("MessageQ_create", api.StatusAlreadyExists, fmt.Errorf("%w: %s", ErrDuplicateName, name))
	}
	p.owned.Set(name, ep)
	internalLogger.Tracef("proc %d created %s", p.proc, name)
	return &localQueue{port: p, ep: ep}, nil
}

func (p *Port) Open(ctx context.Context, name string) (api.RemoteQueue, error) {
	if !p.started.Load() {
		return nil, api.NewOpError("MessageQ_open", api.StatusInvalidState, ErrNotStarted)
	}
	if ctx.Err() != nil {
		return nil, api.NewOpError("MessageQ_open", api.StatusUnblocked, fmt.Errorf("%w: %s", ErrCancelled, name))
	}
	ep, ok := p.bus.queues.Get(name)
	if !ok {
		return nil, api.NewOpError("MessageQ_open", api.StatusNotFound, fmt.Errorf("%w: %s", ErrNotFound, name))
	}
	return &remoteQueue{port: p, ep: ep}, nil
}

func (p *Port) Alloc(size int) *api.Message {
	return p.bus.heap.Alloc(size)
}

func (p *Port) Free(msg *api.Message) {
	p.bus.heap.Free(msg)
}

func (p *Port) String() string {
	return "port(" + strconv.Itoa(int(p.proc)) + ")"
}

// forget deletes a queue the port created. Deleting twice is a no-op.
func (p *Port) forget(ep *endpoint) {
	p.owned.RemoveCb(ep.name, func(_ string, v *endpoint, exists bool) bool {
		return exists && v == ep
	})
	p.drop(ep)
}

func (p *Port) drop(ep *endpoint) {
	if !ep.dispose() {
		return
	}
	p.bus.unregister(ep)
	internalLogger.Tracef("proc %d deleted %s", p.proc, ep.name)
}
