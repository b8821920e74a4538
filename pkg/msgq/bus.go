/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
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

// Package msgq is an in-process MessageQ transport: named, ordered,
// point-to-point queues shared by every processor attached to a Bus.
package msgq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/internal/logger"
)

const (
	// Forever makes Get wait without a deadline.
	Forever time.Duration = 0

	// default cap hint of a queue, grows on demand.
	defaultQueueHint = 64
	// Get polls in slices of this length so it notices cancellation.
	pollSlice = 50 * time.Millisecond
)

var internalLogger = logger.New("msgq", nil)

// Bus is the name space and message heap shared by all ports.
type Bus struct {
	queues  cmap.ConcurrentMap[string, *endpoint]
	heap    *Heap
	metrics *Metrics
}

// NewBus creates an empty bus. Metrics are registered with reg when it is not nil.
func NewBus(reg prometheus.Registerer) *Bus {
	return &Bus{
		queues:  cmap.New[*endpoint](),
		heap:    &Heap{},
		metrics: NewMetrics(reg),
	}
}

// Heap returns the bus message heap.
func (b *Bus) Heap() *Heap { return b.heap }

// Metrics returns the bus metrics.
func (b *Bus) Metrics() *Metrics { return b.metrics }

// Names returns the names of the live queues.
func (b *Bus) Names() []string { return b.queues.Keys() }

// Pending returns the number of undelivered messages on the named queue.
func (b *Bus) Pending(name string) (int64, bool) {
	ep, ok := b.queues.Get(name)
	if !ok {
		return 0, false
	}
	return ep.q.Len(), true
}

func (b *Bus) register(ep *endpoint) bool {
	if !b.queues.SetIfAbsent(ep.name, ep) {
		return false
	}
	b.metrics.Queues.Inc()
	return true
}

// unregister removes ep from the name space if the name still refers to it.
func (b *Bus) unregister(ep *endpoint) bool {
	removed := b.queues.RemoveCb(ep.name, func(_ string, v *endpoint, exists bool) bool {
		return exists && v == ep
	})
	if removed {
		b.metrics.Queues.Dec()
	}
	return removed
}

type endpoint struct {
	name    string
	owner   uint16
	q       *queuepkg.Queue
	deleted atomic.Bool
}

func newEndpoint(name string, owner uint16) *endpoint {
	return &endpoint{
		name:  name,
		owner: owner,
		q:     queuepkg.New(defaultQueueHint),
	}
}

// localQueue is the owning handle returned by Create.
type localQueue struct {
	port *Port
	ep   *endpoint
}

func (l *localQueue) Name() string { return l.ep.name }

func (l *localQueue) Get(ctx context.Context, timeout time.Duration) (*api.Message, error) {
	m := l.port.bus.metrics
	start := time.Now()
	msg, err := l.ep.get(ctx, timeout)
	m.GetWait.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		m.Gets.WithLabelValues(l.ep.name).Inc()
		return msg, nil
	case errors.Is(err, ErrTimeout):
		m.Timeouts.WithLabelValues(l.ep.name).Inc()
		return nil, api.NewOpError("MessageQ_get", api.StatusTimeout, fmt.Errorf("%w: %s after %v", err, l.ep.name, timeout))
	case errors.Is(err, ErrCancelled):
		return nil, api.NewOpError("MessageQ_get", api.StatusUnblocked, fmt.Errorf("%w: %s", err, l.ep.name))
	default:
		return nil, api.NewOpError("MessageQ_get", api.StatusInvalidState, fmt.Errorf("%w: %s", err, l.ep.name))
	}
}

func (l *localQueue) Delete() error {
	l.port.forget(l.ep)
	return nil
}

func (e *endpoint) get(ctx context.Context, timeout time.Duration) (*api.Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		slice := pollSlice
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return nil, ErrTimeout
			}
			if left < slice {
				slice = left
			}
		}
		items, err := e.q.Poll(1, slice)
		switch {
		case err == nil && len(items) > 0:
			return items[0].(*api.Message), nil
		case err == nil, errors.Is(err, queuepkg.ErrTimeout):
			continue
		case errors.Is(err, queuepkg.ErrDisposed):
			return nil, ErrQueueDeleted
		default:
			return nil, err
		}
	}
}

// dispose marks the endpoint deleted and wakes any blocked receiver.
func (e *endpoint) dispose() bool {
	if !e.deleted.CompareAndSwap(false, true) {
		return false
	}
	e.q.Dispose()
	return true
}

// remoteQueue is the non-owning handle returned by Open.
type remoteQueue struct {
	port   *Port
	ep     *endpoint
	closed atomic.Bool
}

func (r *remoteQueue) Name() string { return r.ep.name }

func (r *remoteQueue) Put(msg *api.Message) error {
	if msg == nil {
		return api.NewOpError("MessageQ_put", api.StatusInvalidArg, fmt.Errorf("%w: nil message", ErrSend))
	}
	if r.closed.Load() {
		return api.NewOpError("MessageQ_put", api.StatusInvalidState, fmt.Errorf("%w: %s is closed", ErrSend, r.ep.name))
	}
	msg.SrcProc = r.port.proc
	if err := r.ep.q.Put(msg); err != nil {
		return api.NewOpError("MessageQ_put", api.StatusFail, fmt.Errorf("%w: %s: %v", ErrSend, r.ep.name, err))
	}
	r.port.bus.metrics.Puts.WithLabelValues(r.ep.name).Inc()
	return nil
}

func (r *remoteQueue) Close() error {
	r.closed.Store(true)
	return nil
}
