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

// Package worker runs the per-thread message exchanges of a benchmark run on
// a goroutine pool and collects their results.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/internal/logger"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
)

// PoolState counts task progress across every Spawn of a Pool.
type PoolState struct {
	started  atomic.Int64
	finished atomic.Int64
	failed   atomic.Int64
}

func (s *PoolState) Started() int64  { return s.started.Load() }
func (s *PoolState) Finished() int64 { return s.finished.Load() }
func (s *PoolState) Failed() int64   { return s.failed.Load() }

// Running returns the number of tasks started and not yet finished.
func (s *PoolState) Running() int64 { return s.Started() - s.Finished() }

// Options configures a Pool.
type Options struct {
	Transport api.Transport
	// Open controls how send workers wait for their peer queue.
	Open msgq.RetryPolicy
	// ReceiveTimeout bounds each receive. Zero waits forever.
	ReceiveTimeout time.Duration
	Registerer     prometheus.Registerer
	Logger         *logger.Logger
}

// Pool runs tasks against one transport.
type Pool struct {
	opts    Options
	log     *logger.Logger
	state   PoolState
	metrics *metrics
}

func NewPool(opts Options) *Pool {
	log := opts.Logger
	if log == nil {
		log = logger.New("worker", nil)
	}
	return &Pool{opts: opts, log: log, metrics: newMetrics(opts.Registerer)}
}

// State returns the pool's progress counters.
func (p *Pool) State() *PoolState { return &p.state }

// Handle tracks the tasks of one Spawn.
type Handle struct {
	wg      sync.WaitGroup
	results []Result
	cancel  context.CancelFunc
	pool    *ants.Pool
	once    sync.Once
}

// Spawn starts one goroutine per task. A failing task never stops its siblings.
func (p *Pool) Spawn(ctx context.Context, tasks []Task) (*Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{results: make([]Result, len(tasks)), cancel: cancel}
	if len(tasks) == 0 {
		return h, nil
	}
	pool, err := ants.NewPool(len(tasks))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("worker: create pool: %w", err)
	}
	h.pool = pool
	for i := range tasks {
		task := tasks[i]
		idx := i
		h.wg.Add(1)
		if err := pool.Submit(func() {
			defer h.wg.Done()
			h.results[idx] = p.run(ctx, task)
		}); err != nil {
			h.wg.Done()
			h.results[idx] = p.reject(task, err)
		}
	}
	return h, nil
}

// Cancel asks every running task to stop. Stopped tasks report msgq.ErrCancelled.
func (h *Handle) Cancel() {
	h.cancel()
}

// Join waits for every task and returns the results in task order.
func (h *Handle) Join() []Result {
	h.wg.Wait()
	h.once.Do(func() {
		h.cancel()
		if h.pool != nil {
			h.pool.Release()
		}
	})
	return h.results
}

// reject accounts for a task that never got a goroutine as started, finished
// and failed.
func (p *Pool) reject(task Task, err error) Result {
	res := Result{Index: task.Config.Index, Direction: task.Config.Direction, Err: fmt.Errorf("worker: submit: %w", err)}
	p.state.started.Add(1)
	p.state.finished.Add(1)
	p.state.failed.Add(1)
	p.metrics.observe(res)
	p.log.Errorf("worker %d (%v) not started: %v", task.Config.Index, task.Config.Direction, err)
	return res
}

// run executes one task. Panics are recovered here and reported as the
// task's error.
func (p *Pool) run(ctx context.Context, task Task) (res Result) {
	cfg := task.Config
	res = Result{Index: cfg.Index, Direction: cfg.Direction}
	p.state.started.Add(1)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("worker %d: panic: %v", cfg.Index, r)
		}
		res.Elapsed = time.Since(start)
		p.state.finished.Add(1)
		p.metrics.observe(res)
		if res.Err != nil {
			p.state.failed.Add(1)
			p.log.Errorf("worker %d (%v) failed after %d sent, %d received: %v", cfg.Index, cfg.Direction, res.Sent, res.Received, res.Err)
			return
		}
		p.log.Debugf("worker %d (%v) done: %d sent, %d received in %v", cfg.Index, cfg.Direction, res.Sent, res.Received, res.Elapsed)
	}()

	if cfg.MessageCount == 0 {
		return res
	}
	switch {
	case task.LocalQueue == "":
		res.Err = p.send(ctx, task, &res)
	case task.RemoteQueue == "":
		res.Err = p.receive(ctx, task, &res)
	default:
		res.Err = p.pingPong(ctx, task, &res)
	}
	return res
}

type metrics struct {
	messages *prometheus.CounterVec
	failures prometheus.Counter
	duration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgq",
			Subsystem: "worker",
			Name:      "messages_total",
			Help:      "Messages exchanged by workers.",
		}, []string{"direction", "flow"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgq",
			Subsystem: "worker",
			Name:      "failures_total",
			Help:      "Workers that ended with an error.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msgq",
			Subsystem: "worker",
			Name:      "duration_seconds",
			Help:      "Time a worker took to exchange all its messages.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.failures, m.duration)
	}
	return m
}

func (m *metrics) observe(r Result) {
	dir := r.Direction.String()
	m.messages.WithLabelValues(dir, "sent").Add(float64(r.Sent))
	m.messages.WithLabelValues(dir, "received").Add(float64(r.Received))
	m.duration.Observe(r.Elapsed.Seconds())
	if r.Err != nil {
		m.failures.Inc()
	}
}
