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

// Package bench drives one benchmark run end to end: transport start,
// buffer negotiation, handshake, the worker pool and the final integrity
// check, torn down in reverse order.
package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/msgq-zcpy/internal/lifecycle"
	"github.com/srediag/msgq-zcpy/internal/logger"
	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/config"
	"github.com/srediag/msgq-zcpy/pkg/handshake"
	"github.com/srediag/msgq-zcpy/pkg/load"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
	"github.com/srediag/msgq-zcpy/pkg/negotiate"
	"github.com/srediag/msgq-zcpy/pkg/remote"
	"github.com/srediag/msgq-zcpy/pkg/rpc"
	"github.com/srediag/msgq-zcpy/pkg/shm"
	"github.com/srediag/msgq-zcpy/pkg/verify"
	"github.com/srediag/msgq-zcpy/pkg/worker"
)

// Options wires a Runner to its collaborators. Zero values build private
// ones.
type Options struct {
	Config *config.Config
	// Bus and Registry are shared with the remote side.
	Bus      *msgq.Bus
	Registry *rpc.Registry
	// External skips starting the simulated remote processor; something else
	// must serve the remote half on Bus and Registry.
	External   bool
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
	Meter      metric.Meter
	Logger     *logger.Logger
	// OnReady is called once the host transport is started.
	OnReady func()
}

// Runner runs benchmarks.
type Runner struct {
	opts   Options
	cfg    *config.Config
	log    *logger.Logger
	tracer trace.Tracer
	host   *msgq.Port
	pool   *worker.Pool
}

// NewRunner validates the configuration and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if err := config.VerifyConfig(opts.Config); err != nil {
		return nil, err
	}
	if opts.Bus == nil {
		opts.Bus = msgq.NewBus(opts.Registerer)
	}
	if opts.Registry == nil {
		opts.Registry = rpc.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("bench", nil)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("bench")
	}
	r := &Runner{opts: opts, cfg: opts.Config, log: opts.Logger, tracer: tracer}
	r.host = opts.Bus.Port(transport.ProcHost)
	r.pool = worker.NewPool(worker.Options{
		Transport:      r.host,
		Open:           r.retry(),
		ReceiveTimeout: r.cfg.ReceiveTimeout,
		Registerer:     opts.Registerer,
		Logger:         r.log.Named("worker"),
	})
	return r, nil
}

// Host returns the host transport port.
func (r *Runner) Host() *msgq.Port { return r.host }

// Pool returns the worker pool runs are spawned on.
func (r *Runner) Pool() *worker.Pool { return r.pool }

func (r *Runner) retry() msgq.RetryPolicy {
	return msgq.RetryPolicy{Interval: r.cfg.OpenInterval, MaxRetries: r.cfg.OpenRetries}
}

func (r *Runner) remoteProc() uint16 {
	if r.cfg.Mode == config.ModePerThread && len(r.cfg.Workers) > 0 {
		return r.cfg.Workers[0].ProcID
	}
	return r.cfg.ProcID
}

// Run executes one benchmark. Setup failures abort the run and are
// returned; worker and verification failures are recorded in the report.
func (r *Runner) Run(ctx context.Context) (rep *Report, err error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	ctx, span := r.tracer.Start(ctx, "bench.Run", trace.WithAttributes(
		attribute.Int("bench.mode", int(r.cfg.Mode)),
		attribute.Int("bench.workers", len(r.cfg.WorkerConfigs())),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	stack := lifecycle.NewStack(r.log.Named("lifecycle"))
	defer func() {
		if cerr := stack.Close(); cerr != nil {
			r.log.Warnf("release: %v", cerr)
		}
	}()

	host := r.host
	if err := host.Start(); err != nil {
		return nil, fmt.Errorf("transport start: %w", err)
	}
	_ = stack.Push("host transport", host.Stop)

	if !r.opts.External {
		if err := r.startRemote(stack); err != nil {
			return nil, err
		}
	}
	if r.opts.OnReady != nil {
		r.opts.OnReady()
	}

	workers := r.cfg.WorkerConfigs()
	rep = &Report{Mode: r.cfg.Mode, Workers: workers}
	for _, w := range workers {
		rep.TotalMessages += w.MessageCount
	}
	if len(workers) > 0 {
		rep.PayloadSize = workers[0].PayloadSize
	}

	buf, err := r.negotiate(ctx, stack)
	if err != nil {
		return nil, err
	}
	views, err := shm.Partition(buf, payloadSizes(workers))
	if err != nil {
		return nil, err
	}
	if err := r.handshake(ctx, host, buf, workers); err != nil {
		return nil, err
	}
	tasks, err := worker.Tasks(workers, views)
	if err != nil {
		return nil, err
	}

	sample, lerr := load.Begin(ctx)
	if lerr != nil {
		r.log.Debugf("cpu load unavailable: %v", lerr)
	}
	start := time.Now()
	rep.Results, err = r.spawn(ctx, tasks)
	if err != nil {
		return nil, err
	}
	rep.Elapsed = time.Since(start)
	if sample != nil {
		if l, err := sample.End(ctx); err == nil {
			rep.Load = &l
		}
	}
	for _, res := range rep.Results {
		if res.Err != nil {
			r.log.Errorf("thread %d (%v): %v", res.Index, res.Direction, res.Err)
		}
	}

	vctx, vspan := r.tracer.Start(ctx, "bench.Verify")
	rep.VerifyErr = verify.New(host, verify.Options{
		Open:    r.retry(),
		Timeout: r.cfg.ReceiveTimeout,
		Logger:  r.log.Named("verify"),
	}).Verify(vctx, buf)
	if rep.VerifyErr != nil {
		vspan.RecordError(rep.VerifyErr)
		r.log.Errorf("%v", rep.VerifyErr)
	}
	vspan.End()
	return rep, nil
}

func (r *Runner) startRemote(stack *lifecycle.Stack) error {
	proc, err := remote.New(r.opts.Bus, remote.Options{
		Proc:     r.remoteProc(),
		Registry: r.opts.Registry,
		Open:     r.retry(),
		Logger:   r.log.Named("remote"),
	})
	if err != nil {
		return err
	}
	if err := proc.Start(); err != nil {
		return err
	}
	_ = stack.Push("remote processor", proc.Stop)

	sctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proc.Serve(sctx) }()
	return stack.Push("remote serve loop", func() error {
		cancel()
		return <-done
	})
}

func (r *Runner) negotiate(ctx context.Context, stack *lifecycle.Stack) (*shm.Buffer, error) {
	ctx, span := r.tracer.Start(ctx, "bench.Negotiate")
	defer span.End()
	n := negotiate.New(negotiate.Options{
		Registry: r.opts.Registry,
		ShmName:  r.cfg.ShmName,
		Meter:    r.opts.Meter,
		Tracer:   r.opts.Tracer,
		Logger:   r.log.Named("negotiate"),
	})
	buf, err := n.Acquire(ctx, r.remoteProc(), r.cfg.TotalPayload())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	_ = stack.Push("shared buffer", n.Release)
	return buf, nil
}

func (r *Runner) handshake(ctx context.Context, t *msgq.Port, buf *shm.Buffer, workers []config.WorkerConfig) error {
	ctx, span := r.tracer.Start(ctx, "bench.Handshake")
	defer span.End()
	p := handshake.New(t, handshake.Options{
		RemoteProc: r.remoteProc(),
		Open:       r.retry(),
		Timeout:    r.cfg.HandshakeTimeout,
		Logger:     r.log.Named("handshake"),
	})
	var err error
	if r.cfg.Mode == config.ModePerThread {
		base, _ := buf.RemoteBase()
		params := make([]handshake.Record, len(workers))
		for i, w := range workers {
			params[i] = handshake.Record{
				Messages:    uint32(w.MessageCount),
				WaitUs:      uint32(w.Interval.Microseconds()),
				PayloadSize: uint32(w.PayloadSize),
				ProcID:      uint32(w.ProcID),
				Direction:   uint32(w.Direction),
			}
		}
		err = p.NegotiatePerThread(ctx, handshake.PerThreadRecords(base, params))
	} else {
		perThread := 0
		if len(workers) > 0 {
			perThread = workers[0].MessageCount
		}
		err = p.Negotiate(ctx, handshake.Record{
			Threads:     uint32(len(workers)),
			Messages:    uint32(perThread),
			PayloadSize: uint32(buf.Size()),
			ProcID:      uint32(r.remoteProc()),
		})
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *Runner) spawn(ctx context.Context, tasks []worker.Task) ([]worker.Result, error) {
	ctx, span := r.tracer.Start(ctx, "bench.Workers", trace.WithAttributes(attribute.Int("bench.tasks", len(tasks))))
	defer span.End()
	h, err := r.pool.Spawn(ctx, tasks)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	results := h.Join()
	for _, res := range results {
		if res.Err != nil {
			span.RecordError(res.Err)
		}
	}
	return results, nil
}

func payloadSizes(workers []config.WorkerConfig) []int {
	sizes := make([]int, len(workers))
	for i, w := range workers {
		sizes[i] = w.PayloadSize
	}
	return sizes
}
