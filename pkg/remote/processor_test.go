package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/config"
	"github.com/srediag/msgq-zcpy/pkg/handshake"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
	"github.com/srediag/msgq-zcpy/pkg/negotiate"
	"github.com/srediag/msgq-zcpy/pkg/rpc"
	"github.com/srediag/msgq-zcpy/pkg/shm"
	"github.com/srediag/msgq-zcpy/pkg/verify"
	"github.com/srediag/msgq-zcpy/pkg/worker"
)

type ProcessorTestSuite struct {
	suite.Suite
	reg    *rpc.Registry
	host   *msgq.Port
	proc   *Processor
	cancel context.CancelFunc
	done   chan error
	open   msgq.RetryPolicy
}

func TestProcessorTestSuite(t *testing.T) {
	suite.Run(t, new(ProcessorTestSuite))
}

func (s *ProcessorTestSuite) SetupTest() {
	s.open = msgq.RetryPolicy{Interval: 5 * time.Millisecond}
	bus := msgq.NewBus(nil)
	s.reg = rpc.NewRegistry()
	proc, err := New(bus, Options{Registry: s.reg, Open: s.open})
	s.Require().NoError(err)
	s.Require().NoError(proc.Start())
	s.proc = proc

	s.host = bus.Port(transport.ProcHost)
	s.Require().NoError(s.host.Start())

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	done := make(chan error, 1)
	s.done = done
	go func() { done <- proc.Serve(ctx) }()
}

func (s *ProcessorTestSuite) TearDownTest() {
	s.cancel()
	s.NoError(<-s.done)
	s.NoError(s.proc.Stop())
	s.NoError(s.host.Stop())
}

func (s *ProcessorTestSuite) acquire(size int) (*negotiate.Negotiator, *shm.Buffer) {
	n := negotiate.New(negotiate.Options{Registry: s.reg})
	buf, err := n.Acquire(context.Background(), transport.ProcIPU2, size)
	s.Require().NoError(err)
	return n, buf
}

func (s *ProcessorTestSuite) run(buf *shm.Buffer, workers []config.WorkerConfig) []worker.Result {
	sizes := make([]int, len(workers))
	for i, w := range workers {
		sizes[i] = w.PayloadSize
	}
	views, err := shm.Partition(buf, sizes)
	s.Require().NoError(err)
	tasks, err := worker.Tasks(workers, views)
	s.Require().NoError(err)
	pool := worker.NewPool(worker.Options{Transport: s.host, Open: s.open, ReceiveTimeout: 5 * time.Second})
	h, err := pool.Spawn(context.Background(), tasks)
	s.Require().NoError(err)
	return h.Join()
}

func (s *ProcessorTestSuite) TestSingleChannelRun() {
	n, buf := s.acquire(4 * 16)
	defer n.Release()

	hs := handshake.New(s.host, handshake.Options{RemoteProc: transport.ProcIPU2, Open: s.open, Timeout: time.Second})
	s.Require().NoError(hs.Negotiate(context.Background(), handshake.Record{Threads: 4, Messages: 200, PayloadSize: 4 * 16, ProcID: 1}))

	workers := make([]config.WorkerConfig, 4)
	for i := range workers {
		workers[i] = config.WorkerConfig{Index: i, Direction: config.Bidirectional, PayloadSize: 16, MessageCount: 200, ProcID: 1}
	}
	for _, r := range s.run(buf, workers) {
		s.Require().NoError(r.Err)
		s.Equal(200, r.Received)
	}

	v := verify.New(s.host, verify.Options{Open: s.open, Timeout: time.Second})
	s.Require().NoError(v.Verify(context.Background(), buf))
	s.Eventually(func() bool { return s.proc.Runs() == 1 }, time.Second, 5*time.Millisecond)
}

func (s *ProcessorTestSuite) TestPerThreadRun() {
	workers := []config.WorkerConfig{
		{Index: 0, Direction: config.Send, PayloadSize: 64, MessageCount: 40, Interval: 100 * time.Microsecond, ProcID: 1},
		{Index: 1, Direction: config.Receive, PayloadSize: 32, MessageCount: 800, ProcID: 1},
		{Index: 2, Direction: config.Bidirectional, PayloadSize: 16, MessageCount: 30, ProcID: 1},
	}
	n, buf := s.acquire(64 + 32 + 16)
	defer n.Release()
	base, _ := buf.RemoteBase()

	params := make([]handshake.Record, len(workers))
	for i, w := range workers {
		params[i] = handshake.Record{Messages: uint32(w.MessageCount), WaitUs: uint32(w.Interval.Microseconds()), PayloadSize: uint32(w.PayloadSize), ProcID: uint32(w.ProcID), Direction: uint32(w.Direction)}
	}
	hs := handshake.New(s.host, handshake.Options{RemoteProc: transport.ProcIPU2, Open: s.open, Timeout: time.Second})
	s.Require().NoError(hs.NegotiatePerThread(context.Background(), handshake.PerThreadRecords(base, params)))

	results := s.run(buf, workers)
	s.Require().Len(results, 3)
	for _, r := range results {
		s.Require().NoError(r.Err)
	}
	s.Equal(40, results[0].Sent)
	s.Equal(800, results[1].Received)
	s.Equal(30, results[2].Received)

	s.Require().NoError(verify.New(s.host, verify.Options{Open: s.open, Timeout: time.Second}).Verify(context.Background(), buf))
	s.Eventually(func() bool { return s.proc.Runs() == 1 }, time.Second, 5*time.Millisecond)
}

func (s *ProcessorTestSuite) TestFailedTaskStillReachesDataTransact() {
	n, buf := s.acquire(64)
	defer n.Release()
	base, _ := buf.RemoteBase()

	hs := handshake.New(s.host, handshake.Options{RemoteProc: transport.ProcIPU2, Open: s.open, Timeout: time.Second})
	params := []handshake.Record{{Messages: 20, WaitUs: 20000, PayloadSize: 64, ProcID: 1, Direction: uint32(config.Receive)}}
	s.Require().NoError(hs.NegotiatePerThread(context.Background(), handshake.PerThreadRecords(base, params)))

	// Take one message and walk away; the remote sender fails on its next put.
	lq, err := s.host.Create(transport.HostRecvQueue(0))
	s.Require().NoError(err)
	msg, err := lq.Get(context.Background(), time.Second)
	s.Require().NoError(err)
	s.host.Free(msg)
	s.Require().NoError(lq.Delete())

	v := verify.New(s.host, verify.Options{Open: s.open, Timeout: 2 * time.Second})
	s.Require().NoError(v.Verify(context.Background(), buf))
	s.Never(func() bool { return s.proc.Runs() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *ProcessorTestSuite) TestBackToBackRuns() {
	for run := 1; run <= 2; run++ {
		n, buf := s.acquire(16)
		hs := handshake.New(s.host, handshake.Options{RemoteProc: transport.ProcIPU2, Open: s.open, Timeout: time.Second})
		s.Require().NoError(hs.Negotiate(context.Background(), handshake.Record{Threads: 1, Messages: 10, PayloadSize: 16, ProcID: 1}))
		results := s.run(buf, []config.WorkerConfig{{Index: 0, Direction: config.Bidirectional, PayloadSize: 16, MessageCount: 10, ProcID: 1}})
		s.Require().NoError(results[0].Err)
		s.Require().NoError(verify.New(s.host, verify.Options{Open: s.open, Timeout: time.Second}).Verify(context.Background(), buf))
		s.Require().NoError(n.Release())
		want := int64(run)
		s.Eventually(func() bool { return s.proc.Runs() == want }, time.Second, 5*time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	bus := msgq.NewBus(nil)
	_, err := New(bus, Options{})
	assert.Error(t, err)
	_, err = New(bus, Options{Proc: 9, Registry: rpc.NewRegistry()})
	assert.Error(t, err)

	p, err := New(bus, Options{Registry: rpc.NewRegistry()})
	require.NoError(t, err)
	assert.Equal(t, "IPU2", p.Name())
	assert.Equal(t, "rpc_example_1", p.Server().Name())
}

func TestStart_DuplicateService(t *testing.T) {
	bus := msgq.NewBus(nil)
	reg := rpc.NewRegistry()
	a, err := New(bus, Options{Registry: reg})
	require.NoError(t, err)
	require.NoError(t, a.Start())
	defer a.Stop()
	b, err := New(bus, Options{Registry: reg})
	require.NoError(t, err)
	assert.ErrorIs(t, b.Start(), rpc.ErrServiceExists)
}
