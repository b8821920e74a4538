package worker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/internal/logger"
	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/config"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
	"github.com/srediag/msgq-zcpy/pkg/shm"
)

type fixture struct {
	host   *msgq.Port
	remote *msgq.Port
	buf    *shm.Buffer
}

func newFixture(t *testing.T, size int) *fixture {
	t.Helper()
	bus := msgq.NewBus(nil)
	f := &fixture{host: bus.Port(transport.ProcHost), remote: bus.Port(transport.ProcIPU2)}
	require.NoError(t, f.host.Start())
	require.NoError(t, f.remote.Start())
	buf, err := shm.Open(context.Background(), shm.OpenOptions{Size: size})
	require.NoError(t, err)
	require.NoError(t, buf.SetRemoteBase(0xA0000000))
	f.buf = buf
	t.Cleanup(func() {
		_ = f.host.Stop()
		_ = f.remote.Stop()
		_ = buf.Close()
	})
	return f
}

func (f *fixture) tasks(t *testing.T, workers []config.WorkerConfig) []Task {
	t.Helper()
	sizes := make([]int, len(workers))
	for i, w := range workers {
		sizes[i] = w.PayloadSize
	}
	views, err := shm.Partition(f.buf, sizes)
	require.NoError(t, err)
	tasks, err := Tasks(workers, views)
	require.NoError(t, err)
	return tasks
}

func (f *fixture) options() Options {
	return Options{
		Transport:      f.host,
		Open:           msgq.RetryPolicy{Interval: 5 * time.Millisecond},
		ReceiveTimeout: 2 * time.Second,
	}
}

// echo answers every message on name with the same id, optionally mangled.
func (f *fixture) echo(t *testing.T, name string, mangle func(id uint32) uint32) {
	t.Helper()
	lq, err := f.remote.Create(name)
	require.NoError(t, err)
	go func() {
		for {
			msg, err := lq.Get(context.Background(), msgq.Forever)
			if err != nil {
				return
			}
			rq, err := f.remote.Open(context.Background(), msg.ReplyQueue)
			if err != nil {
				f.remote.Free(msg)
				continue
			}
			if mangle != nil {
				msg.ID = mangle(msg.ID)
			}
			_ = rq.Put(msg)
			_ = rq.Close()
		}
	}()
}

// sendIDs puts the given ids on name once it exists.
func (f *fixture) sendIDs(name string, ids []uint32) {
	go func() {
		rq, err := msgq.Dial(context.Background(), f.remote, name, msgq.RetryPolicy{Interval: 5 * time.Millisecond, MaxRetries: 200})
		if err != nil {
			return
		}
		for _, id := range ids {
			msg := f.remote.Alloc(api.DescriptorSize)
			msg.ID = id
			_ = rq.Put(msg)
		}
	}()
}

func sequence(n int) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i)
	}
	return ids
}

func bidirectional(n, count, size int) []config.WorkerConfig {
	workers := make([]config.WorkerConfig, n)
	for i := range workers {
		workers[i] = config.WorkerConfig{Index: i, Direction: config.Bidirectional, PayloadSize: size, MessageCount: count, ProcID: 1}
	}
	return workers
}

func TestSpawn_ZeroMessagesDoesNotTouchTransport(t *testing.T) {
	pool := NewPool(Options{})
	h, err := pool.Spawn(context.Background(), []Task{{Config: config.WorkerConfig{Direction: config.Bidirectional}}})
	require.NoError(t, err)
	results := h.Join()
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Zero(t, results[0].Sent)
	assert.Equal(t, int64(1), pool.State().Finished())
	assert.Equal(t, time.Duration(0), results[0].PerMessage())
}

func TestSpawn_NoTasks(t *testing.T) {
	h, err := NewPool(Options{}).Spawn(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, h.Join())
}

func TestSpawn_BidirectionalRoundTrip(t *testing.T) {
	workers := bidirectional(4, 6300, 16)
	f := newFixture(t, 4*16)
	for i := range workers {
		f.echo(t, transport.RemoteQueue(i), nil)
	}
	reg := prometheus.NewRegistry()
	opts := f.options()
	opts.Registerer = reg
	pool := NewPool(opts)

	h, err := pool.Spawn(context.Background(), f.tasks(t, workers))
	require.NoError(t, err)
	results := h.Join()
	for i, r := range results {
		require.NoError(t, r.Err, "worker %d", i)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, 6300, r.Sent)
		assert.Equal(t, 6300, r.Received)
	}
	assert.Equal(t, int64(4), pool.State().Started())
	assert.Equal(t, int64(0), pool.State().Running())
	assert.Equal(t, int64(0), pool.State().Failed())

	var m dto.Metric
	require.NoError(t, pool.metrics.messages.WithLabelValues("bidirectional", "received").Write(&m))
	assert.Equal(t, float64(4*6300), m.GetCounter().GetValue())
}

func TestSpawn_BidirectionalWrongReply(t *testing.T) {
	f := newFixture(t, 16)
	f.echo(t, transport.RemoteQueue(0), func(id uint32) uint32 { return id + 1 })
	h, err := NewPool(f.options()).Spawn(context.Background(), f.tasks(t, bidirectional(1, 5, 16)))
	require.NoError(t, err)
	r := h.Join()[0]
	var seqErr *SequenceError
	require.ErrorAs(t, r.Err, &seqErr)
	assert.ErrorIs(t, r.Err, ErrSequence)
	assert.Equal(t, uint32(0), seqErr.Want)
	assert.Equal(t, uint32(1), seqErr.Got)
}

func TestSpawn_ReceiveOnlyStrictIDs(t *testing.T) {
	f := newFixture(t, 640)
	workers := []config.WorkerConfig{{Index: 0, Direction: config.Receive, PayloadSize: 640, MessageCount: 800, Interval: 2500 * time.Microsecond, ProcID: 1}}
	f.sendIDs(transport.HostRecvQueue(0), sequence(800))

	h, err := NewPool(f.options()).Spawn(context.Background(), f.tasks(t, workers))
	require.NoError(t, err)
	r := h.Join()[0]
	require.NoError(t, r.Err)
	assert.Equal(t, 800, r.Received)
	assert.Zero(t, r.Sent)
}

func TestSpawn_ReceiveOnlyOutOfOrder(t *testing.T) {
	f := newFixture(t, 16)
	workers := []config.WorkerConfig{{Index: 0, Direction: config.Receive, PayloadSize: 16, MessageCount: 4, ProcID: 1}}
	f.sendIDs(transport.HostRecvQueue(0), []uint32{0, 1, 3, 2})

	h, err := NewPool(f.options()).Spawn(context.Background(), f.tasks(t, workers))
	require.NoError(t, err)
	r := h.Join()[0]
	var seqErr *SequenceError
	require.ErrorAs(t, r.Err, &seqErr)
	assert.Equal(t, uint32(2), seqErr.Want)
	assert.Equal(t, uint32(3), seqErr.Got)
	assert.Equal(t, 2, r.Received)
}

func TestSpawn_SendOnly(t *testing.T) {
	f := newFixture(t, 64)
	lq, err := f.remote.Create(transport.RemoteRecvQueue(0))
	require.NoError(t, err)
	workers := []config.WorkerConfig{{Index: 0, Direction: config.Send, PayloadSize: 64, MessageCount: 20, Interval: time.Millisecond, ProcID: 1}}

	h, err := NewPool(f.options()).Spawn(context.Background(), f.tasks(t, workers))
	require.NoError(t, err)
	r := h.Join()[0]
	require.NoError(t, r.Err)
	assert.Equal(t, 20, r.Sent)
	assert.GreaterOrEqual(t, r.Elapsed, 20*time.Millisecond)

	for i := 0; i < 20; i++ {
		msg, err := lq.Get(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), msg.ID)
		d, err := api.DecodeDescriptor(msg.Bytes())
		require.NoError(t, err)
		assert.Equal(t, api.Descriptor{Addr: 0xA0000000, Size: 64}, d)
		f.remote.Free(msg)
	}
}

func TestSpawn_PartialFailureLeavesSiblingsRunning(t *testing.T) {
	f := newFixture(t, 32)
	workers := []config.WorkerConfig{
		{Index: 0, Direction: config.Receive, PayloadSize: 16, MessageCount: 1, ProcID: 1},
		{Index: 1, Direction: config.Bidirectional, PayloadSize: 16, MessageCount: 10, ProcID: 1},
	}
	f.echo(t, transport.RemoteQueue(1), nil)
	opts := f.options()
	opts.ReceiveTimeout = 50 * time.Millisecond
	pool := NewPool(opts)

	h, err := pool.Spawn(context.Background(), f.tasks(t, workers))
	require.NoError(t, err)
	results := h.Join()
	assert.ErrorIs(t, results[0].Err, msgq.ErrTimeout)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 10, results[1].Received)
	assert.Equal(t, int64(1), pool.State().Failed())
}

func TestHandle_Cancel(t *testing.T) {
	f := newFixture(t, 16)
	workers := []config.WorkerConfig{{Index: 0, Direction: config.Receive, PayloadSize: 16, MessageCount: 1, ProcID: 1}}
	opts := f.options()
	opts.ReceiveTimeout = msgq.Forever
	h, err := NewPool(opts).Spawn(context.Background(), f.tasks(t, workers))
	require.NoError(t, err)
	time.AfterFunc(20*time.Millisecond, h.Cancel)
	r := h.Join()[0]
	assert.ErrorIs(t, r.Err, msgq.ErrCancelled)
}

func TestTasks_QueueNames(t *testing.T) {
	workers := []config.WorkerConfig{
		{Index: 0, Direction: config.Send},
		{Index: 1, Direction: config.Receive},
		{Index: 2, Direction: config.Bidirectional},
	}
	tasks, err := Tasks(workers, make([]*shm.View, 3))
	require.NoError(t, err)
	assert.Equal(t, Task{Config: workers[0], RemoteQueue: "M4_RECV_MQ_0"}, tasks[0])
	assert.Equal(t, Task{Config: workers[1], LocalQueue: "A15_RECV_MQ_1"}, tasks[1])
	assert.Equal(t, Task{Config: workers[2], LocalQueue: "HOST_2", RemoteQueue: "SLAVE_2"}, tasks[2])

	_, err = Tasks(workers, nil)
	assert.Error(t, err)
}

func TestSpawn_PanicIsReportedAsTaskError(t *testing.T) {
	pool := NewPool(Options{Logger: logger.New("worker", io.Discard)})
	task := Task{
		Config:      config.WorkerConfig{Index: 3, Direction: config.Send, PayloadSize: 16, MessageCount: 1},
		RemoteQueue: "M4_RECV_MQ_3",
	}
	h, err := pool.Spawn(context.Background(), []Task{task})
	require.NoError(t, err)
	results := h.Join()
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "worker 3: panic")

	state := pool.State()
	assert.EqualValues(t, 1, state.Started())
	assert.EqualValues(t, 1, state.Finished())
	assert.EqualValues(t, 1, state.Failed())
	assert.Zero(t, state.Running())
}

func TestPool_RejectKeepsStateConsistent(t *testing.T) {
	pool := NewPool(Options{Logger: logger.New("worker", io.Discard)})
	res := pool.reject(Task{Config: config.WorkerConfig{Index: 1, Direction: config.Receive}}, ants.ErrPoolClosed)
	assert.ErrorIs(t, res.Err, ants.ErrPoolClosed)
	assert.Equal(t, 1, res.Index)

	state := pool.State()
	assert.EqualValues(t, 1, state.Started())
	assert.EqualValues(t, 1, state.Finished())
	assert.EqualValues(t, 1, state.Failed())
	assert.Zero(t, state.Running())
}
