package handshake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/internal/transport"
	"github.com/srediag/msgq-zcpy/pkg/msgq"
)

type HandshakeTestSuite struct {
	suite.Suite
	bus    *msgq.Bus
	host   *msgq.Port
	remote *msgq.Port

	ctx       context.Context
	cancel    context.CancelFunc
	listeners sync.WaitGroup
}

func TestHandshakeTestSuite(t *testing.T) {
	suite.Run(t, new(HandshakeTestSuite))
}

func (s *HandshakeTestSuite) SetupTest() {
	s.bus = msgq.NewBus(nil)
	s.host = s.bus.Port(transport.ProcHost)
	s.remote = s.bus.Port(transport.ProcIPU2)
	s.Require().NoError(s.host.Start())
	s.Require().NoError(s.remote.Start())
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *HandshakeTestSuite) TearDownTest() {
	s.cancel()
	s.listeners.Wait()
	_ = s.host.Stop()
	_ = s.remote.Stop()
}

// listen acknowledges up to n records on SLAVE_IPU2 and returns what it saw.
func (s *HandshakeTestSuite) listen(n int, ack bool) <-chan []Record {
	remote, ctx := s.remote, s.ctx
	lq, err := remote.Create(transport.RemoteHandshakeQueue("IPU2"))
	s.Require().NoError(err)
	out := make(chan []Record, 1)
	s.listeners.Add(1)
	go func() {
		defer s.listeners.Done()
		var seen []Record
		defer func() { out <- seen }()
		for i := 0; i < n; i++ {
			msg, err := lq.Get(ctx, 2*time.Second)
			if err != nil {
				return
			}
			rec, err := DecodeRecord(msg.Bytes())
			if err != nil {
				return
			}
			seen = append(seen, rec)
			if !ack {
				remote.Free(msg)
				continue
			}
			rq, err := remote.Open(ctx, msg.ReplyQueue)
			if err != nil {
				return
			}
			_ = rq.Put(msg)
			_ = rq.Close()
		}
	}()
	return out
}

func (s *HandshakeTestSuite) options() Options {
	return Options{
		RemoteProc: transport.ProcIPU2,
		Open:       msgq.RetryPolicy{Interval: 5 * time.Millisecond},
		Timeout:    time.Second,
	}
}

func (s *HandshakeTestSuite) TestNegotiate() {
	seen := s.listen(1, true)
	p := New(s.host, s.options())
	s.Equal(Idle, p.State())

	err := p.Negotiate(context.Background(), Record{Threads: 4, Messages: 6300, PayloadSize: 16, ProcID: 1})
	s.Require().NoError(err)
	s.Equal(Done, p.State())

	recs := <-seen
	s.Require().Len(recs, 1)
	s.Equal(KindRun, recs[0].Kind)
	s.Equal(uint32(4), recs[0].Threads)
	s.Equal(uint32(6300), recs[0].Messages)
	s.NotContains(s.bus.Names(), transport.HostHandshakeQueue, "local handshake queue is deleted afterwards")
}

func (s *HandshakeTestSuite) TestNegotiatePerThread() {
	params := []Record{
		{Messages: 400, WaitUs: 2500, PayloadSize: 6400, ProcID: 1, Direction: 0},
		{Messages: 800, WaitUs: 0, PayloadSize: 3200, ProcID: 1, Direction: 1},
		{Messages: 10, WaitUs: 0, PayloadSize: 16, ProcID: 1, Direction: 2},
	}
	seen := s.listen(len(params)+1, true)
	p := New(s.host, s.options())
	s.Require().NoError(p.NegotiatePerThread(context.Background(), PerThreadRecords(0xA0000000, params)))

	recs := <-seen
	s.Require().Len(recs, 4)
	s.Equal(KindCount, recs[0].Kind)
	s.Equal(uint32(3), recs[0].Threads)
	s.Equal(uint32(0xA0000000), recs[1].BufAddr)
	s.Equal(uint32(0xA0000000+6400), recs[2].BufAddr)
	s.Equal(uint32(0xA0000000+6400+3200), recs[3].BufAddr)
	for i, r := range recs[1:] {
		s.Equal(KindThread, r.Kind)
		s.Equal(uint32(i), r.Index)
		s.Equal(params[i].Direction, r.Direction)
		s.Equal(params[i].PayloadSize, r.BufSize)
	}
}

func (s *HandshakeTestSuite) TestAckTimeout() {
	s.listen(1, false)
	opts := s.options()
	opts.Timeout = 30 * time.Millisecond
	p := New(s.host, opts)
	err := p.Negotiate(context.Background(), Record{Threads: 1})
	s.ErrorIs(err, ErrTimeout)
	s.ErrorIs(err, msgq.ErrTimeout)
	s.Equal(Failed, p.State())
}

func (s *HandshakeTestSuite) TestRemoteNeverAppears() {
	opts := s.options()
	opts.Open.MaxRetries = 2
	p := New(s.host, opts)
	err := p.Negotiate(context.Background(), Record{Threads: 1})
	s.ErrorIs(err, msgq.ErrNotFound)
	s.Equal(Failed, p.State())
}

func TestRecordEncoding(t *testing.T) {
	rec := Record{Kind: KindThread, Index: 3, BufAddr: 0xA0001000, BufSize: 64, Messages: 800, WaitUs: 2500, PayloadSize: 64, ProcID: 1, Direction: 1}
	b := make([]byte, RecordSize)
	require.NoError(t, rec.Encode(b))
	assert.Equal(t, uint32(0xA0001000), api.Order.Uint32(b[8:]))
	got, err := DecodeRecord(b)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	assert.Error(t, rec.Encode(b[:8]))
	_, err = DecodeRecord(b[:8])
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ParametersAcknowledged", ParametersAcknowledged.String())
	assert.Equal(t, "State(42)", State(42).String())
}
