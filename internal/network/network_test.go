package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/emasr/internal/session"
	"github.com/foxseedlab/emasr/internal/transport"
	"github.com/stretchr/testify/require"
)

type frame struct {
	mt   transport.MessageType
	data []byte
}

type fakeConn struct {
	id     string
	in     chan frame
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, in: make(chan frame, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
}

func (c *fakeConn) ReadMessage() (transport.MessageType, []byte, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return f.mt, f.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ transport.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, w := range c.written {
		out = append(out, string(w))
	}
	return out
}

type echoSession struct {
	factory *echoFactory
	out     session.Output
	busy    atomic.Bool
}

func (s *echoSession) HandleMessage(mt transport.MessageType, data []byte) error {
	if !s.busy.CompareAndSwap(false, true) {
		s.factory.overlaps.Add(1)
	}
	defer s.busy.Store(false)

	if s.factory.gate != nil {
		s.factory.entered <- struct{}{}
		<-s.factory.gate
	}
	if string(data) == "bad" {
		return errors.New("bad frame")
	}
	s.out.Send(data)
	return nil
}

func (s *echoSession) Close() {
	s.factory.closed.Add(1)
}

type echoFactory struct {
	opened   atomic.Int32
	closed   atomic.Int32
	overlaps atomic.Int32
	gate     chan struct{}
	entered  chan struct{}
}

func (f *echoFactory) NewSession(_, _ string, out session.Output) session.Handler {
	f.opened.Add(1)
	return &echoSession{factory: f, out: out}
}

func newStartedPool(t *testing.T, size int, f session.Factory) *Pool {
	t.Helper()
	p, err := New(size, f)
	require.NoError(t, err)
	guard := p.Workers().KeepAlive()
	require.NoError(t, p.Workers().Start())
	t.Cleanup(func() {
		guard.Release()
		p.Workers().Stop()
		p.Workers().Join()
	})
	return p
}

func TestHandleConn_EchoesInOrderAndClosesSession(t *testing.T) {
	f := &echoFactory{}
	p := newStartedPool(t, 3, f)
	conn := newFakeConn("c1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.HandleConn(context.Background(), conn)
	}()
	for _, msg := range []string{"a", "b", "c", "d"} {
		conn.in <- frame{mt: transport.BinaryMessage, data: []byte(msg)}
	}
	close(conn.in)
	<-done

	require.Eventually(t, func() bool { return f.closed.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"a", "b", "c", "d"}, conn.writes())
	require.Equal(t, int32(0), f.overlaps.Load())
	require.Equal(t, int64(0), p.Active())
	require.Equal(t, uint64(1), p.Accepted())
}

func TestHandleConn_MessageErrorDropsConnection(t *testing.T) {
	f := &echoFactory{}
	p := newStartedPool(t, 1, f)
	conn := newFakeConn("c2")

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.HandleConn(context.Background(), conn)
	}()
	conn.in <- frame{mt: transport.TextMessage, data: []byte("bad")}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("HandleConn did not return after a message error")
	}
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection was not closed")
	}
	require.Eventually(t, func() bool { return f.closed.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestHandleConn_ConnectionsShareWorkers(t *testing.T) {
	const workers = 2
	f := &echoFactory{gate: make(chan struct{}), entered: make(chan struct{}, 8)}
	p := newStartedPool(t, workers, f)

	conns := make([]*fakeConn, workers)
	var wg sync.WaitGroup
	for i := range conns {
		conns[i] = newFakeConn(string(rune('x' + i)))
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			p.HandleConn(context.Background(), c)
		}(conns[i])
		conns[i].in <- frame{mt: transport.BinaryMessage, data: []byte("hi")}
	}

	// Both connections are inside a handler at once, one per worker.
	for i := 0; i < workers; i++ {
		select {
		case <-f.entered:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d connections were serviced concurrently", i, workers)
		}
	}
	require.Equal(t, workers, p.Workers().Stats().Running)
	close(f.gate)

	for _, c := range conns {
		close(c.in)
	}
	wg.Wait()
}

func TestHandleConn_PoolStopped(t *testing.T) {
	f := &echoFactory{}
	p, err := New(1, f)
	require.NoError(t, err)
	require.NoError(t, p.Workers().Start())
	p.Workers().Join()

	conn := newFakeConn("c3")
	p.HandleConn(context.Background(), conn)
	require.Equal(t, int32(0), f.opened.Load())
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection was not closed")
	}
}

func TestExecute_RunsOnNetworkWorkers(t *testing.T) {
	p := newStartedPool(t, 1, &echoFactory{})
	var ran atomic.Bool
	require.NoError(t, p.Execute(context.Background(), func() { ran.Store(true) }))
	require.True(t, ran.Load())
}

func TestHandleConn_ClosesSessionWhenPoolStopsWithCloseQueued(t *testing.T) {
	f := &echoFactory{}
	p, err := New(1, f)
	require.NoError(t, err)
	guard := p.Workers().KeepAlive()
	require.NoError(t, p.Workers().Start())

	conn := newFakeConn("c4")
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.HandleConn(context.Background(), conn)
	}()
	require.Eventually(t, func() bool { return f.opened.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Hold the only worker so Close queues behind it.
	release := make(chan struct{})
	require.NoError(t, p.Workers().Post(func() { <-release }))
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return p.Workers().Stats().Queued == 1 }, 5*time.Second, 10*time.Millisecond)

	guard.Release()
	p.Workers().Stop()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("HandleConn did not return after the pool stopped")
	}
	require.Equal(t, int32(1), f.closed.Load())
	p.Workers().Join()
}

func TestHandleConn_CancelledWhileOpeningStillClosesSession(t *testing.T) {
	f := &echoFactory{}
	p := newStartedPool(t, 1, f)

	release := make(chan struct{})
	require.NoError(t, p.Workers().Post(func() { <-release }))

	ctx, cancel := context.WithCancel(context.Background())
	conn := newFakeConn("c5")
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.HandleConn(ctx, conn)
	}()
	require.Eventually(t, func() bool { return p.Workers().Stats().Queued == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	close(conn.in)
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("HandleConn did not return")
	}
	require.Equal(t, int32(1), f.opened.Load())
	require.Equal(t, int32(1), f.closed.Load())
}
