// Package network runs the server's connection handling on a fixed set of
// network workers. Every connection gets a strand on the pool so its
// session state is only touched by one worker at a time.
package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/foxseedlab/emasr/internal/session"
	"github.com/foxseedlab/emasr/internal/transport"
	"github.com/foxseedlab/emasr/internal/worker"
)

type Pool struct {
	workers  *worker.Pool
	sessions session.Factory

	active   atomic.Int64
	accepted atomic.Uint64
}

func New(size int, sessions session.Factory) (*Pool, error) {
	workers, err := worker.New("network", size)
	if err != nil {
		return nil, err
	}
	return &Pool{workers: workers, sessions: sessions}, nil
}

// Workers exposes the underlying pool for lifecycle control.
func (p *Pool) Workers() *worker.Pool {
	return p.workers
}

func (p *Pool) Execute(ctx context.Context, fn func()) error {
	return p.workers.Execute(ctx, fn)
}

// Active reports connections currently being served.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

func (p *Pool) Accepted() uint64 {
	return p.accepted.Load()
}

// HandleConn reads frames from conn and runs each one on the connection's
// strand. It returns once the connection has failed or been closed.
func (p *Pool) HandleConn(ctx context.Context, conn transport.Conn) {
	p.active.Add(1)
	p.accepted.Add(1)
	defer p.active.Add(-1)
	defer func() {
		_ = conn.Close()
	}()

	strand := p.workers.NewStrand()
	out := &connOutput{conn: conn, strand: strand}

	// Once NewSession is queued it may run whatever happens to ctx, so the
	// handler must stay around to close what it opened.
	var sess session.Handler
	if err := strand.Execute(context.WithoutCancel(ctx), func() {
		sess = p.sessions.NewSession(conn.ID(), remoteAddr(conn), out)
	}); err != nil || sess == nil {
		slog.Warn("failed to open session", "conn_id", conn.ID(), "error", err)
		return
	}
	defer p.closeSession(strand, sess)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			logReadError(conn.ID(), err)
			return
		}
		var handleErr error
		if err := strand.Execute(ctx, func() {
			handleErr = sess.HandleMessage(mt, data)
		}); err != nil {
			slog.Warn("network pool unavailable; dropping connection", "conn_id", conn.ID(), "error", err)
			return
		}
		if handleErr != nil {
			slog.Warn("closing connection after message error", "conn_id", conn.ID(), "error", handleErr)
			return
		}
	}
}

// closeSession runs Close on the strand after any frame still queued
// there. If the pool stops before Close gets to run, it runs here once
// the workers have exited so it never overlaps a handler still in flight.
func (p *Pool) closeSession(strand *worker.Strand, sess session.Handler) {
	err := strand.Execute(context.Background(), sess.Close)
	if err == nil || errors.Is(err, worker.ErrTaskFault) {
		return
	}
	<-p.workers.Done()
	sess.Close()
}

type connOutput struct {
	conn   transport.Conn
	strand *worker.Strand
}

// Send queues the write on the connection's strand.
func (o *connOutput) Send(msg []byte) {
	err := o.strand.Post(func() {
		if err := o.conn.WriteMessage(transport.TextMessage, msg); err != nil {
			slog.Debug("failed to write result", "conn_id", o.conn.ID(), "error", err)
		}
	})
	if err != nil {
		slog.Debug("dropping result for connection", "conn_id", o.conn.ID(), "error", err)
	}
}

func remoteAddr(conn transport.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func logReadError(connID string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		slog.Debug("connection closed", "conn_id", connID, "reason", err.Error())
		return
	}
	slog.Info("connection read failed", "conn_id", connID, "error", err)
}
