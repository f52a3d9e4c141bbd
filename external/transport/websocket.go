package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/foxseedlab/emasr/internal/transport"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 10 * time.Second
	maxMessageBytes   = 4 << 20
)

// WebSocketListener serves ws or wss depending on its variant. The variant
// is fixed at construction.
type WebSocketListener struct {
	variant  transport.Variant
	certFile string
	keyFile  string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	ln      net.Listener
	server  *http.Server
	exec    transport.Executor
	handler transport.ConnHandler
	conns   map[*wsConn]struct{}
	// handlers counts in-flight handleUpgrade calls. Serve waits for them
	// after Close so no handler outlives it.
	handlers sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewWebSocketListener(variant transport.Variant, certFile, keyFile string) *WebSocketListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketListener{
		variant:  variant,
		certFile: certFile,
		keyFile:  keyFile,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:  make(map[*wsConn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *WebSocketListener) Variant() transport.Variant {
	return l.variant
}

func (l *WebSocketListener) Listen(ip string, port int) error {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	bindErr := func(err error) error {
		return &transport.ListenBindError{Variant: l.variant, Address: addr, Err: err}
	}
	if net.ParseIP(ip) == nil {
		return bindErr(fmt.Errorf("invalid listen ip %q", ip))
	}

	var tlsConfig *tls.Config
	if l.variant == transport.Secure {
		cert, err := tls.LoadX509KeyPair(l.certFile, l.keyFile)
		if err != nil {
			return bindErr(fmt.Errorf("load certificate: %w", err))
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return bindErr(err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		_ = ln.Close()
		return bindErr(errors.New("listener already bound"))
	}
	l.ln = ln
	slog.Info("transport listening", "variant", l.variant.String(), "address", ln.Addr().String())
	return nil
}

func (l *WebSocketListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *WebSocketListener) Serve(exec transport.Executor, h transport.ConnHandler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)

	l.mu.Lock()
	if l.ln == nil {
		l.mu.Unlock()
		return errors.New("transport: Serve called before Listen")
	}
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		return nil
	}
	l.exec = exec
	l.handler = h
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return l.ctx },
	}
	server, ln := l.server, l.ln
	l.mu.Unlock()

	err := server.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", l.variant, err)
	}
	l.handlers.Wait()
	return nil
}

// handleUpgrade runs on the http server's connection goroutine. The
// handshake itself runs on the network pool; afterwards this goroutine
// only waits for inbound frames.
func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !l.beginHandler() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer l.handlers.Done()

	var (
		ws         *websocket.Conn
		upgradeErr error
	)
	// The handshake writes to w, so it must not outlive this handler:
	// Execute only returns early when the pool is gone for good.
	err := l.exec.Execute(context.WithoutCancel(r.Context()), func() {
		ws, upgradeErr = l.upgrader.Upgrade(w, r, nil)
	})
	if err != nil {
		slog.Warn("rejecting connection; network pool unavailable", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if upgradeErr != nil {
		slog.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", upgradeErr)
		return
	}

	ws.SetReadLimit(maxMessageBytes)
	conn := &wsConn{id: uuid.NewString(), ws: ws}
	if !l.track(conn) {
		_ = conn.Close()
		return
	}
	defer l.untrack(conn)
	defer func() {
		_ = conn.Close()
	}()

	slog.Info("connection accepted", "conn_id", conn.id, "remote_addr", r.RemoteAddr, "variant", l.variant.String())
	l.handler.HandleConn(l.ctx, conn)
	slog.Info("connection closed", "conn_id", conn.id)
}

// beginHandler registers a handler unless Close has started. Close
// cancels under the same lock, so no handler is added once Serve waits.
func (l *WebSocketListener) beginHandler() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return false
	}
	l.handlers.Add(1)
	return true
}

func (l *WebSocketListener) track(c *wsConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return false
	}
	l.conns[c] = struct{}{}
	return true
}

func (l *WebSocketListener) untrack(c *wsConn) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
}

// Close stops accepting and closes every upgraded connection, which the
// http server does not track once hijacked. It does not wait for their
// handlers; Serve returns once they are done.
func (l *WebSocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.cancel()
		server, ln := l.server, l.ln
		conns := make([]*wsConn, 0, len(l.conns))
		for c := range l.conns {
			conns = append(conns, c)
		}
		l.mu.Unlock()

		if server != nil {
			err = server.Close()
		} else if ln != nil {
			err = ln.Close()
		}
		for _, c := range conns {
			_ = c.Close()
		}
		slog.Info("transport closed", "variant", l.variant.String(), "open_connections", len(conns))
	})
	return err
}

type wsConn struct {
	id        string
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) ReadMessage() (transport.MessageType, []byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return 0, nil, io.EOF
			}
			return 0, nil, err
		}
		switch mt {
		case websocket.TextMessage:
			return transport.TextMessage, data, nil
		case websocket.BinaryMessage:
			return transport.BinaryMessage, data, nil
		}
	}
}

func (c *wsConn) WriteMessage(mt transport.MessageType, data []byte) error {
	wsType := websocket.TextMessage
	if mt == transport.BinaryMessage {
		wsType = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(wsType, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
