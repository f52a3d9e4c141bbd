package transport

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/foxseedlab/emasr/internal/config"
)

type Variant int

const (
	Plain Variant = iota
	Secure
)

func (v Variant) String() string {
	switch v {
	case Plain:
		return "ws"
	case Secure:
		return "wss"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// SelectVariant picks Secure only when certFile names a readable regular file.
func SelectVariant(certFile string) Variant {
	if certFile == "" {
		return Plain
	}
	f, err := os.Open(certFile)
	if err != nil {
		return Plain
	}
	defer func() {
		_ = f.Close()
	}()
	if fi, err := f.Stat(); err != nil || !fi.Mode().IsRegular() {
		return Plain
	}
	return Secure
}

type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

// Conn is one upgraded client connection. ReadMessage must only be called
// from a single goroutine and returns io.EOF after an orderly close.
// WriteMessage is safe for concurrent use.
type Conn interface {
	ID() string
	RemoteAddr() net.Addr
	ReadMessage() (MessageType, []byte, error)
	WriteMessage(mt MessageType, data []byte) error
	Close() error
}

// Executor runs fn on the network scheduling domain and waits for it.
type Executor interface {
	Execute(ctx context.Context, fn func()) error
}

// ConnHandler takes over a connection once the upgrade has completed and
// returns when the connection is finished.
type ConnHandler interface {
	HandleConn(ctx context.Context, conn Conn)
}

// Listener is the transport surface, bound once and served until closed.
type Listener interface {
	Variant() Variant
	Listen(ip string, port int) error
	Addr() net.Addr
	// Serve runs upgrade handshakes through exec and hands upgraded
	// connections to h. It blocks until Close is called and every
	// HandleConn has returned.
	Serve(exec Executor, h ConnHandler) error
	Close() error
}

// Factory builds the listener for cfg. The variant is chosen once, here.
type Factory func(cfg *config.Config) Listener

// ListenBindError reports a failure to bind the listener.
type ListenBindError struct {
	Variant Variant
	Address string
	Err     error
}

func (e *ListenBindError) Error() string {
	return fmt.Sprintf("listen %s on %s: %v", e.Variant, e.Address, e.Err)
}

func (e *ListenBindError) Unwrap() error {
	return e.Err
}
