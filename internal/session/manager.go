// Package session implements the per-connection recognition protocol.
// A Session is driven from a single network strand; decode work runs on
// the decoder pool and results come back through Output.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/emasr/internal/asr"
	"github.com/foxseedlab/emasr/internal/audio"
	"github.com/foxseedlab/emasr/internal/config"
	"github.com/foxseedlab/emasr/internal/decoder"
	"github.com/foxseedlab/emasr/internal/hotword"
	"github.com/foxseedlab/emasr/internal/journal"
	"github.com/foxseedlab/emasr/internal/transport"
)

const (
	defaultDecodeTimeout = 2 * time.Minute
	// Utterances longer than this are finalized without waiting for the
	// client.
	defaultMaxUtterance = 5 * time.Minute
)

// Output delivers encoded result frames to the client. Send must not block
// on the network.
type Output interface {
	Send(msg []byte)
}

// Handler is one connection's protocol state. HandleMessage and Close are
// never called concurrently.
type Handler interface {
	HandleMessage(mt transport.MessageType, data []byte) error
	Close()
}

type Factory interface {
	NewSession(id, remoteAddr string, out Output) Handler
}

type Options struct {
	Decoders      *decoder.Pool
	Recognizer    asr.Recognizer
	Hotwords      *hotword.Table
	Params        config.DecodeParams
	NewDecoder    audio.DecoderFactory
	Journal       journal.Recorder
	DecodeTimeout time.Duration
	MaxUtterance  time.Duration
}

type Manager struct {
	decoders      *decoder.Pool
	recognizer    asr.Recognizer
	hotwords      *hotword.Table
	params        config.DecodeParams
	newDecoder    audio.DecoderFactory
	journal       journal.Recorder
	decodeTimeout time.Duration
	maxUtterance  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		decoders:      opts.Decoders,
		recognizer:    opts.Recognizer,
		hotwords:      opts.Hotwords,
		params:        opts.Params,
		newDecoder:    opts.NewDecoder,
		journal:       opts.Journal,
		decodeTimeout: opts.DecodeTimeout,
		maxUtterance:  opts.MaxUtterance,
		sessions:      make(map[string]*Session),
	}
	if m.hotwords == nil {
		m.hotwords = hotword.Empty()
	}
	if m.journal == nil {
		m.journal = nopRecorder{}
	}
	if m.decodeTimeout <= 0 {
		m.decodeTimeout = defaultDecodeTimeout
	}
	if m.maxUtterance <= 0 {
		m.maxUtterance = defaultMaxUtterance
	}
	return m
}

func (m *Manager) NewSession(id, remoteAddr string, out Output) Handler {
	s := newSession(m, id, remoteAddr, out)
	m.mu.Lock()
	m.sessions[id] = s
	active := len(m.sessions)
	m.mu.Unlock()
	slog.Info("session opened", "session_id", id, "remote_addr", remoteAddr, "active_sessions", active)
	return s
}

// Active reports the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	active := len(m.sessions)
	m.mu.Unlock()
	slog.Info("session closed", "session_id", id, "active_sessions", active)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(journal.SessionInfo) {}
func (nopRecorder) SegmentFinal(string, string)        {}
func (nopRecorder) SessionClosed(string)               {}
