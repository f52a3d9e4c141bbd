// Package bootstrap brings the server up in a fixed order and takes it
// down again:
//
//  1. configuration is resolved by the caller and validated by New
//  2. the hotword table is loaded
//  3. the transport variant is selected and the listener built
//  4. the decoder pool is spawned behind a keep-alive
//  5. the listener is bound and the recognizer initialized
//  6. the network pool is spawned behind a keep-alive and serving begins
//  7. Wait joins the network pool
//  8. Wait then joins the decoder pool
//
// Joining the network pool never releases the decoder keep-alive.
// ReleaseDecoders is the only trigger that lets the decoder pool drain.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/foxseedlab/emasr/internal/asr"
	"github.com/foxseedlab/emasr/internal/audio"
	"github.com/foxseedlab/emasr/internal/config"
	"github.com/foxseedlab/emasr/internal/decoder"
	"github.com/foxseedlab/emasr/internal/hotword"
	"github.com/foxseedlab/emasr/internal/journal"
	"github.com/foxseedlab/emasr/internal/network"
	"github.com/foxseedlab/emasr/internal/session"
	"github.com/foxseedlab/emasr/internal/transport"
	"github.com/foxseedlab/emasr/internal/worker"
)

var (
	ErrNotStarted     = errors.New("bootstrap: service not started")
	ErrAlreadyStarted = errors.New("bootstrap: service already started")
)

type Deps struct {
	Hotwords    hotword.Loader
	NewListener transport.Factory
	Models      asr.Initializer
	NewDecoder  audio.DecoderFactory
	Journal     journal.Recorder
}

type Stats struct {
	Decoders       worker.Stats
	Network        worker.Stats
	Sessions       int
	ActiveConns    int64
	AcceptedConns  uint64
	DecodersHeld   bool
	NetworkStopped bool
}

type Service struct {
	cfg  *config.Config
	deps Deps

	mu           sync.Mutex
	started      bool
	hotwords     *hotword.Table
	listener     transport.Listener
	decoders     *decoder.Pool
	decoderGuard *worker.KeepAlive
	recognizer   asr.Recognizer
	sessions     *session.Manager
	network      *network.Pool
	networkGuard *worker.KeepAlive

	decodersHeld bool
	stopOnce     sync.Once
	stopped      chan struct{}
	serveDone    chan struct{}
}

// New validates cfg and deps. Nothing is started.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Field: "config", Reason: "missing"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Hotwords == nil || deps.NewListener == nil || deps.Models == nil || deps.NewDecoder == nil {
		return nil, errors.New("bootstrap: hotword loader, listener factory, model initializer and audio decoder factory are required")
	}
	return &Service{
		cfg:       cfg,
		deps:      deps,
		stopped:   make(chan struct{}),
		serveDone: make(chan struct{}),
	}, nil
}

// Start runs startup phases 2 to 6. On failure every pool already spawned
// has been released and joined.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	table, err := s.deps.Hotwords.Load(s.cfg.HotwordPath)
	var warn *hotword.LoadWarning
	switch {
	case errors.As(err, &warn):
		slog.Warn("startup: hotword file unavailable; continuing without hotwords", "path", warn.Path, "error", warn.Err)
	case err != nil:
		return fmt.Errorf("load hotwords: %w", err)
	}
	if table == nil {
		table = hotword.Empty()
	}
	s.hotwords = table
	slog.Info("startup: hotwords loaded", "path", s.cfg.HotwordPath, "count", table.Len())

	s.listener = s.deps.NewListener(s.cfg)
	if s.listener.Variant() == transport.Secure {
		slog.Info("startup: SSL is opened", "cert_file", s.cfg.CertFile, "key_file", s.cfg.KeyFile)
	} else {
		slog.Info("startup: SSL is closed", "cert_file", s.cfg.CertFile)
	}

	decoders, err := decoder.New(s.cfg.DecoderThreadNum)
	if err != nil {
		return &PoolError{Pool: "decoder", Err: err}
	}
	s.decoderGuard = decoders.KeepAlive()
	s.decodersHeld = true
	if err := decoders.Start(); err != nil {
		return &PoolError{Pool: "decoder", Err: err}
	}
	s.decoders = decoders
	slog.Info("startup: decoder pool started", "decoder_thread_num", s.cfg.DecoderThreadNum)

	if err := s.listener.Listen(s.cfg.ListenIP, s.cfg.Port); err != nil {
		s.abortDecodersLocked()
		return err
	}
	models := asr.ModelSetFromConfig(s.cfg)
	rec, err := s.deps.Models.Init(ctx, models, s.cfg.ModelThreadNum)
	if err != nil {
		_ = s.listener.Close()
		s.abortDecodersLocked()
		return &ModelInitError{Err: err}
	}
	s.recognizer = asr.Limit(rec, s.cfg.ModelThreadNum)
	slog.Info("startup: asr model init finished", "address", s.listener.Addr().String(), "variant", s.listener.Variant().String(), "model_thread_num", s.cfg.ModelThreadNum, "models", models)

	s.sessions = session.NewManager(session.Options{
		Decoders:   s.decoders,
		Recognizer: s.recognizer,
		Hotwords:   s.hotwords,
		Params:     s.cfg.DecodeParams(),
		NewDecoder: s.deps.NewDecoder,
		Journal:    s.deps.Journal,
	})
	netPool, err := network.New(s.cfg.IOThreadNum, s.sessions)
	if err != nil {
		_ = s.listener.Close()
		s.abortDecodersLocked()
		return &PoolError{Pool: "network", Err: err}
	}
	s.networkGuard = netPool.Workers().KeepAlive()
	if err := netPool.Workers().Start(); err != nil {
		_ = s.listener.Close()
		s.abortDecodersLocked()
		return &PoolError{Pool: "network", Err: err}
	}
	s.network = netPool

	go s.serve()
	slog.Info("startup: network pool started", "io_thread_num", s.cfg.IOThreadNum, "address", s.listener.Addr().String())
	return nil
}

func (s *Service) serve() {
	defer close(s.serveDone)
	err := s.listener.Serve(s.network, s.network)
	if err != nil {
		slog.Error("listener stopped with error; stopping network pool", "error", err)
	}
	s.StopNetwork()
}

// abortDecodersLocked tears down a decoder pool spawned before a later
// startup phase failed.
func (s *Service) abortDecodersLocked() {
	if s.decoders == nil {
		return
	}
	s.decoderGuard.Release()
	s.decodersHeld = false
	s.decoders.Join()
	slog.Info("startup: decoder pool joined after startup failure")
}

// Wait runs phases 7 and 8: it joins the network pool, then the decoder
// pool. The second join only returns after ReleaseDecoders.
func (s *Service) Wait() error {
	netPool, decoders, err := s.pools()
	if err != nil {
		return err
	}
	netPool.Workers().Join()
	slog.Info("network workers joined")
	if s.DecodersHeld() {
		slog.Warn("decoder keep-alive still held after network join; waiting for ReleaseDecoders")
	}
	decoders.Join()
	slog.Info("decoder workers joined")
	return nil
}

// StopNetwork closes the listener, drops the network keep-alive and stops
// the network pool so its workers can be joined. It does not touch the
// decoder pool.
func (s *Service) StopNetwork() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		listener, netPool, guard := s.listener, s.network, s.networkGuard
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil {
				slog.Warn("failed to close listener", "error", err)
			}
		}
		if guard != nil {
			guard.Release()
		}
		if netPool != nil {
			netPool.Workers().Stop()
		}
		close(s.stopped)
		slog.Info("network domain stopped")
	})
}

// ReleaseDecoders drops the decoder keep-alive. Queued decode tasks still
// run; the workers exit once the queue is empty. Safe to call repeatedly.
func (s *Service) ReleaseDecoders() {
	s.mu.Lock()
	guard := s.decoderGuard
	held := s.decodersHeld
	s.decodersHeld = false
	s.mu.Unlock()
	if guard == nil || !held {
		return
	}
	guard.Release()
	slog.Info("decoder keep-alive released")
}

// Shutdown stops the network domain, joins it, waits for the listener's
// connection handlers, then releases the decoders and joins them, bounded
// by ctx. The recognizer is closed last.
func (s *Service) Shutdown(ctx context.Context) error {
	netPool, decoders, err := s.pools()
	if err != nil {
		return err
	}
	s.StopNetwork()
	if err := netPool.Workers().JoinContext(ctx); err != nil {
		return err
	}
	slog.Info("shutdown: network workers joined")
	// Connection handlers close their sessions once the network workers
	// are gone; their close events still go through the decoder pool.
	select {
	case <-s.serveDone:
	case <-ctx.Done():
		s.ReleaseDecoders()
		return fmt.Errorf("wait for connection handlers: %w", ctx.Err())
	}
	slog.Info("shutdown: connection handlers finished")
	s.ReleaseDecoders()
	if err := decoders.JoinContext(ctx); err != nil {
		return err
	}
	slog.Info("shutdown: decoder workers joined")
	if err := s.recognizer.Close(); err != nil {
		slog.Warn("failed to close recognizer", "error", err)
	}
	return nil
}

// Stopped is closed once StopNetwork has run, whatever triggered it.
func (s *Service) Stopped() <-chan struct{} {
	return s.stopped
}

func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Service) Variant() transport.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return transport.SelectVariant(s.cfg.CertFile)
	}
	return s.listener.Variant()
}

func (s *Service) Hotwords() *hotword.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hotwords
}

// Decoders exposes the decoder pool so callers can submit work directly.
func (s *Service) Decoders() *decoder.Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decoders
}

func (s *Service) DecodersHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodersHeld
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	if s.decoders != nil {
		st.Decoders = s.decoders.Stats()
	}
	if s.network != nil {
		st.Network = s.network.Workers().Stats()
		st.ActiveConns = s.network.Active()
		st.AcceptedConns = s.network.Accepted()
	}
	if s.sessions != nil {
		st.Sessions = s.sessions.Active()
	}
	st.DecodersHeld = s.decodersHeld
	select {
	case <-s.stopped:
		st.NetworkStopped = true
	default:
	}
	return st
}

func (s *Service) pools() (*network.Pool, *decoder.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.network == nil || s.decoders == nil {
		return nil, nil, ErrNotStarted
	}
	return s.network, s.decoders, nil
}
