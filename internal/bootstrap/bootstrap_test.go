package bootstrap

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	extasr "github.com/foxseedlab/emasr/external/asr"
	extaudio "github.com/foxseedlab/emasr/external/audio"
	exthotword "github.com/foxseedlab/emasr/external/hotword"
	exttransport "github.com/foxseedlab/emasr/external/transport"
	"github.com/foxseedlab/emasr/internal/asr"
	"github.com/foxseedlab/emasr/internal/config"
	"github.com/foxseedlab/emasr/internal/journal"
	"github.com/foxseedlab/emasr/internal/transport"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	hotwords := filepath.Join(dir, "hotwords.txt")
	require.NoError(t, os.WriteFile(hotwords, []byte("阿里巴巴 20\n通义实验室\n"), 0o600))
	return &config.Config{
		Env:              "test",
		ListenIP:         "127.0.0.1",
		Port:             0,
		IOThreadNum:      1,
		DecoderThreadNum: 2,
		ModelThreadNum:   1,
		CertFile:         "",
		KeyFile:          "",
		HotwordPath:      hotwords,
		ShutdownTimeout:  5 * time.Second,
		GlobalBeam:       3.0,
		LatticeBeam:      3.0,
		AMScale:          10.0,
		FstIncWts:        20,
		ASRBackend:       config.BackendNull,
	}
}

func testDeps(cfg *config.Config) Deps {
	return Deps{
		Hotwords:    exthotword.NewFileLoader(cfg.FstIncWts),
		NewListener: exttransport.New,
		Models:      extasr.NullInitializer{},
		NewDecoder:  extaudio.NewDecoder,
	}
}

func startService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc, err := New(cfg, testDeps(cfg))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

type clientResult struct {
	Mode    string `json:"mode"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	WavName string `json:"wav_name"`
}

func runUtterance(t *testing.T, addr net.Addr, wavName string) clientResult {
	t.Helper()
	res, err := utterance(addr, wavName)
	require.NoError(t, err)
	return res
}

// utterance sends one offline utterance and returns the final result.
func utterance(addr net.Addr, wavName string) (clientResult, error) {
	var res clientResult
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr.String()+"/", nil)
	if err != nil {
		return res, err
	}
	defer ws.Close()

	frames := []struct {
		mt   int
		data []byte
	}{
		{websocket.TextMessage, []byte(`{"mode":"offline","wav_name":"` + wavName + `","is_speaking":true}`)},
		{websocket.BinaryMessage, make([]byte, 3200)},
		{websocket.TextMessage, []byte(`{"is_speaking":false}`)},
	}
	for _, f := range frames {
		if err := ws.WriteMessage(f.mt, f.data); err != nil {
			return res, err
		}
	}

	if err := ws.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return res, err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, err
	}
	return res, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func TestNew_InvalidConfiguration(t *testing.T) {
	cfg := testConfig(t)
	cfg.DecoderThreadNum = 0
	_, err := New(cfg, testDeps(cfg))
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, ExitConfiguration, ExitCode(err))
}

func TestStart_DecoderWorkersSurviveIdle(t *testing.T) {
	cfg := testConfig(t)
	cfg.DecoderThreadNum = 3
	svc := startService(t, cfg)

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, 3, svc.Stats().Decoders.Alive)

	done := make(chan struct{})
	require.NoError(t, svc.Decoders().Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("decode task submitted after an idle period never ran")
	}
	require.Equal(t, 3, svc.Stats().Decoders.Alive)
}

func TestStart_NetworkWorkersServeConcurrentConnections(t *testing.T) {
	cfg := testConfig(t)
	cfg.IOThreadNum = 2
	svc := startService(t, cfg)
	require.Equal(t, 2, svc.Stats().Network.Alive)

	var wg sync.WaitGroup
	results := make([]clientResult, 6)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = utterance(svc.Addr(), "client")
		}(i)
	}
	wg.Wait()
	for i, res := range results {
		require.NoError(t, errs[i])
		require.True(t, res.IsFinal)
		require.Equal(t, "offline", res.Mode)
		require.Equal(t, "client", res.WavName)
	}
	require.Equal(t, uint64(6), svc.Stats().AcceptedConns)
}

func TestStopNetwork_DoesNotReleaseDecoders(t *testing.T) {
	cfg := testConfig(t)
	svc := startService(t, cfg)

	waited := make(chan error, 1)
	go func() { waited <- svc.Wait() }()

	svc.StopNetwork()
	<-svc.Stopped()
	require.Eventually(t, func() bool { return svc.Stats().Network.Alive == 0 }, 5*time.Second, 10*time.Millisecond)

	select {
	case err := <-waited:
		t.Fatalf("Wait returned before decoders were released: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	stats := svc.Stats()
	require.True(t, stats.DecodersHeld)
	require.True(t, stats.NetworkStopped)
	require.Equal(t, cfg.DecoderThreadNum, stats.Decoders.Alive)

	svc.ReleaseDecoders()
	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after ReleaseDecoders")
	}
	require.Equal(t, 0, svc.Stats().Decoders.Alive)
}

func TestEndToEnd_PlainListenerConnectIdleShutdown(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, testDeps(cfg))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	require.Equal(t, transport.Plain, svc.Variant())
	require.Equal(t, 2, svc.Hotwords().Len())
	w, ok := svc.Hotwords().Weight("通义实验室")
	require.True(t, ok)
	require.Equal(t, int32(20), w)

	res := runUtterance(t, svc.Addr(), "e2e")
	require.True(t, res.IsFinal)
	require.Equal(t, "e2e", res.WavName)

	idle := 5 * time.Second
	if testing.Short() {
		idle = 200 * time.Millisecond
	}
	time.Sleep(idle)
	stats := svc.Stats()
	require.Equal(t, 2, stats.Decoders.Alive)
	require.Equal(t, 1, stats.Network.Alive)
	require.Equal(t, 0, stats.Sessions)

	// A client can still connect after the idle window.
	res = runUtterance(t, svc.Addr(), "after-idle")
	require.True(t, res.IsFinal)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	require.Equal(t, 0, svc.Stats().Decoders.Alive)
	require.Equal(t, 0, svc.Stats().Network.Alive)

	_, _, err = websocket.DefaultDialer.Dial("ws://"+svc.Addr().String()+"/", nil)
	require.Error(t, err)
}

func TestStart_BindFailureJoinsDecoderPool(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig(t)
	cfg.Port = taken.Addr().(*net.TCPAddr).Port
	svc, err := New(cfg, testDeps(cfg))
	require.NoError(t, err)

	err = svc.Start(context.Background())
	var bindErr *transport.ListenBindError
	require.True(t, errors.As(err, &bindErr))
	require.Equal(t, ExitListenBind, ExitCode(err))

	select {
	case <-svc.Decoders().Done():
	default:
		t.Fatal("decoder pool was not joined after bind failure")
	}
	require.False(t, svc.DecodersHeld())
	require.ErrorIs(t, svc.Wait(), ErrNotStarted)
}

type failingInitializer struct{}

func (failingInitializer) Init(context.Context, asr.ModelSet, int) (asr.Recognizer, error) {
	return nil, errors.New("model directory missing")
}

func TestStart_ModelInitFailure(t *testing.T) {
	cfg := testConfig(t)
	deps := testDeps(cfg)
	deps.Models = failingInitializer{}
	svc, err := New(cfg, deps)
	require.NoError(t, err)

	err = svc.Start(context.Background())
	var modelErr *ModelInitError
	require.True(t, errors.As(err, &modelErr))
	require.Equal(t, ExitModelInit, ExitCode(err))
	select {
	case <-svc.Decoders().Done():
	default:
		t.Fatal("decoder pool was not joined after model init failure")
	}

	// The listener was closed, so the port can be bound again.
	l, err := net.Listen("tcp", svc.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestStart_MissingHotwordFileIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.HotwordPath = filepath.Join(t.TempDir(), "absent.txt")
	svc := startService(t, cfg)
	require.Equal(t, 0, svc.Hotwords().Len())
}

func TestStart_Twice(t *testing.T) {
	svc := startService(t, testConfig(t))
	require.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)
}

func TestShutdown_NotStarted(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, testDeps(cfg))
	require.NoError(t, err)
	require.ErrorIs(t, svc.Shutdown(context.Background()), ErrNotStarted)
}

func TestExitCode(t *testing.T) {
	require.Equal(t, ExitOK, ExitCode(nil))
	require.Equal(t, ExitConfiguration, ExitCode(&config.ConfigurationError{Field: "port"}))
	require.Equal(t, ExitListenBind, ExitCode(&transport.ListenBindError{Err: errors.New("in use")}))
	require.Equal(t, ExitModelInit, ExitCode(&ModelInitError{Err: errors.New("x")}))
	require.Equal(t, ExitFailure, ExitCode(&PoolError{Pool: "network", Err: errors.New("x")}))
	require.Equal(t, ExitFailure, ExitCode(errors.New("other")))
}

type recordingJournal struct {
	mu      sync.Mutex
	started []string
	closed  []string
}

func (r *recordingJournal) SessionStarted(info journal.SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, info.WavName)
}

func (r *recordingJournal) SegmentFinal(string, string) {}

func (r *recordingJournal) SessionClosed(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, sessionID)
}

func (r *recordingJournal) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started), len(r.closed)
}

func TestShutdown_ClosesSessionsOfConnectedClients(t *testing.T) {
	cfg := testConfig(t)
	rec := &recordingJournal{}
	deps := testDeps(cfg)
	deps.Journal = rec
	svc, err := New(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	var clients []*websocket.Conn
	for i := 0; i < 3; i++ {
		ws, _, err := websocket.DefaultDialer.Dial("ws://"+svc.Addr().String()+"/", nil)
		require.NoError(t, err)
		defer ws.Close()
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"mode":"online","wav_name":"open","is_speaking":true}`)))
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)))
		clients = append(clients, ws)
	}
	require.Eventually(t, func() bool {
		started, _ := rec.counts()
		return started == len(clients)
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, len(clients), svc.Stats().Sessions)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	started, closed := rec.counts()
	require.Equal(t, started, closed)
	require.Equal(t, 0, svc.Stats().Sessions)
	require.Equal(t, int64(0), svc.Stats().ActiveConns)

	for _, ws := range clients {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := ws.ReadMessage()
		require.Error(t, err)
	}
}
