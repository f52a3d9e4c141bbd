// Package asr defines the recognizer surface the server schedules decode
// work against. Inference itself lives behind Recognizer implementations.
package asr

import (
	"context"
	"log/slog"

	"github.com/foxseedlab/emasr/internal/config"
	"github.com/foxseedlab/emasr/internal/hotword"
)

type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
	ModeTwoPass Mode = "2pass"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeOnline, ModeOffline, ModeTwoPass:
		return true
	}
	return false
}

// Request is a self-contained decode job. Audio is 16-bit little-endian
// mono PCM owned by the request.
type Request struct {
	SessionID  string
	Audio      []byte
	SampleRate int
	Final      bool
	Mode       Mode
	ITN        bool
	Hotwords   *hotword.Table
	Params     config.DecodeParams
}

type Result struct {
	Text  string
	Final bool
}

type Recognizer interface {
	Recognize(ctx context.Context, req Request) (Result, error)
	Close() error
}

// ModelSet names every model directory handed to an Initializer.
type ModelSet struct {
	DownloadDir string
	Offline     config.ModelDir
	Online      config.ModelDir
	VAD         config.ModelDir
	Punc        config.ModelDir
	ITN         config.ModelDir
	LM          config.ModelDir
}

func ModelSetFromConfig(cfg *config.Config) ModelSet {
	return ModelSet{
		DownloadDir: cfg.DownloadModelDir,
		Offline:     cfg.OfflineModel,
		Online:      cfg.OnlineModel,
		VAD:         cfg.VADModel,
		Punc:        cfg.PuncModel,
		ITN:         cfg.ITNModel,
		LM:          cfg.LMModel,
	}
}

// LogValue lists the model entries the way they are logged at startup.
func (m ModelSet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("download_dir", m.DownloadDir),
		slog.String("offline", m.Offline.Dir+"@"+m.Offline.Revision),
		slog.String("online", m.Online.Dir+"@"+m.Online.Revision),
		slog.String("vad", m.VAD.Dir+"@"+m.VAD.Revision),
		slog.String("punc", m.Punc.Dir+"@"+m.Punc.Revision),
		slog.String("itn", m.ITN.Dir+"@"+m.ITN.Revision),
		slog.String("lm", m.LM.Dir+"@"+m.LM.Revision),
	)
}

// Initializer loads models once at startup. threads bounds concurrent
// inference calls.
type Initializer interface {
	Init(ctx context.Context, models ModelSet, threads int) (Recognizer, error)
}
