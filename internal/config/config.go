package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Model path keys, matching the server's flag names.
const (
	KeyOfflineModelDir      = "model-dir"
	KeyOnlineModelDir       = "online-model-dir"
	KeyQuantize             = "quantize"
	KeyVADDir               = "vad-dir"
	KeyVADQuant             = "vad-quant"
	KeyPuncDir              = "punc-dir"
	KeyPuncQuant            = "punc-quant"
	KeyITNDir               = "itn-dir"
	KeyLMDir                = "lm-dir"
	KeyHotword              = "hotword"
	KeyOfflineModelRevision = "offline-model-revision"
	KeyOnlineModelRevision  = "online-model-revision"
	KeyVADRevision          = "vad-revision"
	KeyPuncRevision         = "punc-revision"
	KeyITNRevision          = "itn-revision"
	KeyLMRevision           = "lm-revision"
)

const (
	BackendNull        = "null"
	BackendCloudSpeech = "cloudspeech"
)

type ModelDir struct {
	Dir      string
	Revision string
	Quantize bool
}

// Config is resolved once at startup and shared read-only afterwards.
type Config struct {
	Env      string
	LogLevel string

	ListenIP         string
	Port             int
	IOThreadNum      int
	DecoderThreadNum int
	ModelThreadNum   int
	CertFile         string
	KeyFile          string
	ShutdownTimeout  time.Duration

	HotwordPath string
	GlobalBeam  float32
	LatticeBeam float32
	AMScale     float32
	FstIncWts   int32

	DownloadModelDir string
	OfflineModel     ModelDir
	OnlineModel      ModelDir
	VADModel         ModelDir
	PuncModel        ModelDir
	ITNModel         ModelDir
	LMModel          ModelDir

	ASRBackend                 string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	DefaultLanguage            string

	DatabaseURL          string
	TranscriptWebhookURL string
}

// DecodeParams carries the beam-search parameters handed to every decode task.
type DecodeParams struct {
	GlobalBeam  float32
	LatticeBeam float32
	AMScale     float32
	FstIncWts   int32
}

// ConfigurationError reports a configuration value that cannot be used.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func (c *Config) Validate() error {
	if net.ParseIP(c.ListenIP) == nil {
		return &ConfigurationError{Field: "listen-ip", Reason: fmt.Sprintf("%q is not an IP address", c.ListenIP)}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigurationError{Field: "port", Reason: fmt.Sprintf("%d is out of range", c.Port)}
	}
	for _, req := range c.positiveFieldChecks() {
		if req.value <= 0 {
			return &ConfigurationError{Field: req.name, Reason: fmt.Sprintf("must be positive, got %d", req.value)}
		}
	}
	if c.GlobalBeam <= 0 || c.LatticeBeam <= 0 || c.AMScale <= 0 {
		return &ConfigurationError{Field: "global-beam/lattice-beam/am-scale", Reason: "must be positive"}
	}
	if c.CertFile != "" && c.KeyFile == "" {
		return &ConfigurationError{Field: "keyfile", Reason: "required when certfile is set"}
	}
	switch c.ASRBackend {
	case BackendNull:
	case BackendCloudSpeech:
		if c.GoogleCloudProjectID == "" {
			return &ConfigurationError{Field: "GOOGLE_CLOUD_PROJECT_ID", Reason: "required for the cloudspeech backend"}
		}
	default:
		return &ConfigurationError{Field: "asr-backend", Reason: fmt.Sprintf("unknown backend %q", c.ASRBackend)}
	}
	if c.ShutdownTimeout <= 0 {
		return &ConfigurationError{Field: "shutdown-timeout", Reason: "must be positive"}
	}
	return nil
}

type positiveField struct {
	name  string
	value int
}

func (c *Config) positiveFieldChecks() []positiveField {
	return []positiveField{
		{name: "io-thread-num", value: c.IOThreadNum},
		{name: "decoder-thread-num", value: c.DecoderThreadNum},
		{name: "model-thread-num", value: c.ModelThreadNum},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Address returns the host:port the transport binds to.
func (c *Config) Address() string {
	return net.JoinHostPort(c.ListenIP, strconv.Itoa(c.Port))
}

func (c *Config) DecodeParams() DecodeParams {
	return DecodeParams{
		GlobalBeam:  c.GlobalBeam,
		LatticeBeam: c.LatticeBeam,
		AMScale:     c.AMScale,
		FstIncWts:   c.FstIncWts,
	}
}

// ModelPaths returns a fresh map keyed by flag name. Callers may modify it.
func (c *Config) ModelPaths() map[string]string {
	return map[string]string{
		KeyOfflineModelDir:      c.OfflineModel.Dir,
		KeyOnlineModelDir:       c.OnlineModel.Dir,
		KeyQuantize:             strconv.FormatBool(c.OfflineModel.Quantize),
		KeyVADDir:               c.VADModel.Dir,
		KeyVADQuant:             strconv.FormatBool(c.VADModel.Quantize),
		KeyPuncDir:              c.PuncModel.Dir,
		KeyPuncQuant:            strconv.FormatBool(c.PuncModel.Quantize),
		KeyITNDir:               c.ITNModel.Dir,
		KeyLMDir:                c.LMModel.Dir,
		KeyHotword:              c.HotwordPath,
		KeyOfflineModelRevision: c.OfflineModel.Revision,
		KeyOnlineModelRevision:  c.OnlineModel.Revision,
		KeyVADRevision:          c.VADModel.Revision,
		KeyPuncRevision:         c.PuncModel.Revision,
		KeyITNRevision:          c.ITNModel.Revision,
		KeyLMRevision:           c.LMModel.Revision,
	}
}

// ParseBool accepts the "true"/"false" strings used by the quantize flags.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}
