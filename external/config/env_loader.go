package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/emasr/internal/config"
	"github.com/spf13/cobra"
)

type envConfig struct {
	Env      string `env:"ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL"`

	ListenIP         string        `env:"EMASR_LISTEN_IP" envDefault:"0.0.0.0"`
	Port             int           `env:"EMASR_PORT" envDefault:"10095"`
	IOThreadNum      int           `env:"EMASR_IO_THREAD_NUM" envDefault:"2"`
	DecoderThreadNum int           `env:"EMASR_DECODER_THREAD_NUM" envDefault:"8"`
	ModelThreadNum   int           `env:"EMASR_MODEL_THREAD_NUM" envDefault:"2"`
	CertFile         string        `env:"EMASR_CERTFILE" envDefault:"ssl_key/server.crt"`
	KeyFile          string        `env:"EMASR_KEYFILE" envDefault:"ssl_key/server.key"`
	ShutdownTimeout  time.Duration `env:"EMASR_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	HotwordPath string  `env:"EMASR_HOTWORD" envDefault:"resources/hotwords.txt"`
	GlobalBeam  float32 `env:"EMASR_GLOBAL_BEAM" envDefault:"3.0"`
	LatticeBeam float32 `env:"EMASR_LATTICE_BEAM" envDefault:"3.0"`
	AMScale     float32 `env:"EMASR_AM_SCALE" envDefault:"10.0"`
	FstIncWts   int32   `env:"EMASR_FST_INC_WTS" envDefault:"20"`

	DownloadModelDir     string `env:"EMASR_DOWNLOAD_MODEL_DIR" envDefault:"/workspace/models"`
	OfflineModelDir      string `env:"EMASR_MODEL_DIR" envDefault:"damo/em-asr-onnx"`
	OnlineModelDir       string `env:"EMASR_ONLINE_MODEL_DIR" envDefault:"damo/em-asr-online-onnx"`
	OfflineModelRevision string `env:"EMASR_OFFLINE_MODEL_REVISION" envDefault:"v2.0.5"`
	OnlineModelRevision  string `env:"EMASR_ONLINE_MODEL_REVISION" envDefault:"v2.0.5"`
	Quantize             string `env:"EMASR_QUANTIZE" envDefault:"true"`
	VADDir               string `env:"EMASR_VAD_DIR" envDefault:"damo/em-vad-onnx"`
	VADRevision          string `env:"EMASR_VAD_REVISION" envDefault:"v2.0.4"`
	VADQuant             string `env:"EMASR_VAD_QUANT" envDefault:"true"`
	PuncDir              string `env:"EMASR_PUNC_DIR" envDefault:"damo/em-punc-onnx"`
	PuncRevision         string `env:"EMASR_PUNC_REVISION" envDefault:"v2.0.5"`
	PuncQuant            string `env:"EMASR_PUNC_QUANT" envDefault:"true"`
	ITNDir               string `env:"EMASR_ITN_DIR" envDefault:"thuduj12/fst_itn_zh"`
	ITNRevision          string `env:"EMASR_ITN_REVISION" envDefault:"v1.0.1"`
	LMDir                string `env:"EMASR_LM_DIR" envDefault:"damo/em-lm"`
	LMRevision           string `env:"EMASR_LM_REVISION" envDefault:"v1.0.2"`

	ASRBackend                 string `env:"EMASR_ASR_BACKEND" envDefault:"null"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
	DefaultLanguage            string `env:"DEFAULT_TRANSCRIBE_LANGUAGE" envDefault:"zh-CN"`

	DatabaseURL          string `env:"DATABASE_URL"`
	TranscriptWebhookURL string `env:"TRANSCRIPT_WEBHOOK_URL"`
}

// Loader resolves configuration from the environment first and then from
// command line flags, which take precedence.
type Loader struct {
	raw    envConfig
	envErr error
}

// Bind parses the environment and registers one flag per setting on cmd,
// using the environment values as flag defaults.
func Bind(cmd *cobra.Command) *Loader {
	l := &Loader{}
	l.envErr = env.Parse(&l.raw)

	f := cmd.Flags()
	r := &l.raw
	f.StringVar(&r.ListenIP, "listen-ip", r.ListenIP, "listen ip")
	f.IntVar(&r.Port, "port", r.Port, "port")
	f.IntVar(&r.IOThreadNum, "io-thread-num", r.IOThreadNum, "io thread num")
	f.IntVar(&r.DecoderThreadNum, "decoder-thread-num", r.DecoderThreadNum, "decoder thread num")
	f.IntVar(&r.ModelThreadNum, "model-thread-num", r.ModelThreadNum, "model thread num")
	f.StringVar(&r.CertFile, "certfile", r.CertFile, "path of certificate for WSS connection. if it is empty, it will be in WS mode.")
	f.StringVar(&r.KeyFile, "keyfile", r.KeyFile, "path of keyfile for WSS connection")
	f.DurationVar(&r.ShutdownTimeout, "shutdown-timeout", r.ShutdownTimeout, "time allowed for each pool to drain on shutdown")

	f.StringVar(&r.HotwordPath, internalconfig.KeyHotword, r.HotwordPath, "the hotword file, one hotword per line")
	f.Float32Var(&r.GlobalBeam, "global-beam", r.GlobalBeam, "the decoding beam for beam searching")
	f.Float32Var(&r.LatticeBeam, "lattice-beam", r.LatticeBeam, "the lattice generation beam for beam searching")
	f.Float32Var(&r.AMScale, "am-scale", r.AMScale, "the acoustic scale for beam searching")
	f.Int32Var(&r.FstIncWts, "fst-inc-wts", r.FstIncWts, "the fst hotwords incremental bias")

	f.StringVar(&r.DownloadModelDir, "download-model-dir", r.DownloadModelDir, "download models to this directory")
	f.StringVar(&r.OfflineModelDir, internalconfig.KeyOfflineModelDir, r.OfflineModelDir, "the offline asr model path")
	f.StringVar(&r.OnlineModelDir, internalconfig.KeyOnlineModelDir, r.OnlineModelDir, "the online asr model path")
	f.StringVar(&r.OfflineModelRevision, internalconfig.KeyOfflineModelRevision, r.OfflineModelRevision, "ASR offline model revision")
	f.StringVar(&r.OnlineModelRevision, internalconfig.KeyOnlineModelRevision, r.OnlineModelRevision, "ASR online model revision")
	f.StringVar(&r.Quantize, internalconfig.KeyQuantize, r.Quantize, "load the quantized asr model")
	f.StringVar(&r.VADDir, internalconfig.KeyVADDir, r.VADDir, "the vad model path")
	f.StringVar(&r.VADRevision, internalconfig.KeyVADRevision, r.VADRevision, "VAD model revision")
	f.StringVar(&r.VADQuant, internalconfig.KeyVADQuant, r.VADQuant, "load the quantized vad model")
	f.StringVar(&r.PuncDir, internalconfig.KeyPuncDir, r.PuncDir, "the punc model path")
	f.StringVar(&r.PuncRevision, internalconfig.KeyPuncRevision, r.PuncRevision, "PUNC model revision")
	f.StringVar(&r.PuncQuant, internalconfig.KeyPuncQuant, r.PuncQuant, "load the quantized punc model")
	f.StringVar(&r.ITNDir, internalconfig.KeyITNDir, r.ITNDir, "the itn model path")
	f.StringVar(&r.ITNRevision, internalconfig.KeyITNRevision, r.ITNRevision, "ITN model revision")
	f.StringVar(&r.LMDir, internalconfig.KeyLMDir, r.LMDir, "the LM model path")
	f.StringVar(&r.LMRevision, internalconfig.KeyLMRevision, r.LMRevision, "LM model revision")

	f.StringVar(&r.ASRBackend, "asr-backend", r.ASRBackend, "recognizer backend: null or cloudspeech")
	f.StringVar(&r.LogLevel, "log-level", r.LogLevel, "debug, info, warn or error")
	return l
}

// Load builds and validates the runtime configuration. It must be called
// after the command line has been parsed.
func (l *Loader) Load() (*internalconfig.Config, error) {
	if l.envErr != nil {
		return nil, &internalconfig.ConfigurationError{Field: "environment", Reason: l.envErr.Error()}
	}
	raw := l.raw

	quant, err := parseQuantFlags(raw)
	if err != nil {
		return nil, err
	}

	cfg := &internalconfig.Config{
		Env:              raw.Env,
		LogLevel:         raw.LogLevel,
		ListenIP:         raw.ListenIP,
		Port:             raw.Port,
		IOThreadNum:      raw.IOThreadNum,
		DecoderThreadNum: raw.DecoderThreadNum,
		ModelThreadNum:   raw.ModelThreadNum,
		CertFile:         raw.CertFile,
		KeyFile:          raw.KeyFile,
		ShutdownTimeout:  raw.ShutdownTimeout,

		HotwordPath: raw.HotwordPath,
		GlobalBeam:  raw.GlobalBeam,
		LatticeBeam: raw.LatticeBeam,
		AMScale:     raw.AMScale,
		FstIncWts:   raw.FstIncWts,

		DownloadModelDir: raw.DownloadModelDir,
		OfflineModel:     internalconfig.ModelDir{Dir: raw.OfflineModelDir, Revision: raw.OfflineModelRevision, Quantize: quant[internalconfig.KeyQuantize]},
		OnlineModel:      internalconfig.ModelDir{Dir: raw.OnlineModelDir, Revision: raw.OnlineModelRevision, Quantize: quant[internalconfig.KeyQuantize]},
		VADModel:         internalconfig.ModelDir{Dir: raw.VADDir, Revision: raw.VADRevision, Quantize: quant[internalconfig.KeyVADQuant]},
		PuncModel:        internalconfig.ModelDir{Dir: raw.PuncDir, Revision: raw.PuncRevision, Quantize: quant[internalconfig.KeyPuncQuant]},
		ITNModel:         internalconfig.ModelDir{Dir: raw.ITNDir, Revision: raw.ITNRevision},
		LMModel:          internalconfig.ModelDir{Dir: raw.LMDir, Revision: raw.LMRevision},

		ASRBackend:                 raw.ASRBackend,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		DefaultLanguage:            raw.DefaultLanguage,

		DatabaseURL:          raw.DatabaseURL,
		TranscriptWebhookURL: raw.TranscriptWebhookURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseQuantFlags(raw envConfig) (map[string]bool, error) {
	out := make(map[string]bool, 3)
	for key, value := range map[string]string{
		internalconfig.KeyQuantize:  raw.Quantize,
		internalconfig.KeyVADQuant:  raw.VADQuant,
		internalconfig.KeyPuncQuant: raw.PuncQuant,
	} {
		b, err := internalconfig.ParseBool(value)
		if err != nil {
			return nil, &internalconfig.ConfigurationError{Field: key, Reason: fmt.Sprintf("%v", err)}
		}
		out[key] = b
	}
	return out, nil
}
