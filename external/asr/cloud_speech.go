package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/emasr/internal/asr"
	"github.com/foxseedlab/emasr/internal/hotword"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	speechAPIEndpointPort = 443
	audioChannelCount     = 1
	maxPhraseBoost        = 20
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// CloudSpeechInitializer opens one Cloud Speech client at startup. Model
// directories are only logged; inference happens remotely.
type CloudSpeechInitializer struct {
	cfg CloudSpeechConfig
}

func NewCloudSpeechInitializer(cfg CloudSpeechConfig) *CloudSpeechInitializer {
	cfg.Location = strings.TrimSpace(cfg.Location)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Location == "" {
		cfg.Location = "global"
	}
	return &CloudSpeechInitializer{cfg: cfg}
}

func (i *CloudSpeechInitializer) Init(ctx context.Context, models asr.ModelSet, threads int) (asr.Recognizer, error) {
	slog.Info("initializing cloud speech recognizer", "project_id", i.cfg.ProjectID, "location", i.cfg.Location, "model", i.cfg.Model, "models", models, "threads", threads)
	if i.cfg.ProjectID == "" {
		return nil, errors.New("cloud speech: project id is empty")
	}

	detect := &credentials.DetectOptions{
		Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
	}
	if i.cfg.CredentialsJSON != "" {
		detect.CredentialsJSON = []byte(i.cfg.CredentialsJSON)
	}
	creds, err := credentials.DetectDefault(detect)
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if i.cfg.Location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", i.cfg.Location, speechAPIEndpointPort)))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &cloudSpeechRecognizer{
		client:     client,
		recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", i.cfg.ProjectID, i.cfg.Location),
		language:   i.cfg.Language,
		model:      i.cfg.Model,
	}, nil
}

type cloudSpeechRecognizer struct {
	client     *speech.Client
	recognizer string
	language   string
	model      string
}

func (r *cloudSpeechRecognizer) Recognize(ctx context.Context, req asr.Request) (asr.Result, error) {
	if len(req.Audio) == 0 {
		return asr.Result{Final: req.Final}, nil
	}
	in := buildRecognizeRequest(r.recognizer, r.model, r.language, req)
	resp, err := r.client.Recognize(ctx, in)
	if err != nil && isRetryableError(err) {
		slog.Warn("cloud speech recognize failed with retryable error; retrying", "session_id", req.SessionID, "error", err)
		resp, err = r.client.Recognize(ctx, in)
	}
	if err != nil {
		return asr.Result{}, fmt.Errorf("cloud speech recognize: %w", err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		if text := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	return asr.Result{Text: strings.Join(parts, " "), Final: req.Final}, nil
}

func (r *cloudSpeechRecognizer) Close() error {
	return r.client.Close()
}

func buildRecognizeRequest(recognizer, model, language string, req asr.Request) *speechpb.RecognizeRequest {
	cfg := &speechpb.RecognitionConfig{
		Model:         model,
		LanguageCodes: []string{language},
		DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
				SampleRateHertz:   int32(req.SampleRate),
				AudioChannelCount: audioChannelCount,
			},
		},
		Features: &speechpb.RecognitionFeatures{
			EnableAutomaticPunctuation: req.Final,
		},
	}
	if phrases := phraseSet(req.Hotwords); phrases != nil {
		cfg.Adaptation = &speechpb.SpeechAdaptation{
			PhraseSets: []*speechpb.SpeechAdaptation_AdaptationPhraseSet{{
				Value: &speechpb.SpeechAdaptation_AdaptationPhraseSet_InlinePhraseSet{
					InlinePhraseSet: phrases,
				},
			}},
		}
	}
	return &speechpb.RecognizeRequest{
		Recognizer:  recognizer,
		Config:      cfg,
		AudioSource: &speechpb.RecognizeRequest_Content{Content: req.Audio},
	}
}

// phraseSet maps hotword weights onto Cloud Speech boost values.
func phraseSet(table *hotword.Table) *speechpb.PhraseSet {
	entries := table.Entries()
	if len(entries) == 0 {
		return nil
	}
	phrases := make([]*speechpb.PhraseSet_Phrase, 0, len(entries))
	for _, e := range entries {
		boost := float32(e.Weight)
		if boost > maxPhraseBoost {
			boost = maxPhraseBoost
		}
		if boost <= 0 {
			continue
		}
		phrases = append(phrases, &speechpb.PhraseSet_Phrase{Value: e.Text, Boost: boost})
	}
	if len(phrases) == 0 {
		return nil
	}
	return &speechpb.PhraseSet{Phrases: phrases}
}

func isRetryableError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.Aborted:
		return true
	}
	return false
}
