package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foxseedlab/emasr/internal/asr"
	"github.com/foxseedlab/emasr/internal/hotword"
	"github.com/goccy/go-json"
)

const (
	defaultSampleRate = 16000
	// One chunk_size unit is 60ms of audio.
	chunkUnitMs = 60
)

var (
	ErrProtocol = errors.New("protocol error")

	defaultChunkSize = []int{5, 10, 5}
)

// startMessage is the JSON text frame a client sends to configure a
// session and, with is_speaking false, to end an utterance.
type startMessage struct {
	Mode       string          `json:"mode"`
	WavName    string          `json:"wav_name"`
	WavFormat  string          `json:"wav_format"`
	AudioFS    int             `json:"audio_fs"`
	ChunkSize  []int           `json:"chunk_size"`
	IsSpeaking *bool           `json:"is_speaking"`
	Hotwords   json.RawMessage `json:"hotwords"`
	ITN        *bool           `json:"itn"`
}

type resultMessage struct {
	Mode    string `json:"mode"`
	WavName string `json:"wav_name"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

func parseStartMessage(data []byte) (startMessage, error) {
	var msg startMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return startMessage{}, fmt.Errorf("%w: invalid json: %v", ErrProtocol, err)
	}
	if msg.Mode != "" && !asr.Mode(msg.Mode).Valid() {
		return startMessage{}, fmt.Errorf("%w: unknown mode %q", ErrProtocol, msg.Mode)
	}
	if msg.AudioFS < 0 {
		return startMessage{}, fmt.Errorf("%w: negative audio_fs %d", ErrProtocol, msg.AudioFS)
	}
	if msg.ChunkSize != nil && (len(msg.ChunkSize) != 3 || msg.ChunkSize[1] <= 0) {
		return startMessage{}, fmt.Errorf("%w: chunk_size must be three values with a positive middle, got %v", ErrProtocol, msg.ChunkSize)
	}
	return msg, nil
}

// parseHotwords reads the per-session hotwords field. Clients send either
// a JSON object of text to weight, a string holding such an object, or a
// string with one "text [weight]" entry per line.
func parseHotwords(raw json.RawMessage, defaultWeight int32) (*hotword.Table, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var weights map[string]int32
	if err := json.Unmarshal(raw, &weights); err == nil {
		return tableFromMap(weights), nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("%w: hotwords must be an object or a string", ErrProtocol)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &weights); err != nil {
			return nil, fmt.Errorf("%w: invalid hotwords object: %v", ErrProtocol, err)
		}
		return tableFromMap(weights), nil
	}
	var entries []hotword.Entry
	for _, line := range strings.Split(text, "\n") {
		e, ok, err := hotword.ParseLine(line, defaultWeight)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if ok {
			entries = append(entries, e)
		}
	}
	return hotword.NewTable(entries), nil
}

func tableFromMap(weights map[string]int32) *hotword.Table {
	entries := make([]hotword.Entry, 0, len(weights))
	for text, w := range weights {
		if text = strings.TrimSpace(text); text != "" {
			entries = append(entries, hotword.Entry{Text: text, Weight: w})
		}
	}
	return hotword.NewTable(entries)
}

// chunkStrideBytes is the number of PCM bytes between two online partial
// results.
func chunkStrideBytes(chunkSize []int, sampleRate int) int {
	if len(chunkSize) != 3 || chunkSize[1] <= 0 {
		chunkSize = defaultChunkSize
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return sampleRate * 2 * chunkSize[1] * chunkUnitMs / 1000
}

// resultMode labels a result the way clients expect for the session mode.
func resultMode(mode asr.Mode, final bool) string {
	if mode != asr.ModeTwoPass {
		return string(mode)
	}
	if final {
		return "2pass-offline"
	}
	return "2pass-online"
}

func encodeResult(msg resultMessage) ([]byte, error) {
	return json.Marshal(msg)
}
