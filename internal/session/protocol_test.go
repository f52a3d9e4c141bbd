package session

import (
	"errors"
	"testing"

	"github.com/foxseedlab/emasr/internal/asr"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestParseStartMessage(t *testing.T) {
	msg, err := parseStartMessage([]byte(`{"mode":"2pass","wav_name":"mic","wav_format":"pcm","audio_fs":16000,"chunk_size":[5,10,5],"is_speaking":true,"itn":false}`))
	require.NoError(t, err)
	require.Equal(t, "2pass", msg.Mode)
	require.Equal(t, "mic", msg.WavName)
	require.Equal(t, 16000, msg.AudioFS)
	require.NotNil(t, msg.IsSpeaking)
	require.True(t, *msg.IsSpeaking)
	require.NotNil(t, msg.ITN)
	require.False(t, *msg.ITN)
}

func TestParseStartMessage_Rejects(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"mode":"streaming"}`,
		`{"audio_fs":-1}`,
		`{"chunk_size":[5,0,5]}`,
		`{"chunk_size":[10]}`,
	} {
		_, err := parseStartMessage([]byte(in))
		require.True(t, errors.Is(err, ErrProtocol), "input %s", in)
	}
}

func TestParseHotwords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]int32
	}{
		{name: "object", raw: `{"阿里巴巴": 20, "达摩院": 15}`, want: map[string]int32{"阿里巴巴": 20, "达摩院": 15}},
		{name: "object in string", raw: `"{\"hello\": 30}"`, want: map[string]int32{"hello": 30}},
		{name: "lines", raw: `"speech lab 12\nfunasr"`, want: map[string]int32{"speech lab": 12, "funasr": 7}},
		{name: "empty string", raw: `""`, want: map[string]int32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := parseHotwords(json.RawMessage(tt.raw), 7)
			require.NoError(t, err)
			require.Equal(t, tt.want, table.Map())
		})
	}
}

func TestParseHotwords_Invalid(t *testing.T) {
	_, err := parseHotwords(json.RawMessage(`42`), 7)
	require.ErrorIs(t, err, ErrProtocol)
	_, err = parseHotwords(json.RawMessage(`"word 1.5"`), 7)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestChunkStrideBytes(t *testing.T) {
	require.Equal(t, 19200, chunkStrideBytes([]int{5, 10, 5}, 16000))
	require.Equal(t, 9600, chunkStrideBytes([]int{5, 10, 5}, 8000))
	require.Equal(t, 19200, chunkStrideBytes(nil, 0))
}

func TestResultMode(t *testing.T) {
	require.Equal(t, "online", resultMode(asr.ModeOnline, true))
	require.Equal(t, "offline", resultMode(asr.ModeOffline, true))
	require.Equal(t, "2pass-online", resultMode(asr.ModeTwoPass, false))
	require.Equal(t, "2pass-offline", resultMode(asr.ModeTwoPass, true))
}
