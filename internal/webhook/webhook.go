package webhook

import "context"

const TranscriptWebhookSchemaVersion = "2026-10-01"

type TranscriptWebhookSegment struct {
	Index      int    `json:"index"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
	Transcript string `json:"transcript"`
}

// TranscriptWebhookPayload is posted once per finished session that
// produced at least one final result.
type TranscriptWebhookPayload struct {
	SchemaVersion      string                     `json:"schema_version"`
	SessionID          string                     `json:"session_id"`
	RemoteAddr         string                     `json:"remote_addr"`
	Mode               string                     `json:"mode"`
	WavName            string                     `json:"wav_name"`
	StartAt            string                     `json:"start_at"`
	EndAt              string                     `json:"end_at"`
	DurationSeconds    int64                      `json:"duration_seconds"`
	SegmentCount       int                        `json:"segment_count"`
	TranscriptSegments []TranscriptWebhookSegment `json:"transcript_segments"`
	Filename           string                     `json:"filename"`
	Document           string                     `json:"document"`
	Transcript         string                     `json:"transcript"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}
