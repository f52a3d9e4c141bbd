package journal

import (
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/emasr/internal/repository"
)

func TestBuildTranscriptText(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	startedAt := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	endedAt := startedAt.Add(2 * time.Minute)
	segments := []repository.TranscriptSegment{
		{SegmentIndex: 0, SpokenAt: startedAt.Add(15 * time.Second), Content: "你好"},
		{SegmentIndex: 1, SpokenAt: startedAt.Add(75 * time.Second), Content: "欢迎使用"},
	}

	body := buildTranscriptText(SessionInfo{ID: "s-1", RemoteAddr: "10.0.0.2:4312", Mode: "2pass", WavName: "mic"}, startedAt, endedAt, loc, segments)

	for _, want := range []string{
		"session: s-1",
		"client: 10.0.0.2:4312",
		"period: 2026-02-28 20:00:00 ~ 2026-02-28 20:02:00 (Asia/Shanghai)",
		"wav: mic",
		"00:00:15 你好",
		"00:01:15 欢迎使用",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("%q not found in body: %s", want, body)
		}
	}
}

func TestBuildTranscriptWebhookPayload_SegmentEndAtRules(t *testing.T) {
	startedAt := time.Date(2026, 2, 28, 19, 0, 0, 0, time.UTC)
	segments := []repository.TranscriptSegment{
		{SegmentIndex: 0, SpokenAt: startedAt.Add(10 * time.Second), Content: "first"},
		{SegmentIndex: 1, SpokenAt: startedAt.Add(30 * time.Second), Content: "second"},
	}
	endedAt := startedAt.Add(45 * time.Second)

	payload := buildTranscriptWebhookPayload(SessionInfo{ID: "session-1", Mode: "offline"}, startedAt, endedAt, nil, segments)

	if len(payload.TranscriptSegments) != 2 {
		t.Fatalf("unexpected transcript segment count: %d", len(payload.TranscriptSegments))
	}
	if payload.TranscriptSegments[0].EndAt != segments[1].SpokenAt.Format(time.RFC3339) {
		t.Fatalf("unexpected first segment end_at: %s", payload.TranscriptSegments[0].EndAt)
	}
	if payload.TranscriptSegments[1].EndAt != endedAt.Format(time.RFC3339) {
		t.Fatalf("unexpected second segment end_at: %s", payload.TranscriptSegments[1].EndAt)
	}
	if payload.DurationSeconds != 45 || payload.SegmentCount != 2 {
		t.Fatalf("unexpected totals: duration=%d segments=%d", payload.DurationSeconds, payload.SegmentCount)
	}
	if payload.Transcript != "first\nsecond" {
		t.Fatalf("unexpected transcript: %q", payload.Transcript)
	}
	if payload.Filename != "transcript-session-1.txt" {
		t.Fatalf("unexpected filename: %s", payload.Filename)
	}
}

func TestFormatElapsedHMS(t *testing.T) {
	if got := formatElapsedHMS(3*time.Hour + 2*time.Minute + 1*time.Second); got != "03:02:01" {
		t.Fatalf("formatElapsedHMS() = %s", got)
	}
}
