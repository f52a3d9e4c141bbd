package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/emasr/internal/repository"
	"github.com/foxseedlab/emasr/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

func transcriptFilename(sessionID string) string {
	return fmt.Sprintf("transcript-%s.txt", sessionID)
}

func buildTranscriptText(info SessionInfo, startedAt, endedAt time.Time, loc *time.Location, segments []repository.TranscriptSegment) string {
	loc = safeLocation(loc)
	lines := []string{
		fmt.Sprintf("session: %s", info.ID),
		fmt.Sprintf("client: %s", info.RemoteAddr),
		fmt.Sprintf("mode: %s", info.Mode),
		fmt.Sprintf("period: %s ~ %s (%s)", startedAt.In(loc).Format(transcriptTimeLayout), endedAt.In(loc).Format(transcriptTimeLayout), loc),
	}
	if info.WavName != "" {
		lines = append(lines, fmt.Sprintf("wav: %s", info.WavName))
	}
	lines = append(lines, "")
	for _, seg := range segments {
		elapsed := seg.SpokenAt.Sub(startedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, fmt.Sprintf("%s %s", formatElapsedHMS(elapsed), seg.Content))
	}
	return strings.Join(lines, "\n")
}

func buildTranscriptWebhookPayload(info SessionInfo, startedAt, endedAt time.Time, loc *time.Location, segments []repository.TranscriptSegment) webhook.TranscriptWebhookPayload {
	loc = safeLocation(loc)
	transcriptLines := make([]string, 0, len(segments))
	for _, seg := range segments {
		transcriptLines = append(transcriptLines, seg.Content)
	}

	durationSeconds := int64(endedAt.Sub(startedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	return webhook.TranscriptWebhookPayload{
		SchemaVersion:      webhook.TranscriptWebhookSchemaVersion,
		SessionID:          info.ID,
		RemoteAddr:         info.RemoteAddr,
		Mode:               info.Mode,
		WavName:            info.WavName,
		StartAt:            startedAt.In(loc).Format(time.RFC3339),
		EndAt:              endedAt.In(loc).Format(time.RFC3339),
		DurationSeconds:    durationSeconds,
		SegmentCount:       len(segments),
		TranscriptSegments: buildTranscriptWebhookSegments(segments, endedAt, loc),
		Filename:           transcriptFilename(info.ID),
		Document:           buildTranscriptText(info, startedAt, endedAt, loc, segments),
		Transcript:         strings.Join(transcriptLines, "\n"),
	}
}

// A segment ends where the next one starts; the last one ends with the
// session.
func buildTranscriptWebhookSegments(segments []repository.TranscriptSegment, sessionEndedAt time.Time, loc *time.Location) []webhook.TranscriptWebhookSegment {
	out := make([]webhook.TranscriptWebhookSegment, 0, len(segments))
	for i, seg := range segments {
		segmentEnd := sessionEndedAt
		if i+1 < len(segments) {
			segmentEnd = segments[i+1].SpokenAt
		}
		if segmentEnd.Before(seg.SpokenAt) {
			segmentEnd = seg.SpokenAt
		}
		out = append(out, webhook.TranscriptWebhookSegment{
			Index:      seg.SegmentIndex,
			StartAt:    seg.SpokenAt.In(loc).Format(time.RFC3339),
			EndAt:      segmentEnd.In(loc).Format(time.RFC3339),
			Transcript: seg.Content,
		})
	}
	return out
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
