package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxseedlab/emasr/internal/asr"
	"github.com/foxseedlab/emasr/internal/audio"
	"github.com/foxseedlab/emasr/internal/hotword"
	"github.com/foxseedlab/emasr/internal/journal"
	"github.com/foxseedlab/emasr/internal/transport"
	"github.com/foxseedlab/emasr/internal/worker"
)

// Session holds the protocol state of one connection. Every field is
// owned by the connection's network strand; decode tasks only see copies.
type Session struct {
	m          *Manager
	id         string
	remoteAddr string
	out        Output
	decode     *worker.Strand

	configured bool
	journaled  bool
	closed     bool
	mode       asr.Mode
	wavName    string
	format     string
	sampleRate int
	chunkSize  []int
	stride     int
	itn        bool
	hotwords   *hotword.Table
	decoder    audio.Decoder

	pending   []byte
	utterance []byte
}

func newSession(m *Manager, id, remoteAddr string, out Output) *Session {
	return &Session{
		m:          m,
		id:         id,
		remoteAddr: remoteAddr,
		out:        out,
		decode:     m.decoders.NewStrand(),
		mode:       asr.ModeTwoPass,
		format:     audio.FormatPCM,
		sampleRate: defaultSampleRate,
		chunkSize:  defaultChunkSize,
		stride:     chunkStrideBytes(defaultChunkSize, defaultSampleRate),
		itn:        true,
		hotwords:   m.hotwords,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) HandleMessage(mt transport.MessageType, data []byte) error {
	if s.closed {
		return nil
	}
	switch mt {
	case transport.TextMessage:
		msg, err := parseStartMessage(data)
		if err != nil {
			return err
		}
		return s.apply(msg)
	case transport.BinaryMessage:
		return s.feed(data)
	default:
		return fmt.Errorf("%w: unexpected message type %d", ErrProtocol, mt)
	}
}

func (s *Session) apply(msg startMessage) error {
	if msg.Mode != "" {
		s.mode = asr.Mode(msg.Mode)
	}
	if msg.WavName != "" {
		s.wavName = msg.WavName
	}
	if msg.AudioFS > 0 && msg.AudioFS != s.sampleRate {
		s.sampleRate = msg.AudioFS
		s.resetDecoder()
	}
	if msg.WavFormat != "" {
		format, err := audio.NormalizeFormat(msg.WavFormat)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if format != s.format {
			s.format = format
			s.resetDecoder()
		}
	}
	if msg.ChunkSize != nil {
		s.chunkSize = msg.ChunkSize
	}
	s.stride = chunkStrideBytes(s.chunkSize, s.sampleRate)
	if msg.ITN != nil {
		s.itn = *msg.ITN
	}
	if len(msg.Hotwords) > 0 {
		table, err := parseHotwords(msg.Hotwords, s.m.params.FstIncWts)
		if err != nil {
			return err
		}
		s.hotwords = s.m.hotwords.Merge(table)
	}
	s.configured = true
	s.startJournal()

	if msg.IsSpeaking != nil && !*msg.IsSpeaking {
		return s.finishUtterance()
	}
	return nil
}

func (s *Session) feed(frame []byte) error {
	if !s.configured {
		s.configured = true
		s.startJournal()
	}
	if s.decoder == nil {
		dec, err := s.m.newDecoder(s.format, s.sampleRate)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		s.decoder = dec
	}
	pcm, err := s.decoder.Decode(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if len(pcm) == 0 {
		return nil
	}

	if s.mode != asr.ModeOffline {
		s.pending = append(s.pending, pcm...)
		for len(s.pending) >= s.stride {
			chunk := cloneBytes(s.pending[:s.stride])
			s.pending = cloneBytes(s.pending[s.stride:])
			if err := s.submit(chunk, false); err != nil {
				return err
			}
		}
	}
	if s.mode != asr.ModeOnline {
		s.utterance = append(s.utterance, pcm...)
	}
	if s.utteranceBytes() > s.maxUtteranceBytes() {
		slog.Warn("utterance exceeded maximum length; finalizing", "session_id", s.id, "bytes", s.utteranceBytes())
		return s.finishUtterance()
	}
	return nil
}

func (s *Session) finishUtterance() error {
	var audioData []byte
	switch s.mode {
	case asr.ModeOnline:
		audioData = s.pending
	default:
		audioData = s.utterance
	}
	s.pending = nil
	s.utterance = nil
	return s.submit(cloneBytes(audioData), true)
}

// submit queues a decode of audioData on the session's decoder strand so
// results reach the client in submission order.
func (s *Session) submit(audioData []byte, final bool) error {
	req := asr.Request{
		SessionID:  s.id,
		Audio:      audioData,
		SampleRate: s.sampleRate,
		Final:      final,
		Mode:       s.mode,
		ITN:        s.itn,
		Hotwords:   s.hotwords,
		Params:     s.m.params,
	}
	wavName := s.wavName
	out := s.out
	rec := s.m.recognizer
	recorder := s.m.journal
	timeout := s.m.decodeTimeout

	err := s.decode.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := rec.Recognize(ctx, req)
		if err != nil {
			slog.Error("decode failed", "session_id", req.SessionID, "final", req.Final, "audio_bytes", len(req.Audio), "error", err)
			return
		}
		if req.Final {
			recorder.SegmentFinal(req.SessionID, res.Text)
		}
		msg, err := encodeResult(resultMessage{
			Mode:    resultMode(req.Mode, req.Final),
			WavName: wavName,
			Text:    res.Text,
			IsFinal: req.Final,
		})
		if err != nil {
			slog.Error("failed to encode result", "session_id", req.SessionID, "error", err)
			return
		}
		out.Send(msg)
	})
	if err != nil {
		return fmt.Errorf("submit decode for session %s: %w", s.id, err)
	}
	return nil
}

func (s *Session) startJournal() {
	if s.journaled {
		return
	}
	s.journaled = true
	s.m.journal.SessionStarted(journal.SessionInfo{
		ID:         s.id,
		RemoteAddr: s.remoteAddr,
		Mode:       string(s.mode),
		WavName:    s.wavName,
	})
}

// Close releases the session. Queued decodes still deliver their results;
// the journal entry is closed after them.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.resetDecoder()
	s.pending = nil
	s.utterance = nil

	id := s.id
	recorder := s.m.journal
	if err := s.decode.Post(func() { recorder.SessionClosed(id) }); err != nil {
		recorder.SessionClosed(id)
	}
	s.m.remove(id)
}

func (s *Session) resetDecoder() {
	if s.decoder != nil {
		s.decoder.Close()
		s.decoder = nil
	}
}

func (s *Session) utteranceBytes() int {
	if len(s.utterance) > len(s.pending) {
		return len(s.utterance)
	}
	return len(s.pending)
}

func (s *Session) maxUtteranceBytes() int {
	return int(int64(s.sampleRate) * 2 * s.m.maxUtterance.Milliseconds() / 1000)
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
