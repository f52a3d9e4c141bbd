package asr

import (
	"context"
	"log/slog"

	"github.com/foxseedlab/emasr/internal/asr"
)

// NullInitializer loads nothing and yields a recognizer that returns empty
// transcripts. It keeps the server runnable without model files.
type NullInitializer struct{}

func (NullInitializer) Init(_ context.Context, models asr.ModelSet, threads int) (asr.Recognizer, error) {
	slog.Info("null asr backend initialized", "models", models, "threads", threads)
	return nullRecognizer{}, nil
}

type nullRecognizer struct{}

func (nullRecognizer) Recognize(ctx context.Context, req asr.Request) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, err
	}
	return asr.Result{Final: req.Final}, nil
}

func (nullRecognizer) Close() error {
	return nil
}
