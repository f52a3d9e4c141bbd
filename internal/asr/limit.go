package asr

import (
	"context"

	"golang.org/x/sync/semaphore"
)

type limitedRecognizer struct {
	next Recognizer
	sem  *semaphore.Weighted
}

// Limit caps the number of concurrent Recognize calls on r. Decoder
// workers beyond the cap wait for a slot.
func Limit(r Recognizer, concurrency int) Recognizer {
	if concurrency <= 0 {
		return r
	}
	return &limitedRecognizer{next: r, sem: semaphore.NewWeighted(int64(concurrency))}
}

func (l *limitedRecognizer) Recognize(ctx context.Context, req Request) (Result, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer l.sem.Release(1)
	return l.next.Recognize(ctx, req)
}

func (l *limitedRecognizer) Close() error {
	return l.next.Close()
}
