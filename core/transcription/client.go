package transcription

import "context"

// Result is the outcome of one transcription upload.
type Result struct {
	Text       string
	Confidence float64
}

// Client turns one recorded audio window into text. It is the degraded-mode
// path used when no live recognizer is available; implementations must not
// retain the audio buffer after returning.
type Client interface {
	Transcribe(ctx context.Context, audio []byte) (Result, error)
}
