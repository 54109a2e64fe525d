package transcription

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
)

// WhisperClient transcribes directly against OpenAI Whisper for deployments
// where the session backend exposes no transcription endpoint.
type WhisperClient struct {
	client *openai.Client
}

func NewWhisperClient() (*WhisperClient, error) {
	apiKey, ok := os.LookupEnv("OPENAI_API_KEY")
	if !ok {
		return nil, fmt.Errorf("openai api key not found")
	}

	return &WhisperClient{client: openai.NewClient(apiKey)}, nil
}

func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	ctx, span := tracer.Start(ctx, "transcribe recorded audio with whisper")
	defer span.End()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "capture.wav",
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("failed to get whisper transcription: %w", err)
	}

	// Whisper reports no per-utterance confidence; treat a successful
	// response as fully confident the way the legacy endpoint did.
	return Result{Text: resp.Text, Confidence: 1}, nil
}
