package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
)

// RESTClient uploads recorded audio to the session backend's one-shot
// transcription endpoint.
type RESTClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewRESTClient(endpoint string) *RESTClient {
	return &RESTClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type transcribeRequest struct {
	AudioFile string `json:"audio_file"`
}

type transcribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (c *RESTClient) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	ctx, span := tracer.Start(ctx, "transcribe recorded audio")
	defer span.End()

	body, err := json.Marshal(transcribeRequest{
		AudioFile: base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordedErr := fmt.Errorf("transcription upload failed: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return Result{}, recordedErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		recordedErr := fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, detail)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return Result{}, recordedErr
	}

	var parsed transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	return Result{Text: parsed.Text, Confidence: parsed.Confidence}, nil
}
