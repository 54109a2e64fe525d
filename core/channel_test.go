package channel

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pairline/pairline-core/core/audio"
	"github.com/pairline/pairline-core/core/speechtotext"
	"github.com/pairline/pairline-core/core/transcription"
	"github.com/pairline/pairline-core/core/transport"
)

type fakeAudioInput struct {
	mu       sync.Mutex
	onAudio  func([]byte)
	starts   int
	stops    int
	startErr error
}

func (f *fakeAudioInput) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: audio.DefaultSampleRate, Format: audio.EncodingLinear16}
}

func (f *fakeAudioInput) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.onAudio = onAudio
	return nil
}

func (f *fakeAudioInput) StopCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.onAudio = nil
	return nil
}

func (f *fakeAudioInput) feed(audio []byte) {
	f.mu.Lock()
	onAudio := f.onAudio
	f.mu.Unlock()
	if onAudio != nil {
		onAudio(audio)
	}
}

func (f *fakeAudioInput) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakeRecognizer struct {
	mu       sync.Mutex
	options  speechtotext.TranscriptionOptions
	starts   int
	closes   int
	startErr error
}

func (f *fakeRecognizer) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}

	options := speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	f.options = options
	f.starts++
	return nil
}

func (f *fakeRecognizer) SendAudio([]byte) error { return nil }

func (f *fakeRecognizer) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeRecognizer) emitTranscript(transcript string) {
	f.mu.Lock()
	callback := f.options.TranscriptionCallback
	f.mu.Unlock()
	if callback != nil {
		callback(transcript)
	}
}

func (f *fakeRecognizer) emitError(err error) {
	f.mu.Lock()
	callback := f.options.ErrorCallback
	f.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

type fakeTranscriber struct {
	mu     sync.Mutex
	result transcription.Result
	err    error
	audio  []byte
	calls  int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte) (transcription.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.audio = append([]byte(nil), audio...)
	return f.result, f.err
}

// newDiscardServer accepts websocket upgrades and discards inbound frames,
// standing in for the session backend.
func newDiscardServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func assertExclusive(t *testing.T, c *Channel) {
	t.Helper()
	if c.MicActive() && c.SpeakerActive() {
		t.Fatalf("microphone and speaker active concurrently in state %q", c.CallState())
	}
}

func TestSendTextBeforeOpenFailsWithErrNotOpen(t *testing.T) {
	c := New()

	if err := c.SendText("hello"); !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if c.Conversation()[0].Content != "hello" {
		t.Fatalf("local conversation should still record the message")
	}
}

func TestCallModeHandsSpeakingBackToListening(t *testing.T) {
	ts, wsURL := newDiscardServer(t)
	defer ts.Close()

	input := &fakeAudioInput{}
	recognizer := &fakeRecognizer{}
	renderer := &fakeRenderer{}
	c := New(
		WithEndpoint(wsURL),
		WithAudioInput(input),
		WithRecognizer(recognizer),
		WithSegmentRenderer(renderer),
	)
	if err := c.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer c.Close()

	c.StartCall(context.Background())
	if c.CallState() != CallListening || !c.MicActive() {
		t.Fatalf("expected listening turn after call start, state %q", c.CallState())
	}
	assertExclusive(t, c)

	recognizer.emitTranscript("walk me through this diff")
	if c.CallState() != CallSpeaking {
		t.Fatalf("expected speaking turn after transcript, state %q", c.CallState())
	}
	if _, stops := input.counts(); stops != 1 {
		t.Fatalf("expected capture released before playback, stops=%d", stops)
	}
	assertExclusive(t, c)

	for i := range 3 {
		c.handleFrame(transport.Frame{
			Type:       transport.FrameAudioChunk,
			AudioData:  base64.StdEncoding.EncodeToString([]byte{byte(i)}),
			ChunkIndex: i,
		})
		assertExclusive(t, c)
	}
	c.handleFrame(transport.Frame{Type: transport.FrameComplete})

	renderer.finishNext()
	renderer.finishNext()
	if c.CallState() != CallSpeaking {
		t.Fatalf("turn handed off before final segment finished")
	}

	renderer.finishNext()
	if c.CallState() != CallListening {
		t.Fatalf("expected automatic hand-off into listening, state %q", c.CallState())
	}
	if !c.MicActive() || c.SpeakerActive() {
		t.Fatalf("expected microphone re-acquired after playback drained")
	}

	starts, _ := input.counts()
	if starts != 2 {
		t.Fatalf("expected a fresh capture session, starts=%d", starts)
	}
}

func TestErrorFrameMidSpeakingTurnHandsTurnBack(t *testing.T) {
	ts, wsURL := newDiscardServer(t)
	defer ts.Close()

	input := &fakeAudioInput{}
	recognizer := &fakeRecognizer{}
	c := New(
		WithEndpoint(wsURL),
		WithAudioInput(input),
		WithRecognizer(recognizer),
	)
	if err := c.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer c.Close()

	c.StartCall(context.Background())
	recognizer.emitTranscript("keep going")
	if c.CallState() != CallSpeaking {
		t.Fatalf("expected speaking turn after transcript, state %q", c.CallState())
	}

	c.handleFrame(transport.Frame{Type: transport.FrameError, Error: "backend exploded"})

	if c.CallState() != CallListening || !c.MicActive() {
		t.Fatalf("expected aborted reply to hand the turn back, state %q micActive=%v",
			c.CallState(), c.MicActive())
	}
	assertExclusive(t, c)
}

func TestErrorFrameWithQueuedAudioExitsAfterPlaybackDrains(t *testing.T) {
	ts, wsURL := newDiscardServer(t)
	defer ts.Close()

	input := &fakeAudioInput{}
	recognizer := &fakeRecognizer{}
	renderer := &fakeRenderer{}
	c := New(
		WithEndpoint(wsURL),
		WithAudioInput(input),
		WithRecognizer(recognizer),
		WithSegmentRenderer(renderer),
	)
	if err := c.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer c.Close()

	c.StartListening(context.Background())
	recognizer.emitTranscript("half a reply")
	c.handleFrame(transport.Frame{
		Type:      transport.FrameAudioChunk,
		AudioData: base64.StdEncoding.EncodeToString([]byte("partial")),
	})

	c.handleFrame(transport.Frame{Type: transport.FrameError, Error: "backend exploded"})
	if c.CallState() != CallSpeaking {
		t.Fatalf("queued audio should finish playing before the turn exits, state %q", c.CallState())
	}

	renderer.finishNext()
	if c.CallState() != CallIdle || c.SpeakerActive() {
		t.Fatalf("expected idle after aborted reply's audio drained, state %q", c.CallState())
	}
}

func TestSecondOpenClosesPriorConnection(t *testing.T) {
	closed := make(chan struct{}, 2)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					closed <- struct{}{}
					return
				}
			}
		}()
	}))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	c := New(WithEndpoint(wsURL))
	if err := c.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	if err := c.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("failed to reopen channel: %v", err)
	}
	defer c.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("prior connection still open after reopen")
	}
	if c.ConnectionState() != transport.StateOpen {
		t.Fatalf("expected fresh connection open, got %q", c.ConnectionState())
	}
}

func TestStartListeningWhileSpeakingStopsPlaybackFirst(t *testing.T) {
	ts, wsURL := newDiscardServer(t)
	defer ts.Close()

	input := &fakeAudioInput{}
	recognizer := &fakeRecognizer{}
	renderer := &fakeRenderer{}
	c := New(
		WithEndpoint(wsURL),
		WithAudioInput(input),
		WithRecognizer(recognizer),
		WithSegmentRenderer(renderer),
	)
	if err := c.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer c.Close()

	c.handleFrame(transport.Frame{
		Type:      transport.FrameAudioChunk,
		AudioData: base64.StdEncoding.EncodeToString([]byte("segment")),
	})
	if !c.SpeakerActive() || c.CallState() != CallSpeaking {
		t.Fatalf("expected speaking state from server-pushed audio")
	}

	c.StartListening(context.Background())

	if c.SpeakerActive() {
		t.Fatalf("expected playback stopped before capture started")
	}
	if !c.MicActive() || c.CallState() != CallListening {
		t.Fatalf("expected listening turn, state %q", c.CallState())
	}
	if renderer.stops == 0 {
		t.Fatalf("expected renderer stopped synchronously")
	}
	assertExclusive(t, c)
}

func TestStopListeningReleasesAllCaptureHandles(t *testing.T) {
	ts, wsURL := newDiscardServer(t)
	defer ts.Close()

	input := &fakeAudioInput{}
	recognizer := &fakeRecognizer{}
	c := New(WithEndpoint(wsURL), WithAudioInput(input), WithRecognizer(recognizer))
	if err := c.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer c.Close()

	c.StartListening(context.Background())
	c.StopListening()

	if c.CallState() != CallIdle || c.MicActive() {
		t.Fatalf("expected idle with released microphone, state %q", c.CallState())
	}
	if _, stops := input.counts(); stops != 1 {
		t.Fatalf("expected input stopped once, got %d", stops)
	}
	recognizer.mu.Lock()
	closes := recognizer.closes
	recognizer.mu.Unlock()
	if closes != 1 {
		t.Fatalf("expected recognizer closed once, got %d", closes)
	}
}

func TestFallbackRecordingFeedsOutboundPath(t *testing.T) {
	ts, wsURL := newDiscardServer(t)
	defer ts.Close()

	input := &fakeAudioInput{}
	transcriber := &fakeTranscriber{result: transcription.Result{Text: "spoken words", Confidence: 0.9}}
	window := 50 * time.Millisecond

	transcriptReady := make(chan string, 1)
	c := New(
		WithEndpoint(wsURL),
		WithAudioInput(input),
		WithFallbackTranscriber(transcriber),
		WithFallbackWindow(window),
	)
	err := c.Open(context.Background(), "s1",
		WithTranscriptCallback(func(transcript string, live bool) {
			if live {
				t.Errorf("expected a fallback transcript, got a live one")
			}
			transcriptReady <- transcript
		}),
	)
	if err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer c.Close()

	c.StartListening(context.Background())
	if !c.MicActive() {
		t.Fatalf("expected fallback recording to hold the microphone")
	}

	limit := input.EncodingInfo().BytesFor(window)
	input.feed(make([]byte, limit))

	select {
	case transcript := <-transcriptReady:
		if transcript != "spoken words" {
			t.Fatalf("unexpected transcript %q", transcript)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fallback transcript")
	}

	if c.MicActive() {
		t.Fatalf("expected microphone released before upload")
	}
	transcriber.mu.Lock()
	uploaded := len(transcriber.audio)
	transcriber.mu.Unlock()
	if uploaded != limit {
		t.Fatalf("expected %d recorded bytes uploaded, got %d", limit, uploaded)
	}
}

func TestFallbackUploadFailureReturnsToIdle(t *testing.T) {
	ts, wsURL := newDiscardServer(t)
	defer ts.Close()

	input := &fakeAudioInput{}
	transcriber := &fakeTranscriber{err: errors.New("endpoint unreachable")}
	window := 50 * time.Millisecond

	captureFailed := make(chan string, 1)
	c := New(
		WithEndpoint(wsURL),
		WithAudioInput(input),
		WithFallbackTranscriber(transcriber),
		WithFallbackWindow(window),
	)
	err := c.Open(context.Background(), "s1",
		WithCaptureFailedCallback(func(reason string) { captureFailed <- reason }),
	)
	if err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer c.Close()

	c.StartListening(context.Background())
	input.feed(make([]byte, input.EncodingInfo().BytesFor(window)))

	select {
	case reason := <-captureFailed:
		if !strings.Contains(reason, "endpoint unreachable") {
			t.Fatalf("unexpected failure reason %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for capture failure")
	}

	if c.CallState() != CallIdle || c.MicActive() {
		t.Fatalf("expected idle with released microphone after upload failure")
	}
}

func TestRecognizerErrorDegradesToFallback(t *testing.T) {
	ts, wsURL := newDiscardServer(t)
	defer ts.Close()

	input := &fakeAudioInput{}
	recognizer := &fakeRecognizer{}
	transcriber := &fakeTranscriber{result: transcription.Result{Text: "degraded"}}
	c := New(
		WithEndpoint(wsURL),
		WithAudioInput(input),
		WithRecognizer(recognizer),
		WithFallbackTranscriber(transcriber),
		WithFallbackWindow(50*time.Millisecond),
	)
	if err := c.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer c.Close()

	c.StartListening(context.Background())
	recognizer.emitError(errors.New("upstream socket dropped"))

	starts, stops := input.counts()
	if starts != 2 || stops != 1 {
		t.Fatalf("expected live session released and fallback session started, starts=%d stops=%d", starts, stops)
	}
	if !c.MicActive() || c.CallState() != CallListening {
		t.Fatalf("expected fallback recording in progress, state %q", c.CallState())
	}
	assertExclusive(t, c)
}
