package channel

import (
	"context"
	"time"

	"github.com/pairline/pairline-core/core/audio"
	"github.com/pairline/pairline-core/core/sessions"
	"github.com/pairline/pairline-core/core/speechtotext"
	"github.com/pairline/pairline-core/core/texttospeech"
	"github.com/pairline/pairline-core/core/transcription"
)

type ChannelOption func(*Channel)

// AudioInput is the exclusive microphone resource. Only the channel's
// capture arbitration may start or stop it.
type AudioInput interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

func WithAudioInput(client AudioInput) ChannelOption {
	return func(c *Channel) { c.audioInput = client }
}

// Recognizer is a live speech-to-text stream fed from the capture session.
type Recognizer interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	Close(ctx context.Context) error
}

func WithRecognizer(client Recognizer) ChannelOption {
	return func(c *Channel) { c.recognizer = client }
}

// Synthesizer turns a finished reply into a stream of audio segments.
type Synthesizer interface {
	Speak(ctx context.Context, text string, opts ...texttospeech.SpeakOption) error
	Cancel()
}

func WithSynthesizer(client Synthesizer) ChannelOption {
	return func(c *Channel) { c.synthesizer = client }
}

func WithSegmentRenderer(renderer SegmentRenderer) ChannelOption {
	return func(c *Channel) { c.renderer = renderer }
}

// WithFallbackTranscriber configures the degraded-mode path used when no
// live recognizer is available or it fails irrecoverably.
func WithFallbackTranscriber(client transcription.Client) ChannelOption {
	return func(c *Channel) { c.fallbackTranscriber = client }
}

// WithFallbackWindow bounds how long the fallback path records before
// uploading. Defaults to 8 seconds.
func WithFallbackWindow(window time.Duration) ChannelOption {
	return func(c *Channel) { c.fallbackWindow = window }
}

// SessionStore resolves authoritative conversation history, used to
// resynchronize after a reconnect.
type SessionStore interface {
	Get(ctx context.Context, id string) (sessions.Session, error)
}

func WithSessionStore(store SessionStore) ChannelOption {
	return func(c *Channel) { c.sessionStore = store }
}

// WithEndpoint sets the base websocket URL of the session backend. The
// channel connects to {endpoint}/ws/{session_id}.
func WithEndpoint(endpoint string) ChannelOption {
	return func(c *Channel) { c.endpoint = endpoint }
}

func WithProjectID(projectID string) ChannelOption {
	return func(c *Channel) { c.projectID = projectID }
}

func WithVoice(voice string) ChannelOption {
	return func(c *Channel) { c.voice = voice }
}

// WithRetryPolicy tunes the connection manager's reconnect backoff.
func WithRetryPolicy(baseInterval time.Duration, maxAttempts int) ChannelOption {
	return func(c *Channel) {
		c.baseRetryInterval = baseInterval
		c.maxRetryAttempts = maxAttempts
	}
}

type OpenOptions struct {
	onMessageAppended  func(messageID, role string, complete bool)
	onMessageGrew      func(messageID, chunk string)
	onMessageCompleted func(messageID string)
	onStreamError      func(reason string)
	onReplyFinished    func(messageID string)
	onPlaybackIdle     func()
	onSegmentSkipped   func(sequence int, reason string)
	onTranscript       func(transcript string, live bool)
	onCallStateChanged func(from, to CallState)
	onCaptureFailed    func(reason string)
	onReconnect        func(attempt int)
	onConnectionLost   func()
}

type OpenOption func(*OpenOptions)

// WithMessageAppendedCallback registers a callback for messages joining the
// conversation: user submissions, opening assistant replies, and legacy
// single-shot messages.
func WithMessageAppendedCallback(callback func(messageID, role string, complete bool)) OpenOption {
	return func(o *OpenOptions) { o.onMessageAppended = callback }
}

func WithMessageGrewCallback(callback func(messageID, chunk string)) OpenOption {
	return func(o *OpenOptions) { o.onMessageGrew = callback }
}

func WithMessageCompletedCallback(callback func(messageID string)) OpenOption {
	return func(o *OpenOptions) { o.onMessageCompleted = callback }
}

func WithStreamErrorCallback(callback func(reason string)) OpenOption {
	return func(o *OpenOptions) { o.onStreamError = callback }
}

// WithReplyFinishedCallback registers a callback for fully arrived replies.
// UIs use it to re-enable input.
func WithReplyFinishedCallback(callback func(messageID string)) OpenOption {
	return func(o *OpenOptions) { o.onReplyFinished = callback }
}

func WithPlaybackIdleCallback(callback func()) OpenOption {
	return func(o *OpenOptions) { o.onPlaybackIdle = callback }
}

func WithSegmentSkippedCallback(callback func(sequence int, reason string)) OpenOption {
	return func(o *OpenOptions) { o.onSegmentSkipped = callback }
}

// WithTranscriptCallback registers a callback for completed listening-turn
// transcripts. live is false when the text came from the fallback
// record-and-upload path.
func WithTranscriptCallback(callback func(transcript string, live bool)) OpenOption {
	return func(o *OpenOptions) { o.onTranscript = callback }
}

func WithCallStateChangedCallback(callback func(from, to CallState)) OpenOption {
	return func(o *OpenOptions) { o.onCallStateChanged = callback }
}

func WithCaptureFailedCallback(callback func(reason string)) OpenOption {
	return func(o *OpenOptions) { o.onCaptureFailed = callback }
}

// WithReconnectCallback registers a callback invoked with the attempt number
// every time the connection manager schedules a reconnect.
func WithReconnectCallback(callback func(attempt int)) OpenOption {
	return func(o *OpenOptions) { o.onReconnect = callback }
}

// WithConnectionLostCallback registers a callback invoked once the retry
// ceiling is reached and the channel stays down until explicitly reopened.
func WithConnectionLostCallback(callback func()) OpenOption {
	return func(o *OpenOptions) { o.onConnectionLost = callback }
}
