package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pairline/pairline-core/core/events"
	"github.com/pairline/pairline-core/core/texttospeech"
	"github.com/pairline/pairline-core/core/transcription"
	"github.com/pairline/pairline-core/core/transport"
	"github.com/pairline/pairline-core/internal/utils"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CallState is the audio arbitration state of the channel. The microphone
// and the speaker are exclusive resources: at most one is active at any
// instant, and only the channel itself acquires them.
type CallState string

const (
	CallIdle      CallState = "idle"
	CallListening CallState = "listening"
	CallSpeaking  CallState = "speaking"
)

// Channel is the realtime interaction channel for one session: it keeps a
// duplex connection alive across drops, reassembles streamed replies into
// the conversation, sequences synthesized-audio playback, and arbitrates
// between microphone capture and speech playback, including the automatic
// hand-off of call mode.
type Channel struct {
	mu sync.Mutex

	audioInput          AudioInput
	recognizer          Recognizer
	synthesizer         Synthesizer
	renderer            SegmentRenderer
	fallbackTranscriber transcription.Client
	sessionStore        SessionStore

	endpoint          string
	projectID         string
	voice             string
	fallbackWindow    time.Duration
	baseRetryInterval time.Duration
	maxRetryAttempts  int

	conversation *Conversation
	reassembler  *reassembler
	playback     *playbackSequencer

	conn      *transport.Conn
	sessionID string

	emit        eventEmitter
	baseContext context.Context
	closeOnce   sync.Once

	// stateMu guards the fields read by accessors from outside the event
	// loop. Writes happen only inside dispatched handlers.
	stateMu sync.RWMutex
	state   CallState
	capture *captureSession

	// The remaining machine state is touched only by dispatched handlers,
	// which run one at a time.
	callMode        bool
	recognizing     bool
	voiceTurn       bool
	audioStreamDone bool
	audioReceived   bool

	dispatching bool
	pending     []func()
}

func New(opts ...ChannelOption) *Channel {
	c := &Channel{
		state:          CallIdle,
		fallbackWindow: defaultFallbackWindow,
		emit:           noopEventEmitter,
		baseContext:    context.Background(),
		conversation:   newConversation(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.reassembler = newReassembler(c.conversation, c.postEvent)
	c.playback = newPlaybackSequencer(c.renderer, c.postEvent)
	return c
}

// dispatch queues one transition and drains the queue unless another
// drain is already running. Events posted from inside a handler run after
// that handler returns, never nested inside it, so transitions stay atomic
// under callback reentrancy.
func (c *Channel) dispatch(fn func()) {
	c.mu.Lock()
	c.pending = append(c.pending, fn)
	if c.dispatching {
		c.mu.Unlock()
		return
	}

	c.dispatching = true
	for len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		next()
		c.mu.Lock()
	}
	c.dispatching = false
	c.mu.Unlock()
}

// postEvent routes an event through the dispatch queue: internal reactions
// first, then the caller's callbacks.
func (c *Channel) postEvent(event events.Event) {
	c.dispatch(func() {
		c.reactTo(event)
		c.emit(event)
	})
}

func (c *Channel) reactTo(event events.Event) {
	switch typedEvent := event.(type) {
	case events.ReplyFinished:
		c.handleReplyFinished(typedEvent)
	case events.PlaybackIdle:
		c.maybeFinishSpeaking()
	case events.StreamErrored:
		c.handleStreamErrored()
	case events.TranscriptReady:
		c.handleTranscript(typedEvent)
	}
}

// Open connects the channel to its session endpoint. The session id is
// chosen by the caller; one channel serves one conversation/voice session.
func (c *Channel) Open(ctx context.Context, sessionID string, opts ...OpenOption) error {
	options := OpenOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	c.baseContext = ctx
	c.sessionID = sessionID
	c.emit = newCallbackEventEmitter(options)

	dialOpts := []transport.DialOption{
		transport.WithFrameCallback(c.handleFrame),
	}
	if options.onReconnect != nil {
		dialOpts = append(dialOpts, transport.WithReconnectCallback(options.onReconnect))
	}
	if options.onConnectionLost != nil {
		dialOpts = append(dialOpts, transport.WithMaxAttemptsExceededCallback(options.onConnectionLost))
	}
	if c.baseRetryInterval > 0 {
		dialOpts = append(dialOpts, transport.WithBaseRetryInterval(c.baseRetryInterval))
	}
	if c.maxRetryAttempts > 0 {
		dialOpts = append(dialOpts, transport.WithMaxRetryAttempts(c.maxRetryAttempts))
	}

	// Exactly one connection alive per channel: a reopen discards the
	// prior one cleanly so its read loop cannot outlive it.
	if prior := c.conn; prior != nil {
		c.conn = nil
		_ = prior.Close(websocket.CloseNormalClosure, "superseded")
	}

	conn, err := transport.Dial(ctx, c.sessionURL(sessionID), dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	c.conn = conn
	return nil
}

func (c *Channel) sessionURL(sessionID string) string {
	return strings.TrimRight(c.endpoint, "/") + "/ws/" + sessionID
}

// Close tears the channel down: capture released, playback cancelled, and
// the connection closed cleanly so no reconnect fires afterwards.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.dispatch(c.endCall)

		if c.conn != nil {
			if err := c.conn.Close(websocket.CloseNormalClosure, "client closed"); err != nil {
				recordedErr := fmt.Errorf("failed to close channel connection: %w", err)
				span := trace.SpanFromContext(c.baseContext)
				span.RecordError(recordedErr)
				span.SetStatus(codes.Error, recordedErr.Error())
			}
		}
	})
}

// handleFrame consumes decoded inbound frames in receipt order. Audio
// frames feed the playback sequencer; everything else goes through the
// stream reassembler.
func (c *Channel) handleFrame(frame transport.Frame) {
	c.dispatch(func() {
		switch frame.Type {
		case transport.FrameAudioChunk:
			c.handleAudioSegment(frame.ChunkIndex, frame.AudioData)
		case transport.FrameComplete:
			c.handleAudioStreamComplete()
		default:
			c.reassembler.HandleFrame(frame)
		}
	})
}

// SendText submits a user message on the channel. When the channel is not
// open it fails with [transport.ErrNotOpen]; callers fall back to a
// non-streaming path on it.
func (c *Channel) SendText(text string) error {
	msg := Message{ID: uuid.NewString(), Role: "user", Content: text, Complete: true}
	c.conversation.Append(msg)
	c.postEvent(events.NewMessageAppended(msg.ID, msg.Role, true))

	if c.conn == nil {
		return transport.ErrNotOpen
	}
	return c.conn.Send(transport.ChatEnvelope{
		Message:   transport.Message{ID: msg.ID, Role: msg.Role, Content: utils.Ptr(text)},
		ProjectID: c.projectID,
	})
}

func (c *Channel) StartListening(ctx context.Context) {
	c.dispatch(func() { c.startListeningTurn(ctx) })
}

// StopListening ends the current listening turn. Mid-call it ends the whole
// call; a bare stop would be immediately undone by the hand-off loop.
func (c *Channel) StopListening() {
	c.dispatch(func() {
		if c.callMode {
			c.endCall()
			return
		}
		if c.currentState() != CallListening {
			return
		}

		c.releaseCapture()
		c.setRecognizing(false)
		c.setState(CallIdle)
	})
}

// StartCall enables call mode: listen/speak turns alternate automatically
// until EndCall.
func (c *Channel) StartCall(ctx context.Context) {
	c.dispatch(func() {
		if c.callMode {
			return
		}
		c.callMode = true
		if c.currentState() == CallIdle {
			c.startListeningTurn(ctx)
		}
	})
}

func (c *Channel) EndCall() {
	c.dispatch(c.endCall)
}

func (c *Channel) endCall() {
	c.callMode = false
	c.releaseCapture()
	c.setRecognizing(false)
	c.playback.Reset()
	if c.synthesizer != nil {
		c.synthesizer.Cancel()
	}
	c.audioStreamDone = false
	c.voiceTurn = false
	c.setState(CallIdle)
}

// Resync refetches the authoritative conversation from the session store
// and replaces the local model. Reconnects are a message-loss boundary, so
// this is the only recovery for messages that crossed the gap.
func (c *Channel) Resync(ctx context.Context) error {
	if c.sessionStore == nil {
		return fmt.Errorf("no session store configured")
	}

	ctx, span := tracer.Start(ctx, "resynchronize conversation")
	defer span.End()

	session, err := c.sessionStore.Get(ctx, c.sessionID)
	if err != nil {
		recordedErr := fmt.Errorf("failed to fetch session: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return recordedErr
	}

	messages := make([]Message, 0, len(session.Messages))
	for _, msg := range session.Messages {
		messages = append(messages, Message{ID: msg.ID, Role: msg.Role, Content: msg.Content, Complete: true})
	}
	c.conversation.Replace(messages)
	return nil
}

// Reopen re-establishes a channel that closed cleanly or exhausted its
// retry ceiling.
func (c *Channel) Reopen() {
	if c.conn != nil {
		c.conn.Reopen()
	}
}

func (c *Channel) ConnectionState() transport.State {
	if c.conn == nil {
		return transport.StateClosedClean
	}
	return c.conn.State()
}

func (c *Channel) CallState() CallState {
	return c.currentState()
}

func (c *Channel) MicActive() bool {
	return c.currentCapture() != nil
}

func (c *Channel) SpeakerActive() bool {
	return c.playback.Busy()
}

// Recognizing reports whether a fallback recording is being transcribed.
func (c *Channel) Recognizing() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.recognizing
}

func (c *Channel) Conversation() []Message {
	return c.conversation.Snapshot()
}

// startListeningTurn begins a fresh listening turn, forcing the speaker off
// first so the microphone never overlaps playback.
func (c *Channel) startListeningTurn(ctx context.Context) {
	c.playback.Reset()
	if c.synthesizer != nil {
		c.synthesizer.Cancel()
	}
	c.audioStreamDone = false
	c.voiceTurn = false

	if c.currentCapture() != nil {
		return
	}

	if c.audioInput == nil {
		c.captureFailure("no audio input configured")
		return
	}

	c.setState(CallListening)

	if c.recognizer == nil {
		if c.fallbackTranscriber != nil {
			if err := c.startFallbackCapture(ctx); err != nil {
				c.captureFailure(err.Error())
			}
			return
		}
		c.captureFailure("no recognizer or fallback transcriber configured")
		return
	}

	if err := c.startLiveCapture(ctx); err != nil {
		logger.Warn("Live capture failed to start", "error", err)
		if c.fallbackTranscriber != nil {
			if fallbackErr := c.startFallbackCapture(ctx); fallbackErr != nil {
				c.captureFailure(fallbackErr.Error())
			}
			return
		}
		c.captureFailure(err.Error())
	}
}

// exitListening routes a finished listening turn: call mode hands straight
// into a fresh turn, otherwise the machine goes idle.
func (c *Channel) exitListening() {
	if c.callMode {
		c.startListeningTurn(c.baseContext)
		return
	}
	c.setState(CallIdle)
}

// captureFailure is the single error exit for capture: handles released,
// machine back to Idle, call mode off, error surfaced.
func (c *Channel) captureFailure(reason string) {
	c.releaseCapture()
	c.setRecognizing(false)
	c.callMode = false
	c.setState(CallIdle)
	c.postEvent(events.NewCaptureFailed(reason))
}

// handleTranscript starts the speaking turn for a committed transcript: the
// microphone is already released, and the text goes out on the same path as
// typed input.
func (c *Channel) handleTranscript(event events.TranscriptReady) {
	c.voiceTurn = true
	c.audioStreamDone = false
	c.audioReceived = false
	c.setState(CallSpeaking)

	if err := c.SendText(event.Transcript); err != nil {
		logger.Warn("Failed to send transcript", "error", err)
		c.audioStreamDone = true
		c.maybeFinishSpeaking()
	}
}

func (c *Channel) handleReplyFinished(event events.ReplyFinished) {
	if c.currentState() != CallSpeaking {
		return
	}

	if c.voiceTurn && c.synthesizer != nil && !c.audioReceived {
		c.startSynthesis(event.MessageID)
		return
	}

	if !c.audioReceived {
		// Text-only reply; no complete frame will ever arrive.
		c.audioStreamDone = true
		c.maybeFinishSpeaking()
	}
}

func (c *Channel) startSynthesis(messageID string) {
	msg, ok := c.conversation.Message(messageID)
	if !ok || msg.Content == "" {
		c.audioStreamDone = true
		c.maybeFinishSpeaking()
		return
	}

	opts := []texttospeech.SpeakOption{
		texttospeech.WithSegmentCallback(func(index int, data string) {
			c.dispatch(func() { c.handleAudioSegment(index, data) })
		}),
		texttospeech.WithCompletedCallback(func() {
			c.dispatch(c.handleAudioStreamComplete)
		}),
		texttospeech.WithErrorCallback(func(err error) {
			logger.Warn("Speech synthesis failed", "error", err)
			c.dispatch(func() {
				c.audioStreamDone = true
				c.maybeFinishSpeaking()
			})
		}),
	}
	if c.voice != "" {
		opts = append(opts, texttospeech.WithVoice(c.voice))
	}

	if err := c.synthesizer.Speak(c.baseContext, msg.Content, opts...); err != nil {
		logger.Warn("Failed to start speech synthesis", "error", err)
		c.audioStreamDone = true
		c.maybeFinishSpeaking()
	}
}

// handleAudioSegment queues one synthesized segment. Audio arriving while
// the microphone is open forces the hand-off: capture stops first, then
// playback starts.
func (c *Channel) handleAudioSegment(sequence int, data string) {
	c.audioReceived = true

	if c.currentCapture() != nil {
		c.releaseCapture()
	}
	if c.currentState() != CallSpeaking {
		c.audioStreamDone = false
		c.setState(CallSpeaking)
	}

	c.playback.EnqueueBase64(sequence, data)
}

// handleStreamErrored unblocks a speaking turn whose reply was aborted by a
// server error frame. The complete frame will never arrive for an aborted
// reply, so the audio stream counts as done and the turn exits once any
// already-queued playback drains.
func (c *Channel) handleStreamErrored() {
	if c.currentState() != CallSpeaking {
		return
	}
	c.audioStreamDone = true
	c.maybeFinishSpeaking()
}

func (c *Channel) handleAudioStreamComplete() {
	c.audioStreamDone = true
	c.maybeFinishSpeaking()
}

// maybeFinishSpeaking exits the speaking turn once both conditions hold:
// the audio stream fully arrived and the playback queue drained. The two
// can complete in either order.
func (c *Channel) maybeFinishSpeaking() {
	if c.currentState() != CallSpeaking || !c.audioStreamDone || c.playback.Busy() {
		return
	}

	c.voiceTurn = false
	if c.callMode {
		c.startListeningTurn(c.baseContext)
		return
	}
	c.setState(CallIdle)
}

func (c *Channel) setState(next CallState) {
	c.stateMu.Lock()
	prev := c.state
	if prev == next {
		c.stateMu.Unlock()
		return
	}
	c.state = next
	c.stateMu.Unlock()

	c.postEvent(events.NewCallStateChanged(string(prev), string(next)))
}

func (c *Channel) setRecognizing(recognizing bool) {
	c.stateMu.Lock()
	c.recognizing = recognizing
	c.stateMu.Unlock()
}

func (c *Channel) currentState() CallState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Channel) setCapture(session *captureSession) {
	c.stateMu.Lock()
	c.capture = session
	c.stateMu.Unlock()
}

func (c *Channel) currentCapture() *captureSession {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.capture
}

// releaseCapture stops the current capture session's handles
// unconditionally. Safe to call on any exit path, including errors.
func (c *Channel) releaseCapture() {
	session := c.currentCapture()
	if session == nil {
		return
	}
	c.setCapture(nil)
	session.release(c.baseContext)
}
