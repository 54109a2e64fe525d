package texttospeech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pairline/pairline-core/core/transport"
)

// StreamClient drives one text-to-speech stream at a time against the voice
// backend's streaming endpoint: it sends the text to synthesize and forwards
// audio_chunk frames until the server reports completion.
type StreamClient struct {
	url string

	mu        sync.Mutex
	conn      *websocket.Conn
	cancelled bool
}

func NewStreamClient(url string) *StreamClient {
	return &StreamClient{url: url}
}

// Speak opens a fresh stream for the given text. Any stream still open from
// a previous call is discarded first; segments are delivered through the
// segment callback until a complete frame or an error ends the stream.
func (c *StreamClient) Speak(ctx context.Context, text string, opts ...SpeakOption) error {
	options := SpeakOptions{
		SegmentCallback:   func(int, string) {},
		CompletedCallback: func() {},
		ErrorCallback:     func(error) {},
	}
	for _, opt := range opts {
		opt(&options)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to open speech stream: %w", err)
	}

	c.mu.Lock()
	if prior := c.conn; prior != nil {
		_ = prior.Close()
	}
	c.conn = conn
	c.cancelled = false
	c.mu.Unlock()

	if err := conn.WriteJSON(transport.SpeakRequest{Text: text, Voice: options.Voice}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to send speech request: %w", err)
	}

	go c.readAndProcessMessages(conn, options)
	return nil
}

// Cancel tears down the in-flight stream, if any. Segments already handed to
// the segment callback are unaffected.
func (c *StreamClient) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelled = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *StreamClient) readAndProcessMessages(conn *websocket.Conn, options SpeakOptions) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			cancelled := c.cancelled
			c.mu.Unlock()

			if !cancelled && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				options.ErrorCallback(fmt.Errorf("speech stream failed: %w", err))
			}
			return
		}

		frame, decodeErr := transport.DecodeFrame(msg)
		if decodeErr != nil {
			log.Printf("Failed to decode speech stream frame: %v", decodeErr)
			continue
		}

		switch frame.Type {
		case transport.FrameAudioChunk:
			options.SegmentCallback(frame.ChunkIndex, frame.AudioData)
		case transport.FrameComplete:
			options.CompletedCallback()
			return
		case transport.FrameError:
			options.ErrorCallback(errors.New(frame.Error))
			return
		}
	}
}
