package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/pairline/pairline-core/core/events"
	"github.com/pairline/pairline-core/core/speechtotext"
)

// captureSession is the owned-resource record for one listening turn: the
// microphone stream plus, on the live path, the recognizer feeding from it.
// Every exit path, including errors, must go through release.
type captureSession struct {
	input      AudioInput
	recognizer Recognizer

	releaseOnce sync.Once
}

// release stops all owned handles. Idempotent, safe on partial sessions.
func (s *captureSession) release(ctx context.Context) {
	s.releaseOnce.Do(func() {
		if s.input != nil {
			if err := s.input.StopCapture(); err != nil {
				logger.Warn("Failed to stop audio capture", "error", err)
			}
		}
		if s.recognizer != nil {
			if err := s.recognizer.Close(ctx); err != nil {
				logger.Warn("Failed to close recognizer", "error", err)
			}
		}
	})
}

func (c *Channel) startLiveCapture(ctx context.Context) error {
	session := &captureSession{input: c.audioInput, recognizer: c.recognizer}

	err := c.recognizer.Transcribe(ctx,
		speechtotext.WithEncodingInfo(c.audioInput.EncodingInfo()),
		speechtotext.WithTranscriptionCallback(func(transcript string) {
			c.dispatch(func() {
				if c.currentCapture() != session {
					return
				}
				c.commitTranscript(transcript, events.TranscriptSourceLive)
			})
		}),
		speechtotext.WithErrorCallback(func(err error) {
			c.dispatch(func() {
				if c.currentCapture() != session {
					return
				}
				c.handleRecognizerError(ctx, err)
			})
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to start recognizer: %w", err)
	}

	if err := c.audioInput.StartCapture(ctx, func(audio []byte) {
		_ = c.recognizer.SendAudio(audio)
	}); err != nil {
		session.release(ctx)
		return fmt.Errorf("failed to start capture: %w", err)
	}

	c.setCapture(session)
	return nil
}

// handleRecognizerError tears down the live session and degrades to the
// fallback path when one is configured.
func (c *Channel) handleRecognizerError(ctx context.Context, err error) {
	logger.Warn("Recognizer failed irrecoverably", "error", err)
	c.releaseCapture()

	if c.fallbackTranscriber != nil {
		c.postEvent(events.NewCaptureFailed(err.Error()))
		if fallbackErr := c.startFallbackCapture(ctx); fallbackErr != nil {
			c.captureFailure(fallbackErr.Error())
		}
		return
	}

	c.captureFailure(err.Error())
}

// commitTranscript ends the listening turn. An empty transcript yields
// nothing to send; anything else goes out on the same path as typed input.
func (c *Channel) commitTranscript(transcript string, source events.TranscriptSource) {
	c.releaseCapture()
	c.setRecognizing(false)

	if transcript == "" {
		c.exitListening()
		return
	}

	c.postEvent(events.NewTranscriptReady(transcript, source))
}
