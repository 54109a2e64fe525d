package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pairline/pairline-core/core/events"
)

const defaultFallbackWindow = 8 * time.Second

// fallbackRecorder buffers microphone audio for one fixed recording window.
// It finishes exactly once, either when the timer fires or when the buffer
// reaches the window's byte bound, whichever comes first.
type fallbackRecorder struct {
	mu       sync.Mutex
	buffer   []byte
	limit    int
	finished bool
	timer    *time.Timer

	onDone func(audio []byte)
}

func (r *fallbackRecorder) append(audio []byte) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}

	r.buffer = append(r.buffer, audio...)
	full := r.limit > 0 && len(r.buffer) >= r.limit
	if full {
		r.finished = true
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	buffer := r.buffer
	r.mu.Unlock()

	if full {
		r.onDone(buffer)
	}
}

func (r *fallbackRecorder) complete() {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	buffer := r.buffer
	r.mu.Unlock()

	r.onDone(buffer)
}

// startFallbackCapture begins the degraded record-and-upload listening turn
// used when no live recognizer is available.
func (c *Channel) startFallbackCapture(ctx context.Context) error {
	session := &captureSession{input: c.audioInput}
	recorder := &fallbackRecorder{
		limit: c.audioInput.EncodingInfo().BytesFor(c.fallbackWindow),
	}
	recorder.onDone = func(audio []byte) {
		c.dispatch(func() {
			if c.currentCapture() != session {
				return
			}
			c.finishFallbackCapture(ctx, audio)
		})
	}

	if err := c.audioInput.StartCapture(ctx, recorder.append); err != nil {
		return fmt.Errorf("failed to start fallback capture: %w", err)
	}
	recorder.timer = time.AfterFunc(c.fallbackWindow, recorder.complete)

	c.setCapture(session)
	return nil
}

// finishFallbackCapture releases the microphone, then uploads the recording
// off the event loop. The transcript, or the failure, is dispatched back in.
func (c *Channel) finishFallbackCapture(ctx context.Context, audio []byte) {
	c.releaseCapture()
	c.setRecognizing(true)

	go func() {
		ctx, span := tracer.Start(ctx, "transcribe fallback recording")
		defer span.End()

		result, err := c.fallbackTranscriber.Transcribe(ctx, audio)
		c.dispatch(func() {
			c.setRecognizing(false)
			if err != nil {
				logger.Warn("Fallback transcription failed", "error", err)
				c.captureFailure(err.Error())
				return
			}
			c.commitTranscript(result.Text, events.TranscriptSourceFallback)
		})
	}()
}
