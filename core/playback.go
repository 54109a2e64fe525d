package channel

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/pairline/pairline-core/core/events"
)

// Segment is one decoded unit of synthesized audio awaiting playback.
type Segment struct {
	Sequence int
	Audio    []byte
}

// SegmentRenderer renders one audio segment at a time. Play reports the
// segment finished through onDone; Stop cancels in-flight rendering
// synchronously.
type SegmentRenderer interface {
	Play(audio []byte, onDone func()) error
	Stop()
}

// playbackSequencer holds the FIFO queue of synthesized segments for the
// current reply and plays them back-to-back. At most one segment renders at
// a time; the next starts only when the renderer reports the previous done.
type playbackSequencer struct {
	mu        sync.Mutex
	renderer  SegmentRenderer
	queue     []Segment
	rendering bool
	// generation invalidates done-callbacks of segments cancelled by Reset.
	generation int

	emit eventEmitter
}

func newPlaybackSequencer(renderer SegmentRenderer, emit eventEmitter) *playbackSequencer {
	return &playbackSequencer{renderer: renderer, emit: emit}
}

// EnqueueBase64 decodes one wire-encoded segment and queues it. A segment
// that fails to decode is skipped, logged, and never halts the queue.
func (p *playbackSequencer) EnqueueBase64(sequence int, data string) {
	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		logger.Warn("Skipping undecodable audio segment", "sequence", sequence, "error", err)
		p.emit(events.NewSegmentSkipped(sequence, err.Error()))
		return
	}

	p.Enqueue(Segment{Sequence: sequence, Audio: audio})
}

func (p *playbackSequencer) Enqueue(segment Segment) {
	p.mu.Lock()
	p.queue = append(p.queue, segment)
	p.mu.Unlock()

	p.playNext()
}

func (p *playbackSequencer) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendering || len(p.queue) > 0
}

// Reset synchronously cancels in-flight rendering and empties the queue.
// Once it returns the sequencer reports not busy and capture can start
// immediately. Cancelled segments fire no callbacks and no idle signal.
func (p *playbackSequencer) Reset() {
	p.mu.Lock()
	p.generation++
	p.queue = nil
	p.rendering = false
	renderer := p.renderer
	p.mu.Unlock()

	if renderer != nil {
		renderer.Stop()
	}
}

func (p *playbackSequencer) playNext() {
	for {
		p.mu.Lock()
		if p.rendering || len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		segment := p.queue[0]
		p.queue = p.queue[1:]
		p.rendering = true
		generation := p.generation
		renderer := p.renderer
		p.mu.Unlock()

		if renderer == nil {
			p.skip(segment, generation, "no renderer configured")
			continue
		}

		err := renderer.Play(segment.Audio, func() { p.onSegmentDone(generation) })
		if err == nil {
			return
		}
		p.skip(segment, generation, fmt.Sprintf("renderer rejected segment: %v", err))
	}
}

func (p *playbackSequencer) skip(segment Segment, generation int, reason string) {
	p.mu.Lock()
	drained := false
	if generation == p.generation {
		p.rendering = false
		drained = len(p.queue) == 0
	}
	p.mu.Unlock()

	logger.Warn("Skipping audio segment", "sequence", segment.Sequence, "reason", reason)
	p.emit(events.NewSegmentSkipped(segment.Sequence, reason))
	if drained {
		// A skipped tail segment still has to hand the turn back.
		p.emit(events.NewPlaybackIdle())
	}
}

func (p *playbackSequencer) onSegmentDone(generation int) {
	p.mu.Lock()
	if generation != p.generation {
		p.mu.Unlock()
		return
	}
	p.rendering = false
	drained := len(p.queue) == 0
	p.mu.Unlock()

	if drained {
		p.emit(events.NewPlaybackIdle())
		return
	}
	p.playNext()
}
