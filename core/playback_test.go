package channel

import (
	"encoding/base64"
	"fmt"
	"sync"
	"testing"

	"github.com/pairline/pairline-core/core/events"
)

type fakeRenderer struct {
	mu          sync.Mutex
	playCalls   [][]byte
	pendingDone []func()
	stops       int
	failNext    bool
}

func (f *fakeRenderer) Play(audio []byte, onDone func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext {
		f.failNext = false
		return fmt.Errorf("render failure")
	}

	f.playCalls = append(f.playCalls, audio)
	f.pendingDone = append(f.pendingDone, onDone)
	return nil
}

func (f *fakeRenderer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.pendingDone = nil
}

// finishNext simulates the renderer draining its oldest in-flight segment.
func (f *fakeRenderer) finishNext() bool {
	f.mu.Lock()
	if len(f.pendingDone) == 0 {
		f.mu.Unlock()
		return false
	}
	onDone := f.pendingDone[0]
	f.pendingDone = f.pendingDone[1:]
	f.mu.Unlock()

	onDone()
	return true
}

func (f *fakeRenderer) played() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.playCalls)
}

func TestSegmentsPlayBackToBackInOrder(t *testing.T) {
	renderer := &fakeRenderer{}
	var emitted []events.Event
	p := newPlaybackSequencer(renderer, collectEvents(&emitted))

	p.Enqueue(Segment{Sequence: 0, Audio: []byte("one")})
	p.Enqueue(Segment{Sequence: 1, Audio: []byte("two")})
	p.Enqueue(Segment{Sequence: 2, Audio: []byte("three")})

	if renderer.played() != 1 {
		t.Fatalf("expected exactly one segment rendering, got %d", renderer.played())
	}
	if !p.Busy() {
		t.Fatalf("expected sequencer busy while rendering")
	}

	renderer.finishNext()
	renderer.finishNext()
	if renderer.played() != 3 {
		t.Fatalf("expected third segment started after second finished, got %d", renderer.played())
	}

	renderer.finishNext()
	if p.Busy() {
		t.Fatalf("expected sequencer idle after final segment")
	}
	if string(renderer.playCalls[0]) != "one" || string(renderer.playCalls[2]) != "three" {
		t.Fatalf("segments played out of order: %q", renderer.playCalls)
	}

	idle := false
	for _, event := range emitted {
		if _, ok := event.(events.PlaybackIdle); ok {
			idle = true
		}
	}
	if !idle {
		t.Fatalf("expected a playback-idle event after the queue drained")
	}
}

func TestResetMidSegmentClearsQueueUnconditionally(t *testing.T) {
	renderer := &fakeRenderer{}
	var emitted []events.Event
	p := newPlaybackSequencer(renderer, collectEvents(&emitted))

	p.Enqueue(Segment{Sequence: 0, Audio: []byte("one")})
	p.Enqueue(Segment{Sequence: 1, Audio: []byte("two")})

	p.mu.Lock()
	staleGeneration := p.generation
	p.mu.Unlock()

	p.Reset()

	if p.Busy() {
		t.Fatalf("expected not busy immediately after reset")
	}
	if renderer.stops != 1 {
		t.Fatalf("expected renderer stopped synchronously, got %d stops", renderer.stops)
	}

	// A done-callback from the cancelled segment must be a no-op.
	p.onSegmentDone(staleGeneration)
	for _, event := range emitted {
		if _, ok := event.(events.PlaybackIdle); ok {
			t.Fatalf("stale segment completion emitted an idle event")
		}
	}

	p.Enqueue(Segment{Sequence: 0, Audio: []byte("fresh")})
	if renderer.played() != 2 {
		t.Fatalf("expected playback to resume after reset")
	}
}

func TestUndecodableSegmentIsSkipped(t *testing.T) {
	renderer := &fakeRenderer{}
	var emitted []events.Event
	p := newPlaybackSequencer(renderer, collectEvents(&emitted))

	p.EnqueueBase64(0, "not-base64!!!")

	if renderer.played() != 0 {
		t.Fatalf("undecodable segment reached the renderer")
	}
	if p.Busy() {
		t.Fatalf("expected sequencer idle after skipping")
	}

	skipped := false
	for _, event := range emitted {
		if event, ok := event.(events.SegmentSkipped); ok {
			skipped = true
			if event.Sequence != 0 {
				t.Fatalf("unexpected skipped sequence %d", event.Sequence)
			}
		}
	}
	if !skipped {
		t.Fatalf("expected a segment-skipped event")
	}
}

func TestRendererRejectionSkipsAndContinues(t *testing.T) {
	renderer := &fakeRenderer{failNext: true}
	var emitted []events.Event
	p := newPlaybackSequencer(renderer, collectEvents(&emitted))

	p.EnqueueBase64(0, base64.StdEncoding.EncodeToString([]byte("bad")))
	p.EnqueueBase64(1, base64.StdEncoding.EncodeToString([]byte("good")))

	if renderer.played() != 1 {
		t.Fatalf("expected queue to continue past rejected segment, played %d", renderer.played())
	}
	if string(renderer.playCalls[0]) != "good" {
		t.Fatalf("expected the surviving segment to play, got %q", renderer.playCalls[0])
	}

	skipped := false
	for _, event := range emitted {
		if event, ok := event.(events.SegmentSkipped); ok && event.Sequence == 0 {
			skipped = true
		}
	}
	if !skipped {
		t.Fatalf("expected rejected segment reported as skipped")
	}
}
