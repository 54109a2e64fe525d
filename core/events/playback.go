package events

const (
	KindPlaybackIdle   Kind = "playback.idle"
	KindSegmentSkipped Kind = "playback.segment_skipped"
)

// PlaybackIdle signals the playback queue drained and the speaker went
// quiet. In call mode this hands the turn back to the microphone.
type PlaybackIdle struct {
	Base
}

func NewPlaybackIdle() PlaybackIdle {
	return PlaybackIdle{Base: NewBase(KindPlaybackIdle)}
}

// SegmentSkipped signals a synthesized-audio segment could not be decoded
// and was dropped without halting the queue.
type SegmentSkipped struct {
	Base
	Sequence int
	Reason   string
}

func NewSegmentSkipped(sequence int, reason string) SegmentSkipped {
	return SegmentSkipped{Base: NewBase(KindSegmentSkipped), Sequence: sequence, Reason: reason}
}
