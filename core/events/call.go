package events

const (
	KindCallStateChanged Kind = "call.state_changed"
	KindTranscriptReady  Kind = "call.transcript_ready"
	KindCaptureFailed    Kind = "call.capture_failed"
)

// TranscriptSource distinguishes live recognition from the fallback
// record-and-upload path.
type TranscriptSource string

const (
	TranscriptSourceLive     TranscriptSource = "live"
	TranscriptSourceFallback TranscriptSource = "fallback"
)

type CallStateChanged struct {
	Base
	From string
	To   string
}

func NewCallStateChanged(from, to string) CallStateChanged {
	return CallStateChanged{Base: NewBase(KindCallStateChanged), From: from, To: to}
}

// TranscriptReady signals a completed listening turn produced text, ready to
// go out on the same path as typed input.
type TranscriptReady struct {
	Base
	Transcript string
	Source     TranscriptSource
}

func NewTranscriptReady(transcript string, source TranscriptSource) TranscriptReady {
	return TranscriptReady{Base: NewBase(KindTranscriptReady), Transcript: transcript, Source: source}
}

// CaptureFailed signals the capture session tore down on an error path. The
// microphone and recognizer handles are already released when it is emitted.
type CaptureFailed struct {
	Base
	Reason string
}

func NewCaptureFailed(reason string) CaptureFailed {
	return CaptureFailed{Base: NewBase(KindCaptureFailed), Reason: reason}
}
