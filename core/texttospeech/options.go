package texttospeech

type SpeakOptions struct {
	// SegmentCallback receives synthesized-audio segments as they arrive, in
	// stream order. The payload is the wire-encoded (base64) audio; decoding
	// is left to the playback side so a bad segment can be skipped there.
	SegmentCallback func(index int, audioData string)

	CompletedCallback func()
	ErrorCallback     func(err error)

	Voice string
}

type SpeakOption func(*SpeakOptions)

func WithSegmentCallback(callback func(index int, audioData string)) SpeakOption {
	return func(o *SpeakOptions) {
		o.SegmentCallback = callback
	}
}

func WithCompletedCallback(callback func()) SpeakOption {
	return func(o *SpeakOptions) {
		o.CompletedCallback = callback
	}
}

func WithErrorCallback(callback func(err error)) SpeakOption {
	return func(o *SpeakOptions) {
		o.ErrorCallback = callback
	}
}

func WithVoice(voice string) SpeakOption {
	return func(o *SpeakOptions) {
		o.Voice = voice
	}
}
