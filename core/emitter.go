package channel

import "github.com/pairline/pairline-core/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

func newCallbackEventEmitter(opts OpenOptions) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.MessageAppended:
			if opts.onMessageAppended != nil {
				opts.onMessageAppended(typedEvent.MessageID, typedEvent.Role, typedEvent.Complete)
			}
		case events.MessageGrew:
			if opts.onMessageGrew != nil {
				opts.onMessageGrew(typedEvent.MessageID, typedEvent.Chunk)
			}
		case events.MessageCompleted:
			if opts.onMessageCompleted != nil {
				opts.onMessageCompleted(typedEvent.MessageID)
			}
		case events.StreamErrored:
			if opts.onStreamError != nil {
				opts.onStreamError(typedEvent.Reason)
			}
		case events.ReplyFinished:
			if opts.onReplyFinished != nil {
				opts.onReplyFinished(typedEvent.MessageID)
			}
		case events.PlaybackIdle:
			if opts.onPlaybackIdle != nil {
				opts.onPlaybackIdle()
			}
		case events.SegmentSkipped:
			if opts.onSegmentSkipped != nil {
				opts.onSegmentSkipped(typedEvent.Sequence, typedEvent.Reason)
			}
		case events.TranscriptReady:
			if opts.onTranscript != nil {
				opts.onTranscript(typedEvent.Transcript, typedEvent.Source == events.TranscriptSourceLive)
			}
		case events.CallStateChanged:
			if opts.onCallStateChanged != nil {
				opts.onCallStateChanged(CallState(typedEvent.From), CallState(typedEvent.To))
			}
		case events.CaptureFailed:
			if opts.onCaptureFailed != nil {
				opts.onCaptureFailed(typedEvent.Reason)
			}
		}
	}
}
