package channel

import (
	"github.com/google/uuid"
	"github.com/pairline/pairline-core/core/events"
	"github.com/pairline/pairline-core/core/transport"
)

// streamCursor accumulates one in-flight streamed reply. It exists only
// between stream_start and stream_end/error for its message id.
type streamCursor struct {
	messageID string
	buffered  string
}

// reassembler groups inbound chunk frames into discrete, ordered
// conversation messages. Frames are applied strictly in receipt order; there
// is no reordering buffer, so transport-level reordering would corrupt
// content rather than crash.
type reassembler struct {
	conversation *Conversation
	cursors      map[string]*streamCursor
	// order keeps cursor ids oldest-first so a stream_end frame that carries
	// no message id completes the oldest open reply.
	order []string

	emit eventEmitter
}

func newReassembler(conversation *Conversation, emit eventEmitter) *reassembler {
	return &reassembler{
		conversation: conversation,
		cursors:      map[string]*streamCursor{},
		emit:         emit,
	}
}

func (r *reassembler) HandleFrame(frame transport.Frame) {
	switch frame.Type {
	case transport.FrameStreamStart:
		r.handleStreamStart(frame)
	case transport.FrameStreamChunk:
		r.handleStreamChunk(frame)
	case transport.FrameStreamEnd:
		r.handleStreamEnd(frame)
	case transport.FrameError:
		r.handleError(frame)
	case transport.FrameMessage:
		r.handleLegacyMessage(frame)
	default:
		logger.Warn("Dropping frame of unknown type", "type", frame.Type)
	}
}

func (r *reassembler) handleStreamStart(frame transport.Frame) {
	if frame.Message == nil || frame.Message.ID == "" {
		logger.Warn("Dropping stream_start without message id")
		return
	}

	role := frame.Message.Role
	if role == "" {
		role = "assistant"
	}

	msg := Message{ID: frame.Message.ID, Role: role}
	if frame.Message.Content != nil {
		msg.Content = *frame.Message.Content
	}
	r.conversation.Append(msg)

	r.cursors[msg.ID] = &streamCursor{messageID: msg.ID, buffered: msg.Content}
	r.order = append(r.order, msg.ID)

	r.emit(events.NewMessageAppended(msg.ID, msg.Role, false))
}

func (r *reassembler) handleStreamChunk(frame transport.Frame) {
	cursor, ok := r.cursors[frame.MessageID]
	if !ok {
		// Out-of-order or stale server frame; dropping it must not crash or
		// touch any existing message.
		logger.Warn("Dropping chunk for unknown message", "message_id", frame.MessageID)
		return
	}

	cursor.buffered += frame.Chunk
	r.conversation.AppendChunk(cursor.messageID, frame.Chunk)
	r.emit(events.NewMessageGrew(cursor.messageID, frame.Chunk))
}

func (r *reassembler) handleStreamEnd(frame transport.Frame) {
	id := frame.MessageID
	if id == "" {
		if len(r.order) == 0 {
			logger.Warn("Dropping stream_end with no open reply")
			return
		}
		id = r.order[0]
	}

	if _, ok := r.cursors[id]; !ok {
		logger.Warn("Dropping stream_end for unknown message", "message_id", id)
		return
	}
	r.destroyCursor(id)

	r.conversation.Complete(id)
	r.emit(events.NewMessageCompleted(id))
	r.emit(events.NewReplyFinished(id))
}

// handleError completes every open cursor's message so the UI never shows a
// permanently streaming bubble, then surfaces the error upward.
func (r *reassembler) handleError(frame transport.Frame) {
	for _, id := range r.order {
		r.conversation.Complete(id)
		r.emit(events.NewMessageCompleted(id))
	}
	r.cursors = map[string]*streamCursor{}
	r.order = nil

	r.emit(events.NewStreamErrored(frame.Error))
}

func (r *reassembler) handleLegacyMessage(frame transport.Frame) {
	if frame.Message == nil {
		logger.Warn("Dropping legacy message frame without message")
		return
	}

	msg := Message{ID: frame.Message.ID, Role: frame.Message.Role, Complete: true}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Role == "" {
		msg.Role = "assistant"
	}
	if frame.Message.Content != nil {
		msg.Content = *frame.Message.Content
	}
	r.conversation.Append(msg)

	r.emit(events.NewMessageAppended(msg.ID, msg.Role, true))
	if msg.Role == "assistant" {
		r.emit(events.NewReplyFinished(msg.ID))
	}
}

func (r *reassembler) destroyCursor(id string) {
	delete(r.cursors, id)
	for i, openID := range r.order {
		if openID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// openCursors reports how many replies are currently streaming.
func (r *reassembler) openCursors() int {
	return len(r.cursors)
}
