package events

const (
	KindMessageAppended  Kind = "message.appended"
	KindMessageGrew      Kind = "message.grew"
	KindMessageCompleted Kind = "message.completed"
	KindStreamErrored    Kind = "stream.errored"
	KindReplyFinished    Kind = "reply.finished"
)

// MessageAppended signals a new message joined the conversation, either a
// user submission, the opening of a streamed assistant reply, or a legacy
// single-shot message.
type MessageAppended struct {
	Base
	MessageID string
	Role      string
	Complete  bool
}

func NewMessageAppended(messageID, role string, complete bool) MessageAppended {
	return MessageAppended{Base: NewBase(KindMessageAppended), MessageID: messageID, Role: role, Complete: complete}
}

// MessageGrew signals an in-flight assistant message received another chunk.
type MessageGrew struct {
	Base
	MessageID string
	Chunk     string
}

func NewMessageGrew(messageID, chunk string) MessageGrew {
	return MessageGrew{Base: NewBase(KindMessageGrew), MessageID: messageID, Chunk: chunk}
}

type MessageCompleted struct {
	Base
	MessageID string
}

func NewMessageCompleted(messageID string) MessageCompleted {
	return MessageCompleted{Base: NewBase(KindMessageCompleted), MessageID: messageID}
}

// StreamErrored signals the server reported an error frame for the session.
type StreamErrored struct {
	Base
	Reason string
}

func NewStreamErrored(reason string) StreamErrored {
	return StreamErrored{Base: NewBase(KindStreamErrored), Reason: reason}
}

// ReplyFinished signals a streamed assistant reply fully arrived. The UI
// uses it to re-enable input; voice turns use it to flush pending audio.
type ReplyFinished struct {
	Base
	MessageID string
}

func NewReplyFinished(messageID string) ReplyFinished {
	return ReplyFinished{Base: NewBase(KindReplyFinished), MessageID: messageID}
}
