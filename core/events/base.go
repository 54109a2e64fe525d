package events

import (
	"strings"
	"time"
)

// Kind identifies an event category. Kinds are namespaced by the emitting
// component, e.g. "playback.idle" or "call.transcript_ready".
type Kind string

// Component returns the namespace prefix of the kind.
func (k Kind) Component() string {
	name := string(k)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// Event is anything flowing through the channel's event emitter.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
}

// Base carries the fields every event shares. Concrete events embed it and
// add their own payload.
type Base struct {
	kind       Kind
	occurredAt time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, occurredAt: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) OccurredAt() time.Time {
	return b.occurredAt
}
