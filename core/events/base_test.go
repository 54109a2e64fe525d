package events

import (
	"testing"
	"time"
)

func TestKindComponentIsNamespacePrefix(t *testing.T) {
	cases := map[Kind]string{
		KindPlaybackIdle:     "playback",
		KindMessageGrew:      "message",
		KindTranscriptReady:  "call",
		Kind("unnamespaced"): "unnamespaced",
	}
	for kind, want := range cases {
		if got := kind.Component(); got != want {
			t.Fatalf("expected component %q for kind %q, got %q", want, kind, got)
		}
	}
}

func TestBaseCarriesKindAndOccurrenceTime(t *testing.T) {
	before := time.Now()
	event := NewPlaybackIdle()

	if event.Kind() != KindPlaybackIdle {
		t.Fatalf("unexpected kind %q", event.Kind())
	}
	if event.OccurredAt().Before(before) || event.OccurredAt().After(time.Now()) {
		t.Fatalf("occurrence time %v outside construction window", event.OccurredAt())
	}
}
