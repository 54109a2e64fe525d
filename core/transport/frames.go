package transport

import (
	"encoding/json"
	"fmt"
)

type FrameType string

const (
	FrameStreamStart FrameType = "stream_start"
	FrameStreamChunk FrameType = "stream_chunk"
	FrameStreamEnd   FrameType = "stream_end"
	FrameError       FrameType = "error"
	// FrameMessage is the legacy non-streaming reply shape, still emitted by
	// older session endpoints.
	FrameMessage FrameType = "message"
	FrameAudioChunk FrameType = "audio_chunk"
	FrameComplete   FrameType = "complete"
)

// Message is the wire shape of one conversation entry. Content is a pointer
// because stream_start announces an assistant message with null content.
type Message struct {
	ID      string  `json:"id"`
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// Frame is one decoded inbound frame. Only the fields relevant to its Type
// are populated.
type Frame struct {
	Type       FrameType `json:"type"`
	Message    *Message  `json:"message,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Chunk      string    `json:"chunk,omitempty"`
	Error      string    `json:"error,omitempty"`
	AudioData  string    `json:"audio_data,omitempty"`
	ChunkIndex int       `json:"chunk_index,omitempty"`
}

// DecodeFrame parses a raw inbound payload. Payloads that are not JSON
// objects with a type field are rejected; unrecognized types decode fine and
// are left to the consumer to drop.
func DecodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if frame.Type == "" {
		return Frame{}, fmt.Errorf("frame missing type field")
	}
	return frame, nil
}

// ChatEnvelope is the outbound shape for submitting a user message on a
// conversation channel.
type ChatEnvelope struct {
	Message   Message `json:"message"`
	ProjectID string  `json:"project_id"`
}

// SpeakRequest initiates a text-to-speech stream on a voice channel.
type SpeakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}
