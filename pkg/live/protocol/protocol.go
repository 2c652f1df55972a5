// Package protocol defines the messages exchanged with the remote
// conversational service, independent of the transport that carries them.
package protocol

import (
	"fmt"
	"mime"
	"strconv"
	"strings"
)

const (
	// MIMEAudioInput is attached to every outbound microphone frame.
	MIMEAudioInput = "audio/pcm;rate=16000"

	mediaTypePCM = "audio/pcm"
)

type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

// AudioChunk is one encoded audio payload.
type AudioChunk struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// ToolCall is a structured request from the remote peer.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse is the local result paired with a ToolCall by ID.
type ToolResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Inbound is one message received from the remote peer. Audio and tool
// calls may both be present.
type Inbound struct {
	Audio         []AudioChunk
	ToolCalls     []ToolCall
	SetupComplete bool
	Interrupted   bool
	TurnComplete  bool
}

// Empty reports whether the message carries nothing the engine acts on.
func (m Inbound) Empty() bool {
	return len(m.Audio) == 0 && len(m.ToolCalls) == 0 && !m.Interrupted && !m.TurnComplete && !m.SetupComplete
}

// Outbound is one queued send: either a realtime audio frame or a batched
// tool response.
type Outbound struct {
	Audio         *AudioChunk
	ToolResponses []ToolResponse
}

// IsAudio reports whether the send is a realtime audio frame.
func (o Outbound) IsAudio() bool {
	return o.Audio != nil
}

// SampleRate extracts the rate parameter of an "audio/pcm;rate=N" MIME
// type. fallback is returned when the parameter is absent.
func SampleRate(mimeType string, fallback int) (int, error) {
	if strings.TrimSpace(mimeType) == "" {
		return fallback, nil
	}
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, &DecodeError{Message: "invalid audio mime type", Param: mimeType}
	}
	if mediaType != mediaTypePCM && mediaType != "audio/l16" {
		return 0, &DecodeError{Message: "unsupported audio encoding", Param: mediaType}
	}
	raw, ok := params["rate"]
	if !ok {
		return fallback, nil
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, &DecodeError{Message: "invalid sample rate", Param: raw}
	}
	return rate, nil
}
