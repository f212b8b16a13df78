// Package wire defines the inbound stream frame schema shared with the agent
// platform and normalizes both accepted frame shapes into one raw event type.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EventType identifies the kind of raw event carried by a stream frame.
type EventType string

// Event type literals recognized from the server. These are a wire contract
// and must match the server exactly.
const (
	TypeChunk            EventType = "chunk"
	TypeMessage          EventType = "message"
	TypeText             EventType = "text"
	TypeToolCall         EventType = "tool_call"
	TypeToolResult       EventType = "tool_result"
	TypeError            EventType = "error"
	TypeAgentStatus      EventType = "agent_status"
	TypeCompletionSignal EventType = "completion_signal"

	// TypeUnknown marks frames whose event_type is not a recognized literal.
	// They are kept for diagnostic logging only and never reach the timeline.
	TypeUnknown EventType = "unknown"
)

var knownTypes = map[EventType]bool{
	TypeChunk:            true,
	TypeMessage:          true,
	TypeText:             true,
	TypeToolCall:         true,
	TypeToolResult:       true,
	TypeError:            true,
	TypeAgentStatus:      true,
	TypeCompletionSignal: true,
}

// Event is a normalized raw wire event. EventID is the idempotency key used
// by the dedup cache; MessageID correlates the chunks of one logical message.
// RawType preserves the literal from the frame when Type is TypeUnknown.
type Event struct {
	SessionID string          `json:"session_id"`
	Type      EventType       `json:"event_type"`
	RawType   string          `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
	EventID   string          `json:"event_id"`
	MessageID string          `json:"message_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChunkData is the payload of a chunk event: an incremental text fragment of
// a still-in-progress assistant message. Partial, when present, overrides the
// default assumption that the message is still streaming.
type ChunkData struct {
	Delta   string `json:"delta"`
	Partial *bool  `json:"partial,omitempty"`
}

// MessageData is the payload of a message or text event.
type MessageData struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Partial bool   `json:"partial"`
}

// ToolCallData is the payload of a tool_call event.
type ToolCallData struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	CallID    string          `json:"call_id"`
}

// ToolResultData is the payload of a tool_result event. CallID references the
// originating tool_call.
type ToolResultData struct {
	CallID  string          `json:"call_id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// AgentStatusData is the payload of an agent_status event.
type AgentStatusData struct {
	Status string `json:"status"`
}

// envelope is the v2 frame shape wrapping the legacy fields in a payload.
type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// rawEvent matches the legacy flat frame shape. Timestamp is deferred because
// the server emits either RFC 3339 strings or epoch milliseconds.
type rawEvent struct {
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	Timestamp json.RawMessage `json:"timestamp"`
	EventID   string          `json:"event_id"`
	MessageID string          `json:"message_id"`
	Data      json.RawMessage `json:"data"`
}

// Decode parses one stream frame, accepting both the legacy flat shape and
// the {v:2, type:"agent_event", payload:{...}} envelope, and normalizes it to
// an Event. A frame that is not valid JSON (or whose envelope payload is not)
// yields an error; the caller drops the single frame and keeps the stream.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, fmt.Errorf("wire: malformed frame: %w", err)
	}

	body := frame
	if env.Type == "agent_event" {
		if env.V != 2 {
			return Event{}, fmt.Errorf("wire: unsupported envelope version %d", env.V)
		}
		if len(env.Payload) == 0 {
			return Event{}, fmt.Errorf("wire: envelope without payload")
		}
		body = env.Payload
	}

	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("wire: malformed event body: %w", err)
	}

	ev := Event{
		SessionID: raw.SessionID,
		EventID:   raw.EventID,
		MessageID: raw.MessageID,
		Data:      raw.Data,
		Timestamp: parseTimestamp(raw.Timestamp),
	}

	t := EventType(raw.EventType)
	if knownTypes[t] {
		ev.Type = t
	} else {
		ev.Type = TypeUnknown
		ev.RawType = raw.EventType
	}
	return ev, nil
}

// parseTimestamp accepts RFC 3339 strings and epoch milliseconds. Frames
// without a usable timestamp get the local arrival time.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Now().UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
		return time.Now().UTC()
	}
	if ms, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Now().UTC()
}

// DecodeChunk unmarshals the chunk payload of ev.
func DecodeChunk(ev Event) (ChunkData, error) {
	var d ChunkData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		return ChunkData{}, fmt.Errorf("wire: chunk data: %w", err)
	}
	return d, nil
}

// DecodeMessage unmarshals the message/text payload of ev.
func DecodeMessage(ev Event) (MessageData, error) {
	var d MessageData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		return MessageData{}, fmt.Errorf("wire: message data: %w", err)
	}
	return d, nil
}

// DecodeToolCall unmarshals the tool_call payload of ev.
func DecodeToolCall(ev Event) (ToolCallData, error) {
	var d ToolCallData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		return ToolCallData{}, fmt.Errorf("wire: tool_call data: %w", err)
	}
	return d, nil
}

// DecodeToolResult unmarshals the tool_result payload of ev.
func DecodeToolResult(ev Event) (ToolResultData, error) {
	var d ToolResultData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		return ToolResultData{}, fmt.Errorf("wire: tool_result data: %w", err)
	}
	return d, nil
}

// DecodeAgentStatus unmarshals the agent_status payload of ev.
func DecodeAgentStatus(ev Event) (AgentStatusData, error) {
	var d AgentStatusData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		return AgentStatusData{}, fmt.Errorf("wire: agent_status data: %w", err)
	}
	return d, nil
}
