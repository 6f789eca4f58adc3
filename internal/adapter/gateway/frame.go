package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the envelope exchanged between the desktop front end and the bridge.
// Event frames carry the bus event type in Method and the full event envelope
// in Payload.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // RPC method, or event type on event frames
	Payload json.RawMessage `json:"payload,omitempty"` // request params, response result or event
	Error   string          `json:"error,omitempty"`   // error description (response only)
	Code    string          `json:"code,omitempty"`    // machine-readable error code (response only)
}
