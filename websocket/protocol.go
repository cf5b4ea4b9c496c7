package websocket

import (
	"encoding/json"

	"github.com/anjiri1684/chat_core/models"
)

// Client-to-server frame types.
const (
	FrameAuth       = "auth"
	FrameInvoke     = "invoke"
	FrameCompletion = "Completion"
)

// Invocation targets.
const (
	TargetJoinConversation  = "JoinConversation"
	TargetLeaveConversation = "LeaveConversation"
	TargetSendMessage       = "SendMessage"
	TargetMarkMessageAsRead = "MarkMessageAsRead"
	TargetToggleReaction    = "ToggleReaction"
	TargetSendTyping        = "SendTyping"
	TargetStopTyping        = "StopTyping"
	TargetUpdateActivity    = "UpdateActivity"
)

// AuthFrame must be the first frame on a new connection.
type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type Invocation struct {
	Type         string          `json:"type"`
	Target       string          `json:"target"`
	InvocationID string          `json:"invocation_id,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
}

type CompletionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Completion answers an Invocation that carried an id.
type Completion struct {
	Type         string           `json:"type"`
	InvocationID string           `json:"invocation_id"`
	Result       any              `json:"result,omitempty"`
	Error        *CompletionError `json:"error,omitempty"`
}

// ServerFrame is the union of frames a client can receive; Data is left raw
// for the caller to decode by Type.
type ServerFrame struct {
	Type         string           `json:"type"`
	Data         json.RawMessage  `json:"data,omitempty"`
	InvocationID string           `json:"invocation_id,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
	Error        *CompletionError `json:"error,omitempty"`
}

func encodeEvent(e models.Event) ([]byte, error) {
	return json.Marshal(models.NewEnvelope(e))
}
