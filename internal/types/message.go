package types

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Channel names accepted by the relay hub. Matching is case-sensitive.
const (
	ChannelDevtools = "devtools"
	ChannelContent  = "content"
)

// Actions carried in the "action" field of relay messages.
const (
	ActionGetHAR                = "getHAR"
	ActionRequestFinished       = "requestFinished"
	ActionAddRequestListener    = "addRequestListener"
	ActionRemoveRequestListener = "removeRequestListener"
)

// ErrEmptyMessage is returned for a null or missing message body.
var ErrEmptyMessage = errors.New("message object doesn't exist")

// Message is a relay message. Only the envelope fields needed for routing
// are decoded; Raw keeps the original bytes so forwarding never re-encodes.
type Message struct {
	Action    string
	HasAction bool // JSON truthiness of the action field
	TabID     *TabID
	ActionID  json.RawMessage
	HAR       json.RawMessage
	Raw       []byte

	// TabIDErr is set when tabId is present but not an integer. TabID is
	// nil in that case and the rest of the envelope is still decoded.
	TabIDErr error
}

type envelope struct {
	Action   json.RawMessage `json:"action"`
	TabID    json.RawMessage `json:"tabId"`
	ActionID json.RawMessage `json:"actionId"`
	HAR      json.RawMessage `json:"har"`
}

// ParseMessage decodes the routing envelope of a raw JSON message.
func ParseMessage(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Message{}, ErrEmptyMessage
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{}, err
	}
	msg := Message{
		ActionID:  env.ActionID,
		HAR:       env.HAR,
		HasAction: truthy(env.Action),
		Raw:       data,
	}
	if id := bytes.TrimSpace(env.TabID); len(id) > 0 && !bytes.Equal(id, []byte("null")) {
		var tab TabID
		if err := tab.UnmarshalJSON(id); err != nil {
			msg.TabIDErr = err
		} else {
			msg.TabID = &tab
		}
	}
	var action string
	if json.Unmarshal(env.Action, &action) == nil {
		msg.Action = action
	}
	return msg, nil
}

// truthy reports whether a JSON value would be truthy in the page scripts
// that originate these messages.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		return len(raw) > 2
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return false
	}
	return n != 0
}

// InitMessage is the first message a devtools channel sends.
type InitMessage struct {
	TabID TabID `json:"tabId"`
}

// HARMessage answers a getHAR request.
type HARMessage struct {
	TabID    TabID           `json:"tabId"`
	HAR      json.RawMessage `json:"har"`
	Action   string          `json:"action"`
	ActionID json.RawMessage `json:"actionId,omitempty"`
}

// RequestFinishedMessage carries one completed request serialized as text.
type RequestFinishedMessage struct {
	TabID   TabID  `json:"tabId"`
	Action  string `json:"action"`
	Request string `json:"request"`
}

// ControlMessage asks a devtools agent to do something.
type ControlMessage struct {
	Action   string          `json:"action"`
	ActionID json.RawMessage `json:"actionId,omitempty"`
}
