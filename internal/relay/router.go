package relay

import (
	"bytes"
	"unicode/utf8"
)

// ActionKind is the routing decision for an inbound datagram.
type ActionKind int

const (
	// ActionIgnore drops the datagram without a response.
	ActionIgnore ActionKind = iota
	// ActionReply answers the sender only.
	ActionReply
	// ActionBroadcast relays the payload to every live endpoint.
	ActionBroadcast
)

// String returns the lowercase action name used in logs and metric labels.
func (k ActionKind) String() string {
	switch k {
	case ActionIgnore:
		return "ignore"
	case ActionReply:
		return "reply"
	case ActionBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Action is the result of classifying a datagram payload.
type Action struct {
	Kind ActionKind
	// Payload is the datagram to send; nil for ActionIgnore.
	Payload []byte
}

const pongReply = "PONG"

var (
	pingKeyword = []byte("PING")
	moveKeyword = []byte("MOVE:")
)

// Classify decides what the relay does with a datagram payload.
// Keywords are matched case-insensitively after trimming surrounding
// whitespace; a broadcast carries the original payload untouched.
// Payloads that are not valid UTF-8 are ignored.
//
// Postcondition: the result depends on payload alone; payload is not modified.
func Classify(payload []byte) Action {
	if !utf8.Valid(payload) {
		return Action{Kind: ActionIgnore}
	}
	text := bytes.TrimSpace(payload)
	switch {
	case bytes.EqualFold(text, pingKeyword):
		return Action{Kind: ActionReply, Payload: []byte(pongReply)}
	case len(text) >= len(moveKeyword) && bytes.EqualFold(text[:len(moveKeyword)], moveKeyword):
		return Action{Kind: ActionBroadcast, Payload: payload}
	default:
		return Action{Kind: ActionIgnore}
	}
}
