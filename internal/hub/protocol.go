package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSeparator terminates every JSON hub protocol record.
const RecordSeparator = 0x1e

// MessageType identifies a hub protocol message.
type MessageType int

const (
	TypeInvocation       MessageType = 1
	TypeStreamItem       MessageType = 2
	TypeCompletion       MessageType = 3
	TypeStreamInvocation MessageType = 4
	TypeCancelInvocation MessageType = 5
	TypePing             MessageType = 6
	TypeClose            MessageType = 7
)

// Message is a hub protocol message. Fields unused by a type are omitted.
type Message struct {
	Type           MessageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// HandshakeRequest is the first record a client sends.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is "{}" on success.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// DefaultHandshake is the JSON protocol, version 1.
var DefaultHandshake = HandshakeRequest{Protocol: "json", Version: 1}

// EncodeRecord marshals v and appends the record separator.
func EncodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode hub record: %w", err)
	}
	return append(data, RecordSeparator), nil
}

// SplitRecords splits a frame into records. A frame may carry several
// records; empty records are dropped.
func SplitRecords(frame []byte) [][]byte {
	parts := bytes.Split(frame, []byte{RecordSeparator})
	records := parts[:0]
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			records = append(records, p)
		}
	}
	return records
}

// NewInvocation builds an invocation message, marshalling each argument.
// An empty id makes it fire-and-forget.
func NewInvocation(id, target string, args ...any) (Message, error) {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return Message{}, fmt.Errorf("encode argument %d of %s: %w", i, target, err)
		}
		raw[i] = b
	}
	return Message{Type: TypeInvocation, InvocationID: id, Target: target, Arguments: raw}, nil
}
