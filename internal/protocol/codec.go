// internal/protocol/codec.go
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolError reports text that is not a valid wire message.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// variants maps every discriminator to a constructor of its concrete type.
var variants = map[MessageType]func() Message{
	TypePosition:        func() Message { return &Position{} },
	TypeItemAction:      func() Message { return &ItemAction{} },
	TypeLobbyState:      func() Message { return &LobbyState{} },
	TypeGameState:       func() Message { return &GameState{} },
	TypeMap:             func() Message { return &Map{} },
	TypeCreateLobby:     func() Message { return &CreateLobby{} },
	TypeJoinLobby:       func() Message { return &JoinLobby{} },
	TypeLobbyInfo:       func() Message { return &LobbyInfo{} },
	TypeError:           func() Message { return &ErrorMessage{} },
	TypeCloseConnection: func() Message { return &CloseConnection{} },
	TypeRespawn:         func() Message { return &Respawn{} },
	TypePlayerState:     func() Message { return &PlayerState{} },
	TypeFieldUpdate:     func() Message { return &FieldUpdate{} },
}

// Encode renders msg as a single-line JSON object whose first key is "type".
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, &ProtocolError{Reason: "nil message"}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}
	// a typed nil pointer marshals to null; Type would panic on it
	if len(payload) < 2 || payload[0] != '{' {
		return nil, &ProtocolError{Reason: fmt.Sprintf("%T does not encode to an object", msg)}
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + 32)
	buf.WriteString(`{"type":`)
	typ, _ := json.Marshal(string(msg.Type()))
	buf.Write(typ)
	if len(payload) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(payload[1:])
	return buf.Bytes(), nil
}

// Decode parses one wire message and returns a pointer to its concrete variant,
// e.g. *Position for a "Position" message.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &ProtocolError{Reason: "empty message"}
	}

	var envelope struct {
		Type *MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &ProtocolError{Reason: "malformed message", Err: err}
	}
	if envelope.Type == nil {
		return nil, &ProtocolError{Reason: "missing type"}
	}

	newVariant, ok := variants[*envelope.Type]
	if !ok {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", *envelope.Type)}
	}
	msg := newVariant()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed %s", *envelope.Type), Err: err}
	}
	return msg, nil
}

// MustEncode is Encode for messages known to be encodable; it is used for
// fixed server replies.
func MustEncode(msg Message) []byte {
	data, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return data
}
