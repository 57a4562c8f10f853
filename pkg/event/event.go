package event

import (
	"encoding/json"
	"time"
)

// Type names a wire event. Client and server exchange envelopes tagged
// with one of these.
type Type string

const (
	// client -> server
	TypeJoin       Type = "join"
	TypeMessage    Type = "message"
	TypeTyping     Type = "typing"
	TypeStopTyping Type = "stop_typing"

	// server -> client
	TypeMessageHistory Type = "message_history"
	TypeNewMessage     Type = "new_message"
	TypeUserJoined     Type = "user_joined"
	TypeUserLeft       Type = "user_left"
	TypeUserTyping     Type = "user_typing"
	TypeUserStopTyping Type = "user_stop_typing"
)

// Envelope is the frame exchanged over the websocket: an event name plus
// its JSON payload.
type Envelope struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is a single chat message. ID and Timestamp are server-assigned
// when the relay appends the message to the room log; a message is never
// mutated after that. At least one of Text/Image must be set for a
// message to be meaningful (enforced by the relay, not here).
type Message struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Text      string    `json:"text,omitempty"`
	Image     string    `json:"image,omitempty"` // data URI
	Timestamp time.Time `json:"timestamp"`
}

// Join is the payload of "join".
type Join struct {
	Name string `json:"name"`
}

// Send is the payload of "message" (client -> server).
type Send struct {
	Name  string `json:"name"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// TypingSignal is the payload of "typing" and "stop_typing".
type TypingSignal struct {
	Name string `json:"name"`
}

// Presence is the payload of "user_joined" and "user_left".
type Presence struct {
	Name        string   `json:"name"`
	OnlineNames []string `json:"online_names"`
}

// TypingState is the payload of "user_typing" and "user_stop_typing".
type TypingState struct {
	Name        string   `json:"name"`
	TypingNames []string `json:"typing_names"`
}

// Marshal wraps a payload in an envelope and encodes it.
func Marshal(t Type, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: t, Data: raw})
}

// Parse decodes a raw frame into an envelope. The payload stays raw until
// the caller knows which shape to decode into.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
