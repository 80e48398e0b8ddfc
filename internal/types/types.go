package types

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	DefaultChannel = "general"

	// TimeLayout renders UTC timestamps with a fixed width, so that their
	// lexical order is their chronological order.
	TimeLayout = "2006-01-02T15:04:05.000000000Z"
)

type UserAccount struct {
	Username     string `json:"username"`
	Id           string `json:"id"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`
}

type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username"`
	Payload   Payload   `json:"message"`
}

type messageJSON struct {
	Timestamp string  `json:"timestamp"`
	Username  string  `json:"username"`
	Payload   Payload `json:"message"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Timestamp: m.Timestamp.UTC().Format(TimeLayout),
		Username:  m.Username,
		Payload:   m.Payload,
	})
}

// UnmarshalJSON accepts any RFC 3339 timestamp, not only the fixed-width
// form written by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}

	*m = Message{
		Timestamp: ts.UTC(),
		Username:  raw.Username,
		Payload:   raw.Payload,
	}
	return nil
}

// Payload is a raw byte sequence. It is encoded as a JSON array of byte
// values so that non UTF-8 content survives the trip unchanged.
type Payload []byte

func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(p)*4 + 2)
	buf.WriteByte('[')
	for i, b := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(b)))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the array form as well as a base64 string.
func (p *Payload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		*p = b
		return nil
	}

	var vals []int
	if err := json.Unmarshal(data, &vals); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	out := make([]byte, len(vals))
	for i, v := range vals {
		if v < 0 || v > 255 {
			return fmt.Errorf("decode payload: byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*p = out
	return nil
}

func NewMessage(ts time.Time, username string, payload []byte) Message {
	return Message{
		Timestamp: ts.UTC(),
		Username:  username,
		Payload:   Payload(payload),
	}
}
