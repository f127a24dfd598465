package router

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeMessage parses a frame payload into a Message.
// Numbers are kept as json.Number so 64-bit IDs are not rounded.
func DecodeMessage(payload []byte) (Message, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, ErrEmpty
	}
	if payload[0] != '{' {
		return nil, ErrNotObject
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg == nil {
		return nil, ErrNotObject
	}
	return msg, nil
}

// Object returns the nested object stored under key, if any.
func (m Message) Object(key string) (Message, bool) {
	switch v := m[key].(type) {
	case map[string]any:
		return Message(v), true
	case Message:
		return v, true
	}
	return nil, false
}

// Int returns the integer stored under key. Accepts json.Number, float64 and
// numeric strings.
func (m Message) Int(key string) (int64, bool) {
	switch v := m[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := json.Number(v).Int64()
		return n, err == nil
	}
	return 0, false
}

// String returns the string stored under key.
func (m Message) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Clone returns a shallow copy of the message.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
