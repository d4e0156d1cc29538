package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// NoBadge leaves the application badge untouched.
	NoBadge = -1
	// NoTTL lets the provider default expiration apply.
	NoTTL = -1
)

// APNsOptions holds the iOS specific parts of a message.
type APNsOptions struct {
	Title            string   `json:"title,omitempty"`
	Action           string   `json:"action,omitempty"`
	URLArgs          []string `json:"urlArgs,omitempty"`
	ActionCategory   string   `json:"actionCategory,omitempty"`
	ContentAvailable bool     `json:"contentAvailable,omitempty"`
	MutableContent   bool     `json:"mutableContent,omitempty"`
}

// Message is the user visible content of a push.
// Badge is NoBadge when unset; 0 clears the badge.
type Message struct {
	Alert    string      `json:"alert,omitempty"`
	Sound    string      `json:"sound,omitempty"`
	Badge    int         `json:"badge"`
	APNs     APNsOptions `json:"apns"`
	UserData CustomData  `json:"userData,omitempty"`
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type alias Message
	a := alias{Badge: NoBadge}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*m = Message(a)
	return nil
}

// PushRequest is one batch handed to the dispatcher by the fan-out layer.
type PushRequest struct {
	VariantID     string   `json:"variantId"`
	PushMessageID string   `json:"pushMessageId"`
	Tokens        []string `json:"tokens"`
	Message       Message  `json:"message"`
	// TimeToLive in seconds; NoTTL selects the provider default.
	TimeToLive int `json:"ttl"`
}

func (r *PushRequest) UnmarshalJSON(b []byte) error {
	type alias PushRequest
	a := alias{
		TimeToLive: NoTTL,
		Message:    Message{Badge: NoBadge},
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*r = PushRequest(a)
	return nil
}

// CustomField is a single caller supplied key/value pair.
type CustomField struct {
	Key   string
	Value any
}

// CustomData is an ordered set of custom payload keys.
// It decodes from and encodes to a JSON object, keeping key order.
type CustomData []CustomField

func (c *CustomData) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("custom data must be a JSON object, got %v", tok)
	}

	fields := make(CustomData, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected custom data key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to decode custom data %q: %w", key, err)
		}
		fields = append(fields, CustomField{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*c = fields
	return nil
}

func (c CustomData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeField(&buf, f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// AppendTo writes the fields as additional members of a JSON object.
// obj must be an encoded object; the result keeps obj's members first.
func (c CustomData) AppendTo(obj []byte) ([]byte, error) {
	obj = bytes.TrimSpace(obj)
	if len(obj) < 2 || obj[0] != '{' || obj[len(obj)-1] != '}' {
		return nil, fmt.Errorf("cannot append custom data to %q", obj)
	}

	var buf bytes.Buffer
	buf.Write(obj[:len(obj)-1])
	empty := len(bytes.TrimSpace(obj[1:len(obj)-1])) == 0
	for _, f := range c {
		if !empty {
			buf.WriteByte(',')
		}
		empty = false
		if err := writeField(&buf, f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Set replaces the value of key, keeping its position, or appends it.
func (c CustomData) Set(key string, value any) CustomData {
	for i := range c {
		if c[i].Key == key {
			c[i].Value = value
			return c
		}
	}
	return append(c, CustomField{Key: key, Value: value})
}

func writeField(buf *bytes.Buffer, key string, value any) error {
	k, err := EncodeJSON(key)
	if err != nil {
		return err
	}
	v, err := EncodeJSON(value)
	if err != nil {
		return fmt.Errorf("failed to encode custom data %q: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// EncodeJSON is json.Marshal without HTML escaping, so '<', '>' and '&' go
// over the wire as single bytes.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
