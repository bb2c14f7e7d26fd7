// Package wire implements the backslash-delimited key-value message format
// shared by the auth, presence and registry services. Messages look like
//
//	\login\\challenge\OSXVBZLC\authtoken\NDS...\final\
//
// Keys and values are raw byte strings: client payloads are not guaranteed
// to be valid text in any layered encoding, so the codec never interprets
// bytes beyond the single delimiter character.
package wire

import (
	"bytes"
	"strings"
)

// Delimiter separates keys and values on the wire.
const Delimiter = '\\'

// Terminator is the token that ends a complete message on the stream
// transports. It is not part of the decoded pairs.
const Terminator = "final"

// TerminatorBytes is the full on-wire terminator sequence.
var TerminatorBytes = []byte("\\final\\")

// Pair is a single key-value field. Duplicate keys are legal and order is
// significant, which rules out a plain map representation.
type Pair struct {
	Key   string
	Value string
}

// Message is an ordered sequence of key-value pairs.
type Message []Pair

// Get returns the value of the first pair with the given key.
func (m Message) Get(key string) (string, bool) {
	for _, p := range m {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// GetDefault returns the value of the first pair with the given key, or def
// if the key is absent.
func (m Message) GetDefault(key, def string) string {
	if v, ok := m.Get(key); ok {
		return v
	}
	return def
}

// Has reports whether the message contains the given key, even with an
// empty value.
func (m Message) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Command returns the key of the first pair. Legacy clients identify the
// message type by its leading key (e.g. "login", "heartbeat").
func (m Message) Command() string {
	if len(m) == 0 {
		return ""
	}
	return m[0].Key
}

// Add appends a pair and returns the extended message, for chained building.
func (m Message) Add(key, value string) Message {
	return append(m, Pair{Key: key, Value: value})
}

// Decode parses raw bytes into an ordered pair sequence.
//
// The format is lenient by protocol requirement, not by choice:
//   - a leading delimiter is stripped before splitting;
//   - an odd number of remaining tokens yields the last key with an empty
//     value instead of an error;
//   - a doubled delimiter produces an empty-string token, which becomes an
//     empty value (or empty key) in its position;
//   - a trailing terminator token, with or without trailing delimiter, is
//     dropped;
//   - unknown keys are preserved untouched so they can be forwarded.
//
// Decode never fails; the worst input decodes to an empty message.
func Decode(data []byte) Message {
	data = bytes.TrimSuffix(data, []byte{Delimiter})
	data = bytes.TrimSuffix(data, []byte(Terminator))
	data = bytes.TrimSuffix(data, []byte{Delimiter})
	if len(data) > 0 && data[0] == Delimiter {
		data = data[1:]
	}
	if len(data) == 0 {
		return nil
	}

	tokens := strings.Split(string(data), string(rune(Delimiter)))
	msg := make(Message, 0, (len(tokens)+1)/2)
	for i := 0; i < len(tokens); i += 2 {
		p := Pair{Key: tokens[i]}
		if i+1 < len(tokens) {
			p.Value = tokens[i+1]
		}
		msg = append(msg, p)
	}
	return msg
}

// Encode renders the pairs back to wire bytes without a terminator.
// Encode(Decode(b)) reproduces b for any well-formed input.
func Encode(m Message) []byte {
	var buf bytes.Buffer
	for _, p := range m {
		buf.WriteByte(Delimiter)
		buf.WriteString(p.Key)
		buf.WriteByte(Delimiter)
		buf.WriteString(p.Value)
	}
	return buf.Bytes()
}

// EncodeMessage renders the pairs followed by the terminator token. This is
// the form written to the stream transports.
func EncodeMessage(m Message) []byte {
	out := Encode(m)
	return append(out, TerminatorBytes...)
}
