// Package auth implements the HTTP authentication handshake service. Consoles
// POST a form-encoded credential request to a single legacy endpoint; the
// service answers with a legacy key-value body carrying a numeric return code,
// a bootstrap token, a challenge and the presence service redirect target.
package auth

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// The legacy clients wrap every form field in a base64 variant that swaps the
// characters that would collide with URL encoding. Padding becomes '*',
// '+' becomes '.' and '/' becomes '-'.
var nasEncoder = strings.NewReplacer("+", ".", "/", "-", "=", "*")
var nasDecoder = strings.NewReplacer(".", "+", "-", "/", "*", "=")

// EncodeField encodes a value into the legacy base64 variant.
func EncodeField(v string) string {
	return nasEncoder.Replace(base64.StdEncoding.EncodeToString([]byte(v)))
}

// DecodeField decodes a legacy base64 variant field. Values that are not
// valid base64 come back as an error; callers treat that as malformed input.
func DecodeField(v string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(nasDecoder.Replace(v))
	if err != nil {
		return "", fmt.Errorf("bad field encoding: %w", err)
	}
	return string(raw), nil
}

// DecodeForm decodes every field of a parsed form body. Duplicate fields keep
// their first value, matching the legacy server.
func DecodeForm(form url.Values) (map[string]string, error) {
	out := make(map[string]string, len(form))
	for key, vals := range form {
		if len(vals) == 0 {
			continue
		}
		decoded, err := DecodeField(vals[0])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = decoded
	}
	return out, nil
}

// EncodeResponse renders a response field map into the legacy body format:
// ampersand-joined key=value pairs with encoded values, keys in sorted order
// so responses are deterministic.
func EncodeResponse(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(EncodeField(fields[k]))
	}
	return sb.String()
}
