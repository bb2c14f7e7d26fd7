package wire

import (
	"bytes"
	"testing"
)

func TestDecodeLoginMessage(t *testing.T) {
	t.Parallel()

	msg := Decode([]byte(`\login\\challenge\OSXVBZLC\authtoken\NDSabc123\final\`))

	if msg.Command() != "login" {
		t.Fatalf("expected command login, got %q", msg.Command())
	}
	if v, _ := msg.Get("challenge"); v != "OSXVBZLC" {
		t.Fatalf("expected challenge OSXVBZLC, got %q", v)
	}
	if v, _ := msg.Get("authtoken"); v != "NDSabc123" {
		t.Fatalf("expected authtoken NDSabc123, got %q", v)
	}
	if v, ok := msg.Get("login"); !ok || v != "" {
		t.Fatalf("expected empty login value, got %q (present=%v)", v, ok)
	}
	if msg.Has("final") {
		t.Fatal("terminator token leaked into decoded pairs")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
	}{
		{"single pair", Message{{"lc", "1"}}},
		{"empty value", Message{{"login", ""}, {"port", "0"}}},
		{"duplicate keys", Message{{"buddy", "12"}, {"buddy", "34"}, {"buddy", "12"}}},
		{"binary-ish value", Message{{"stat", string([]byte{0x01, 0xfe, 0x7f})}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded := Encode(tc.msg)
			decoded := Decode(encoded)
			if len(decoded) != len(tc.msg) {
				t.Fatalf("pair count mismatch: got %d, want %d", len(decoded), len(tc.msg))
			}
			for i := range tc.msg {
				if decoded[i] != tc.msg[i] {
					t.Fatalf("pair %d mismatch: got %+v, want %+v", i, decoded[i], tc.msg[i])
				}
			}
		})
	}
}

// Legacy clients occasionally send messages with a dangling key. The decoder
// must yield that key with an empty value instead of failing.
func TestDecodeOddTokenCountKeepsTrailingKey(t *testing.T) {
	t.Parallel()

	msg := Decode([]byte(`\status\1\statstring`))
	if len(msg) != 2 {
		t.Fatalf("expected 2 pairs, got %d: %+v", len(msg), msg)
	}
	if msg[1].Key != "statstring" || msg[1].Value != "" {
		t.Fatalf("expected trailing statstring with empty value, got %+v", msg[1])
	}
}

// A doubled delimiter inside a message is treated as an empty value in its
// position, matching the empty-value reading of the reference behaviour.
func TestDecodeDoubledDelimiterYieldsEmptyValue(t *testing.T) {
	t.Parallel()

	msg := Decode([]byte(`\logout\\sesskey\abc`))
	if len(msg) != 2 {
		t.Fatalf("expected 2 pairs, got %d: %+v", len(msg), msg)
	}
	if msg[0].Key != "logout" || msg[0].Value != "" {
		t.Fatalf("expected logout with empty value, got %+v", msg[0])
	}
	if msg[1].Key != "sesskey" || msg[1].Value != "abc" {
		t.Fatalf("expected sesskey=abc, got %+v", msg[1])
	}
}

func TestDecodeUnknownKeysPreserved(t *testing.T) {
	t.Parallel()

	raw := []byte(`\heartbeat\27000\somefuturekey\somevalue\gamename\pokemondpds`)
	msg := Decode(raw)
	if v, ok := msg.Get("somefuturekey"); !ok || v != "somevalue" {
		t.Fatalf("unknown key not preserved: %+v", msg)
	}
	if !bytes.Equal(Encode(msg), raw) {
		t.Fatalf("re-encode altered message: got %q, want %q", Encode(msg), raw)
	}
}

func TestDecodeDegenerateInputs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		pairs int
	}{
		{"empty", "", 0},
		{"bare terminator", `\final\`, 0},
		{"single delimiter", `\`, 0},
		{"lone key", `\ka`, 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			msg := Decode([]byte(tc.input))
			if len(msg) != tc.pairs {
				t.Fatalf("expected %d pairs, got %d: %+v", tc.pairs, len(msg), msg)
			}
		})
	}
}

func TestEncodeMessageAppendsTerminator(t *testing.T) {
	t.Parallel()

	out := EncodeMessage(Message{{"lc", "1"}, {"challenge", "AAAA"}})
	if !bytes.HasSuffix(out, TerminatorBytes) {
		t.Fatalf("expected terminator suffix, got %q", out)
	}
	if string(out) != `\lc\1\challenge\AAAA\final\` {
		t.Fatalf("unexpected encoding: %q", out)
	}
}
