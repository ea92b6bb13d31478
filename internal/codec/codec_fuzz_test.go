package codec

import (
	"encoding/json"
	"testing"
	"unicode/utf8"

	"github.com/conneroisu/hydra/internal/value"
)

// FuzzRoundTrip encodes any valid JSON value and expects it back.
func FuzzRoundTrip(f *testing.F) {
	f.Add("name", `"Ann"`)
	f.Add("user", `{"name":"Sam","age":9}`)
	f.Add("list", `[1,"a",null,true]`)
	f.Add("", `0`)

	f.Fuzz(func(t *testing.T, key, literal string) {
		if !utf8.ValidString(key) {
			t.Skip("key is not valid UTF-8")
		}
		var v any
		if err := json.Unmarshal([]byte(literal), &v); err != nil {
			t.Skip("not a JSON literal")
		}
		enc, err := Encode(key, v)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got := Decode("fallback", enc)
		if got.Key != key || !value.Equal(got.Value, v) {
			t.Fatalf("round trip mismatch: %#v -> %#v", v, got)
		}
	})
}

// FuzzDecode never panics and always yields the fallback for plain input.
func FuzzDecode(f *testing.F) {
	f.Add("data-a", "plain")
	f.Add("number:data-a", "12")
	f.Add("data-a", "base64:e30=")

	f.Fuzz(func(t *testing.T, name, raw string) {
		p := Decode(name, raw)
		if _, ok := decode(raw); !ok && (p.Key != name || p.Value != raw) {
			t.Fatalf("expected fallback for %q, got %#v", raw, p)
		}
		_, _ = DecodeAttribute(name, raw)
	})
}
