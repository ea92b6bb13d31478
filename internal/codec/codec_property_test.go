//go:build property
// +build property

package codec

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/hydra/internal/value"
)

func TestCodecProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: decode(encode(k, v)) == {k, v} for strings
	properties.Property("string round trip", prop.ForAll(
		func(k, v string) bool {
			enc, err := Encode(k, v)
			if err != nil {
				return false
			}
			got := Decode("x", enc)
			return got.Key == k && got.Value == v
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	// Property: numbers keep their value
	properties.Property("number round trip", prop.ForAll(
		func(k string, v float64) bool {
			enc, err := Encode(k, v)
			if err != nil {
				return false
			}
			got := Decode("x", enc)
			return got.Key == k && value.Equal(got.Value, v)
		},
		gen.AlphaString(),
		gen.Float64Range(-1e12, 1e12),
	))

	// Property: nested objects of string slices survive
	properties.Property("object round trip", prop.ForAll(
		func(keys []string, items []string) bool {
			obj := map[string]any{}
			for _, k := range keys {
				obj[k] = items
			}
			enc, err := Encode("obj", obj)
			if err != nil {
				return false
			}
			got := Decode("x", enc)
			return got.Key == "obj" && value.Equal(got.Value, obj)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AnyString()),
	))

	// Property: attribute values without the marker decode as themselves
	properties.Property("plain fallback", prop.ForAll(
		func(raw string) bool {
			got := Decode("attr", "x"+raw)
			return got.Key == "attr" && got.Value == "x"+raw
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
