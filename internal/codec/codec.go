// Package codec encodes arbitrary values into HTML attribute values and back.
//
// An encoded attribute looks like
//
//	data-user="base64:eyJrZXkiOiJ1c2VyIiwidmFsdWUiOnsibmFtZSI6IlNhbSJ9fQ=="
//
// where the payload is the JSON object {"key": ..., "value": ...}. Values
// that were never encoded (hand-written markup) decode as plain strings.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/conneroisu/hydra/internal/value"
)

// Marker prefixes every encoded attribute value.
const Marker = "base64:"

// DataPrefix is the attribute name prefix for exported data.
const DataPrefix = "data-"

// Pair is one decoded key/value.
type Pair struct {
	Key   string
	Value any
}

type envelope struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Encode serializes key and v into a marker-prefixed attribute value.
func Encode(key string, v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(envelope{Key: key, Value: v}); err != nil {
		return "", fmt.Errorf("encode %q: %w", key, err)
	}
	payload := bytes.TrimRight(buf.Bytes(), "\n")
	return Marker + base64.StdEncoding.EncodeToString(payload), nil
}

// MustEncode is Encode for values known to be serializable.
func MustEncode(key string, v any) string {
	s, err := Encode(key, v)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode reads raw as written by Encode. Anything else, including corrupt
// payloads, decodes as the plain string raw under name.
func Decode(name, raw string) Pair {
	if p, ok := decode(raw); ok {
		return p
	}
	return Pair{Key: name, Value: raw}
}

func decode(raw string) (Pair, bool) {
	if !strings.HasPrefix(raw, Marker) {
		return Pair{}, false
	}
	payload, err := base64.StdEncoding.DecodeString(raw[len(Marker):])
	if err != nil {
		return Pair{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Pair{}, false
	}
	rawKey, hasKey := fields["key"]
	rawValue, hasValue := fields["value"]
	if !hasKey || !hasValue {
		return Pair{}, false
	}
	var key string
	if err := json.Unmarshal(rawKey, &key); err != nil {
		return Pair{}, false
	}
	var v any
	if err := json.Unmarshal(rawValue, &v); err != nil {
		return Pair{}, false
	}
	return Pair{Key: key, Value: v}, true
}

// Type is the legacy type prefix of `<type>:data-<key>` attributes.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeAny     Type = "any"
)

func (t Type) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeAny:
		return true
	}
	return false
}

// IsDataAttribute reports whether attrName is `data-<key>` or a typed
// `<type>:data-<key>`.
func IsDataAttribute(attrName string) bool {
	_, _, ok := splitName(attrName)
	return ok
}

func splitName(attrName string) (Type, string, bool) {
	typ := TypeAny
	name := attrName
	if i := strings.IndexByte(attrName, ':'); i >= 0 {
		typ = Type(attrName[:i])
		if !typ.valid() {
			return "", "", false
		}
		name = attrName[i+1:]
	}
	if !strings.HasPrefix(name, DataPrefix) || len(name) == len(DataPrefix) {
		return "", "", false
	}
	return typ, name[len(DataPrefix):], true
}

// DecodeAttribute decodes one attribute. Encoded values decode as written.
// Plain values under a typed name are coerced by that type; untyped plain
// values stay strings. ok is false when attrName is not a data attribute.
func DecodeAttribute(attrName, raw string) (Pair, bool) {
	typ, key, ok := splitName(attrName)
	if !ok {
		return Pair{}, false
	}
	if p, ok := decode(raw); ok {
		return p, true
	}
	if !strings.Contains(attrName, ":") {
		return Pair{Key: key, Value: raw}, true
	}
	return Pair{Key: key, Value: Coerce(typ, raw)}, true
}

// Coerce converts a plain attribute string according to typ.
func Coerce(typ Type, raw string) any {
	switch typ {
	case TypeNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return raw
		}
		return f
	case TypeBoolean:
		switch strings.TrimSpace(strings.ToLower(raw)) {
		case "", "false", "0":
			return false
		}
		return true
	case TypeObject:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return raw
		}
		return v
	case TypeAny:
		var v any
		if json.Valid([]byte(raw)) && json.Unmarshal([]byte(raw), &v) == nil {
			return v
		}
		return raw
	default:
		return raw
	}
}

// AttributeName returns `data-<key>`.
func AttributeName(key string) string {
	return DataPrefix + key
}

// ValidKey reports whether key can be carried in an attribute name.
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

// EncodeMap encodes every entry of data into attribute name/value pairs,
// sorted by key. Keys that cannot be attribute names are skipped and
// returned separately.
func EncodeMap(data map[string]any) (attrs [][2]string, skipped []string, err error) {
	for _, k := range value.SortedKeys(data) {
		if !ValidKey(k) {
			skipped = append(skipped, k)
			continue
		}
		enc, err := Encode(k, data[k])
		if err != nil {
			return nil, nil, err
		}
		attrs = append(attrs, [2]string{AttributeName(k), enc})
	}
	return attrs, skipped, nil
}
