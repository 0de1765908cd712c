// Package codec implements the canonical JSON serialization (RFC 8785, JCS)
// used for object hashing and transaction signing, plus the Blake2s-256
// object hasher that depends on it.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"unicode/utf16"
)

// Canonicalize returns the RFC 8785 canonical JSON encoding of v.
//
// v must be built from the standard decoding targets: nil, bool, json.Number
// or float64, string, []interface{}, map[string]interface{}. Use Decode to
// obtain such a value from raw JSON bytes without losing integer precision.
func Canonicalize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses raw JSON into a value suitable for Canonicalize, preserving
// the literal text of numbers (via json.Number) so integers are never routed
// through a lossy float64 round-trip.
func Decode(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != nil && err.Error() != "EOF" {
		// trailing data after the JSON value — fine, ignore.
	}
	return v, nil
}

// CanonicalizeRaw decodes data and re-encodes it in canonical form.
func CanonicalizeRaw(data []byte) ([]byte, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return Canonicalize(v)
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, t)
	case float64:
		return encodeNumber(buf, json.Number(strconv.FormatFloat(t, 'g', -1, 64)))
	case string:
		encodeString(buf, t)
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]interface{}:
		return encodeObject(buf, t)
	default:
		return fmt.Errorf("codec: unsupported value type %T", v)
	}
}

func encodeObject(buf *bytes.Buffer, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less16(keys[i], keys[j]) })

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// less16 orders two strings by their UTF-16 code unit sequence, as required
// by RFC 8785 §3.2.3.
func less16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	n := len(ua)
	if len(ub) < n {
		n = len(ub)
	}
	for i := 0; i < n; i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// encodeString writes a JSON string using the minimal JCS escaping: only the
// quote, backslash, and C0 control characters are escaped; everything else
// is emitted as literal UTF-8.
func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// encodeNumber writes n in JCS shortest round-trip form. Integers (no
// fraction, no exponent) are emitted as their decimal digits verbatim;
// anything else falls back to Go's shortest-round-trip float formatting.
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := string(n)
	if isPlainInteger(s) {
		bi, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("codec: invalid integer literal %q", s)
		}
		buf.WriteString(bi.String())
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("codec: invalid number literal %q: %w", s, err)
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func isPlainInteger(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' {
		i++
	}
	if i == len(s) {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
