// Package jsonsafe decodes untrusted JSON defensively, per spec.md §6's
// "JSON safety" requirement: any object carrying __proto__, constructor,
// or prototype keys at any depth is sanitized before the caller's domain
// code ever sees it, since those keys have no special meaning in Go but
// the admin API must not round-trip them into stored records untouched.
package jsonsafe

import (
	"encoding/json"
	"io"
)

// dangerousKeys are stripped at every depth of a decoded JSON object.
var dangerousKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Decode reads JSON from r into a generic map, strips dangerous keys at
// every depth, then unmarshals the sanitized map into v.
func Decode(r io.Reader, v interface{}) error {
	var raw interface{}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	sanitized := Sanitize(raw)
	buf, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

// Unmarshal sanitizes data before unmarshaling it into v.
func Unmarshal(data []byte, v interface{}) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sanitized := Sanitize(raw)
	buf, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

// Sanitize walks an arbitrary decoded JSON value (map[string]interface{},
// []interface{}, or a scalar) and returns a copy with dangerousKeys
// removed from every nested object.
func Sanitize(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			if _, dangerous := dangerousKeys[k]; dangerous {
				continue
			}
			out[k] = Sanitize(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = Sanitize(child)
		}
		return out
	default:
		return v
	}
}

// ClampInt64 bounds n to [0, max], for admin-supplied credit/quota fields
// (spec.md §6: credits/quota/spending limits clamp to 1e9, auto-topup
// threshold/amount to 1e8).
func ClampInt64(n, max int64) int64 {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}
