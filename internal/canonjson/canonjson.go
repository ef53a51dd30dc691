// Package canonjson produces a deterministic JSON encoding used for
// content canonicalization and hash computation. Two semantically equal
// documents always canonicalize to the same bytes: object keys are sorted
// and numbers keep their source representation.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonicalize re-serializes a JSON document deterministically.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	out, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize: %w", err)
	}
	return out, nil
}

// Marshal encodes an arbitrary value to canonical JSON. Values are first
// marshaled normally and then canonicalized, so map key order never leaks
// into hashes.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Canonicalize(raw)
}
