// Package json centralizes the jsoniter configuration used for every wire,
// cache, and queue payload in the gateway.
package json

import jsoniter "github.com/json-iterator/go"

// RawMessage is a raw encoded JSON value, stored verbatim.
type RawMessage = jsoniter.RawMessage

var (
	// JSON is the jsoniter instance used throughout the codebase.
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	// Marshal is a shorthand for JSON.Marshal.
	Marshal = JSON.Marshal

	// Unmarshal is a shorthand for JSON.Unmarshal.
	Unmarshal = JSON.Unmarshal

	// MarshalIndent is a shorthand for JSON.MarshalIndent.
	MarshalIndent = JSON.MarshalIndent

	// NewDecoder is a shorthand for JSON.NewDecoder.
	NewDecoder = JSON.NewDecoder

	// NewEncoder is a shorthand for JSON.NewEncoder.
	NewEncoder = JSON.NewEncoder
)

// Valid reports whether data is well-formed JSON.
func Valid(data []byte) bool {
	return JSON.Valid(data)
}
