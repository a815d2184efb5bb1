// Package jsoncodec is the single JSON entry point for frame arguments.
package jsoncodec

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// RawMessage is one undecoded JSON value.
type RawMessage = json.RawMessage

// Null is the JSON literal null.
var Null = RawMessage("null")

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// MarshalArray encodes values as one JSON array. A nil or empty slice encodes
// as [] rather than null.
func MarshalArray(values []any) ([]byte, error) {
	if len(values) == 0 {
		return []byte("[]"), nil
	}
	return defaultConfig.Marshal(values)
}

// SplitArray decodes a JSON array into its elements without decoding them.
func SplitArray(data []byte) ([]RawMessage, error) {
	var items []RawMessage
	if err := defaultConfig.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// IsNull reports whether raw is absent or the JSON literal null.
func IsNull(raw RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	return string(raw) == "null"
}
