package ipc

import (
	"fmt"

	"github.com/drblury/uisync/internal/runtime/jsoncodec"
)

// Args are the ordered, still-encoded arguments of one inbound frame.
type Args []jsoncodec.RawMessage

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Raw returns argument i, or nil when it is missing.
func (a Args) Raw(i int) jsoncodec.RawMessage {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// IsNull reports whether argument i is missing or JSON null.
func (a Args) IsNull(i int) bool {
	return jsoncodec.IsNull(a.Raw(i))
}

// Decode unmarshals argument i into v.
func (a Args) Decode(i int, v any) error {
	raw := a.Raw(i)
	if raw == nil {
		return fmt.Errorf("argument %d missing (have %d)", i, len(a))
	}
	if err := jsoncodec.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("argument %d: %w", i, err)
	}
	return nil
}

func (a Args) String(i int) (string, error) {
	var s string
	err := a.Decode(i, &s)
	return s, err
}

func (a Args) Int64(i int) (int64, error) {
	var n int64
	err := a.Decode(i, &n)
	return n, err
}

func (a Args) Bool(i int) (bool, error) {
	var b bool
	err := a.Decode(i, &b)
	return b, err
}

// Bytes decodes a base64 string argument.
func (a Args) Bytes(i int) ([]byte, error) {
	var b []byte
	err := a.Decode(i, &b)
	return b, err
}

// OptionalString decodes a string argument that may be null.
func (a Args) OptionalString(i int) (*string, error) {
	if a.IsNull(i) {
		return nil, nil
	}
	s, err := a.String(i)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
