// Package jsoncodec is the JSON encoder used for protocol payloads and the
// inspector API.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalString parses a JSON document carried as a string field, as the
// init message does for the view representation and value. An empty string
// decodes to nil.
func UnmarshalString(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var out any
	if err := defaultConfig.UnmarshalFromString(s, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Convert re-encodes a loosely typed value (for example a decoded reply value)
// into the concrete type pointed to by out.
func Convert(in any, out any) error {
	data, err := defaultConfig.Marshal(in)
	if err != nil {
		return err
	}
	return defaultConfig.Unmarshal(data, out)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}
