// Package codec provides the text encodings used for sending structured
// values over a message channel.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var ErrDecode = errors.New("codec: cannot decode")

// Codec turns values into text and back.
type Codec interface {
	Encode(v any) (string, error)
	Decode(text string, v any) error
}

// DecodeError wraps a failure to interpret received text as the requested type.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: %s decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// JSON encodes values with encoding/json.
type JSON struct{}

func (JSON) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("codec: json encode: %w", err)
	}
	return string(b), nil
}

func (JSON) Decode(text string, v any) error {
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return &DecodeError{Codec: "json", Err: err}
	}
	return nil
}

// ProtoJSON encodes protobuf messages in their canonical JSON mapping.
// Values passed to it must implement proto.Message.
type ProtoJSON struct {
	// DiscardUnknown ignores fields the receiving message does not define.
	DiscardUnknown bool
}

func (p ProtoJSON) Encode(v any) (string, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return "", fmt.Errorf("codec: protojson encode: %T is not a proto.Message", v)
	}
	b, err := protojson.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("codec: protojson encode: %w", err)
	}
	return string(b), nil
}

func (p ProtoJSON) Decode(text string, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return &DecodeError{Codec: "protojson", Err: fmt.Errorf("%T is not a proto.Message", v)}
	}
	opts := protojson.UnmarshalOptions{DiscardUnknown: p.DiscardUnknown}
	if err := opts.Unmarshal([]byte(text), m); err != nil {
		return &DecodeError{Codec: "protojson", Err: err}
	}
	return nil
}

// ByName returns the codec registered under name ("json" or "protojson").
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "protojson":
		return ProtoJSON{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
