package protocol

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	cbor "github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	"github.com/drblury/viewbridge/internal/runtime/jsoncodec"
)

// Content types of the built-in codecs.
const (
	ContentTypeJSON  = "application/json"
	ContentTypeCBOR  = "application/cbor"
	ContentTypeProto = "application/x-protobuf"
)

// Codec encodes messages for the wire.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs. Receivers use it to decode payloads
// by their content_type header.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Codec
}

// NewRegistry returns a registry preloaded with the JSON, CBOR and protobuf
// codecs.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	if c, err := CBOR(); err == nil {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[c.ContentType()] = c
}

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[contentType]
}

// CodecByName resolves the short names used in configuration: "json" (also
// the empty name), "cbor" and "proto".
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON(), nil
	case "cbor":
		return CBOR()
	case "proto", "protobuf":
		return Proto(), nil
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownCodec, name)
	}
}

type jsonCodec struct{}

// JSON returns the sonic backed JSON codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string                { return ContentTypeJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return jsoncodec.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return jsoncodec.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec. Maps inside loosely typed fields
// decode to map[string]any so values stay JSON compatible.
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) ContentType() string                { return ContentTypeCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a deterministic protobuf codec. Values that are not
// proto.Message are carried as a google.protobuf.Struct built from their JSON
// form.
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{},
	}
}

func (p protoCodec) ContentType() string { return ContentTypeProto }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return p.mo.Marshal(msg)
	}
	var fields map[string]any
	if err := jsoncodec.Convert(v, &fields); err != nil {
		return nil, fmt.Errorf("protobuf: convert %T: %w", v, err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("protobuf: build struct: %w", err)
	}
	return p.mo.Marshal(st)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok {
		return p.uo.Unmarshal(data, msg)
	}
	var st structpb.Struct
	if err := p.uo.Unmarshal(data, &st); err != nil {
		return err
	}
	return jsoncodec.Convert(st.AsMap(), v)
}
