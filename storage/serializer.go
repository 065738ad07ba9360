package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// Serializer defines the interface for serialization.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Serialization formats accepted by GetSerializer.
const (
	FormatJSON     = "json"
	FormatMsgpack  = "msgpack"
	FormatCBOR     = "cbor"
	FormatProtobuf = "protobuf"
)

// JSONSerializer implements Serializer using JSON.
type JSONSerializer struct{}

// Marshal serializes a value to JSON.
func (js *JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (js *JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// MsgpackSerializer implements Serializer using vmihailenco/msgpack.
// Use `msgpack:"name"` tags when field names must differ from the Go names.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackSerializer) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CBORSerializer implements Serializer using fxamacker/cbor with core
// deterministic encoding, so equal values always produce equal bytes.
type CBORSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORSerializer builds a deterministic CBOR serializer.
func NewCBORSerializer() (*CBORSerializer, error) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return nil, err
	}
	return &CBORSerializer{enc: em, dec: dm}, nil
}

func (c *CBORSerializer) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c *CBORSerializer) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// ProtobufSerializer implements Serializer for proto.Message values.
// Marshal and Unmarshal fail for anything that is not a proto.Message.
type ProtobufSerializer struct{}

// ErrNotProtoMessage is returned by ProtobufSerializer for non-proto values.
var ErrNotProtoMessage = errors.New("value does not implement proto.Message")

func (ProtobufSerializer) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return proto.Marshal(m)
}

func (ProtobufSerializer) Unmarshal(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return proto.Unmarshal(data, m)
}

// GetSerializer returns a serializer for the given format.
func GetSerializer(format string) (Serializer, error) {
	switch format {
	case FormatJSON, "":
		return NewJSONSerializer(), nil
	case FormatMsgpack:
		return MsgpackSerializer{}, nil
	case FormatCBOR:
		return NewCBORSerializer()
	case FormatProtobuf:
		return ProtobufSerializer{}, nil
	default:
		return nil, errors.New("unsupported serialization format: " + format)
	}
}

// EncodeValue produces the canonical serialized form of v.
// Strings and byte slices pass through unchanged; everything else goes
// through s.
func EncodeValue(s Serializer, v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return []byte(val), nil
	case []byte:
		return val, nil
	default:
		return s.Marshal(v)
	}
}

// DecodeValue is the inverse of EncodeValue. dest must be a non-nil pointer.
func DecodeValue(s Serializer, data []byte, dest any) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	default:
		return s.Unmarshal(data, dest)
	}
}
