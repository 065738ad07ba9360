package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type user struct {
	ID   int    `json:"id" msgpack:"id" cbor:"id"`
	Name string `json:"name" msgpack:"name" cbor:"name"`
}

func TestJSONSerializerWithStruct(t *testing.T) {
	serializer := NewJSONSerializer()
	in := user{ID: 1, Name: "John"}

	data, err := serializer.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"John"}`, string(data))

	var out user
	require.NoError(t, serializer.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestGetSerializer(t *testing.T) {
	tests := []struct {
		format string
		valid  bool
	}{
		{"", true},
		{FormatJSON, true},
		{FormatMsgpack, true},
		{FormatCBOR, true},
		{FormatProtobuf, true},
		{"invalid", false},
	}

	for _, test := range tests {
		serializer, err := GetSerializer(test.format)
		if !test.valid {
			assert.Error(t, err, "format %q", test.format)
			continue
		}
		require.NoError(t, err, "format %q", test.format)
		assert.NotNil(t, serializer, "format %q", test.format)
	}
}

func TestStructSerializersPreserveValue(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatMsgpack, FormatCBOR} {
		t.Run(format, func(t *testing.T) {
			s, err := GetSerializer(format)
			require.NoError(t, err)

			in := user{ID: 7, Name: "Ada"}
			data, err := EncodeValue(s, in)
			require.NoError(t, err)

			var out user
			require.NoError(t, DecodeValue(s, data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestCBORSerializerIsDeterministic(t *testing.T) {
	s, err := NewCBORSerializer()
	require.NoError(t, err)

	m := map[string]int{"b": 2, "a": 1, "c": 3}
	first, err := s.Marshal(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestProtobufSerializer(t *testing.T) {
	s := ProtobufSerializer{}

	data, err := s.Marshal(wrapperspb.String("hello"))
	require.NoError(t, err)

	out := &wrapperspb.StringValue{}
	require.NoError(t, s.Unmarshal(data, out))
	assert.Equal(t, "hello", out.GetValue())

	_, err = s.Marshal(user{ID: 1})
	assert.ErrorIs(t, err, ErrNotProtoMessage)
}

func TestEncodeValueStringsPassThrough(t *testing.T) {
	s := NewJSONSerializer()

	data, err := EncodeValue(s, "plain text")
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(data), "strings must not be quoted")

	raw, err := EncodeValue(s, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, raw)

	var str string
	require.NoError(t, DecodeValue(s, []byte("plain text"), &str))
	assert.Equal(t, "plain text", str)

	var b []byte
	require.NoError(t, DecodeValue(s, []byte{0x03}, &b))
	assert.Equal(t, []byte{0x03}, b)
}
