package codec

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripV2(t *testing.T) {
	msg := Map{
		"order_id": "ord-1",
		"price":    int64(4200),
		"quantity": int64(-7),
		"tags":     []string{"a", "bb", ""},
		"sizes":    []int64{1, 2, 3},
		"raw":      []byte{0x00, 0xFF, 0x7F},
		"contract": Map{
			"delivery_start": int64(3600000),
			"delivery_end":   int64(7200000),
		},
		"trades": []Map{
			{"trade_id": "t1", "price": int64(10)},
			{"trade_id": "t2", "price": int64(20)},
		},
	}

	data, err := Encode(msg, V2)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestRoundTripV1(t *testing.T) {
	msg := Map{
		"username": "alice",
		"limit":    int64(-1),
		"ids":      []int64{5, 6},
		"nested":   Map{"k": "v"},
		"objects":  []Map{{"n": int64(1)}},
	}

	data, err := Encode(msg, V1)
	require.NoError(t, err)
	assert.Equal(t, V1, data[0])

	// V1 output goes through the same decode entry point as v2.
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestHeaderLayout(t *testing.T) {
	data, err := Encode(Map{"a": int64(1)}, V2)
	require.NoError(t, err)

	assert.Equal(t, V2, data[0])
	assert.Equal(t, byte(1), data[1])
	assert.Equal(t, uint32(len(data)), binary.BigEndian.Uint32(data[2:6]))

	data, err = Encode(Map{"a": int64(1)}, V1)
	require.NoError(t, err)

	assert.Equal(t, V1, data[0])
	assert.Equal(t, byte(1), data[1])
	assert.Equal(t, uint16(len(data)), binary.BigEndian.Uint16(data[2:4]))
}

func TestEncodeDeterministic(t *testing.T) {
	msg := Map{"b": int64(2), "a": int64(1), "c": "x"}
	first, err := Encode(msg, V2)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Encode(msg, V2)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEncodeRejections(t *testing.T) {
	tests := []struct {
		name    string
		msg     Map
		version byte
	}{
		{"unknown version", Map{"a": int64(1)}, 0x03},
		{"empty field name", Map{"": int64(1)}, V2},
		{"unsupported value type", Map{"a": 3.14}, V2},
		{"bytes under v1", Map{"a": []byte{1}}, V1},
		{"v1 length cap", Map{"a": string(make([]byte, 70000))}, V1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg, tt.version)
			assert.Error(t, err)
		})
	}
}

func TestDecodeUnknownVersion(t *testing.T) {
	data, err := Encode(Map{"a": int64(1)}, V2)
	require.NoError(t, err)
	data[0] = 0x09

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestDecodeLengthMismatch(t *testing.T) {
	data, err := Encode(Map{"a": int64(1)}, V2)
	require.NoError(t, err)
	binary.BigEndian.PutUint32(data[2:6], uint32(len(data)+1))

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestDecodeTruncated(t *testing.T) {
	data, err := Encode(Map{"a": "hello"}, V2)
	require.NoError(t, err)

	// Chop the tail but keep the declared length honest so the cut is
	// detected inside the field reader, not by the length check.
	cut := data[:len(data)-3]
	fixed := append([]byte(nil), cut...)
	binary.BigEndian.PutUint32(fixed[2:6], uint32(len(fixed)))

	_, err = Decode(fixed)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeTrailingData(t *testing.T) {
	data, err := Encode(Map{"a": int64(1)}, V2)
	require.NoError(t, err)

	padded := append(append([]byte(nil), data...), 0x00, 0x00)
	binary.BigEndian.PutUint32(padded[2:6], uint32(len(padded)))

	_, err = Decode(padded)
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestDecodeEmptyAndTiny(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode([]byte{0x02})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeBytesUnderV1Rejected(t *testing.T) {
	// Hand-built v1 message declaring a bytes-typed field.
	body := []byte{
		0x01, 'a', // name
		0x05,                   // bytes type
		0x00, 0x00, 0x00, 0x01, // length 1
		0xAA,
	}
	data := []byte{0x01, 0x01}
	data = binary.BigEndian.AppendUint16(data, uint16(4+len(body)))
	data = append(data, body...)

	_, err := Decode(data)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTruncated)
}

func TestDecodeZeroLengthNestedName(t *testing.T) {
	body := []byte{
		0x03, 'o', 'b', 'j',
		0x04, // object
		0x01, // one nested field
		0x00, // zero-length nested name
	}
	data := []byte{0x02, 0x01}
	data = binary.BigEndian.AppendUint32(data, uint32(6+len(body)))
	data = append(data, body...)

	_, err := Decode(data)
	assert.Error(t, err)
}

func TestDecodeHugeDeclaredListDoesNotOverrun(t *testing.T) {
	body := []byte{
		0x01, 'l',
		0x03,                   // list
		0x01,                   // int elements
		0xFF, 0xFF, 0xFF, 0xFF, // absurd count
	}
	data := []byte{0x02, 0x01}
	data = binary.BigEndian.AppendUint32(data, uint32(6+len(body)))
	data = append(data, body...)

	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestEmptyListsRoundTrip(t *testing.T) {
	msg := Map{
		"ints":    []int64{},
		"strings": []string{},
		"objects": []Map{},
	}
	data, err := Encode(msg, V2)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestEmptyMessageRoundTrip(t *testing.T) {
	data, err := Encode(Map{}, V2)
	require.NoError(t, err)
	assert.Len(t, data, 6)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMapAccessors(t *testing.T) {
	m := Map{
		"n":    int64(7),
		"s":    "str",
		"obj":  Map{"x": int64(1)},
		"objs": []Map{{"y": int64(2)}},
		"strs": []string{"a"},
	}

	n, ok := m.Int("n")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = m.Int("s")
	assert.False(t, ok)

	s, ok := m.String("s")
	assert.True(t, ok)
	assert.Equal(t, "str", s)

	_, ok = m.String("missing")
	assert.False(t, ok)

	obj, ok := m.Object("obj")
	assert.True(t, ok)
	assert.Equal(t, int64(1), obj["x"])

	objs, ok := m.Objects("objs")
	assert.True(t, ok)
	assert.Len(t, objs, 1)

	strs, ok := m.Strings("strs")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, strs)
}
