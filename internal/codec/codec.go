// Package codec implements the galacticbuf binary wire format used on
// every v2 HTTP endpoint and on the trade stream.
//
// A message is a header followed by a flat list of named fields. The
// header carries the protocol version, the field count and the total
// message length including the header itself. Version 1 uses 16-bit
// lengths and has no bytes type; version 2 widens all lengths to 32
// bits. The server emits version 2 only but accepts both on input.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Protocol versions accepted on the wire.
const (
	V1 byte = 0x01
	V2 byte = 0x02
)

// Value type codes.
const (
	typeInt    byte = 0x01
	typeString byte = 0x02
	typeList   byte = 0x03
	typeObject byte = 0x04
	typeBytes  byte = 0x05
)

const (
	headerLenV1 = 4
	headerLenV2 = 6
	maxV1Total  = 0xFFFF
	maxFields   = 255
)

// ContentType is the media type for galacticbuf request and response bodies.
const ContentType = "application/x-galacticbuf"

// Map is a decoded galacticbuf message. Values are int64, string,
// []byte, []int64, []string, []Map or Map.
type Map map[string]any

// Decoder failure modes. Handlers treat every decode error as a
// malformed request.
var (
	ErrUnknownVersion = errors.New("codec: unknown protocol version")
	ErrLengthMismatch = errors.New("codec: declared length does not match payload")
	ErrTruncated      = errors.New("codec: truncated payload")
	ErrTrailingData   = errors.New("codec: trailing bytes after last field")
)

// Encode serializes m under the given protocol version. Fields are
// written in sorted name order so equal messages encode identically.
func Encode(m Map, version byte) ([]byte, error) {
	if version != V1 && version != V2 {
		return nil, fmt.Errorf("codec: unsupported encode version 0x%02x", version)
	}
	if len(m) > maxFields {
		return nil, fmt.Errorf("codec: %d fields exceeds the per-message limit of %d", len(m), maxFields)
	}

	body := new(bytes.Buffer)
	if err := writeFields(body, m, version); err != nil {
		return nil, err
	}

	if version == V1 {
		total := headerLenV1 + body.Len()
		if total > maxV1Total {
			return nil, fmt.Errorf("codec: message length %d exceeds the v1 limit", total)
		}
		out := make([]byte, 0, total)
		out = append(out, V1, byte(len(m)))
		out = binary.BigEndian.AppendUint16(out, uint16(total))
		return append(out, body.Bytes()...), nil
	}

	total := headerLenV2 + body.Len()
	if int64(total) > 0xFFFFFFFF {
		return nil, fmt.Errorf("codec: message length %d exceeds the v2 limit", total)
	}
	out := make([]byte, 0, total)
	out = append(out, V2, byte(len(m)))
	out = binary.BigEndian.AppendUint32(out, uint32(total))
	return append(out, body.Bytes()...), nil
}

func writeFields(buf *bytes.Buffer, m Map, version byte) error {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if len(name) == 0 || len(name) > 255 {
			return fmt.Errorf("codec: field name length %d out of range", len(name))
		}
		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
		if err := writeValue(buf, m[name], version); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

func writeValue(buf *bytes.Buffer, v any, version byte) error {
	switch v := v.(type) {
	case int64:
		buf.WriteByte(typeInt)
		writeInt64(buf, v)
	case int:
		buf.WriteByte(typeInt)
		writeInt64(buf, int64(v))
	case string:
		buf.WriteByte(typeString)
		if err := writeLen(buf, len(v), version); err != nil {
			return err
		}
		buf.WriteString(v)
	case []byte:
		if version == V1 {
			return errors.New("codec: bytes values require version 2")
		}
		buf.WriteByte(typeBytes)
		buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(v))))
		buf.Write(v)
	case []int64:
		buf.WriteByte(typeList)
		buf.WriteByte(typeInt)
		if err := writeLen(buf, len(v), version); err != nil {
			return err
		}
		for _, e := range v {
			writeInt64(buf, e)
		}
	case []string:
		buf.WriteByte(typeList)
		buf.WriteByte(typeString)
		if err := writeLen(buf, len(v), version); err != nil {
			return err
		}
		for _, e := range v {
			if err := writeLen(buf, len(e), version); err != nil {
				return err
			}
			buf.WriteString(e)
		}
	case []Map:
		buf.WriteByte(typeList)
		buf.WriteByte(typeObject)
		if err := writeLen(buf, len(v), version); err != nil {
			return err
		}
		for _, obj := range v {
			if err := writeObject(buf, obj, version); err != nil {
				return err
			}
		}
	case Map:
		buf.WriteByte(typeObject)
		if err := writeObject(buf, v, version); err != nil {
			return err
		}
	default:
		return fmt.Errorf("codec: unsupported value type %T", v)
	}
	return nil
}

func writeObject(buf *bytes.Buffer, m Map, version byte) error {
	if len(m) > maxFields {
		return fmt.Errorf("codec: %d fields exceeds the per-object limit of %d", len(m), maxFields)
	}
	buf.WriteByte(byte(len(m)))
	return writeFields(buf, m, version)
}

func writeInt64(buf *bytes.Buffer, v int64) {
	buf.Write(binary.BigEndian.AppendUint64(nil, uint64(v)))
}

func writeLen(buf *bytes.Buffer, n int, version byte) error {
	if version == V1 {
		if n > 0xFFFF {
			return fmt.Errorf("codec: length %d exceeds the v1 limit", n)
		}
		buf.Write(binary.BigEndian.AppendUint16(nil, uint16(n)))
		return nil
	}
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(n)))
	return nil
}

// Decode parses a complete galacticbuf message. The declared total
// length must match len(data) exactly and every byte must belong to a
// field; anything else is rejected.
func Decode(data []byte) (Map, error) {
	if len(data) < 2 {
		return nil, ErrTruncated
	}
	version := data[0]
	fieldCount := int(data[1])
	r := &reader{buf: data, off: 2}

	switch version {
	case V1:
		total, err := r.u16()
		if err != nil {
			return nil, err
		}
		if int(total) != len(data) {
			return nil, ErrLengthMismatch
		}
	case V2:
		total, err := r.u32()
		if err != nil {
			return nil, err
		}
		if int64(total) != int64(len(data)) {
			return nil, ErrLengthMismatch
		}
	default:
		return nil, fmt.Errorf("%w 0x%02x", ErrUnknownVersion, version)
	}

	m, err := readFields(r, fieldCount, version)
	if err != nil {
		return nil, err
	}
	if r.off != len(data) {
		return nil, ErrTrailingData
	}
	return m, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) i64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *reader) length(version byte) (int, error) {
	if version == V1 {
		n, err := r.u16()
		return int(n), err
	}
	n, err := r.u32()
	return int(n), err
}

func readFields(r *reader, count int, version byte) (Map, error) {
	m := make(Map, count)
	for i := 0; i < count; i++ {
		nameLen, err := r.u8()
		if err != nil {
			return nil, err
		}
		if nameLen == 0 {
			return nil, errors.New("codec: zero-length field name")
		}
		nameBytes, err := r.take(int(nameLen))
		if err != nil {
			return nil, err
		}
		name := string(nameBytes)

		typ, err := r.u8()
		if err != nil {
			return nil, err
		}
		v, err := readValue(r, typ, version)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		m[name] = v
	}
	return m, nil
}

func readValue(r *reader, typ, version byte) (any, error) {
	switch typ {
	case typeInt:
		return r.i64()
	case typeString:
		n, err := r.length(version)
		if err != nil {
			return nil, err
		}
		b, err := r.take(n)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case typeBytes:
		if version == V1 {
			return nil, errors.New("codec: bytes values require version 2")
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case typeList:
		elem, err := r.u8()
		if err != nil {
			return nil, err
		}
		count, err := r.length(version)
		if err != nil {
			return nil, err
		}
		return readList(r, elem, count, version)
	case typeObject:
		fc, err := r.u8()
		if err != nil {
			return nil, err
		}
		return readFields(r, int(fc), version)
	default:
		return nil, fmt.Errorf("codec: unknown value type 0x%02x", typ)
	}
}

func readList(r *reader, elem byte, count int, version byte) (any, error) {
	switch elem {
	case typeInt:
		out := []int64{}
		for i := 0; i < count; i++ {
			v, err := r.i64()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case typeString:
		out := []string{}
		for i := 0; i < count; i++ {
			n, err := r.length(version)
			if err != nil {
				return nil, err
			}
			b, err := r.take(n)
			if err != nil {
				return nil, err
			}
			out = append(out, string(b))
		}
		return out, nil
	case typeObject:
		out := []Map{}
		for i := 0; i < count; i++ {
			fc, err := r.u8()
			if err != nil {
				return nil, err
			}
			obj, err := readFields(r, int(fc), version)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: invalid list element type 0x%02x", elem)
	}
}
