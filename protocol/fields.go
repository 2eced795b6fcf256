package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Table is an AMQP field table
type Table map[string]interface{}

// fieldWriter encodes method arguments. Consecutive bit fields are packed
// into one octet, low bit first, as AMQP requires.
type fieldWriter struct {
	buf   bytes.Buffer
	bits  byte
	nbits uint
}

func (w *fieldWriter) flushBits() {
	if w.nbits > 0 {
		w.buf.WriteByte(w.bits)
		w.bits, w.nbits = 0, 0
	}
}

func (w *fieldWriter) bit(v bool) {
	if w.nbits == 8 {
		w.flushBits()
	}
	if v {
		w.bits |= 1 << w.nbits
	}
	w.nbits++
}

func (w *fieldWriter) octet(v byte) {
	w.flushBits()
	w.buf.WriteByte(v)
}

func (w *fieldWriter) short(v uint16) {
	w.flushBits()
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *fieldWriter) long(v uint32) {
	w.flushBits()
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *fieldWriter) longlong(v uint64) {
	w.flushBits()
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *fieldWriter) shortstr(s string) error {
	w.flushBits()
	if len(s) > math.MaxUint8 {
		return fmt.Errorf("short string too long: %d bytes", len(s))
	}
	w.buf.WriteByte(byte(len(s)))
	w.buf.WriteString(s)
	return nil
}

func (w *fieldWriter) longstr(s []byte) {
	w.long(uint32(len(s)))
	w.buf.Write(s)
}

func (w *fieldWriter) table(t Table) error {
	w.flushBits()
	encoded, err := EncodeFieldTable(t)
	if err != nil {
		return err
	}
	w.buf.Write(encoded)
	return nil
}

func (w *fieldWriter) bytes() []byte {
	w.flushBits()
	return w.buf.Bytes()
}

// fieldReader decodes method arguments written by fieldWriter.
type fieldReader struct {
	data   []byte
	offset int
	bits   byte
	nbits  uint
}

func newFieldReader(data []byte) *fieldReader {
	return &fieldReader{data: data}
}

func (r *fieldReader) need(n int, what string) error {
	if r.offset+n > len(r.data) {
		return fmt.Errorf("insufficient data for %s", what)
	}
	return nil
}

func (r *fieldReader) bit(what string) (bool, error) {
	if r.nbits == 0 || r.nbits == 8 {
		if err := r.need(1, what); err != nil {
			return false, err
		}
		r.bits = r.data[r.offset]
		r.offset++
		r.nbits = 0
	}
	v := r.bits&(1<<r.nbits) != 0
	r.nbits++
	return v, nil
}

func (r *fieldReader) resetBits() {
	r.bits, r.nbits = 0, 0
}

func (r *fieldReader) octet(what string) (byte, error) {
	r.resetBits()
	if err := r.need(1, what); err != nil {
		return 0, err
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *fieldReader) short(what string) (uint16, error) {
	r.resetBits()
	if err := r.need(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *fieldReader) long(what string) (uint32, error) {
	r.resetBits()
	if err := r.need(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *fieldReader) longlong(what string) (uint64, error) {
	r.resetBits()
	if err := r.need(8, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

func (r *fieldReader) shortstr(what string) (string, error) {
	r.resetBits()
	s, offset, err := decodeShortString(r.data, r.offset)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", what, err)
	}
	r.offset = offset
	return s, nil
}

func (r *fieldReader) longstr(what string) ([]byte, error) {
	n, err := r.long(what)
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n), what); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.data[r.offset:])
	r.offset += int(n)
	return v, nil
}

func (r *fieldReader) table(what string) (Table, error) {
	r.resetBits()
	t, offset, err := decodeFieldTable(r.data, r.offset)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	r.offset = offset
	return t, nil
}

// EncodeShortString encodes s with a one byte length prefix, truncating at 255 bytes.
func EncodeShortString(s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	result := make([]byte, 1+len(s))
	result[0] = byte(len(s))
	copy(result[1:], s)
	return result
}

// EncodeFieldTable encodes a field table with its uint32 length prefix.
func EncodeFieldTable(table Table) ([]byte, error) {
	var body bytes.Buffer
	for key, value := range table {
		if len(key) > 255 {
			return nil, fmt.Errorf("field table key too long: %q", key[:32])
		}
		body.WriteByte(byte(len(key)))
		body.WriteString(key)
		if err := encodeFieldValue(&body, value); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
	}

	result := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(result[0:4], uint32(body.Len()))
	copy(result[4:], body.Bytes())
	return result, nil
}

// DecodeFieldTable decodes a length-prefixed field table written by
// EncodeFieldTable.
func DecodeFieldTable(data []byte) (Table, error) {
	t, _, err := decodeFieldTable(data, 0)
	return t, err
}

func encodeFieldValue(buf *bytes.Buffer, value interface{}) error {
	var scratch [8]byte
	switch v := value.(type) {
	case nil:
		buf.WriteByte('V')
	case bool:
		buf.WriteByte('t')
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int8:
		buf.WriteByte('b')
		buf.WriteByte(byte(v))
	case uint8:
		buf.WriteByte('B')
		buf.WriteByte(v)
	case int16:
		buf.WriteByte('s')
		binary.BigEndian.PutUint16(scratch[:2], uint16(v))
		buf.Write(scratch[:2])
	case uint16:
		buf.WriteByte('u')
		binary.BigEndian.PutUint16(scratch[:2], v)
		buf.Write(scratch[:2])
	case int32:
		buf.WriteByte('I')
		binary.BigEndian.PutUint32(scratch[:4], uint32(v))
		buf.Write(scratch[:4])
	case uint32:
		buf.WriteByte('i')
		binary.BigEndian.PutUint32(scratch[:4], v)
		buf.Write(scratch[:4])
	case int:
		buf.WriteByte('l')
		binary.BigEndian.PutUint64(scratch[:], uint64(v))
		buf.Write(scratch[:])
	case int64:
		buf.WriteByte('l')
		binary.BigEndian.PutUint64(scratch[:], uint64(v))
		buf.Write(scratch[:])
	case float32:
		buf.WriteByte('f')
		binary.BigEndian.PutUint32(scratch[:4], math.Float32bits(v))
		buf.Write(scratch[:4])
	case float64:
		buf.WriteByte('d')
		binary.BigEndian.PutUint64(scratch[:], math.Float64bits(v))
		buf.Write(scratch[:])
	case string:
		buf.WriteByte('S')
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(v)))
		buf.Write(scratch[:4])
		buf.WriteString(v)
	case []byte:
		buf.WriteByte('x')
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(v)))
		buf.Write(scratch[:4])
		buf.Write(v)
	case amqp.Decimal:
		buf.WriteByte('D')
		buf.WriteByte(v.Scale)
		binary.BigEndian.PutUint32(scratch[:4], uint32(v.Value))
		buf.Write(scratch[:4])
	case time.Time:
		buf.WriteByte('T')
		binary.BigEndian.PutUint64(scratch[:], uint64(v.Unix()))
		buf.Write(scratch[:])
	case Table:
		buf.WriteByte('F')
		encoded, err := EncodeFieldTable(v)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case map[string]interface{}:
		return encodeFieldValue(buf, Table(v))
	case []interface{}:
		var arr bytes.Buffer
		for _, item := range v {
			if err := encodeFieldValue(&arr, item); err != nil {
				return err
			}
		}
		buf.WriteByte('A')
		binary.BigEndian.PutUint32(scratch[:4], uint32(arr.Len()))
		buf.Write(scratch[:4])
		buf.Write(arr.Bytes())
	default:
		return fmt.Errorf("unsupported field table value type %T", value)
	}
	return nil
}

func decodeFieldTable(data []byte, offset int) (Table, int, error) {
	if offset+4 > len(data) {
		return nil, offset, fmt.Errorf("field table length field missing")
	}

	tableLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4

	if offset+int(tableLen) > len(data) {
		return nil, offset, fmt.Errorf("field table extends beyond data")
	}

	tableEnd := offset + int(tableLen)
	table := make(Table)

	for offset < tableEnd {
		key, next, err := decodeShortString(data[:tableEnd], offset)
		if err != nil {
			return nil, offset, fmt.Errorf("field key: %w", err)
		}
		offset = next

		var value interface{}
		value, offset, err = decodeFieldValue(data[:tableEnd], offset)
		if err != nil {
			return nil, offset, fmt.Errorf("field %q: %w", key, err)
		}
		table[key] = value
	}

	return table, offset, nil
}

func decodeFieldValue(data []byte, offset int) (interface{}, int, error) {
	need := func(n int) error {
		if offset+n > len(data) {
			return fmt.Errorf("value extends beyond data")
		}
		return nil
	}

	if err := need(1); err != nil {
		return nil, offset, err
	}
	kind := data[offset]
	offset++

	switch kind {
	case 'V':
		return nil, offset, nil
	case 't':
		if err := need(1); err != nil {
			return nil, offset, err
		}
		return data[offset] != 0, offset + 1, nil
	case 'b':
		if err := need(1); err != nil {
			return nil, offset, err
		}
		return int8(data[offset]), offset + 1, nil
	case 'B':
		if err := need(1); err != nil {
			return nil, offset, err
		}
		return data[offset], offset + 1, nil
	case 's':
		if err := need(2); err != nil {
			return nil, offset, err
		}
		return int16(binary.BigEndian.Uint16(data[offset:])), offset + 2, nil
	case 'u':
		if err := need(2); err != nil {
			return nil, offset, err
		}
		return binary.BigEndian.Uint16(data[offset:]), offset + 2, nil
	case 'I':
		if err := need(4); err != nil {
			return nil, offset, err
		}
		return int32(binary.BigEndian.Uint32(data[offset:])), offset + 4, nil
	case 'i':
		if err := need(4); err != nil {
			return nil, offset, err
		}
		return binary.BigEndian.Uint32(data[offset:]), offset + 4, nil
	case 'l':
		if err := need(8); err != nil {
			return nil, offset, err
		}
		return int64(binary.BigEndian.Uint64(data[offset:])), offset + 8, nil
	case 'f':
		if err := need(4); err != nil {
			return nil, offset, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(data[offset:])), offset + 4, nil
	case 'd':
		if err := need(8); err != nil {
			return nil, offset, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data[offset:])), offset + 8, nil
	case 'D':
		if err := need(5); err != nil {
			return nil, offset, err
		}
		return amqp.Decimal{
			Scale: data[offset],
			Value: int32(binary.BigEndian.Uint32(data[offset+1:])),
		}, offset + 5, nil
	case 'T':
		if err := need(8); err != nil {
			return nil, offset, err
		}
		return time.Unix(int64(binary.BigEndian.Uint64(data[offset:])), 0), offset + 8, nil
	case 'S':
		s, next, err := decodeLongString(data, offset)
		return s, next, err
	case 'x':
		s, next, err := decodeLongString(data, offset)
		return []byte(s), next, err
	case 'F':
		return decodeFieldTable(data, offset)
	case 'A':
		if err := need(4); err != nil {
			return nil, offset, err
		}
		arrLen := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if err := need(arrLen); err != nil {
			return nil, offset, err
		}
		end := offset + arrLen
		items := make([]interface{}, 0)
		for offset < end {
			var item interface{}
			var err error
			item, offset, err = decodeFieldValue(data[:end], offset)
			if err != nil {
				return nil, offset, err
			}
			items = append(items, item)
		}
		return items, offset, nil
	default:
		return nil, offset, fmt.Errorf("unsupported field type %q", kind)
	}
}

// decodeShortString decodes a short string from data at the given offset
func decodeShortString(data []byte, offset int) (string, int, error) {
	if offset >= len(data) {
		return "", offset, fmt.Errorf("short string length byte missing")
	}

	strLen := int(data[offset])
	offset++

	if offset+strLen > len(data) {
		return "", offset, fmt.Errorf("short string extends beyond data")
	}

	return string(data[offset : offset+strLen]), offset + strLen, nil
}

// decodeLongString decodes a long string from data at the given offset
func decodeLongString(data []byte, offset int) (string, int, error) {
	if offset+4 > len(data) {
		return "", offset, fmt.Errorf("long string length field missing")
	}

	strLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4

	if offset+int(strLen) > len(data) {
		return "", offset, fmt.Errorf("long string extends beyond data")
	}

	return string(data[offset : offset+int(strLen)]), offset + int(strLen), nil
}
