package realm

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// encoding tags; tagNull marks an absent value in a nullable column
const (
	tagNull byte = iota
	tagBool
	tagInt
	tagFloat
	tagDouble
	tagString
	tagBinary
	tagDate
	tagLink
	tagLinkList
)

// AppendValue appends the tagged binary form of v to buf.
// Format: tag(1) + payload, where variable-length payloads carry a uvarint length.
func AppendValue(buf []byte, v Value) ([]byte, error) {
	var scratch [binary.MaxVarintLen64]byte

	switch val := v.(type) {
	case nil:
		return append(buf, tagNull), nil
	case bool:
		if val {
			return append(buf, tagBool, 1), nil
		}
		return append(buf, tagBool, 0), nil
	case int64:
		buf = append(buf, tagInt)
		return binary.BigEndian.AppendUint64(buf, uint64(val)), nil
	case float32:
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint32(buf, math.Float32bits(val)), nil
	case float64:
		buf = append(buf, tagDouble)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(val)), nil
	case string:
		buf = append(buf, tagString)
		n := binary.PutUvarint(scratch[:], uint64(len(val)))
		buf = append(buf, scratch[:n]...)
		return append(buf, val...), nil
	case []byte:
		buf = append(buf, tagBinary)
		n := binary.PutUvarint(scratch[:], uint64(len(val)))
		buf = append(buf, scratch[:n]...)
		return append(buf, val...), nil
	case time.Time:
		// seconds and nanoseconds so the full time.Time range survives
		buf = append(buf, tagDate)
		buf = binary.BigEndian.AppendUint64(buf, uint64(val.Unix()))
		return binary.BigEndian.AppendUint32(buf, uint32(val.Nanosecond())), nil
	case ObjKey:
		buf = append(buf, tagLink)
		return binary.BigEndian.AppendUint64(buf, uint64(val)), nil
	case []ObjKey:
		buf = append(buf, tagLinkList)
		n := binary.PutUvarint(scratch[:], uint64(len(val)))
		buf = append(buf, scratch[:n]...)
		for _, k := range val {
			buf = binary.BigEndian.AppendUint64(buf, uint64(k))
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("cannot encode value type: %T", v)
	}
}

// ReadValue decodes one tagged value from data and returns it together with
// the number of bytes consumed.
func ReadValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("value data too short")
	}
	tag, body := data[0], data[1:]

	fixed := func(size int) error {
		if len(body) < size {
			return fmt.Errorf("value tag %d needs %d bytes, got %d", tag, size, len(body))
		}
		return nil
	}

	switch tag {
	case tagNull:
		return nil, 1, nil
	case tagBool:
		if err := fixed(1); err != nil {
			return nil, 0, err
		}
		return body[0] != 0, 2, nil
	case tagInt:
		if err := fixed(8); err != nil {
			return nil, 0, err
		}
		return int64(binary.BigEndian.Uint64(body)), 9, nil
	case tagFloat:
		if err := fixed(4); err != nil {
			return nil, 0, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(body)), 5, nil
	case tagDouble:
		if err := fixed(8); err != nil {
			return nil, 0, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(body)), 9, nil
	case tagDate:
		if err := fixed(12); err != nil {
			return nil, 0, err
		}
		sec := int64(binary.BigEndian.Uint64(body))
		nsec := int64(binary.BigEndian.Uint32(body[8:]))
		if nsec >= 1e9 {
			return nil, 0, fmt.Errorf("bad date nanoseconds %d", nsec)
		}
		return time.Unix(sec, nsec).UTC(), 13, nil
	case tagLink:
		if err := fixed(8); err != nil {
			return nil, 0, err
		}
		return ObjKey(binary.BigEndian.Uint64(body)), 9, nil
	case tagString, tagBinary, tagLinkList:
		length, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, 0, fmt.Errorf("bad length prefix for value tag %d", tag)
		}
		body = body[n:]
		if tag == tagLinkList {
			if uint64(len(body)) < length*8 {
				return nil, 0, fmt.Errorf("list value truncated")
			}
			keys := make([]ObjKey, length)
			for i := range keys {
				keys[i] = ObjKey(binary.BigEndian.Uint64(body[i*8:]))
			}
			return keys, 1 + n + int(length)*8, nil
		}
		if uint64(len(body)) < length {
			return nil, 0, fmt.Errorf("value truncated: expected %d bytes, got %d", length, len(body))
		}
		if tag == tagString {
			return string(body[:length]), 1 + n + int(length), nil
		}
		out := make([]byte, length)
		copy(out, body[:length])
		return out, 1 + n + int(length), nil
	default:
		return nil, 0, fmt.Errorf("unknown value tag: %d", tag)
	}
}
