package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/wbrown/janus-realm/realm"
)

// KeyspaceType is the leading byte of every badger key.
type KeyspaceType uint8

const (
	MetaSpace    KeyspaceType = iota + 1 // realm-wide metadata
	CounterSpace                         // next object key per table
	ObjectSpace                          // object rows
)

var (
	metaVersion = []byte("version")
	metaSchema  = []byte("schema")
)

// KeyEncoder builds badger keys. Table names are length prefixed so one
// table's prefix is never a prefix of another's.
type KeyEncoder struct{}

// MetaKey returns the key of a metadata entry.
func (KeyEncoder) MetaKey(name []byte) []byte {
	return concatBytes([]byte{byte(MetaSpace)}, name)
}

// CounterKey returns the key holding a table's next object key.
func (KeyEncoder) CounterKey(table string) []byte {
	return concatBytes([]byte{byte(CounterSpace)}, tableName(table))
}

// ObjectKey returns the key of one object row.
func (e KeyEncoder) ObjectKey(table string, key realm.ObjKey) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(key))
	return concatBytes(e.EncodePrefix(ObjectSpace, tableName(table)), k[:])
}

// DecodeObjectKey extracts the object key from an object row key.
func (e KeyEncoder) DecodeObjectKey(table string, key []byte) (realm.ObjKey, error) {
	prefix := e.EncodePrefix(ObjectSpace, tableName(table))
	if len(key) != len(prefix)+8 {
		return realm.NullKey, fmt.Errorf("object key has length %d, expected %d", len(key), len(prefix)+8)
	}
	return realm.ObjKey(binary.BigEndian.Uint64(key[len(prefix):])), nil
}

// EncodePrefix creates a prefix key for range scans
func (KeyEncoder) EncodePrefix(space KeyspaceType, parts ...[]byte) []byte {
	prefix := []byte{byte(space)}
	allParts := append([][]byte{prefix}, parts...)
	return concatBytes(allParts...)
}

// EncodePrefixRange creates start and end keys for a prefix scan
func (e KeyEncoder) EncodePrefixRange(space KeyspaceType, parts ...[]byte) (start, end []byte) {
	start = e.EncodePrefix(space, parts...)

	// End key is start with last byte incremented
	end = make([]byte, len(start))
	copy(end, start)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			break
		}
		if i == 0 {
			end = append(end, 0x00)
		}
	}
	return start, end
}

func tableName(name string) []byte {
	buf := make([]byte, 2+len(name))
	binary.BigEndian.PutUint16(buf, uint16(len(name)))
	copy(buf[2:], name)
	return buf
}

func concatBytes(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
