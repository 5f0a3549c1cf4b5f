package storage

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// EncodeRow serializes a row column by column and snappy-compresses the result.
func EncodeRow(row Row) ([]byte, error) {
	buf := make([]byte, 0, 16*len(row))
	var err error
	for i, v := range row {
		buf, err = realm.AppendValue(buf, v)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
	}
	return snappy.Encode(nil, buf), nil
}

// DecodeRow is the inverse of EncodeRow for rows of type os.
func DecodeRow(os *schema.ObjectSchema, data []byte) (Row, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress row: %w", err)
	}
	row := make(Row, len(os.Columns))
	pos := 0
	for i := range os.Columns {
		v, n, err := realm.ReadValue(raw[pos:])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", os.Columns[i].Name, err)
		}
		row[i] = v
		pos += n
	}
	if pos != len(raw) {
		return nil, fmt.Errorf("row of type %q has %d trailing bytes", os.Name, len(raw)-pos)
	}
	return row, nil
}
