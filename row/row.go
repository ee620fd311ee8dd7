package row

import (
	"bytes"
	"fmt"

	"github.com/spirit-labs/aggstore/encoding"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/types"
)

// Row holds one value per schema column. Values are int64, float64, bool, types.Decimal, string, []byte,
// types.Timestamp or nil.
type Row []any

func Encode(buffer []byte, schema *Schema, r Row) []byte {
	return encoding.EncodeRowCols(buffer, r, schema.ColumnTypes())
}

// Decode returns a row that does not share memory with buff.
func Decode(buff []byte, schema *Schema) Row {
	decoded, _ := encoding.DecodeRowToSlice(bytes.Clone(buff), 0, schema.ColumnTypes())
	return decoded
}

// Equal reports structural equality, two rows are equal when their encodings are identical.
func Equal(schema *Schema, r1 Row, r2 Row) bool {
	return bytes.Equal(Encode(nil, schema, r1), Encode(nil, schema, r2))
}

// Validate checks that r matches the schema.
func Validate(schema *Schema, r Row) error {
	if len(r) != schema.NumColumns() {
		return errors.NewStoreErrorf(errors.InvalidConfiguration, "row has %d columns, schema has %d", len(r),
			schema.NumColumns())
	}
	for i, ct := range schema.ColumnTypes() {
		if r[i] == nil {
			continue
		}
		var ok bool
		switch ct.ID() {
		case types.ColumnTypeIDInt:
			_, ok = r[i].(int64)
		case types.ColumnTypeIDFloat:
			_, ok = r[i].(float64)
		case types.ColumnTypeIDBool:
			_, ok = r[i].(bool)
		case types.ColumnTypeIDDecimal:
			_, ok = r[i].(types.Decimal)
		case types.ColumnTypeIDString:
			_, ok = r[i].(string)
		case types.ColumnTypeIDBytes:
			_, ok = r[i].([]byte)
		case types.ColumnTypeIDTimestamp:
			_, ok = r[i].(types.Timestamp)
		}
		if !ok {
			return errors.NewStoreErrorf(errors.InvalidConfiguration, "column %s: value %v is not of type %s",
				schema.columnNames[i], r[i], ct.String())
		}
	}
	return nil
}

func (r Row) String() string {
	return fmt.Sprintf("%v", []any(r))
}
