package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"

	"github.com/spirit-labs/aggstore/agg"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/row"
	"github.com/spirit-labs/aggstore/types"
	"github.com/tidwall/gjson"
)

const maxLineSize = 1024 * 1024

// deltaReader reads JSON lines of the form {"op":"insert","row":{...}}, {"op":"retract","row":{...}} and
// {"op":"commit","watermark":123}.
type deltaReader struct {
	scanner *bufio.Scanner
	schema  *row.Schema
	lineNum int
}

func newDeltaReader(in io.Reader, schema *row.Schema) *deltaReader {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &deltaReader{scanner: scanner, schema: schema}
}

// nextBatch returns false once the input is exhausted and no deltas are pending.
func (d *deltaReader) nextBatch() (agg.Batch, bool, error) {
	var batch agg.Batch
	for d.scanner.Scan() {
		d.lineNum++
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return agg.Batch{}, false, d.lineError("invalid json")
		}
		op := gjson.GetBytes(line, "op").String()
		switch op {
		case "commit":
			if wm := gjson.GetBytes(line, "watermark"); wm.Exists() {
				watermark, err := integer(wm)
				if err != nil {
					return agg.Batch{}, false, d.lineError(fmt.Sprintf("watermark: %v", err))
				}
				batch.Watermark = watermark
			}
			return batch, true, nil
		case "insert", "retract":
			r, err := d.parseRow(gjson.GetBytes(line, "row"))
			if err != nil {
				return agg.Batch{}, false, err
			}
			batch.Deltas = append(batch.Deltas, agg.Delta{Retract: op == "retract", Row: r})
		default:
			return agg.Batch{}, false, d.lineError(fmt.Sprintf("unknown op %q", op))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return agg.Batch{}, false, errors.WithStack(err)
	}
	return batch, len(batch.Deltas) > 0, nil
}

func (d *deltaReader) parseRow(res gjson.Result) (row.Row, error) {
	if !res.IsObject() {
		return nil, d.lineError("row must be an object")
	}
	fields := res.Map()
	r := make(row.Row, d.schema.NumColumns())
	for i, colName := range d.schema.ColumnNames() {
		val, ok := fields[colName]
		if !ok || val.Type == gjson.Null {
			continue
		}
		v, err := d.parseValue(val, d.schema.ColumnTypes()[i])
		if err != nil {
			return nil, d.lineError(fmt.Sprintf("column %s: %v", colName, err))
		}
		r[i] = v
	}
	return r, nil
}

func (d *deltaReader) parseValue(val gjson.Result, colType types.ColumnType) (any, error) {
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		return integer(val)
	case types.ColumnTypeIDFloat:
		if val.Type != gjson.Number {
			return nil, errors.Errorf("expected a number, got %s", val.Raw)
		}
		return val.Float(), nil
	case types.ColumnTypeIDBool:
		if val.Type != gjson.True && val.Type != gjson.False {
			return nil, errors.Errorf("expected a boolean, got %s", val.Raw)
		}
		return val.Bool(), nil
	case types.ColumnTypeIDString:
		if val.Type != gjson.String {
			return nil, errors.Errorf("expected a string, got %s", val.Raw)
		}
		return val.String(), nil
	case types.ColumnTypeIDBytes:
		if val.Type != gjson.String {
			return nil, errors.Errorf("expected a base64 string, got %s", val.Raw)
		}
		b, err := base64.StdEncoding.DecodeString(val.String())
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return b, nil
	case types.ColumnTypeIDTimestamp:
		millis, err := integer(val)
		if err != nil {
			return nil, errors.Errorf("expected milliseconds since the epoch, got %s", val.Raw)
		}
		return types.NewTimestamp(millis), nil
	case types.ColumnTypeIDDecimal:
		decType := colType.(*types.DecimalType)
		s := val.String()
		if val.Type == gjson.Number {
			s = val.Raw
		}
		return types.NewDecimalFromString(s, decType.Precision, decType.Scale)
	}
	return nil, errors.Errorf("unsupported column type %s", colType.String())
}

// integer rejects fractions, exponents and values out of int64 range rather than truncating them.
func integer(val gjson.Result) (int64, error) {
	if val.Type != gjson.Number {
		return 0, errors.Errorf("expected an integer, got %s", val.Raw)
	}
	i, err := strconv.ParseInt(val.Raw, 10, 64)
	if err != nil {
		return 0, errors.Errorf("expected an integer, got %s", val.Raw)
	}
	return i, nil
}

func (d *deltaReader) lineError(msg string) error {
	return errors.NewInvalidConfigurationError(fmt.Sprintf("input line %d: %s", d.lineNum, msg))
}
