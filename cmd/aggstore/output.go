package main

import (
	"encoding/base64"
	"io"

	"github.com/spirit-labs/aggstore/agg"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/types"
	"github.com/tidwall/sjson"
)

// writeResults writes one JSON line per result.
func writeResults(out io.Writer, batchNum int, results []agg.Result) error {
	for _, res := range results {
		line, err := encodeResult(batchNum, res)
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := out.Write(line); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func encodeResult(batchNum int, res agg.Result) ([]byte, error) {
	line, err := sjson.SetBytes([]byte(`{}`), "batch", batchNum)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	line, err = sjson.SetRawBytes(line, "key", []byte(`[]`))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, v := range res.Key {
		if line, err = sjson.SetBytes(line, "key.-1", jsonValue(v)); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if res.Deleted {
		line, err = sjson.SetBytes(line, "deleted", true)
		return line, errors.WithStack(err)
	}
	if line, err = sjson.SetBytes(line, "count", res.Count); err != nil {
		return nil, errors.WithStack(err)
	}
	if line, err = sjson.SetRawBytes(line, "values", []byte(`[]`)); err != nil {
		return nil, errors.WithStack(err)
	}
	for _, v := range res.Values {
		if line, err = sjson.SetBytes(line, "values.-1", jsonValue(v)); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return line, nil
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case types.Decimal:
		return val.String()
	case types.Timestamp:
		return val.Val
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	}
	return v
}
