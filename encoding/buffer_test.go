package encoding

import (
	"math"
	"testing"

	"github.com/apache/arrow/go/v11/arrow/decimal128"
	"github.com/spirit-labs/aggstore/types"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeUint64s(t *testing.T) {
	for _, val := range []uint64{0, 1, math.MaxUint64, 12345678} {
		buff := AppendUint64ToBufferLE(nil, val)
		valRead, off := ReadUint64FromBufferLE(buff, 0)
		require.Equal(t, val, valRead)
		require.Equal(t, 8, off)

		buff = AppendUint64ToBufferBE(nil, val)
		valRead, off = ReadUint64FromBufferBE(buff, 0)
		require.Equal(t, val, valRead)
		require.Equal(t, 8, off)
	}
}

func TestEncodeDecodeUint32s(t *testing.T) {
	for _, val := range []uint32{0, 1, math.MaxUint32, 12345678} {
		buff := AppendUint32ToBufferLE([]byte("prefix"), val)
		valRead, off := ReadUint32FromBufferLE(buff, 6)
		require.Equal(t, val, valRead)
		require.Equal(t, 10, off)
	}
}

func TestBigEndianIsOrdered(t *testing.T) {
	checkLessThan(t, AppendUint64ToBufferBE(nil, 255), AppendUint64ToBufferBE(nil, 256))
}

func TestEncodeDecodeVariableLength(t *testing.T) {
	var buff []byte
	buff = AppendStringToBufferLE(buff, "antelopes")
	buff = AppendBytesToBufferLE(buff, []byte("zebras"))
	buff = AppendStringToBufferLE(buff, "")
	buff = AppendFloat64ToBufferLE(buff, -12.25)
	buff = AppendBoolToBuffer(buff, true)
	dec := types.Decimal{Num: decimal128.New(-3, 7)}
	buff = AppendDecimalToBuffer(buff, dec)

	s, off := ReadStringFromBufferLE(buff, 0)
	require.Equal(t, "antelopes", s)
	b, off := ReadBytesFromBufferLE(buff, off)
	require.Equal(t, []byte("zebras"), b)
	s, off = ReadStringFromBufferLE(buff, off)
	require.Equal(t, "", s)
	f, off := ReadFloat64FromBufferLE(buff, off)
	require.Equal(t, -12.25, f)
	bl, off := ReadBoolFromBuffer(buff, off)
	require.True(t, bl)
	d, off := ReadDecimalFromBuffer(buff, off)
	require.Equal(t, dec.Num, d.Num)
	require.Equal(t, len(buff), off)
}
