package encoding

import (
	"encoding/binary"
	"math"

	"github.com/apache/arrow/go/v11/arrow/decimal128"
	"github.com/spirit-labs/aggstore/common"
	"github.com/spirit-labs/aggstore/types"
)

func AppendUint64ToBufferBE(buffer []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buffer, v)
}

func AppendUint64ToBufferLE(buffer []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buffer, v)
}

func AppendUint32ToBufferLE(buffer []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buffer, v)
}

func AppendFloat64ToBufferLE(buffer []byte, value float64) []byte {
	return AppendUint64ToBufferLE(buffer, math.Float64bits(value))
}

func AppendStringToBufferLE(buffer []byte, value string) []byte {
	buffer = AppendUint32ToBufferLE(buffer, uint32(len(value)))
	return append(buffer, value...)
}

func AppendBytesToBufferLE(buffer []byte, value []byte) []byte {
	buffer = AppendUint32ToBufferLE(buffer, uint32(len(value)))
	return append(buffer, value...)
}

func AppendBoolToBuffer(buffer []byte, val bool) []byte {
	var b byte
	if val {
		b = 1
	}
	return append(buffer, b)
}

func AppendDecimalToBuffer(buffer []byte, val types.Decimal) []byte {
	buffer = AppendUint64ToBufferLE(buffer, val.Num.LowBits())
	return AppendUint64ToBufferLE(buffer, uint64(val.Num.HighBits()))
}

func ReadUint64FromBufferBE(buffer []byte, offset int) (uint64, int) {
	return binary.BigEndian.Uint64(buffer[offset:]), offset + 8
}

func ReadUint64FromBufferLE(buffer []byte, offset int) (uint64, int) {
	return binary.LittleEndian.Uint64(buffer[offset:]), offset + 8
}

func ReadUint32FromBufferLE(buffer []byte, offset int) (uint32, int) {
	return binary.LittleEndian.Uint32(buffer[offset:]), offset + 4
}

func ReadFloat64FromBufferLE(buffer []byte, offset int) (float64, int) {
	u, offset := ReadUint64FromBufferLE(buffer, offset)
	return math.Float64frombits(u), offset
}

// ReadStringFromBufferLE does not copy, the returned string shares memory with buffer.
func ReadStringFromBufferLE(buffer []byte, offset int) (string, int) {
	lu, offset := ReadUint32FromBufferLE(buffer, offset)
	l := int(lu)
	str := common.ByteSliceToStringZeroCopy(buffer[offset : offset+l])
	return str, offset + l
}

func ReadBytesFromBufferLE(buffer []byte, offset int) ([]byte, int) {
	lu, offset := ReadUint32FromBufferLE(buffer, offset)
	l := int(lu)
	return buffer[offset : offset+l], offset + l
}

func ReadBoolFromBuffer(buffer []byte, offset int) (bool, int) {
	return buffer[offset] == 1, offset + 1
}

func ReadDecimalFromBuffer(buffer []byte, offset int) (types.Decimal, int) {
	var lo uint64
	lo, offset = ReadUint64FromBufferLE(buffer, offset)
	var hi uint64
	hi, offset = ReadUint64FromBufferLE(buffer, offset)
	return types.Decimal{
		Num: decimal128.New(int64(hi), lo),
	}, offset
}
