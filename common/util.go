package common

func ByteSliceCopy(byteSlice []byte) []byte {
	if byteSlice == nil {
		return nil
	}
	copied := make([]byte, len(byteSlice))
	copy(copied, byteSlice)
	return copied
}
