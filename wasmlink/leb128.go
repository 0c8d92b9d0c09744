package wasmlink

// LEB128 encoding. Wasm integer immediates are variable-length, so the
// fixed-width encoders in encoding/binary do not apply anywhere in the
// binary format except the f64 payloads.

// AppendUint32 appends the unsigned LEB128 encoding of v.
func AppendUint32(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}

// AppendUint64 appends the unsigned LEB128 encoding of v.
func AppendUint64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}

// AppendInt32 appends the signed LEB128 encoding of v.
func AppendInt32(dst []byte, v int32) []byte {
	return AppendInt64(dst, int64(v))
}

// AppendInt64 appends the signed LEB128 encoding of v.
func AppendInt64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// EncodeUint32 returns the encoding of v in a fresh slice.
func EncodeUint32(v uint32) []byte { return AppendUint32(nil, v) }

// EncodeInt32 returns the encoding of v in a fresh slice.
func EncodeInt32(v int32) []byte { return AppendInt32(nil, v) }

// EncodeInt64 returns the encoding of v in a fresh slice.
func EncodeInt64(v int64) []byte { return AppendInt64(nil, v) }
