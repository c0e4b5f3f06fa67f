package trie

// RLP length-prefix helpers for the commitment engine, ported from
// original_source/src/commitment/rlputil.rs: computing a double-RLP length
// (rlp(rlp(data))) without ever materialising the inner encoding, since
// computeCellHash needs the byte length before it knows whether a leaf
// value is short enough to embed (§4.4's embedding rule).

// rlpSerializable is a value that can be "double-RLP" encoded: a raw
// byte string wrapped once for its own string header and once more for
// nesting inside a leaf/extension's value slot.
type rlpSerializable interface {
	doubleRLPLen() int
	appendDoubleRLP(buf []byte) []byte
}

// rlpSerializableBytes double-wraps a byte string (used for storage
// values, which are not themselves RLP lists).
type rlpSerializableBytes []byte

func (b rlpSerializableBytes) doubleRLPLen() int {
	if len(b) == 0 {
		return 0
	}
	return generateRlpPrefixLenDouble(len(b), b[0]) + len(b)
}

func (b rlpSerializableBytes) appendDoubleRLP(buf []byte) []byte {
	return appendBytesAsRLP(buf, b, generateByteArrayLenDouble)
}

// rlpEncodableBytes wraps a byte string that is already a complete RLP
// encoding (used for account leaves, whose value is the account's RLP
// list) with a single string header.
type rlpEncodableBytes []byte

func (b rlpEncodableBytes) doubleRLPLen() int {
	return generateRlpPrefixLen(len(b)) + len(b)
}

func (b rlpEncodableBytes) appendDoubleRLP(buf []byte) []byte {
	return appendBytesAsRLP(buf, b, generateByteArrayLen)
}

func appendBytesAsRLP(buf []byte, source []byte, prefixGen func(int) []byte) []byte {
	if len(source) > 1 || (len(source) == 1 && source[0] >= 0x80) {
		buf = append(buf, prefixGen(len(source))...)
	}
	return append(buf, source...)
}

func multiByteHeaderPrefixOfLen(l int) byte { return 0xB7 + byte(l) }

func generateByteArrayLen(l int) []byte {
	switch {
	case l < 56:
		return []byte{0x80 + byte(l)}
	case l < 256:
		return []byte{multiByteHeaderPrefixOfLen(1), byte(l)}
	case l < 65536:
		return []byte{multiByteHeaderPrefixOfLen(2), byte(l >> 8), byte(l & 255)}
	default:
		return []byte{multiByteHeaderPrefixOfLen(3), byte(l >> 16), byte((l >> 8) & 255), byte(l & 255)}
	}
}

func generateByteArrayLenDouble(l int) []byte {
	switch {
	case l < 55:
		return []byte{byte(0x80 + l + 1), byte(0x80 + l)}
	case l < 56:
		return []byte{multiByteHeaderPrefixOfLen(1), byte(l + 1), byte(0x80 + l)}
	case l < 254:
		return []byte{multiByteHeaderPrefixOfLen(1), byte(l + 2), multiByteHeaderPrefixOfLen(1), byte(l)}
	case l < 256:
		return []byte{
			multiByteHeaderPrefixOfLen(2), byte((l + 2) >> 8), byte((l + 2) & 255),
			multiByteHeaderPrefixOfLen(1), byte(l),
		}
	case l < 65533:
		return []byte{
			multiByteHeaderPrefixOfLen(2), byte((l + 3) >> 8), byte((l + 3) & 255),
			multiByteHeaderPrefixOfLen(2), byte(l >> 8), byte(l & 255),
		}
	case l < 65536:
		return []byte{
			multiByteHeaderPrefixOfLen(3), byte((l + 3) >> 16), byte(((l + 3) >> 8) & 255), byte((l + 3) & 255),
			multiByteHeaderPrefixOfLen(2), byte((l >> 8) & 255), byte(l & 255),
		}
	default:
		return []byte{
			multiByteHeaderPrefixOfLen(3), byte((l + 4) >> 16), byte(((l + 4) >> 8) & 255), byte((l + 4) & 255),
			multiByteHeaderPrefixOfLen(3), byte(l >> 16), byte((l >> 8) & 255), byte(l & 255),
		}
	}
}

func generateRlpPrefixLen(l int) int {
	switch {
	case l < 2:
		return 0
	case l < 56:
		return 1
	case l < 256:
		return 2
	case l < 65536:
		return 3
	default:
		return 4
	}
}

func generateRlpPrefixLenDouble(l int, firstByte byte) int {
	switch {
	case l < 2:
		if firstByte >= 0x80 {
			return 2
		}
		return 0
	case l < 55:
		return 2
	case l < 56:
		return 3
	case l < 254:
		return 4
	case l < 256:
		return 5
	case l < 65533:
		return 6
	case l < 65536:
		return 7
	default:
		return 8
	}
}

// generateStructLen is the RLP list-length prefix (not a string prefix):
// used for branch/extension/leaf node headers.
func generateStructLen(l int) []byte {
	switch {
	case l < 56:
		return []byte{192 + byte(l)}
	case l < 256:
		return []byte{247 + 1, byte(l)}
	case l < 65536:
		return []byte{247 + 2, byte(l >> 8), byte(l & 255)}
	default:
		return []byte{247 + 3, byte(l >> 16), byte((l >> 8) & 255), byte(l & 255)}
	}
}
