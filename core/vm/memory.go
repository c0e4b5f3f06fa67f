package vm

import "github.com/holiman/uint256"

// Memory is the EVM's byte-addressed, zero-extended-on-access working
// memory (§4.5).
type Memory struct {
	store []byte
}

func newMemory() *Memory { return &Memory{} }

// Resize grows the backing store to size bytes, zero-filling the new
// region. No-op if the store is already at least that large.
func (m *Memory) Resize(size uint64) {
	if uint64(len(m.store)) >= size {
		return
	}
	grown := make([]byte, size)
	copy(grown, m.store)
	m.store = grown
}

func (m *Memory) Set(offset, size uint64, value []byte) {
	if size == 0 {
		return
	}
	m.Resize(offset + size)
	copy(m.store[offset:offset+size], value)
}

func (m *Memory) Set32(offset uint64, val *uint256.Int) {
	m.Resize(offset + 32)
	b := val.Bytes32()
	copy(m.store[offset:offset+32], b[:])
}

// GetCopy returns an independent copy of size bytes starting at offset,
// zero-extending past the end of the backing store.
func (m *Memory) GetCopy(offset, size int64) []byte {
	if size == 0 {
		return nil
	}
	out := make([]byte, size)
	if int64(len(m.store)) > offset {
		n := copy(out, m.store[offset:])
		_ = n
	}
	return out
}

func (m *Memory) GetPtr(offset, size int64) []byte {
	if size == 0 {
		return nil
	}
	m.Resize(uint64(offset + size))
	return m.store[offset : offset+size]
}

func (m *Memory) Len() int { return len(m.store) }

// MemoryWordCount returns ceil(size/32), the unit §4.5's gas schedule
// charges memory expansion in.
func MemoryWordCount(size uint64) uint64 { return (size + 31) / 32 }
