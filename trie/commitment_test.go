package trie

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ArthurTh0mas/martinez/common"
)

type stubHost struct {
	branches map[string][]byte
}

func newStubHost() *stubHost { return &stubHost{branches: make(map[string][]byte)} }

func (h *stubHost) LoadBranch(prefix []byte) ([]byte, error) { return h.branches[string(prefix)], nil }
func (h *stubHost) LoadAccount([]byte, *Cell) error           { return nil }
func (h *stubHost) LoadStorage([]byte, *Cell) error           { return nil }
func (h *stubHost) BranchUpdate(updateKey, branchNode []byte) error {
	h.branches[string(updateKey)] = branchNode
	return nil
}

func TestEmptyTrieRootIsEmptyRootConstant(t *testing.T) {
	hph := NewHexPatriciaHashed(newStubHost())
	root, err := hph.RootHash()
	require.NoError(t, err)
	require.Equal(t, EmptyRootHash, root)
}

func TestHexToCompactLengthParity(t *testing.T) {
	even := []byte{1, 2, 3, 4}
	odd := []byte{1, 2, 3}
	require.Len(t, hexToCompact(even), len(even)/2+1)
	require.Len(t, hexToCompact(odd), len(odd)/2+1)
}

func TestSingleAccountInsertProducesNonEmptyRoot(t *testing.T) {
	host := newStubHost()
	hph := NewHexPatriciaHashed(host)

	var addr common.Address
	addr[19] = 1
	hashedAddr := common.MustHashData(addr[:])

	upd := Update{
		Flags:   UpdateFlags{Balance: true, Nonce: true},
		Balance: *uint256.NewInt(1000),
		Nonce:   1,
	}
	ku := KeyUpdate{HashedKey: AccountNibbles(hashedAddr), PlainKey: addr[:], Update: upd}

	_, err := hph.ProcessUpdates([]KeyUpdate{ku})
	require.NoError(t, err)

	root, err := hph.RootHash()
	require.NoError(t, err)
	require.NotEqual(t, EmptyRootHash, root)
}

func TestAccountNibblesLength(t *testing.T) {
	h := common.MustHashData([]byte("x"))
	require.Len(t, AccountNibbles(h), 64)
}

func TestStorageNibblesLength(t *testing.T) {
	a := common.MustHashData([]byte("a"))
	b := common.MustHashData([]byte("b"))
	require.Len(t, StorageNibbles(a, b), 128)
}
