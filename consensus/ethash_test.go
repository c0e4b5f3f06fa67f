package consensus

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/core/types"
)

// TestByzantiumDifficultyVector reproduces original_source/src/consensus/
// ethash/difficulty.rs's embedded unit test: block_number=0x33e140,
// timestamp=0x04bdbdaf for both parent and child, parent_difficulty=
// 0x7268db7b46b0b154, parent has no uncles, expected=0x72772897b619876a.
func TestByzantiumDifficultyVector(t *testing.T) {
	e := NewEthash(EthashConfig{})
	parentNumber, _ := new(big.Int).SetString("33e140", 16)
	parentDifficulty, _ := new(big.Int).SetString("7268db7b46b0b154", 16)
	want, _ := new(big.Int).SetString("72772897b619876a", 16)

	parent := &types.Header{
		Number:     parentNumber,
		Difficulty: parentDifficulty,
		Time:       0x04bdbdaf,
		UncleHash:  EmptyUncleHash,
	}
	chainSpec := &types.ChainSpec{ByzantiumBlock: 0}

	got := e.Difficulty(chainSpec, 0x04bdbdaf, parent)
	require.Equal(t, want, got)
}

func TestDifficultyBombFloor(t *testing.T) {
	e := NewEthash(EthashConfig{})
	parent := &types.Header{
		Number:     big.NewInt(1),
		Difficulty: big.NewInt(200000),
		Time:       1000,
		UncleHash:  EmptyUncleHash,
	}
	got := e.Difficulty(&types.ChainSpec{}, 1005, parent)
	require.True(t, got.Cmp(e.cfg.MinimumDifficulty) >= 0)
}

func TestFinalizeSplitsUncleAndMinerReward(t *testing.T) {
	e := NewEthash(EthashConfig{})
	chainSpec := &types.ChainSpec{}
	header := &types.Header{Number: big.NewInt(10), Coinbase: addrOf(1)}
	uncle := &types.Header{Number: big.NewInt(9), Coinbase: addrOf(2)}

	changes := e.Finalize(chainSpec, header, []*types.Header{uncle})
	require.Len(t, changes, 2)
	require.Equal(t, addrOf(2), changes[0].Address)
	require.Equal(t, addrOf(1), changes[1].Address)
	require.True(t, changes[1].Amount.Cmp(changes[0].Amount) > 0)
}

func addrOf(b byte) (a common.Address) {
	a[19] = b
	return a
}
