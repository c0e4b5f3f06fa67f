package types

import (
	"math/big"

	"github.com/ArthurTh0mas/martinez/common"
)

// ConsensusKind is the tagged variant replacing the source's Ethash/
// Clique/NoProof class hierarchy (§9 "Inheritance replaced by variant +
// capability sets").
type ConsensusKind uint8

const (
	ConsensusEthash ConsensusKind = iota
	ConsensusClique
	ConsensusNoProof
)

// Revision enumerates the EVM/consensus fork revisions in activation
// order (§4.2, §4.5).
type Revision int

const (
	Frontier Revision = iota
	Homestead
	Tangerine
	Spurious
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	Berlin
	London
	Shanghai
	NumRevisions
)

func (r Revision) String() string {
	names := [...]string{
		"Frontier", "Homestead", "Tangerine", "Spurious", "Byzantium",
		"Constantinople", "Petersburg", "Istanbul", "Berlin", "London", "Shanghai",
	}
	if int(r) < 0 || int(r) >= len(names) {
		return "Unknown"
	}
	return names[r]
}

// BalanceCredit is a one-off balance credit applied at finalisation for a
// specific block (§4.2 "one-off balance credits keyed by block"), also
// the vehicle used for withdrawal processing (§9 Open Questions:
// "treat withdrawals as an additional finalisation-phase balance credit
// stream tied to header.withdrawals_root").
type BalanceCredit struct {
	Block   uint64
	Address common.Address
	Amount  *big.Int
}

// BlockReward is the miner+uncle reward schedule entry active from Block
// onward (§4.2 "block reward schedule keyed by block").
type BlockReward struct {
	Block            uint64
	MinerReward      *big.Int
	UncleRewardDenom int64 // uncle gets MinerReward * (8 - (blockNum-uncleNum)) / 8, classic Ethash schedule
}

// SystemContract is a precompile/system-contract activation keyed by
// block (§4.2 "system contract/precompile set keyed by block").
type SystemContract struct {
	Block   uint64
	Address common.Address
	Name    string
}

// ChainSpec enumerates fork activation heights, consensus choice, base
// fee params, reward schedule, system contracts and balance credits
// (§4.2). `collect_block_spec(n)` resolves the Revision at n and the set
// of forks transitioning exactly at n.
type ChainSpec struct {
	ChainID *big.Int
	ChainName string

	Consensus ConsensusKind

	HomesteadBlock      uint64
	TangerineBlock      uint64
	SpuriousBlock       uint64
	ByzantiumBlock      uint64
	ConstantinopleBlock uint64
	PetersburgBlock     uint64
	IstanbulBlock       uint64
	BerlinBlock         uint64
	LondonBlock         uint64
	ShanghaiBlock       uint64

	// BaseFeeChangeDenominator/ElasticityMultiplier are EIP-1559 params,
	// active from LondonBlock.
	BaseFeeChangeDenominator uint64
	ElasticityMultiplier     uint64
	InitialBaseFee           *big.Int

	Rewards          []BlockReward
	SystemContracts  []SystemContract
	BalanceCredits   []BalanceCredit

	// Clique-only fields; zero/empty under Ethash/NoProof.
	CliquePeriod uint64
	CliqueEpoch  uint64
}

// BlockSpec is the result of collect_block_spec(n): the revision active
// at n plus which transitions activate exactly at n.
type BlockSpec struct {
	Revision    Revision
	Activations []Revision
}

// CollectBlockSpec returns the revision active at block n and the set of
// revisions whose activation height equals exactly n (§4.2).
func (cs *ChainSpec) CollectBlockSpec(n uint64) BlockSpec {
	thresholds := [...]struct {
		rev   Revision
		block uint64
	}{
		{Homestead, cs.HomesteadBlock},
		{Tangerine, cs.TangerineBlock},
		{Spurious, cs.SpuriousBlock},
		{Byzantium, cs.ByzantiumBlock},
		{Constantinople, cs.ConstantinopleBlock},
		{Petersburg, cs.PetersburgBlock},
		{Istanbul, cs.IstanbulBlock},
		{Berlin, cs.BerlinBlock},
		{London, cs.LondonBlock},
		{Shanghai, cs.ShanghaiBlock},
	}
	rev := Frontier
	var activations []Revision
	for _, t := range thresholds {
		if n >= t.block {
			rev = t.rev
		}
		if n == t.block {
			activations = append(activations, t.rev)
		}
	}
	return BlockSpec{Revision: rev, Activations: activations}
}

// RewardAt returns the block reward entry effective at n (the latest
// entry whose Block <= n), or nil if no schedule entry applies.
func (cs *ChainSpec) RewardAt(n uint64) *BlockReward {
	var best *BlockReward
	for i := range cs.Rewards {
		r := &cs.Rewards[i]
		if r.Block <= n && (best == nil || r.Block > best.Block) {
			best = r
		}
	}
	return best
}

// CreditsAt returns the balance credits (including withdrawal-derived
// ones, per §9) that apply exactly at block n.
func (cs *ChainSpec) CreditsAt(n uint64) []BalanceCredit {
	var out []BalanceCredit
	for _, c := range cs.BalanceCredits {
		if c.Block == n {
			out = append(out, c)
		}
	}
	return out
}
