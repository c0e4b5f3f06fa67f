package stagedsync

import (
	"math/big"

	"github.com/ArthurTh0mas/martinez/consensus"
	"github.com/ArthurTh0mas/martinez/core/types"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// DefaultStages assembles the canonical 13-stage pipeline (§4.7, §2) in
// forward order, wired against one KV store, chain spec, consensus
// engine, and network oracle. Its result is what New takes to build the
// State whose Run drives the pipeline.
func DefaultStages(kv ethdb.KV, chainSpec *types.ChainSpec, engine consensus.Consensus, oracle NetworkOracle, chainID *big.Int) []*Stage {
	return []*Stage{
		NewHeadersStage(oracle, engine),
		NewBlockHashesStage(),
		NewBodiesStage(oracle),
		NewSendersStage(chainID),
		NewExecutionStage(kv, chainSpec, engine),
		NewHashStateStage(),
		NewTrieRootStage(),
		NewAccountHistoryStage(),
		NewStorageHistoryStage(),
		NewLogIndexStage(),
		NewCallTracesStage(),
		NewTxLookupStage(),
		NewFinishStage(),
	}
}
