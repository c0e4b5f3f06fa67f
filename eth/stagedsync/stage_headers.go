package stagedsync

import (
	"math/big"

	"github.com/ArthurTh0mas/martinez/consensus"
	"github.com/ArthurTh0mas/martinez/core"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// headersBatchSize bounds how many headers one Execute call asks the
// oracle for, so a stalled peer can't block the cancellation check
// between batches (§5 "Cancellation and timeouts").
const headersBatchSize = 1 << 15

// NewHeadersStage builds the HeaderDownload stage (§4.7 stage 1):
// fetches headers past its own progress from oracle, validates each
// against its parent via engine, and persists them (§4.6's
// Header/HeadersTotalDifficulty/CanonicalHeader tables). A node that
// only ever ingests blocks via Blockchain.InsertBlock (which already
// writes headers itself) sees this stage converge immediately, since
// oracle.GetHeaders then has nothing left to offer.
func NewHeadersStage(oracle NetworkOracle, engine consensus.Consensus) *Stage {
	return &Stage{
		ID:          stages.HeaderDownload,
		Description: "Download and validate block headers",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			headers, err := oracle.GetHeaders(s.BlockNumber+1, headersBatchSize, false)
			if err != nil || len(headers) == 0 {
				return s.Done(), nil //nolint:nilerr // oracle errors are retried by the caller, not fatal here
			}

			progress := s.BlockNumber
			for _, h := range headers {
				parent, err := core.ReadHeader(tx, h.NumberU64()-1, h.ParentHash)
				if err != nil {
					return ExecOutput{}, err
				}
				if parent == nil {
					break // gap: wait for the rest of the chain segment
				}
				if err := engine.ValidateHeader(h, parent, false); err != nil {
					oracle.Penalize("", err.Error())
					break
				}
				if err := core.WriteHeader(tx, h); err != nil {
					return ExecOutput{}, err
				}
				td, err := core.ReadTd(tx, parent.NumberU64(), h.ParentHash)
				if err != nil {
					return ExecOutput{}, err
				}
				if td == nil {
					break
				}
				newTd := new(big.Int).Add(td, h.Difficulty)
				if err := core.WriteTd(tx, h.NumberU64(), h.Hash(), newTd); err != nil {
					return ExecOutput{}, err
				}
				if err := core.WriteCanonicalHash(tx, h.NumberU64(), h.Hash()); err != nil {
					return ExecOutput{}, err
				}
				progress = h.NumberU64()
			}

			return s.DoneAndUpdate(tx, progress)
		},
		Unwind: func(u *UnwindState, s *StageState, tx ethdb.RwTx) error {
			for n := u.CurrentNumber; n > u.UnwindPoint; n-- {
				if err := core.DeleteCanonicalHash(tx, n); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
