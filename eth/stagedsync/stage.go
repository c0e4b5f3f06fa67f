// Package stagedsync is the pipeline driver of spec.md §4.7 / SPEC_FULL
// §2: an ordered list of resumable Stages, each with a forward and an
// unwind entry point and a progress counter persisted in the single
// SyncStage table, advanced by State.Run's fixed-point loop until every
// stage reports no more work, with unwinds replayed in reverse stage
// order (§6.2 "Unwind protocol").
package stagedsync

import (
	"encoding/binary"

	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// StageID names a pipeline step; reuses the stages subpackage's id type
// so migrations/cmd callers that only need ids don't have to import the
// whole orchestrator.
type StageID = stages.SyncStage

// ExecOutput is what a stage's forward Execute returns: the block number
// it has now fully processed through, and — when it discovered a fault
// that must unwind the pipeline (e.g. Execution hit a bad block) — the
// number to unwind back to.
type ExecOutput struct {
	StageDone    uint64
	UnwindTo     uint64
	DoUnwind     bool
}

// Done reports progress with no unwind requested, the common case.
func Done(blockNumber uint64) ExecOutput { return ExecOutput{StageDone: blockNumber} }

// Unwind reports that the stage hit a fault and the pipeline must unwind
// to unwindTo before retrying.
func Unwind(unwindTo uint64) ExecOutput { return ExecOutput{DoUnwind: true, UnwindTo: unwindTo} }

// StageState is the read-only progress handle Execute receives: its own
// prior progress (BlockNumber). It does not carry other stages' progress;
// a stage reads those from SyncStage through its tx.
type StageState struct {
	state       *State
	ID          StageID
	BlockNumber uint64
}

// ExecutionAt reads this stage's own last-recorded progress from
// SyncStage. State.Run reads the same value before every Execute call to
// fill in BlockNumber, so a crash-and-resume (§6.2's "staged-sync crash"
// scenario) picks up exactly where the previous run left off.
func (s *StageState) ExecutionAt(tx ethdb.Tx) (uint64, error) {
	return stageProgress(tx, s.ID)
}

// Update persists this stage's new progress.
func (s *StageState) Update(tx ethdb.RwTx, blockNumber uint64) error {
	return saveStageProgress(tx, s.ID, blockNumber)
}

// Done is a convenience for "no more work, stay at current progress".
func (s *StageState) Done() ExecOutput { return Done(s.BlockNumber) }

// DoneAndUpdate both persists and reports new progress in one call, the
// shape every Execute implementation in this package uses at its tail.
func (s *StageState) DoneAndUpdate(tx ethdb.RwTx, blockNumber uint64) (ExecOutput, error) {
	if err := s.Update(tx, blockNumber); err != nil {
		return ExecOutput{}, err
	}
	return Done(blockNumber), nil
}

// UnwindState is the handle Unwind receives: the point to unwind down
// to and the stage's progress before the unwind began.
type UnwindState struct {
	state       *State
	ID          StageID
	UnwindPoint uint64
	CurrentNumber uint64
}

// Done persists UnwindPoint as this stage's new progress and clears the
// pending SyncStageUnwind marker — called once a stage's Unwind has
// finished restoring its own tables.
func (u *UnwindState) Done(tx ethdb.RwTx) error {
	if err := saveStageProgress(tx, u.ID, u.UnwindPoint); err != nil {
		return err
	}
	return clearStageUnwind(tx, u.ID)
}

// StageExecuteFunc is a stage's forward step: read up to s.state's other
// stages' progress, process blocks (s.BlockNumber, target], and persist
// new progress via s.DoneAndUpdate. quit is closed on external
// cancellation (§6 "Cancellation and timeouts" — checked between stages
// and at the top of each stage's inner batch loop).
type StageExecuteFunc func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error)

// StageUnwindFunc reverses the tables this stage owns for the blocks
// above u.UnwindPoint.
type StageUnwindFunc func(u *UnwindState, s *StageState, tx ethdb.RwTx) error

// Stage is one pipeline step (§6.3 glossary "Stage"): a reusable,
// resumable step with forward and unwind semantics and a persisted
// progress marker.
type Stage struct {
	ID          StageID
	Description string
	Execute     StageExecuteFunc
	Unwind      StageUnwindFunc
	Disabled    bool
}

func stageProgress(tx ethdb.Tx, id StageID) (uint64, error) {
	v, err := tx.Get(dbutils.SyncStage, []byte(id))
	if err != nil || len(v) != 8 {
		return 0, nil //nolint:nilerr // unset stage progress means "never run"
	}
	return binary.BigEndian.Uint64(v), nil
}

func saveStageProgress(tx ethdb.RwTx, id StageID, blockNumber uint64) error {
	return tx.Put(dbutils.SyncStage, []byte(id), dbutils.EncodeBlockNumber(blockNumber))
}

func stageUnwindTarget(tx ethdb.Tx, id StageID) (uint64, bool) {
	v, err := tx.Get(dbutils.SyncStageUnwind, []byte(id))
	if err != nil || len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

func saveStageUnwind(tx ethdb.RwTx, id StageID, unwindTo uint64) error {
	return tx.Put(dbutils.SyncStageUnwind, []byte(id), dbutils.EncodeBlockNumber(unwindTo))
}

func clearStageUnwind(tx ethdb.RwTx, id StageID) error {
	return tx.Delete(dbutils.SyncStageUnwind, []byte(id))
}
