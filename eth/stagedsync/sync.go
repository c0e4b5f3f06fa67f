package stagedsync

import (
	"context"

	"github.com/ArthurTh0mas/martinez/ethdb"
	"github.com/ArthurTh0mas/martinez/log"
)

// State is the pipeline driver (§4.7, §6.2): a fixed, ordered list of
// Stages, run forward to a fixed point and unwound in reverse stage
// order on request. One State is built once per node and reused for
// every sync cycle.
type State struct {
	stages []*Stage
}

// New builds a State over stages in the given (forward) order; Unwind
// always walks this slice back to front, so callers must list stages in
// the canonical forward order (stages.AllStages).
func New(stageList []*Stage) *State {
	return &State{stages: stageList}
}

// Len reports the stage count, mainly for tests.
func (s *State) Len() int { return len(s.stages) }

// Run drives the pipeline against kv until a fixed point: every stage
// has been offered the chance to advance and none did, or quit fires.
// Each stage runs in its own RwTx, committed immediately after that
// stage's Execute returns — a crash between two stages loses at most
// one stage's in-flight batch, and resumes from each stage's own
// persisted SyncStage entry (§6's "staged-sync crash" scenario).
func (s *State) Run(kv ethdb.KV, quit <-chan struct{}) error {
	for {
		select {
		case <-quit:
			return nil
		default:
		}

		progressed, err := s.runCycle(kv, quit)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (s *State) runCycle(kv ethdb.KV, quit <-chan struct{}) (bool, error) {
	anyProgress := false

	for _, stage := range s.stages {
		if stage.Disabled {
			continue
		}
		select {
		case <-quit:
			return anyProgress, nil
		default:
		}

		var out ExecOutput
		var before uint64
		err := kv.Update(context.Background(), func(tx ethdb.RwTx) error {
			progress, err := stageProgress(tx, stage.ID)
			if err != nil {
				return err
			}
			before = progress
			st := &StageState{state: s, ID: stage.ID, BlockNumber: progress}
			out, err = stage.Execute(st, tx, quit)
			return err
		})
		if err != nil {
			return anyProgress, err
		}

		if out.DoUnwind {
			log.Info("Unwind requested", "stage", stage.ID, "to", out.UnwindTo)
			if err := s.unwindTo(kv, out.UnwindTo, quit); err != nil {
				return anyProgress, err
			}
			return true, nil
		}

		if out.StageDone > before {
			anyProgress = true
		}
	}

	return anyProgress, nil
}

// unwindTo runs Unwind on every stage whose progress exceeds to, walking
// the stage list back to front (§6.2 "unwind runs in reverse stage
// order from current progress down to n; each stage's unwind is
// responsible for restoring its tables and lowering its SyncStage
// entry").
func (s *State) unwindTo(kv ethdb.KV, to uint64, quit <-chan struct{}) error {
	for i := len(s.stages) - 1; i >= 0; i-- {
		stage := s.stages[i]
		if stage.Disabled || stage.Unwind == nil {
			continue
		}
		select {
		case <-quit:
			return nil
		default:
		}

		err := kv.Update(context.Background(), func(tx ethdb.RwTx) error {
			progress, err := stageProgress(tx, stage.ID)
			if err != nil {
				return err
			}
			if progress <= to {
				return nil
			}
			if err := saveStageUnwind(tx, stage.ID, to); err != nil {
				return err
			}
			u := &UnwindState{state: s, ID: stage.ID, UnwindPoint: to, CurrentNumber: progress}
			st := &StageState{state: s, ID: stage.ID, BlockNumber: progress}
			if err := stage.Unwind(u, st, tx); err != nil {
				return err
			}
			return u.Done(tx)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
