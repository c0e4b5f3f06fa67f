package vm

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/ArthurTh0mas/martinez/common"
)

// Revision is a protocol upgrade point (§4.5 "Revisions"). Ordered
// Frontier < Homestead < Tangerine < Spurious < Byzantium < Constantinople
// < Petersburg < Istanbul < Berlin < London < Shanghai.
type Revision int

const (
	Frontier Revision = iota
	Homestead
	TangerineWhistle
	SpuriousDragon
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	Berlin
	London
	Shanghai
)

var (
	errStackUnderflow    = errors.New("stack underflow")
	errStackOverflow     = errors.New("stack overflow")
	errOutOfGas          = errors.New("out of gas")
	errInvalidInstruction = errors.New("invalid instruction")
	errUndefinedInstruction = errors.New("undefined instruction")
	errInvalidJump       = errors.New("invalid jump destination")
	errStaticModeViolation = errors.New("write protection in static call")
	errReturnDataOutOfBounds = errors.New("return data out of bounds")
	errGasUintOverflow   = errors.New("gas uint64 overflow")
)

// ScopeContext groups one execution frame's mutable state (§4.5
// "Execution state").
type ScopeContext struct {
	Memory   *Memory
	Stack    *Stack
	Contract *Message
}

// ExecutionState is a single call frame being interpreted: program
// counter, remaining gas, the active Message, and the frame's analysis.
type ExecutionState struct {
	msg        *Message
	code       []byte
	analysis   *codeAnalysis
	pc         uint64
	gas        uint64
	returnData []byte
	readOnly   bool
}

// BlockContext carries the block-scoped environment opcodes like COINBASE
// and NUMBER read; it does not change across calls within a block.
type BlockContext struct {
	Coinbase    common.Address
	GasLimit    uint64
	BlockNumber uint64
	Time        uint64
	Difficulty  *uint256.Int
	BaseFee     *uint256.Int
	GetHash     func(uint64) common.Hash
}

// TxContext carries the transaction-scoped environment (ORIGIN, GASPRICE).
type TxContext struct {
	Origin   common.Address
	GasPrice *uint256.Int
	ChainID  *uint256.Int
}

// Interpreter runs one Message's bytecode to completion against a Host,
// selecting the opcode table for the given Revision (§4.5 "Instruction
// table"). The host (core's evmHost) builds a fresh Interpreter for each
// call frame; an Interpreter carries no state between Run calls besides
// the (immutable) jump table and environment.
type Interpreter struct {
	host  Host
	table *jumpTable
	rev   Revision
	block BlockContext
	tx    TxContext
}

func NewInterpreter(host Host, rev Revision, block BlockContext, tx TxContext) *Interpreter {
	return &Interpreter{host: host, table: tableForRevision(rev), rev: rev, block: block, tx: tx}
}

// Run interprets msg.Input as code (contract creation) or the account's
// code (message call) and returns the frame's Output. It never panics on
// malformed bytecode or stack misuse; every such condition is reported
// through Output.Status per the §4.5 error taxonomy.
func (in *Interpreter) Run(msg *Message, code []byte, readOnly bool) *Output {
	state := &ExecutionState{
		msg:      msg,
		code:     code,
		analysis: analyze(code),
		gas:      msg.Gas,
		readOnly: readOnly || msg.IsStatic,
	}

	stack := newStack()
	defer stack.returnToPool()
	mem := newMemory()
	scope := &ScopeContext{Memory: mem, Stack: stack, Contract: msg}

	for {
		if int(state.pc) >= len(code) {
			return &Output{Status: StatusSuccess, GasLeft: state.gas}
		}
		op := OpCode(code[state.pc])
		operation := in.table[op]
		if operation == nil {
			return &Output{Status: StatusUndefinedInstruction}
		}
		if err := operation.validateStack(stack); err != nil {
			if errors.Is(err, errStackUnderflow) {
				return &Output{Status: StatusStackUnderflow}
			}
			return &Output{Status: StatusStackOverflow}
		}
		if state.readOnly && operation.writes {
			return &Output{Status: StatusStaticModeViolation}
		}

		constGas := operation.constantGas
		if state.gas < constGas {
			return &Output{Status: StatusOutOfGas}
		}
		state.gas -= constGas

		if operation.dynamicGas != nil {
			dynGas, err := operation.dynamicGas(in, state, scope)
			if err != nil {
				return &Output{Status: StatusOutOfGas}
			}
			if state.gas < dynGas {
				return &Output{Status: StatusOutOfGas}
			}
			state.gas -= dynGas
		}

		res, err := operation.execute(&state.pc, in, state, scope)
		if err != nil {
			switch {
			case errors.Is(err, errRevert):
				return &Output{Status: StatusRevert, GasLeft: state.gas, ReturnData: res}
			case errors.Is(err, errStopExecution):
				return &Output{Status: StatusSuccess, GasLeft: state.gas, ReturnData: res}
			case errors.Is(err, errInvalidJump):
				return &Output{Status: StatusInvalidJump}
			case errors.Is(err, errInvalidInstruction):
				return &Output{Status: StatusInvalidInstruction}
			default:
				return &Output{Status: StatusFailure}
			}
		}
		if res != nil {
			return &Output{Status: StatusSuccess, GasLeft: state.gas, ReturnData: res}
		}
		if !operation.jumps {
			state.pc++
		}
	}
}

var errStopExecution = errors.New("execution stopped")
var errRevert = errors.New("execution reverted")

func toWordSize(size uint64) uint64 {
	if size > (1<<64-1)-31 {
		return (1<<64 - 1) / 32
	}
	return (size + 31) / 32
}

// memoryGasCost is the quadratic memory-expansion charge shared by every
// memory-touching opcode (§4.5 dynamic gas).
func memoryGasCost(mem *Memory, newSize uint64) (uint64, error) {
	if newSize == 0 {
		return 0, nil
	}
	if newSize > 0x1FFFFFFFE0 {
		return 0, errGasUintOverflow
	}
	newSize = (newSize + 31) / 32 * 32
	if newSize <= uint64(mem.Len()) {
		return 0, nil
	}
	words := toWordSize(newSize)
	oldWords := toWordSize(uint64(mem.Len()))
	quadCoeff := func(w uint64) uint64 { return w*w/512 + 3*w }
	return quadCoeff(words) - quadCoeff(oldWords), nil
}

func calcMemSize64(off, length *uint256.Int) (uint64, bool) {
	if length.IsZero() {
		return 0, true
	}
	if !off.IsUint64() || !length.IsUint64() {
		return 0, false
	}
	var sum uint256.Int
	overflow := sum.AddOverflow(off, length)
	if overflow || !sum.IsUint64() {
		return 0, false
	}
	return sum.Uint64(), true
}

func hashAddr(a common.Address) common.Hash { return common.MustHashData(a[:]) }
