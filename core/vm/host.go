package vm

import (
	"github.com/holiman/uint256"

	"github.com/ArthurTh0mas/martinez/common"
)

// Host resolves the interpreter's interrupts (§4.5): account/storage/code
// reads, storage/log/balance writes, and CALL-family sub-messages. An
// *state.IntraBlockState (core/state) is the production implementation;
// tests supply a minimal in-memory stub. Rendered as a plain interface
// rather than Rust-style yielded interrupts for the same reason as
// trie.CommitmentHost: Go has no stackful coroutines, and a synchronous
// callback captures the same suspend/resume contract.
type Host interface {
	GetBalance(address common.Address) *uint256.Int
	GetNonce(address common.Address) uint64
	GetCodeHash(address common.Address) common.Hash
	GetCode(address common.Address) []byte
	GetCodeSize(address common.Address) int
	GetState(address common.Address, key *common.Hash) uint256.Int
	SetState(address common.Address, key *common.Hash, value uint256.Int)
	AddBalance(address common.Address, amount *uint256.Int)
	SubBalance(address common.Address, amount *uint256.Int)
	SetNonce(address common.Address, nonce uint64)
	SetCode(address common.Address, code []byte, codeHash common.Hash)
	Selfdestruct(address common.Address) bool
	Exist(address common.Address) bool
	Empty(address common.Address) bool
	CreateAccount(address common.Address, incarnation uint64)

	GetBlockHash(number uint64) common.Hash
	AddLog(log *Log)

	// Call dispatches a CALL/CALLCODE/DELEGATECALL/STATICCALL/CREATE/
	// CREATE2 sub-message and returns its Output (§4.5 "receive back an
	// Output{status_code, gas_left, output_data, create_address?}").
	Call(msg *Message) *Output
}

// Log is one LOGn emission (§4.5).
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// CallKind distinguishes the message kinds the interpreter's CALL-family
// opcodes and CREATE/CREATE2 can issue.
type CallKind int

const (
	CallKindCall CallKind = iota
	CallKindCallCode
	CallKindDelegateCall
	CallKindStaticCall
	CallKindCreate
	CallKindCreate2
)

// Message is the current call frame's parameters (§4.5 "current message").
type Message struct {
	Kind       CallKind
	Sender     common.Address
	Recipient  common.Address
	CodeAddr   common.Address
	Value      uint256.Int
	Input      []byte
	Gas        uint64
	Depth      int
	IsStatic   bool
	Salt       uint256.Int // CREATE2 only
}

// StatusCode is the frame's outcome (§4.5 error taxonomy).
type StatusCode int

const (
	StatusSuccess StatusCode = iota
	StatusRevert
	StatusStackUnderflow
	StatusStackOverflow
	StatusOutOfGas
	StatusInvalidInstruction
	StatusUndefinedInstruction
	StatusInvalidJump
	StatusStaticModeViolation
	StatusBadJumpDestination
	StatusFailure
)

// Output is what a sub-message (or the top-level call) returns.
type Output struct {
	Status        StatusCode
	GasLeft       uint64
	ReturnData    []byte
	CreateAddress common.Address
}
