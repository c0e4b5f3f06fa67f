package core

import (
	"github.com/holiman/uint256"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/core/state"
	"github.com/ArthurTh0mas/martinez/core/types"
	"github.com/ArthurTh0mas/martinez/core/vm"
)

// maxCallDepth bounds CALL/CREATE recursion (§4.5 "depth-tracking via
// Message.Depth"), the classic EVM 1024 frame limit.
const maxCallDepth = 1024

// contractCodeSizeLimit is EIP-170's 24576-byte cap enforced a second time
// here against the bytes CREATE/CREATE2 actually deploy (the interpreter
// only polices CODESIZE/CODECOPY-visible code already on chain; the
// freshly returned init-code output has to be checked by whoever deploys
// it, i.e. here).
const contractCodeSizeLimit = 24576

// codeDepositGas is the per-byte cost of persisting a CREATE/CREATE2's
// returned bytecode (go-ethereum-lineage's params.CreateDataGas).
const codeDepositGas = 200

// evmHost wires core/vm's interrupt-driven interpreter to one block's
// IntraBlockState and to the sub-message recursion CALL/CREATE need to
// get back here (§4.5's Host interface; §4.6's per-block execution).
// Exactly the responsibility split the EVM interpreter's own grounding
// note describes: core/vm builds a Message and calls Host.Call, leaving
// frame/depth/state-snapshot management to the execution processor.
type evmHost struct {
	ibs   *state.IntraBlockState
	block vm.BlockContext
	tx    vm.TxContext
	rev   vm.Revision
	logs  []*types.Log
	calls map[common.Address]uint8
}

// callFlagFrom/callFlagTo mark an address's participation in a CallTraces
// row (§3.5 supplement, §4.7 stage 11): CallTraceSet records, per block,
// every address that appeared as a call sender and/or recipient.
const (
	callFlagFrom = uint8(1) << iota
	callFlagTo
)

func (h *evmHost) recordCall(from, to common.Address, hasTo bool) {
	if h.calls == nil {
		h.calls = make(map[common.Address]uint8)
	}
	h.calls[from] |= callFlagFrom
	if hasTo {
		h.calls[to] |= callFlagTo
	}
}

func newEVMHost(ibs *state.IntraBlockState, block vm.BlockContext, tx vm.TxContext, rev vm.Revision) *evmHost {
	return &evmHost{ibs: ibs, block: block, tx: tx, rev: rev}
}

func (h *evmHost) GetBalance(a common.Address) *uint256.Int         { return h.ibs.GetBalance(a) }
func (h *evmHost) GetNonce(a common.Address) uint64                 { return h.ibs.GetNonce(a) }
func (h *evmHost) GetCodeHash(a common.Address) common.Hash         { return h.ibs.GetCodeHash(a) }
func (h *evmHost) GetCode(a common.Address) []byte                  { return h.ibs.GetCode(a) }
func (h *evmHost) GetCodeSize(a common.Address) int                 { return h.ibs.GetCodeSize(a) }
func (h *evmHost) GetState(a common.Address, k *common.Hash) uint256.Int { return h.ibs.GetState(a, k) }
func (h *evmHost) SetState(a common.Address, k *common.Hash, v uint256.Int) { h.ibs.SetState(a, k, v) }
func (h *evmHost) AddBalance(a common.Address, v *uint256.Int)      { h.ibs.AddBalance(a, v) }
func (h *evmHost) SubBalance(a common.Address, v *uint256.Int)      { h.ibs.SubBalance(a, v) }
func (h *evmHost) SetNonce(a common.Address, n uint64)              { h.ibs.SetNonce(a, n) }
func (h *evmHost) SetCode(a common.Address, code []byte, hash common.Hash) { h.ibs.SetCode(a, code, hash) }
func (h *evmHost) Selfdestruct(a common.Address) bool               { return h.ibs.Selfdestruct(a) }
func (h *evmHost) Exist(a common.Address) bool                      { return h.ibs.Exist(a) }
func (h *evmHost) Empty(a common.Address) bool                      { return h.ibs.Empty(a) }
func (h *evmHost) CreateAccount(a common.Address, incarnation uint64) { h.ibs.CreateAccount(a, incarnation) }
func (h *evmHost) GetBlockHash(n uint64) common.Hash                { return h.block.GetHash(n) }

func (h *evmHost) AddLog(l *vm.Log) {
	h.logs = append(h.logs, &types.Log{Address: l.Address, Topics: l.Topics, Data: l.Data})
}

func (h *evmHost) interpreter() *vm.Interpreter {
	return vm.NewInterpreter(h, h.rev, h.block, h.tx)
}

// Call implements vm.Host.Call: it is both the sub-call dispatch point
// every CALL-family/CREATE opcode goes through and the entry point the
// processor itself uses to run a transaction's top-level message, so the
// outermost frame and every nested frame share one code path.
func (h *evmHost) Call(msg *vm.Message) *vm.Output {
	if msg.Depth > maxCallDepth {
		return &vm.Output{Status: vm.StatusFailure}
	}
	if msg.Kind == vm.CallKindCreate || msg.Kind == vm.CallKindCreate2 {
		h.recordCall(msg.Sender, common.Address{}, false)
		return h.create(msg)
	}
	h.recordCall(msg.Sender, msg.Recipient, true)
	return h.call(msg)
}

func (h *evmHost) call(msg *vm.Message) *vm.Output {
	snapshot := h.ibs.Snapshot()
	logMark := len(h.logs)

	if msg.Kind == vm.CallKindCall || msg.Kind == vm.CallKindCallCode {
		if !msg.Value.IsZero() {
			if h.ibs.GetBalance(msg.Sender).Cmp(&msg.Value) < 0 {
				h.ibs.RevertToSnapshot(snapshot)
				return &vm.Output{Status: vm.StatusFailure}
			}
			h.ibs.SubBalance(msg.Sender, &msg.Value)
			h.ibs.AddBalance(msg.Recipient, &msg.Value)
		}
	}

	code := h.ibs.GetCode(msg.CodeAddr)
	if len(code) == 0 {
		return &vm.Output{Status: vm.StatusSuccess, GasLeft: msg.Gas}
	}

	out := h.interpreter().Run(msg, code, msg.IsStatic)
	if out.Status != vm.StatusSuccess {
		h.ibs.RevertToSnapshot(snapshot)
		h.logs = h.logs[:logMark]
	}
	return out
}

func (h *evmHost) create(msg *vm.Message) *vm.Output {
	snapshot := h.ibs.Snapshot()
	logMark := len(h.logs)

	nonce := h.ibs.GetNonce(msg.Sender)
	h.ibs.SetNonce(msg.Sender, nonce+1)

	var addr common.Address
	if msg.Kind == vm.CallKindCreate {
		addr = vm.CreateAddress(msg.Sender, nonce)
	} else {
		initCodeHash := common.MustHashData(msg.Input)
		addr = vm.CreateAddress2(msg.Sender, uint256ToBytes32(&msg.Salt), initCodeHash)
	}

	h.calls[addr] |= callFlagTo

	if h.ibs.GetNonce(addr) != 0 || h.ibs.GetCodeSize(addr) != 0 {
		h.ibs.RevertToSnapshot(snapshot)
		return &vm.Output{Status: vm.StatusFailure}
	}

	newIncarnation := h.ibs.Incarnation(addr) + 1
	h.ibs.CreateAccount(addr, newIncarnation)
	h.ibs.SetNonce(addr, 1)

	if !msg.Value.IsZero() {
		if h.ibs.GetBalance(msg.Sender).Cmp(&msg.Value) < 0 {
			h.ibs.RevertToSnapshot(snapshot)
			return &vm.Output{Status: vm.StatusFailure}
		}
		h.ibs.SubBalance(msg.Sender, &msg.Value)
		h.ibs.AddBalance(addr, &msg.Value)
	}

	callMsg := &vm.Message{
		Kind: vm.CallKindCall, Sender: msg.Sender, Recipient: addr, CodeAddr: addr,
		Value: msg.Value, Input: nil, Gas: msg.Gas, Depth: msg.Depth,
	}
	out := h.interpreter().Run(callMsg, msg.Input, false)
	if out.Status != vm.StatusSuccess {
		if out.Status != vm.StatusRevert {
			out.GasLeft = 0
		}
		h.ibs.RevertToSnapshot(snapshot)
		h.logs = h.logs[:logMark]
		return out
	}

	deployed := out.ReturnData
	if len(deployed) > contractCodeSizeLimit {
		h.ibs.RevertToSnapshot(snapshot)
		h.logs = h.logs[:logMark]
		return &vm.Output{Status: vm.StatusFailure}
	}
	depositCost := uint64(len(deployed)) * codeDepositGas
	if out.GasLeft < depositCost {
		h.ibs.RevertToSnapshot(snapshot)
		h.logs = h.logs[:logMark]
		return &vm.Output{Status: vm.StatusOutOfGas}
	}
	out.GasLeft -= depositCost
	h.ibs.SetCode(addr, deployed, common.MustHashData(deployed))

	return &vm.Output{Status: vm.StatusSuccess, GasLeft: out.GasLeft, CreateAddress: addr}
}

func uint256ToBytes32(v *uint256.Int) [32]byte {
	var out [32]byte
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}
