package vm

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ArthurTh0mas/martinez/common"
)

type stubHost struct {
	balances map[common.Address]*uint256.Int
	storage  map[common.Address]map[common.Hash]uint256.Int
	codes    map[common.Address][]byte
	logs     []*Log
	calls    []*Message
	callFn   func(*Message) *Output
}

func newStubHost() *stubHost {
	return &stubHost{
		balances: make(map[common.Address]*uint256.Int),
		storage:  make(map[common.Address]map[common.Hash]uint256.Int),
		codes:    make(map[common.Address][]byte),
	}
}

func (h *stubHost) GetBalance(a common.Address) *uint256.Int {
	if b, ok := h.balances[a]; ok {
		return b
	}
	return uint256.NewInt(0)
}
func (h *stubHost) GetNonce(common.Address) uint64          { return 0 }
func (h *stubHost) GetCodeHash(a common.Address) common.Hash { return common.MustHashData(h.codes[a]) }
func (h *stubHost) GetCode(a common.Address) []byte          { return h.codes[a] }
func (h *stubHost) GetCodeSize(a common.Address) int         { return len(h.codes[a]) }
func (h *stubHost) GetState(a common.Address, key *common.Hash) uint256.Int {
	if m, ok := h.storage[a]; ok {
		return m[*key]
	}
	return uint256.Int{}
}
func (h *stubHost) SetState(a common.Address, key *common.Hash, value uint256.Int) {
	if h.storage[a] == nil {
		h.storage[a] = make(map[common.Hash]uint256.Int)
	}
	h.storage[a][*key] = value
}
func (h *stubHost) AddBalance(a common.Address, amount *uint256.Int) {
	bal := h.GetBalance(a)
	var sum uint256.Int
	sum.Add(bal, amount)
	h.balances[a] = &sum
}
func (h *stubHost) SubBalance(a common.Address, amount *uint256.Int) {
	bal := h.GetBalance(a)
	var diff uint256.Int
	diff.Sub(bal, amount)
	h.balances[a] = &diff
}
func (h *stubHost) SetNonce(common.Address, uint64) {}
func (h *stubHost) SetCode(a common.Address, code []byte, _ common.Hash) { h.codes[a] = code }
func (h *stubHost) Selfdestruct(common.Address) bool                    { return true }
func (h *stubHost) Exist(common.Address) bool                           { return true }
func (h *stubHost) Empty(common.Address) bool                           { return false }
func (h *stubHost) CreateAccount(common.Address, uint64)                {}
func (h *stubHost) GetBlockHash(uint64) common.Hash                     { return common.Hash{} }
func (h *stubHost) AddLog(l *Log)                                       { h.logs = append(h.logs, l) }
func (h *stubHost) Call(msg *Message) *Output {
	h.calls = append(h.calls, msg)
	if h.callFn != nil {
		return h.callFn(msg)
	}
	return &Output{Status: StatusSuccess, GasLeft: msg.Gas}
}

func testEnv() (BlockContext, TxContext) {
	return BlockContext{
			Difficulty: uint256.NewInt(0),
			BaseFee:    uint256.NewInt(0),
			GetHash:    func(uint64) common.Hash { return common.Hash{} },
		}, TxContext{
			GasPrice: uint256.NewInt(0),
			ChainID:  uint256.NewInt(1),
		}
}

func TestAddAndReturn(t *testing.T) {
	// PUSH1 2 PUSH1 3 ADD PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	code := []byte{
		byte(PUSH1), 2,
		byte(PUSH1), 3,
		byte(ADD),
		byte(PUSH1), 0,
		byte(MSTORE),
		byte(PUSH1), 32,
		byte(PUSH1), 0,
		byte(RETURN),
	}
	block, tx := testEnv()
	in := NewInterpreter(newStubHost(), Shanghai, block, tx)
	msg := &Message{Gas: 100000}
	out := in.Run(msg, code, false)
	require.Equal(t, StatusSuccess, out.Status)
	var result uint256.Int
	result.SetBytes(out.ReturnData)
	require.Equal(t, uint64(5), result.Uint64())
}

func TestStackUnderflow(t *testing.T) {
	code := []byte{byte(ADD)}
	block, tx := testEnv()
	in := NewInterpreter(newStubHost(), Shanghai, block, tx)
	out := in.Run(&Message{Gas: 100000}, code, false)
	require.Equal(t, StatusStackUnderflow, out.Status)
}

func TestOutOfGas(t *testing.T) {
	code := []byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD)}
	block, tx := testEnv()
	in := NewInterpreter(newStubHost(), Shanghai, block, tx)
	out := in.Run(&Message{Gas: 1}, code, false)
	require.Equal(t, StatusOutOfGas, out.Status)
}

func TestInvalidJumpDestination(t *testing.T) {
	code := []byte{byte(PUSH1), 0x05, byte(JUMP), byte(STOP), byte(STOP), byte(ADD)}
	block, tx := testEnv()
	in := NewInterpreter(newStubHost(), Shanghai, block, tx)
	out := in.Run(&Message{Gas: 100000}, code, false)
	require.Equal(t, StatusInvalidJump, out.Status)
}

func TestValidJumpToJumpdest(t *testing.T) {
	// PUSH1 4 JUMP INVALID JUMPDEST STOP: the jump skips the INVALID at pc=3 and lands on the JUMPDEST at pc=4
	code := []byte{
		byte(PUSH1), 4,
		byte(JUMP),
		byte(INVALID),
		byte(JUMPDEST),
		byte(STOP),
	}
	block, tx := testEnv()
	in := NewInterpreter(newStubHost(), Shanghai, block, tx)
	out := in.Run(&Message{Gas: 100000}, code, false)
	require.Equal(t, StatusSuccess, out.Status)
}

func TestRevertCarriesReturnData(t *testing.T) {
	code := []byte{
		byte(PUSH1), 0xAA,
		byte(PUSH1), 0,
		byte(MSTORE8),
		byte(PUSH1), 1,
		byte(PUSH1), 0,
		byte(REVERT),
	}
	block, tx := testEnv()
	in := NewInterpreter(newStubHost(), Shanghai, block, tx)
	out := in.Run(&Message{Gas: 100000}, code, false)
	require.Equal(t, StatusRevert, out.Status)
	require.Equal(t, []byte{0xAA}, out.ReturnData)
}

func TestStaticModeViolationOnSstore(t *testing.T) {
	code := []byte{
		byte(PUSH1), 1,
		byte(PUSH1), 0,
		byte(SSTORE),
	}
	block, tx := testEnv()
	in := NewInterpreter(newStubHost(), Shanghai, block, tx)
	out := in.Run(&Message{Gas: 100000, IsStatic: true}, code, true)
	require.Equal(t, StatusStaticModeViolation, out.Status)
}

func TestSloadSstoreRoundTrip(t *testing.T) {
	code := []byte{
		byte(PUSH1), 0x07,
		byte(PUSH1), 0,
		byte(SSTORE),
		byte(PUSH1), 0,
		byte(SLOAD),
		byte(PUSH1), 0,
		byte(MSTORE),
		byte(PUSH1), 32,
		byte(PUSH1), 0,
		byte(RETURN),
	}
	block, tx := testEnv()
	in := NewInterpreter(newStubHost(), Shanghai, block, tx)
	var recipient common.Address
	recipient[19] = 9
	out := in.Run(&Message{Gas: 100000, Recipient: recipient}, code, false)
	require.Equal(t, StatusSuccess, out.Status)
	var result uint256.Int
	result.SetBytes(out.ReturnData)
	require.Equal(t, uint64(7), result.Uint64())
}

func TestCallDelegatesToHost(t *testing.T) {
	host := newStubHost()
	host.callFn = func(msg *Message) *Output {
		return &Output{Status: StatusSuccess, GasLeft: msg.Gas - 100, ReturnData: []byte{0x42}}
	}
	// PUSH1 0 PUSH1 0 PUSH1 0 PUSH1 0 PUSH1 0 PUSH1 0xAA PUSH2 0x2710 CALL
	code := []byte{
		byte(PUSH1), 0, // retSize
		byte(PUSH1), 0, // retOffset
		byte(PUSH1), 0, // argsSize
		byte(PUSH1), 0, // argsOffset
		byte(PUSH1), 0, // value
		byte(PUSH1), 0xAA, // addr
		byte(PUSH2), 0x27, 0x10, // gas
		byte(CALL),
		byte(STOP),
	}
	block, tx := testEnv()
	in := NewInterpreter(host, Shanghai, block, tx)
	out := in.Run(&Message{Gas: 1000000}, code, false)
	require.Equal(t, StatusSuccess, out.Status)
	require.Len(t, host.calls, 1)
}

func TestUndefinedInstruction(t *testing.T) {
	code := []byte{0x0c} // unassigned opcode
	block, tx := testEnv()
	in := NewInterpreter(newStubHost(), Shanghai, block, tx)
	out := in.Run(&Message{Gas: 100000}, code, false)
	require.Equal(t, StatusUndefinedInstruction, out.Status)
}

func TestCreateAddressDeterministic(t *testing.T) {
	var sender common.Address
	sender[19] = 1
	a1 := CreateAddress(sender, 0)
	a2 := CreateAddress(sender, 0)
	a3 := CreateAddress(sender, 1)
	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, a3)
}

func TestCreateAddress2Deterministic(t *testing.T) {
	var sender common.Address
	sender[19] = 1
	initCodeHash := common.MustHashData([]byte{0x60, 0x00})
	var salt [32]byte
	salt[31] = 7
	a1 := CreateAddress2(sender, salt, initCodeHash)
	a2 := CreateAddress2(sender, salt, initCodeHash)
	require.Equal(t, a1, a2)
}
