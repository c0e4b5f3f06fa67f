package vm

import (
	"golang.org/x/crypto/sha3"

	"github.com/holiman/uint256"

	"github.com/ArthurTh0mas/martinez/common"
)

// maxCodeSize is the EIP-170 contract code size cap (§4.5).
const maxCodeSize = 24576

// callStipend is the gas stipend forwarded to a CALL that transfers
// value, guaranteeing the callee can at least emit a log (§4.5 "2300
// stipend").
const callStipend = 2300

func opStop(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	return nil, errStopExecution
}

func opAdd(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Add(&x, y)
	return nil, nil
}

func opMul(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Mul(&x, y)
	return nil, nil
}

func opSub(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Sub(&x, y)
	return nil, nil
}

func opDiv(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Div(&x, y)
	return nil, nil
}

func opSdiv(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.SDiv(&x, y)
	return nil, nil
}

func opMod(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Mod(&x, y)
	return nil, nil
}

func opSmod(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.SMod(&x, y)
	return nil, nil
}

func opAddmod(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y, z := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.peek()
	z.AddMod(&x, &y, z)
	return nil, nil
}

func opMulmod(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y, z := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.peek()
	z.MulMod(&x, &y, z)
	return nil, nil
}

func opExp(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	base, exponent := scope.Stack.pop(), scope.Stack.peek()
	exponent.Exp(&base, exponent)
	return nil, nil
}

func gasExp(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	expBytes := scope.Stack.back(1).ByteLen()
	perByte := uint64(10)
	if in.rev < SpuriousDragon {
		perByte = 10
	} else {
		perByte = 50
	}
	return uint64(expBytes) * perByte, nil
}

func opSignExtend(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	back, num := scope.Stack.pop(), scope.Stack.peek()
	num.ExtendSign(num, &back)
	return nil, nil
}

func opLt(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Lt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opGt(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Gt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSlt(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Slt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSgt(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Sgt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opEq(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Eq(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opIszero(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x := scope.Stack.peek()
	if x.IsZero() {
		x.SetOne()
	} else {
		x.Clear()
	}
	return nil, nil
}

func opAnd(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.And(&x, y)
	return nil, nil
}

func opOr(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Or(&x, y)
	return nil, nil
}

func opXor(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Xor(&x, y)
	return nil, nil
}

func opNot(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x := scope.Stack.peek()
	x.Not(x)
	return nil, nil
}

func opByte(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	th, val := scope.Stack.pop(), scope.Stack.peek()
	val.Byte(&th)
	return nil, nil
}

func opShl(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	shift, value := scope.Stack.pop(), scope.Stack.peek()
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

func opShr(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	shift, value := scope.Stack.pop(), scope.Stack.peek()
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

func opSar(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	shift, value := scope.Stack.pop(), scope.Stack.peek()
	if shift.GtUint64(255) {
		if value.Sign() >= 0 {
			value.Clear()
		} else {
			value.SetAllOne()
		}
		return nil, nil
	}
	n := uint(shift.Uint64())
	value.SRsh(value, n)
	return nil, nil
}

func opSha3(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	offset, size := scope.Stack.pop(), scope.Stack.peek()
	data := scope.Memory.GetPtr(int64(offset.Uint64()), int64(size.Uint64()))
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	var h common.Hash
	d.Sum(h[:0])
	size.SetBytes(h[:])
	return nil, nil
}

func gasSha3(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	size := scope.Stack.back(1)
	words := toWordSize(size.Uint64())
	return words * 6, nil
}

func opAddress(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetBytes(scope.Contract.Recipient[:])
	scope.Stack.push(&v)
	return nil, nil
}

func opBalance(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	addrInt := scope.Stack.peek()
	addr := common.BytesToAddress(addrInt.Bytes())
	addrInt.Set(in.host.GetBalance(addr))
	return nil, nil
}

func opOrigin(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetBytes(in.tx.Origin[:])
	scope.Stack.push(&v)
	return nil, nil
}

func opCaller(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetBytes(scope.Contract.Sender[:])
	scope.Stack.push(&v)
	return nil, nil
}

func opCallValue(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	v := scope.Contract.Value
	scope.Stack.push(&v)
	return nil, nil
}

func opCallDataLoad(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	x := scope.Stack.peek()
	off, overflow := x.Uint64WithOverflow()
	data := scope.Contract.Input
	if overflow || off >= uint64(len(data)) {
		x.Clear()
		return nil, nil
	}
	var buf [32]byte
	n := copy(buf[:], data[off:])
	_ = n
	x.SetBytes(buf[:])
	return nil, nil
}

func opCallDataSize(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetUint64(uint64(len(scope.Contract.Input)))
	scope.Stack.push(&v)
	return nil, nil
}

func copyToMemory(scope *ScopeContext, src []byte) {
	memOff, dataOff, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	dOff, overflow := dataOff.Uint64WithOverflow()
	if overflow {
		dOff = uint64(len(src))
	}
	data := make([]byte, length.Uint64())
	if dOff < uint64(len(src)) {
		copy(data, src[dOff:])
	}
	scope.Memory.Set(memOff.Uint64(), length.Uint64(), data)
}

func opCallDataCopy(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	copyToMemory(scope, scope.Contract.Input)
	return nil, nil
}

func gasMemoryCopy(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	memOff, length := scope.Stack.back(0), scope.Stack.back(2)
	newSize, ok := calcMemSize64(memOff, length)
	if !ok {
		return 0, errGasUintOverflow
	}
	expand, err := memoryGasCost(scope.Memory, newSize)
	if err != nil {
		return 0, err
	}
	words := toWordSize(length.Uint64())
	return expand + words*3, nil
}

func opCodeSize(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetUint64(uint64(len(state.code)))
	scope.Stack.push(&v)
	return nil, nil
}

func opCodeCopy(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	copyToMemory(scope, state.code)
	return nil, nil
}

func opGasPrice(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	v := *in.tx.GasPrice
	scope.Stack.push(&v)
	return nil, nil
}

func opExtCodeSize(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	slot := scope.Stack.peek()
	addr := common.BytesToAddress(slot.Bytes())
	slot.SetUint64(uint64(in.host.GetCodeSize(addr)))
	return nil, nil
}

func opExtCodeCopy(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	addrInt := scope.Stack.pop()
	addr := common.BytesToAddress(addrInt.Bytes())
	code := in.host.GetCode(addr)
	copyToMemory(scope, code)
	return nil, nil
}

func gasExtCodeCopy(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	memOff, length := scope.Stack.back(1), scope.Stack.back(3)
	newSize, ok := calcMemSize64(memOff, length)
	if !ok {
		return 0, errGasUintOverflow
	}
	expand, err := memoryGasCost(scope.Memory, newSize)
	if err != nil {
		return 0, err
	}
	words := toWordSize(length.Uint64())
	return expand + words*3, nil
}

func opExtCodeHash(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	slot := scope.Stack.peek()
	addr := common.BytesToAddress(slot.Bytes())
	if !in.host.Exist(addr) || in.host.Empty(addr) {
		slot.Clear()
		return nil, nil
	}
	h := in.host.GetCodeHash(addr)
	slot.SetBytes(h[:])
	return nil, nil
}

func opReturnDataSize(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetUint64(uint64(len(state.returnData)))
	scope.Stack.push(&v)
	return nil, nil
}

func opReturnDataCopy(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	memOff, dataOff, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	var end uint256.Int
	overflow := end.AddOverflow(&dataOff, &length)
	if overflow || !end.IsUint64() || end.Uint64() > uint64(len(state.returnData)) {
		return nil, errReturnDataOutOfBounds
	}
	scope.Memory.Set(memOff.Uint64(), length.Uint64(), state.returnData[dataOff.Uint64():end.Uint64()])
	return nil, nil
}

func opBlockhash(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	num := scope.Stack.peek()
	if !num.IsUint64() {
		num.Clear()
		return nil, nil
	}
	h := in.block.GetHash(num.Uint64())
	num.SetBytes(h[:])
	return nil, nil
}

func opCoinbase(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetBytes(in.block.Coinbase[:])
	scope.Stack.push(&v)
	return nil, nil
}

func opTimestamp(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetUint64(in.block.Time)
	scope.Stack.push(&v)
	return nil, nil
}

func opNumber(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetUint64(in.block.BlockNumber)
	scope.Stack.push(&v)
	return nil, nil
}

func opDifficulty(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	v := *in.block.Difficulty
	scope.Stack.push(&v)
	return nil, nil
}

func opGasLimit(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetUint64(in.block.GasLimit)
	scope.Stack.push(&v)
	return nil, nil
}

func opChainID(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	v := *in.tx.ChainID
	scope.Stack.push(&v)
	return nil, nil
}

func opSelfBalance(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.Set(in.host.GetBalance(scope.Contract.Recipient))
	scope.Stack.push(&v)
	return nil, nil
}

func opBaseFee(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	v := *in.block.BaseFee
	scope.Stack.push(&v)
	return nil, nil
}

func opPop(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	scope.Stack.pop()
	return nil, nil
}

func opMload(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	v := scope.Stack.peek()
	offset := v.Uint64()
	v.SetBytes(scope.Memory.GetPtr(int64(offset), 32))
	return nil, nil
}

func opMstore(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	mStart, val := scope.Stack.pop(), scope.Stack.pop()
	scope.Memory.Set32(mStart.Uint64(), &val)
	return nil, nil
}

func opMstore8(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	off, val := scope.Stack.pop(), scope.Stack.pop()
	scope.Memory.Resize(off.Uint64() + 1)
	scope.Memory.store[off.Uint64()] = byte(val.Uint64())
	return nil, nil
}

func gasMemoryExpansion1(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	off := scope.Stack.back(0)
	if !off.IsUint64() {
		return 0, errGasUintOverflow
	}
	return memoryGasCost(scope.Memory, off.Uint64()+32)
}

func gasMemoryExpansion2(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	off, length := scope.Stack.back(0), scope.Stack.back(1)
	newSize, ok := calcMemSize64(off, length)
	if !ok {
		return 0, errGasUintOverflow
	}
	return memoryGasCost(scope.Memory, newSize)
}

func opSload(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	loc := scope.Stack.peek()
	key := common.Hash(loc.Bytes32())
	val := in.host.GetState(scope.Contract.Recipient, &key)
	loc.Set(&val)
	return nil, nil
}

func opSstore(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	loc, val := scope.Stack.pop(), scope.Stack.pop()
	key := common.Hash(loc.Bytes32())
	in.host.SetState(scope.Contract.Recipient, &key, val)
	return nil, nil
}

// gasSstoreFrontier is the flat 20000/5000 SSTORE charge the Frontier and
// Homestead revisions used. It is applied for every revision: Istanbul's
// EIP-2200 metered pricing and Berlin's cold/warm slot pricing are not
// modelled, and no SSTORE refund is granted (see DESIGN.md).
func gasSstoreFrontier(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	loc := scope.Stack.back(0)
	key := common.Hash(loc.Bytes32())
	current := in.host.GetState(scope.Contract.Recipient, &key)
	newVal := scope.Stack.back(1)
	if current.IsZero() && !newVal.IsZero() {
		return 20000, nil
	}
	return 5000, nil
}

func opJump(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	dest := scope.Stack.pop()
	if !dest.IsUint64() || !state.analysis.validJumpdest(dest.Uint64()) {
		return nil, errInvalidJump
	}
	*pc = dest.Uint64()
	return nil, nil
}

func opJumpi(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	dest, cond := scope.Stack.pop(), scope.Stack.pop()
	if cond.IsZero() {
		*pc++
		return nil, nil
	}
	if !dest.IsUint64() || !state.analysis.validJumpdest(dest.Uint64()) {
		return nil, errInvalidJump
	}
	*pc = dest.Uint64()
	return nil, nil
}

func opPc(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetUint64(*pc)
	scope.Stack.push(&v)
	return nil, nil
}

func opMsize(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetUint64(uint64(scope.Memory.Len()))
	scope.Stack.push(&v)
	return nil, nil
}

func opGas(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	v.SetUint64(state.gas)
	scope.Stack.push(&v)
	return nil, nil
}

func opJumpdest(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	return nil, nil
}

func opPush0(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	var v uint256.Int
	scope.Stack.push(&v)
	return nil, nil
}

func makePush(size int) executionFunc {
	return func(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
		start := *pc + 1
		var v uint256.Int
		v.SetBytes(state.analysis.code[start : start+uint64(size)])
		scope.Stack.push(&v)
		*pc += uint64(size)
		return nil, nil
	}
}

func makeDup(n int) executionFunc {
	return func(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
		scope.Stack.dup(n)
		return nil, nil
	}
}

func makeSwap(n int) executionFunc {
	return func(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
		scope.Stack.swap(n + 1)
		return nil, nil
	}
}

func makeLog(n int) executionFunc {
	return func(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
		if state.readOnly {
			return nil, errStaticModeViolation
		}
		mStart, mSize := scope.Stack.pop(), scope.Stack.pop()
		topics := make([]common.Hash, n)
		for i := 0; i < n; i++ {
			t := scope.Stack.pop()
			topics[i] = common.Hash(t.Bytes32())
		}
		data := scope.Memory.GetCopy(int64(mStart.Uint64()), int64(mSize.Uint64()))
		in.host.AddLog(&Log{Address: scope.Contract.Recipient, Topics: topics, Data: data})
		return nil, nil
	}
}

func makeGasLog(n int) gasFunc {
	return func(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
		size := scope.Stack.back(1)
		expand, err := memoryGasCost(scope.Memory, mustMemSize(scope.Stack.back(0), size))
		if err != nil {
			return 0, err
		}
		return expand + uint64(n)*375 + size.Uint64()*8, nil
	}
}

func mustMemSize(off, length *uint256.Int) uint64 {
	sz, ok := calcMemSize64(off, length)
	if !ok {
		return 0
	}
	return sz
}

func opReturn(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	off, size := scope.Stack.pop(), scope.Stack.pop()
	return scope.Memory.GetCopy(int64(off.Uint64()), int64(size.Uint64())), nil
}

func opRevert(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	off, size := scope.Stack.pop(), scope.Stack.pop()
	ret := scope.Memory.GetCopy(int64(off.Uint64()), int64(size.Uint64()))
	return ret, errRevert
}

func opInvalid(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	return nil, errInvalidInstruction
}

func opSelfdestruct(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	beneficiaryInt := scope.Stack.pop()
	beneficiary := common.BytesToAddress(beneficiaryInt.Bytes())
	balance := in.host.GetBalance(scope.Contract.Recipient)
	in.host.AddBalance(beneficiary, balance)
	in.host.Selfdestruct(scope.Contract.Recipient)
	return nil, errStopExecution
}

func dispatchCall(kind CallKind, pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext, hasValue bool) ([]byte, error) {
	gasArg := scope.Stack.pop()
	addrInt := scope.Stack.pop()
	var value uint256.Int
	if hasValue {
		value = scope.Stack.pop()
	}
	inOff, inSize := scope.Stack.pop(), scope.Stack.pop()
	outOff, outSize := scope.Stack.pop(), scope.Stack.pop()

	if state.readOnly && hasValue && !value.IsZero() {
		return nil, errStaticModeViolation
	}

	addr := common.BytesToAddress(addrInt.Bytes())
	input := scope.Memory.GetCopy(int64(inOff.Uint64()), int64(inSize.Uint64()))

	gas := gasArg.Uint64()
	if gas > state.gas {
		gas = state.gas
	}
	if hasValue && !value.IsZero() {
		gas += callStipend
	}

	recipient := addr
	codeAddr := addr
	sender := scope.Contract.Recipient
	isStatic := scope.Contract.IsStatic
	switch kind {
	case CallKindCallCode:
		recipient = scope.Contract.Recipient
	case CallKindDelegateCall:
		recipient = scope.Contract.Recipient
		sender = scope.Contract.Sender
		value = scope.Contract.Value
	case CallKindStaticCall:
		isStatic = true
	}

	msg := &Message{
		Kind: kind, Sender: sender, Recipient: recipient, CodeAddr: codeAddr,
		Value: value, Input: input, Gas: gas, Depth: scope.Contract.Depth + 1, IsStatic: isStatic,
	}
	out := in.host.Call(msg)

	state.gas += out.GasLeft
	state.returnData = out.ReturnData
	scope.Memory.Set(outOff.Uint64(), minU64(outSize.Uint64(), uint64(len(out.ReturnData))), out.ReturnData)

	var result uint256.Int
	if out.Status == StatusSuccess {
		result.SetOne()
	}
	scope.Stack.push(&result)
	return nil, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func opCall(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	return dispatchCall(CallKindCall, pc, in, state, scope, true)
}

func opCallCode(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	return dispatchCall(CallKindCallCode, pc, in, state, scope, true)
}

func opDelegateCall(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	return dispatchCall(CallKindDelegateCall, pc, in, state, scope, false)
}

func opStaticCall(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	return dispatchCall(CallKindStaticCall, pc, in, state, scope, false)
}

// gasCallMemory is the shared memory-expansion component of the CALL-
// family dynamic gas; argOffset is the stack depth of the call's
// args-offset operand, which differs between the value-carrying (CALL,
// CALLCODE) and value-less (DELEGATECALL, STATICCALL) variants since the
// latter have one fewer stack argument. It charges memory expansion only:
// no cold/warm account-access surcharge (EIP-2929) is charged here or by
// the host, and dispatchCall forwards min(requested, available) gas
// without the EIP-150 63/64ths limit (see DESIGN.md).
func gasCallMemory(argOffset int, scope *ScopeContext) (uint64, error) {
	inOff, inSize := scope.Stack.back(argOffset), scope.Stack.back(argOffset+1)
	outOff, outSize := scope.Stack.back(argOffset+2), scope.Stack.back(argOffset+3)
	inNewSize, ok1 := calcMemSize64(inOff, inSize)
	outNewSize, ok2 := calcMemSize64(outOff, outSize)
	if !ok1 || !ok2 {
		return 0, errGasUintOverflow
	}
	newSize := inNewSize
	if outNewSize > newSize {
		newSize = outNewSize
	}
	return memoryGasCost(scope.Memory, newSize)
}

func gasCallWithValue(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	return gasCallMemory(3, scope)
}

func gasCallNoValue(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	return gasCallMemory(2, scope)
}

func opCreate(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	return dispatchCreate(false, pc, in, state, scope)
}

func opCreate2(pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	return dispatchCreate(true, pc, in, state, scope)
}

func dispatchCreate(salted bool, pc *uint64, in *Interpreter, state *ExecutionState, scope *ScopeContext) ([]byte, error) {
	if state.readOnly {
		return nil, errStaticModeViolation
	}
	value, offset, size := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	var salt uint256.Int
	if salted {
		salt = scope.Stack.pop()
	}
	if size.Uint64() > maxCodeSize*2 {
		var fail uint256.Int
		scope.Stack.push(&fail)
		return nil, nil
	}
	initCode := scope.Memory.GetCopy(int64(offset.Uint64()), int64(size.Uint64()))

	kind := CallKindCreate
	if salted {
		kind = CallKindCreate2
	}
	msg := &Message{
		Kind: kind, Sender: scope.Contract.Recipient, Value: value, Input: initCode,
		Gas: state.gas, Depth: scope.Contract.Depth + 1, Salt: salt,
	}
	out := in.host.Call(msg)
	state.gas = out.GasLeft
	state.returnData = out.ReturnData

	var result uint256.Int
	if out.Status == StatusSuccess {
		result.SetBytes(out.CreateAddress[:])
	}
	scope.Stack.push(&result)
	return nil, nil
}

func gasCreate(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	offset, size := scope.Stack.back(1), scope.Stack.back(2)
	newSize, ok := calcMemSize64(offset, size)
	if !ok {
		return 0, errGasUintOverflow
	}
	return memoryGasCost(scope.Memory, newSize)
}

func gasCreate2(in *Interpreter, state *ExecutionState, scope *ScopeContext) (uint64, error) {
	offset, size := scope.Stack.back(1), scope.Stack.back(2)
	newSize, ok := calcMemSize64(offset, size)
	if !ok {
		return 0, errGasUintOverflow
	}
	expand, err := memoryGasCost(scope.Memory, newSize)
	if err != nil {
		return 0, err
	}
	return expand + toWordSize(size.Uint64())*6, nil
}
