package vm

import (
	"sync"

	"github.com/holiman/uint256"
)

// stackLimit is the maximum number of 256-bit words the stack may hold
// (§4.5 "stack (max 1024 entries, each 256-bit)").
const stackLimit = 1024

var stackPool = sync.Pool{
	New: func() interface{} {
		return &Stack{data: make([]uint256.Int, 0, 16)}
	},
}

// Stack is the EVM's 256-bit-word operand stack.
type Stack struct {
	data []uint256.Int
}

func newStack() *Stack { return stackPool.Get().(*Stack) }

func (st *Stack) returnToPool() {
	st.data = st.data[:0]
	stackPool.Put(st)
}

func (st *Stack) push(v *uint256.Int) { st.data = append(st.data, *v) }

func (st *Stack) pop() uint256.Int {
	v := st.data[len(st.data)-1]
	st.data = st.data[:len(st.data)-1]
	return v
}

func (st *Stack) len() int { return len(st.data) }

func (st *Stack) swap(n int) {
	st.data[st.len()-n], st.data[st.len()-1] = st.data[st.len()-1], st.data[st.len()-n]
}

func (st *Stack) dup(n int) {
	st.push(&st.data[st.len()-n])
}

func (st *Stack) peek() *uint256.Int { return &st.data[st.len()-1] }

func (st *Stack) back(n int) *uint256.Int { return &st.data[st.len()-1-n] }
