package types

import "github.com/ArthurTh0mas/martinez/common"

// Log is an EVM LOG0..LOG4 event (§4.5 "host writes: ... log emit"),
// emitted by the EVM interpreter and consumed by the Receipts/LogIndex
// stages (§3.5, §4.7 stage 10).
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte

	// Derived fields, not part of consensus encoding; set by the
	// execution processor for RPC/indexing convenience.
	BlockNumber uint64
	TxHash      common.Hash
	TxIndex     uint
	Index       uint
	Removed     bool
}
