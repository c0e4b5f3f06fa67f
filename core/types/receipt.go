package types

import "github.com/ArthurTh0mas/martinez/common"

// Receipt status codes, per-transaction outcome recorded by the Execution
// stage (§4.6 "capture receipts").
const (
	ReceiptStatusFailed     = uint64(0)
	ReceiptStatusSuccessful = uint64(1)
)

// Receipt is the per-transaction outcome record (§4.6, §7 "Execution
// errors ... produce a receipt with status=failure and consume declared
// gas"). CumulativeGasUsed/Bloom/Logs are consensus fields; the rest are
// derived for indexing.
type Receipt struct {
	Type              uint8
	PostState         []byte // pre-Byzantium intermediate state root; empty post-Byzantium
	Status            uint64
	CumulativeGasUsed uint64
	Bloom             Bloom
	Logs              []*Log

	TxHash          common.Hash
	ContractAddress common.Address
	GasUsed         uint64

	BlockHash   common.Hash
	BlockNumber uint64
	TxIndex     uint
}

// Receipts is a slice convenience type with the same bloom-aggregation
// use as go-ethereum's types.Receipts.
type Receipts []*Receipt

func (r Receipts) Bloom() Bloom { return CreateBloom([]*Receipt(r)) }
