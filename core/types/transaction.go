package types

import (
	"errors"
	"math/big"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/rlp"
)

// Transaction type bytes (EIP-2718 envelope), §4.2 "tagged union of
// Legacy / EIP-2930 / EIP-1559 / (later) EIP-4844 variants".
const (
	LegacyTxType = uint8(0x00)
	AccessListTxType = uint8(0x01) // EIP-2930
	DynamicFeeTxType = uint8(0x02) // EIP-1559
	BlobTxType       = uint8(0x03) // EIP-4844
)

var (
	ErrTxTypeNotSupported = errors.New("types: transaction type not supported")
	ErrEmptyTypedTx       = errors.New("types: empty typed transaction bytes")
)

// AccessTuple / AccessList implement EIP-2930's access list.
type AccessTuple struct {
	Address     common.Address
	StorageKeys []common.Hash
}

type AccessList []AccessTuple

// LegacyTx is the pre-EIP-2718 transaction shape.
type LegacyTx struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       *common.Address `rlp:"nil"`
	Value    *big.Int
	Data     []byte
	V, R, S  *big.Int
}

// AccessListTx is EIP-2930.
type AccessListTx struct {
	ChainID    *big.Int
	Nonce      uint64
	GasPrice   *big.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	AccessList AccessList
	V, R, S    *big.Int
}

// DynamicFeeTx is EIP-1559.
type DynamicFeeTx struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	AccessList AccessList
	V, R, S    *big.Int
}

// BlobTx is EIP-4844, carrying the blob versioned-hash commitments
// alongside the EIP-1559 fee fields. The actual blob/commitment/proof
// payload is part of the network wrapper, not the consensus-encoded
// transaction itself, mirroring go-ethereum's split.
type BlobTx struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         common.Address
	Value      *big.Int
	Data       []byte
	AccessList AccessList
	BlobFeeCap *big.Int
	BlobHashes []common.Hash
	V, R, S    *big.Int
}

// Transaction is the tagged union (§4.2). Type selects which inner field
// is populated; EncodeRLP/DecodeRLP implement the EIP-2718 envelope:
// legacy transactions encode as a bare RLP list, typed transactions as
// `TxType || RLP(inner fields list)`.
type Transaction struct {
	Type uint8

	Legacy     *LegacyTx
	AccessList *AccessListTx
	DynamicFee *DynamicFeeTx
	Blob       *BlobTx
}

func NewLegacyTransaction(tx *LegacyTx) *Transaction { return &Transaction{Type: LegacyTxType, Legacy: tx} }
func NewAccessListTransaction(tx *AccessListTx) *Transaction {
	return &Transaction{Type: AccessListTxType, AccessList: tx}
}
func NewDynamicFeeTransaction(tx *DynamicFeeTx) *Transaction {
	return &Transaction{Type: DynamicFeeTxType, DynamicFee: tx}
}
func NewBlobTransaction(tx *BlobTx) *Transaction { return &Transaction{Type: BlobTxType, Blob: tx} }

func (tx *Transaction) Nonce() uint64 {
	switch tx.Type {
	case LegacyTxType:
		return tx.Legacy.Nonce
	case AccessListTxType:
		return tx.AccessList.Nonce
	case DynamicFeeTxType:
		return tx.DynamicFee.Nonce
	case BlobTxType:
		return tx.Blob.Nonce
	}
	return 0
}

func (tx *Transaction) Gas() uint64 {
	switch tx.Type {
	case LegacyTxType:
		return tx.Legacy.Gas
	case AccessListTxType:
		return tx.AccessList.Gas
	case DynamicFeeTxType:
		return tx.DynamicFee.Gas
	case BlobTxType:
		return tx.Blob.Gas
	}
	return 0
}

func (tx *Transaction) To() *common.Address {
	switch tx.Type {
	case LegacyTxType:
		return tx.Legacy.To
	case AccessListTxType:
		return tx.AccessList.To
	case DynamicFeeTxType:
		return tx.DynamicFee.To
	case BlobTxType:
		addr := tx.Blob.To
		return &addr
	}
	return nil
}

func (tx *Transaction) Value() *big.Int {
	switch tx.Type {
	case LegacyTxType:
		return tx.Legacy.Value
	case AccessListTxType:
		return tx.AccessList.Value
	case DynamicFeeTxType:
		return tx.DynamicFee.Value
	case BlobTxType:
		return tx.Blob.Value
	}
	return nil
}

func (tx *Transaction) Data() []byte {
	switch tx.Type {
	case LegacyTxType:
		return tx.Legacy.Data
	case AccessListTxType:
		return tx.AccessList.Data
	case DynamicFeeTxType:
		return tx.DynamicFee.Data
	case BlobTxType:
		return tx.Blob.Data
	}
	return nil
}

// GasPrice returns the legacy gas price, or the dynamic-fee GasFeeCap for
// typed fee-market transactions (the effective cap before base-fee/tip
// splitting, §4.6 "base-fee formula under London+").
func (tx *Transaction) GasPrice() *big.Int {
	switch tx.Type {
	case LegacyTxType:
		return tx.Legacy.GasPrice
	case AccessListTxType:
		return tx.AccessList.GasPrice
	case DynamicFeeTxType:
		return tx.DynamicFee.GasFeeCap
	case BlobTxType:
		return tx.Blob.GasFeeCap
	}
	return nil
}

// ChainID returns the typed transaction's replay-protection chain id, or
// nil for legacy transactions (callers derive chain id from V for those).
func (tx *Transaction) ChainID() *big.Int {
	switch tx.Type {
	case AccessListTxType:
		return tx.AccessList.ChainID
	case DynamicFeeTxType:
		return tx.DynamicFee.ChainID
	case BlobTxType:
		return tx.Blob.ChainID
	}
	return nil
}

// Tip returns the EIP-1559 priority-fee cap (§4.6 base-fee formula); for
// legacy/EIP-2930 transactions the tip is simply the flat gas price.
func (tx *Transaction) Tip() *big.Int {
	switch tx.Type {
	case DynamicFeeTxType:
		return tx.DynamicFee.GasTipCap
	case BlobTxType:
		return tx.Blob.GasTipCap
	default:
		return tx.GasPrice()
	}
}

// FeeCap returns the EIP-1559 max-fee-per-gas cap, or the flat gas price
// for pre-London transaction types.
func (tx *Transaction) FeeCap() *big.Int { return tx.GasPrice() }

// Accesses returns the EIP-2930 access list, nil for legacy transactions.
func (tx *Transaction) Accesses() AccessList {
	switch tx.Type {
	case AccessListTxType:
		return tx.AccessList.AccessList
	case DynamicFeeTxType:
		return tx.DynamicFee.AccessList
	case BlobTxType:
		return tx.Blob.AccessList
	}
	return nil
}

// EncodeRLP implements the EIP-2718 envelope: legacy transactions encode
// as a bare list (so old wire/storage formats keep working unmodified);
// typed transactions encode as `type-byte || RLP(fields list)`.
func (tx *Transaction) EncodeRLP() ([]byte, error) {
	switch tx.Type {
	case LegacyTxType:
		return rlp.EncodeToBytes(tx.Legacy)
	case AccessListTxType:
		return typedEncode(tx.Type, tx.AccessList)
	case DynamicFeeTxType:
		return typedEncode(tx.Type, tx.DynamicFee)
	case BlobTxType:
		return typedEncode(tx.Type, tx.Blob)
	default:
		return nil, ErrTxTypeNotSupported
	}
}

func typedEncode(txType uint8, inner interface{}) ([]byte, error) {
	body, err := rlp.EncodeToBytes(inner)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, txType)
	buf = append(buf, body...)
	return buf, nil
}

// DecodeRLP reverses EncodeRLP, dispatching on the leading byte per
// EIP-2718: a byte in [0xc0, 0xff] (an RLP list header) means "legacy",
// anything else is treated as the typed-transaction type byte.
func (tx *Transaction) DecodeRLP(b []byte) error {
	if len(b) == 0 {
		return ErrEmptyTypedTx
	}
	if b[0] >= 0xc0 {
		tx.Type = LegacyTxType
		tx.Legacy = new(LegacyTx)
		return rlp.DecodeBytes(b, tx.Legacy)
	}
	txType := b[0]
	body := b[1:]
	switch txType {
	case AccessListTxType:
		tx.Type = txType
		tx.AccessList = new(AccessListTx)
		return rlp.DecodeBytes(body, tx.AccessList)
	case DynamicFeeTxType:
		tx.Type = txType
		tx.DynamicFee = new(DynamicFeeTx)
		return rlp.DecodeBytes(body, tx.DynamicFee)
	case BlobTxType:
		tx.Type = txType
		tx.Blob = new(BlobTx)
		return rlp.DecodeBytes(body, tx.Blob)
	default:
		return ErrTxTypeNotSupported
	}
}

// MarshalBinary/UnmarshalBinary give Transaction the shape the
// BlockTransaction table (§3.2) and network oracle boundary (§6.3) store
// it under: the EIP-2718 envelope bytes exactly as EncodeRLP produces.
func (tx *Transaction) MarshalBinary() ([]byte, error) { return tx.EncodeRLP() }

func (tx *Transaction) UnmarshalBinary(b []byte) error {
	return tx.DecodeRLP(b)
}

// Hash returns the canonical transaction hash: keccak256 of the envelope
// bytes (bare RLP list for legacy, type-prefixed body for typed).
func (tx *Transaction) Hash() common.Hash {
	enc, err := tx.EncodeRLP()
	if err != nil {
		panic(err)
	}
	return common.MustHashData(enc)
}
