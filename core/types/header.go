// Package types holds the domain data model of §4.2: headers, bodies,
// transactions, receipts, logs and the ChainSpec value that parameterises
// consensus and the EVM. RLP shapes follow go-ethereum's core/types
// field order, the lineage this teacher repo itself descends from.
package types

import (
	"encoding/binary"
	"math/big"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/rlp"
)

// BlockNonce is the 8-byte PoW nonce carried in the header (kept even
// though PoW validation itself is an out-of-scope consensus concern,
// §1: the header wire format still needs the field).
type BlockNonce [8]byte

// EncodeNonce converts a block nonce integer into its wire form.
func EncodeNonce(i uint64) BlockNonce {
	var n BlockNonce
	binary.BigEndian.PutUint64(n[:], i)
	return n
}

// Uint64 returns the integer value of a block nonce.
func (n BlockNonce) Uint64() uint64 {
	return binary.BigEndian.Uint64(n[:])
}

// Header is BlockHeader (§4.2): standard RLP, go-ethereum field order.
type Header struct {
	ParentHash  common.Hash
	UncleHash   common.Hash
	Coinbase    common.Address
	Root        common.Hash
	TxHash      common.Hash
	ReceiptHash common.Hash
	Bloom       Bloom
	Difficulty  *big.Int
	Number      *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
	MixDigest   common.Hash
	Nonce       BlockNonce

	// BaseFee is non-nil from London onward (§4.5 revisions).
	BaseFee *big.Int `rlp:"optional"`

	// WithdrawalsHash is non-nil from Shanghai onward; withdrawals are
	// modelled as an additional finalisation-phase balance-credit stream
	// (§9 Open Questions) rather than a full withdrawal-object ledger.
	WithdrawalsHash *common.Hash `rlp:"optional"`
}

func (h *Header) Hash() common.Hash {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic(err)
	}
	return common.MustHashData(enc)
}

func (h *Header) NumberU64() uint64 {
	if h.Number == nil {
		return 0
	}
	return h.Number.Uint64()
}

// BodyForStorage (§4.2): `{ base_tx_id, tx_amount, ommers }`. Transactions
// themselves live in the global append-only BlockTransaction table,
// indexed by [BaseTxId, BaseTxId+TxAmount).
type BodyForStorage struct {
	BaseTxId common.TxIndex
	TxAmount uint32
	Uncles   []*Header
}

// Body is the in-memory (non-storage) pairing of a block's transactions
// and uncle headers, used by the network oracle boundary (§6.3) and by
// the Execution stage once it has resolved BaseTxId/TxAmount into actual
// Transaction rows.
type Body struct {
	Transactions []Transaction
	Uncles       []*Header
}

// Block pairs a Header with its Body purely for convenience at API
// boundaries (network oracle responses, RPC); internal storage always
// keeps Header/BodyForStorage/BlockTransaction separate per §3.2.
type Block struct {
	Header *Header
	Body   *Body
}

func (b *Block) Number() *big.Int      { return b.Header.Number }
func (b *Block) NumberU64() uint64     { return b.Header.NumberU64() }
func (b *Block) Hash() common.Hash     { return b.Header.Hash() }
func (b *Block) ParentHash() common.Hash { return b.Header.ParentHash }
