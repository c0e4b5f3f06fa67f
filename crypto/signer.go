package crypto

import (
	"errors"
	"math/big"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/core/types"
	"github.com/ArthurTh0mas/martinez/rlp"
)

var ErrInvalidChainID = errors.New("crypto: signature chain id mismatch")

// Sender recovers the sending address of tx, the job the SenderRecovery
// stage (§4.7 stage 4) performs once per transaction and caches into the
// TxSender table so every later stage (Execution) reads it back instead of
// recomputing it. chainID is only consulted for legacy transactions, which
// may predate EIP-155 (no chain id folded into V) or postdate it.
func Sender(tx *types.Transaction, chainID *big.Int) (common.Address, error) {
	v, r, s := txSignatureValues(tx)
	if r == nil || s == nil || v == nil {
		return common.Address{}, errors.New("crypto: transaction carries no signature")
	}

	sigHash, recoveryID, err := signingHash(tx, chainID, v)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, 65)
	rb, sb := r.Bytes(), s.Bytes()
	copy(sig[32-len(rb):32], rb)
	copy(sig[64-len(sb):64], sb)
	sig[64] = recoveryID

	return Ecrecover(sigHash.Bytes(), sig)
}

func txSignatureValues(tx *types.Transaction) (v, r, s *big.Int) {
	switch tx.Type {
	case types.LegacyTxType:
		return tx.Legacy.V, tx.Legacy.R, tx.Legacy.S
	case types.AccessListTxType:
		return tx.AccessList.V, tx.AccessList.R, tx.AccessList.S
	case types.DynamicFeeTxType:
		return tx.DynamicFee.V, tx.DynamicFee.R, tx.DynamicFee.S
	case types.BlobTxType:
		return tx.Blob.V, tx.Blob.R, tx.Blob.S
	}
	return nil, nil, nil
}

// signingHash returns the hash that was signed and the 0/1 recovery id,
// reconstructing each tx type's unsigned RLP form the way go-ethereum-
// lineage Signer implementations do (EIP-155 for legacy, EIP-2930/1559
// envelope-prefixed RLP for typed transactions, whose V is already a bare
// 0/1 parity bit with no chain-id folding).
func signingHash(tx *types.Transaction, chainID *big.Int, v *big.Int) (common.Hash, byte, error) {
	switch tx.Type {
	case types.LegacyTxType:
		ltx := tx.Legacy
		if v.BitLen() <= 8 && (v.Uint64() == 27 || v.Uint64() == 28) {
			// pre-EIP-155: no chain id folded in.
			unsigned := &types.LegacyTx{
				Nonce: ltx.Nonce, GasPrice: ltx.GasPrice, Gas: ltx.Gas,
				To: ltx.To, Value: ltx.Value, Data: ltx.Data,
			}
			enc, err := rlp.EncodeToBytes(unsigned)
			if err != nil {
				return common.Hash{}, 0, err
			}
			return common.MustHashData(enc), byte(v.Uint64() - 27), nil
		}
		// EIP-155: V = chainID*2 + 35 + recId.
		recId := new(big.Int).Sub(v, big.NewInt(35))
		derivedChainID := new(big.Int).Rsh(recId, 1)
		recId.Mod(recId, big.NewInt(2))
		if chainID != nil && chainID.Sign() > 0 && derivedChainID.Cmp(chainID) != 0 {
			return common.Hash{}, 0, ErrInvalidChainID
		}
		unsigned := &types.LegacyTx{
			Nonce: ltx.Nonce, GasPrice: ltx.GasPrice, Gas: ltx.Gas,
			To: ltx.To, Value: ltx.Value, Data: ltx.Data,
		}
		enc, err := rlp.EncodeToBytes(unsigned)
		if err != nil {
			return common.Hash{}, 0, err
		}
		// Append (chainID, 0, 0) per EIP-155 before hashing.
		enc, err = appendEIP155ChainID(enc, derivedChainID)
		if err != nil {
			return common.Hash{}, 0, err
		}
		return common.MustHashData(enc), byte(recId.Uint64()), nil

	case types.AccessListTxType:
		atx := tx.AccessList
		unsigned := &types.AccessListTx{
			ChainID: atx.ChainID, Nonce: atx.Nonce, GasPrice: atx.GasPrice, Gas: atx.Gas,
			To: atx.To, Value: atx.Value, Data: atx.Data, AccessList: atx.AccessList,
		}
		return typedSigningHash(types.AccessListTxType, unsigned, v)

	case types.DynamicFeeTxType:
		dtx := tx.DynamicFee
		unsigned := &types.DynamicFeeTx{
			ChainID: dtx.ChainID, Nonce: dtx.Nonce, GasTipCap: dtx.GasTipCap, GasFeeCap: dtx.GasFeeCap,
			Gas: dtx.Gas, To: dtx.To, Value: dtx.Value, Data: dtx.Data, AccessList: dtx.AccessList,
		}
		return typedSigningHash(types.DynamicFeeTxType, unsigned, v)

	case types.BlobTxType:
		btx := tx.Blob
		unsigned := &types.BlobTx{
			ChainID: btx.ChainID, Nonce: btx.Nonce, GasTipCap: btx.GasTipCap, GasFeeCap: btx.GasFeeCap,
			Gas: btx.Gas, To: btx.To, Value: btx.Value, Data: btx.Data, AccessList: btx.AccessList,
			BlobFeeCap: btx.BlobFeeCap, BlobHashes: btx.BlobHashes,
		}
		return typedSigningHash(types.BlobTxType, unsigned, v)
	}
	return common.Hash{}, 0, errors.New("crypto: unsupported transaction type")
}

func typedSigningHash(txType uint8, unsigned interface{}, v *big.Int) (common.Hash, byte, error) {
	body, err := rlp.EncodeToBytes(unsigned)
	if err != nil {
		return common.Hash{}, 0, err
	}
	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, txType)
	buf = append(buf, body...)
	if v.Uint64() > 1 {
		return common.Hash{}, 0, errors.New("crypto: typed transaction V must be 0 or 1")
	}
	return common.MustHashData(buf), byte(v.Uint64()), nil
}

// appendEIP155ChainID re-opens the outer RLP list header of enc (a bare
// list of the first six legacy fields) and appends (chainID, 0, 0) inside
// it, matching EIP-155's "as if v,r,s were chainId,0,0" signing rule.
func appendEIP155ChainID(enc []byte, chainID *big.Int) ([]byte, error) {
	if len(enc) == 0 || enc[0] < 0xc0 {
		return nil, errors.New("crypto: not an RLP list")
	}
	headerLen, payload, err := splitRLPList(enc)
	if err != nil {
		return nil, err
	}
	extra, err := rlp.EncodeToBytes([]*big.Int{chainID, big.NewInt(0), big.NewInt(0)})
	if err != nil {
		return nil, err
	}
	// extra is itself a list; splice its payload (skip its own list header).
	_, extraPayload, err := splitRLPList(extra)
	if err != nil {
		return nil, err
	}
	newPayloadLen := len(payload) + len(extraPayload)
	newHeader := rlpListHeader(newPayloadLen)
	out := make([]byte, 0, len(newHeader)+newPayloadLen)
	out = append(out, newHeader...)
	out = append(out, payload...)
	out = append(out, extraPayload...)
	_ = headerLen
	return out, nil
}

func splitRLPList(enc []byte) (headerLen int, payload []byte, err error) {
	b0 := enc[0]
	switch {
	case b0 < 0xc0:
		return 0, nil, errors.New("crypto: not an RLP list")
	case b0 <= 0xf7:
		n := int(b0 - 0xc0)
		return 1, enc[1 : 1+n], nil
	default:
		lenOfLen := int(b0 - 0xf7)
		if 1+lenOfLen > len(enc) {
			return 0, nil, errors.New("crypto: truncated RLP list length")
		}
		var n int
		for _, bb := range enc[1 : 1+lenOfLen] {
			n = n<<8 | int(bb)
		}
		start := 1 + lenOfLen
		return start, enc[start : start+n], nil
	}
}

func rlpListHeader(payloadLen int) []byte {
	if payloadLen < 56 {
		return []byte{0xc0 + byte(payloadLen)}
	}
	var lenBytes []byte
	n := payloadLen
	for n > 0 {
		lenBytes = append([]byte{byte(n)}, lenBytes...)
		n >>= 8
	}
	return append([]byte{0xf7 + byte(len(lenBytes))}, lenBytes...)
}
