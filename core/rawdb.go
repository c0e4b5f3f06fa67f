package core

import (
	"encoding/binary"
	"math/big"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/changeset"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/core/types"
	"github.com/ArthurTh0mas/martinez/ethdb"
	"github.com/ArthurTh0mas/martinez/rlp"
)

// This file holds the accessor layer Blockchain.InsertBlock needs against
// the tables of §3.2: canonical-hash index, Header/BlockBody/
// HeadersTotalDifficulty, the global BlockTransaction/TxSender store, and
// the changeset-driven unwind of PlainState. Grounded on
// go-ethereum-lineage's core/rawdb accessor naming (ReadCanonicalHash,
// WriteTd, ReadBodyWithSenders, ...), which this retrieval pack's teacher
// never itself built a Go equivalent of.

// ReadCanonicalHash returns the canonical block hash at number, if any.
func ReadCanonicalHash(tx ethdb.Tx, number uint64) (common.Hash, bool) {
	v, err := tx.Get(dbutils.CanonicalHeader, dbutils.EncodeBlockNumber(number))
	if err != nil || len(v) == 0 {
		return common.Hash{}, false
	}
	return common.BytesToHash(v), true
}

// WriteCanonicalHash marks hash as the canonical block at number (§4.6
// "CanonizeBlock"), updating both the number->hash and hash->number
// indexes.
func WriteCanonicalHash(tx ethdb.RwTx, number uint64, hash common.Hash) error {
	if err := tx.Put(dbutils.CanonicalHeader, dbutils.EncodeBlockNumber(number), hash[:]); err != nil {
		return err
	}
	return tx.Put(dbutils.HeaderNumber, hash[:], dbutils.EncodeBlockNumber(number))
}

// DeleteCanonicalHash removes number's canonical-hash mapping (§4.6
// "DecanonizeBlock"); the Header/BlockBody rows backing it are left in
// place, since this is an archive node and a decanonized block may become
// canonical again after a later reorg.
func DeleteCanonicalHash(tx ethdb.RwTx, number uint64) error {
	return tx.Delete(dbutils.CanonicalHeader, dbutils.EncodeBlockNumber(number))
}

// ReadHeaderNumber resolves a header hash back to its block number via the
// HeaderNumber inverse index.
func ReadHeaderNumber(tx ethdb.Tx, hash common.Hash) (uint64, bool) {
	v, err := tx.Get(dbutils.HeaderNumber, hash[:])
	if err != nil || len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

// ReadHeader returns the header stored at (number, hash), or nil if absent.
func ReadHeader(tx ethdb.Tx, number uint64, hash common.Hash) (*types.Header, error) {
	enc, err := tx.Get(dbutils.Header, dbutils.HeaderKey(number, hash))
	if err != nil || len(enc) == 0 {
		return nil, nil //nolint:nilerr // ErrKeyNotFound means "no such header"
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(enc, header); err != nil {
		return nil, err
	}
	return header, nil
}

// WriteHeader persists header under (number, hash) and records the
// hash->number inverse index.
func WriteHeader(tx ethdb.RwTx, header *types.Header) error {
	enc, err := rlp.EncodeToBytes(header)
	if err != nil {
		return err
	}
	number, hash := header.NumberU64(), header.Hash()
	if err := tx.Put(dbutils.Header, dbutils.HeaderKey(number, hash), enc); err != nil {
		return err
	}
	return tx.Put(dbutils.HeaderNumber, hash[:], dbutils.EncodeBlockNumber(number))
}

// ReadTd returns the cumulative chain difficulty through (number, hash).
func ReadTd(tx ethdb.Tx, number uint64, hash common.Hash) (*big.Int, error) {
	enc, err := tx.Get(dbutils.HeadersTotalDifficulty, dbutils.HeaderKey(number, hash))
	if err != nil || len(enc) == 0 {
		return nil, nil //nolint:nilerr
	}
	td := new(big.Int).SetBytes(enc)
	return td, nil
}

// WriteTd stores the cumulative chain difficulty through (number, hash).
func WriteTd(tx ethdb.RwTx, number uint64, hash common.Hash, td *big.Int) error {
	return tx.Put(dbutils.HeadersTotalDifficulty, dbutils.HeaderKey(number, hash), td.Bytes())
}

// ReadBodyForStorage returns the BaseTxId/TxAmount/Uncles record at
// (number, hash), or nil if absent.
func ReadBodyForStorage(tx ethdb.Tx, number uint64, hash common.Hash) (*types.BodyForStorage, error) {
	enc, err := tx.Get(dbutils.BlockBody, dbutils.HeaderKey(number, hash))
	if err != nil || len(enc) == 0 {
		return nil, nil //nolint:nilerr
	}
	body := new(types.BodyForStorage)
	if err := rlp.DecodeBytes(enc, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteBodyWithSenders appends body's transactions to the global
// BlockTransaction store starting at the first free TxIndex (the parent
// block's BaseTxId+TxAmount, or 0 for the genesis body), caches each
// transaction's recovered sender into TxSender, and stores the resulting
// BodyForStorage{BaseTxId, TxAmount, Uncles} row (§3.2, §4.2).
func WriteBodyWithSenders(tx ethdb.RwTx, number uint64, hash common.Hash, body *types.Body, senders []common.Address, baseTxID common.TxIndex) error {
	for i := range body.Transactions {
		txn := &body.Transactions[i]
		id := baseTxID + common.TxIndex(i)
		enc, err := txn.MarshalBinary()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(id))
		if err := tx.Put(dbutils.BlockTransaction, key, enc); err != nil {
			return err
		}
		if i < len(senders) {
			if err := tx.Put(dbutils.TxSender, key, senders[i][:]); err != nil {
				return err
			}
		}
	}
	storage := &types.BodyForStorage{BaseTxId: baseTxID, TxAmount: uint32(len(body.Transactions)), Uncles: body.Uncles}
	enc, err := rlp.EncodeToBytes(storage)
	if err != nil {
		return err
	}
	return tx.Put(dbutils.BlockBody, dbutils.HeaderKey(number, hash), enc)
}

// NextBaseTxID returns the first unused global transaction index: the
// parent block's BaseTxId+TxAmount, or 0 when parent has no stored body
// (genesis).
func NextBaseTxID(tx ethdb.Tx, parentNumber uint64, parentHash common.Hash) (common.TxIndex, error) {
	parentBody, err := ReadBodyForStorage(tx, parentNumber, parentHash)
	if err != nil {
		return 0, err
	}
	if parentBody == nil {
		return 0, nil
	}
	return parentBody.BaseTxId + common.TxIndex(parentBody.TxAmount), nil
}

// ReadBodyWithSenders resolves a stored BodyForStorage back into a full
// Body (transactions read back from BlockTransaction) plus the cached
// sender for each transaction.
func ReadBodyWithSenders(tx ethdb.Tx, number uint64, hash common.Hash) (*types.Body, []common.Address, error) {
	storage, err := ReadBodyForStorage(tx, number, hash)
	if err != nil || storage == nil {
		return nil, nil, err
	}
	txs := make([]types.Transaction, storage.TxAmount)
	senders := make([]common.Address, storage.TxAmount)
	for i := uint32(0); i < storage.TxAmount; i++ {
		id := storage.BaseTxId + common.TxIndex(i)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(id))
		enc, err := tx.Get(dbutils.BlockTransaction, key)
		if err != nil {
			return nil, nil, err
		}
		if err := txs[i].UnmarshalBinary(enc); err != nil {
			return nil, nil, err
		}
		if senderEnc, err := tx.Get(dbutils.TxSender, key); err == nil && len(senderEnc) == common.AddressLength {
			senders[i] = common.BytesToAddress(senderEnc)
		}
	}
	return &types.Body{Transactions: txs, Uncles: storage.Uncles}, senders, nil
}

// UnwindBlockState reverses number's PlainState changes using the
// AccountChangeSet/StorageChangeSet rows WriteChangeSets recorded at
// execution time, then deletes those changeset rows — the state half of
// §4.6's "insert_block ... unwind_last_changes" (the canonical-index half
// is DeleteCanonicalHash/WriteCanonicalHash in the caller).
func UnwindBlockState(tx ethdb.RwTx, number uint64) error {
	key := common.EncodeBlockNumber(number)

	if enc, err := tx.Get(dbutils.AccountChangeSet, key); err == nil && len(enc) > 0 {
		if walkErr := changeset.WalkerAdapter(enc).Walk(func(address, priorEnc []byte) error {
			if len(priorEnc) == 0 {
				return tx.Delete(dbutils.PlainState, address)
			}
			return tx.Put(dbutils.PlainState, address, priorEnc)
		}); walkErr != nil {
			return walkErr
		}
		if err := tx.Delete(dbutils.AccountChangeSet, key); err != nil {
			return err
		}
	}

	if enc, err := tx.Get(dbutils.StorageChangeSet, key); err == nil && len(enc) > 0 {
		if walkErr := changeset.WalkerAdapter(enc).Walk(func(compositeKey, priorValue []byte) error {
			if len(priorValue) == 0 {
				return tx.Delete(dbutils.PlainState, compositeKey)
			}
			return tx.Put(dbutils.PlainState, compositeKey, priorValue)
		}); walkErr != nil {
			return walkErr
		}
		if err := tx.Delete(dbutils.StorageChangeSet, key); err != nil {
			return err
		}
	}

	return nil
}
