package ethdb

import (
	"context"
	"errors"
)

// Database is the façade stages and changesets are written against: either
// a plain read/write handle (Get/Put/Delete/Walk) or, once Begin'd, a
// DbWithPendingMutations carrying an open RwTx that can be Commit'd or
// Rollback'd as one pipeline-stage unit (§5 "one open write transaction at
// a time"). Grounded on the teacher's ethdb.Database/HasTx split visible
// from stagedsync call sites (e.g. eth/stagedsync/stage_log_index.go).
type Database interface {
	Getter
	Putter
	Deleter
	Walk(bucket string, startAt []byte, fixedBits int, walker WalkFunc) error
	Begin(ctx context.Context) (DbWithPendingMutations, error)
	Close()
}

// HasTx is implemented by any Database already wrapping an open
// transaction, so stages can drop down to the raw Tx/RwTx for
// cursor-level work instead of going through the Getter/Putter shim.
type HasTx interface {
	Tx() Tx
}

// DbWithPendingMutations is a Database that also exposes Commit/Rollback,
// i.e. one opened via Begin. Its implementation (TxDb) also satisfies
// HasTx, so a caller can type-assert ethdb.HasTx on it to reach the
// underlying RwTx for cursor work.
type DbWithPendingMutations interface {
	Database
	Commit() error
	Rollback()
}

// ObjectDatabase is the default Database implementation: a thin wrapper
// around a KV environment that opens one short-lived RwTx per call when
// not already inside a Begin'd transaction.
type ObjectDatabase struct {
	kv KV
}

func NewObjectDatabase(kv KV) *ObjectDatabase { return &ObjectDatabase{kv: kv} }

func (db *ObjectDatabase) KV() KV { return db.kv }

func (db *ObjectDatabase) Get(bucket string, key []byte) ([]byte, error) {
	var v []byte
	err := db.kv.View(context.Background(), func(tx Tx) error {
		val, err := tx.Get(bucket, key)
		if err != nil {
			return err
		}
		v = val
		return nil
	})
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return v, err
}

func (db *ObjectDatabase) Put(bucket string, key, value []byte) error {
	return db.kv.Update(context.Background(), func(tx RwTx) error {
		return tx.Put(bucket, key, value)
	})
}

func (db *ObjectDatabase) Delete(bucket string, key []byte) error {
	return db.kv.Update(context.Background(), func(tx RwTx) error {
		return tx.Delete(bucket, key)
	})
}

// Walk iterates bucket from startAt (matching the leading fixedBits bits
// of the seek key when fixedBits > 0) until walker returns goOn=false.
func (db *ObjectDatabase) Walk(bucket string, startAt []byte, fixedBits int, walker WalkFunc) error {
	return db.kv.View(context.Background(), func(tx Tx) error {
		c := tx.Cursor(bucket)
		defer c.Close()
		fixedBytes, mask := bytesMask(fixedBits)
		k, v, err := c.Seek(startAt)
		for ; k != nil; k, v, err = c.Next() {
			if err != nil {
				return err
			}
			if fixedBytes > 0 {
				if len(k) < fixedBytes || !bytesEqualMasked(k, startAt, fixedBytes, mask) {
					break
				}
			}
			goOn, walkErr := walker(k, v)
			if walkErr != nil {
				return walkErr
			}
			if !goOn {
				break
			}
		}
		return err
	})
}

func (db *ObjectDatabase) Begin(ctx context.Context) (DbWithPendingMutations, error) {
	tx, err := db.kv.BeginRw(ctx)
	if err != nil {
		return nil, err
	}
	return &TxDb{db: db, tx: tx}, nil
}

func (db *ObjectDatabase) Close() { db.kv.Close() }

func bytesMask(fixedBits int) (fixedBytes int, mask byte) {
	fixedBytes = (fixedBits + 7) / 8
	shiftbits := fixedBits & 7
	if shiftbits != 0 {
		mask = 0xff << (8 - shiftbits)
	} else {
		mask = 0xff
	}
	return
}

func bytesEqualMasked(a, b []byte, n int, mask byte) bool {
	for i := 0; i < n-1; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	if n == 0 {
		return true
	}
	return a[n-1]&mask == b[n-1]&mask
}

// TxDb is a DbWithPendingMutations: a Database view bound to one RwTx,
// returned by ObjectDatabase.Begin and threaded through a single pipeline
// stage so every write in that stage lands in one commit (§5).
type TxDb struct {
	db *ObjectDatabase
	tx RwTx
}

// NewTxDbFromTx wraps an already-open RwTx as a Database, letting a
// pipeline stage or the block processor share one RwTx (and hence one
// commit point) across several Database-consuming components instead of
// nesting a fresh transaction per component (§4.6/§4.7).
func NewTxDbFromTx(db *ObjectDatabase, tx RwTx) *TxDb { return &TxDb{db: db, tx: tx} }

func (tx *TxDb) Tx() Tx { return tx.tx }

func (tx *TxDb) Get(bucket string, key []byte) ([]byte, error) { return tx.tx.Get(bucket, key) }
func (tx *TxDb) Put(bucket string, key, value []byte) error    { return tx.tx.Put(bucket, key, value) }
func (tx *TxDb) Delete(bucket string, key []byte) error        { return tx.tx.Delete(bucket, key) }

func (tx *TxDb) Walk(bucket string, startAt []byte, fixedBits int, walker WalkFunc) error {
	c := tx.tx.Cursor(bucket)
	defer c.Close()
	fixedBytes, mask := bytesMask(fixedBits)
	k, v, err := c.Seek(startAt)
	for ; k != nil; k, v, err = c.Next() {
		if err != nil {
			return err
		}
		if fixedBytes > 0 {
			if len(k) < fixedBytes || !bytesEqualMasked(k, startAt, fixedBytes, mask) {
				break
			}
		}
		goOn, walkErr := walker(k, v)
		if walkErr != nil {
			return walkErr
		}
		if !goOn {
			break
		}
	}
	return err
}

func (tx *TxDb) Begin(ctx context.Context) (DbWithPendingMutations, error) { return tx, nil }
func (tx *TxDb) Commit() error                                             { return tx.tx.Commit() }
func (tx *TxDb) Rollback()                                                 { tx.tx.Rollback() }
func (tx *TxDb) Close()                                                    { tx.tx.Rollback() }
