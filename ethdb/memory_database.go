package ethdb

import (
	"context"

	"github.com/ArthurTh0mas/martinez/common/dbutils"
)

// NewMemDatabase opens an in-memory MDBX-style environment (a throwaway
// temp-dir backed lmdb.Env) for tests and short-lived tooling. The
// teacher's version of this file switched between Bolt/Badger/LMDB
// backends behind a debug.TestDB() env var; this schema only ever targets
// the lmdb-go binding (see ethdb/kv.go), so that switch is dropped in
// favor of calling the one real backend directly.
func NewMemDatabase() *ObjectDatabase {
	return NewObjectDatabase(NewLMDB().InMem().MustOpen(context.Background()))
}

// MemCopy snapshots every bucket of db into a fresh in-memory environment,
// so a caller can mutate the copy without disturbing the original.
func (db *ObjectDatabase) MemCopy() *ObjectDatabase {
	dst := NewMemDatabase()
	if err := db.kv.View(context.Background(), func(srcTx Tx) error {
		return dst.kv.Update(context.Background(), func(dstTx RwTx) error {
			for _, bucket := range dbutils.Buckets {
				c := srcTx.Cursor(bucket)
				defer c.Close()
				for k, v, err := c.First(); k != nil; k, v, err = c.Next() {
					if err != nil {
						return err
					}
					if err := dstTx.Put(bucket, append([]byte{}, k...), append([]byte{}, v...)); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}); err != nil {
		panic(err)
	}
	return dst
}
