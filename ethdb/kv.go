// Package ethdb is the typed KV store façade of spec.md §4.1: a
// transactional, ordered mapping abstraction with DupSort semantics on
// top of an embedded B+tree engine (MDBX-style; bound here to
// github.com/ledgerwatch/lmdb-go/lmdb, the teacher's own cgo binding —
// see DESIGN.md for why no erigontech/mdbx-go call site exists in the
// retrieval pack to ground against instead).
package ethdb

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned (never panicked) when a read misses; callers
// compare with errors.Is, matching §4.1 "KeyNotFound is encoded as None
// on read paths".
var ErrKeyNotFound = errors.New("ethdb: key not found")

// ErrBadAutoDupKeyLen is BadAutoDupKeyLen of §4.1: a write to an auto-dup
// table used a key whose length falls strictly between DupToLen and
// DupFromLen.
var ErrBadAutoDupKeyLen = errors.New("ethdb: key length not valid for auto-dup table")

// DecodeError is the §4.1 DecodeError{table, key_len, got}.
type DecodeError struct {
	Table  string
	KeyLen int
	Got    int
}

func (e *DecodeError) Error() string {
	return "ethdb: decode error in table " + e.Table
}

// KV is the environment handle: the only process-wide shared mutable
// resource named in §5 "Shared resource policy".
type KV interface {
	View(ctx context.Context, f func(tx Tx) error) error
	Update(ctx context.Context, f func(tx RwTx) error) error
	Begin(ctx context.Context) (Tx, error)
	BeginRw(ctx context.Context) (RwTx, error)
	Close()
}

// Tx is a read-only (snapshot) transaction. Concurrent readers are
// unbounded; each holds a snapshot until Rollback/Commit (§5).
type Tx interface {
	Cursor(bucket string) Cursor
	CursorDupSort(bucket string) CursorDupSort
	Get(bucket string, key []byte) ([]byte, error)
	BucketSize(bucket string) (uint64, error)
	Commit() error
	Rollback()
}

// RwTx is the single-writer mutable transaction (§4.1 begin_mutable()).
type RwTx interface {
	Tx
	RwCursor(bucket string) RwCursor
	RwCursorDupSort(bucket string) RwCursorDupSort
	Put(bucket string, key, value []byte) error
	Delete(bucket string, key []byte) error
}

// Cursor supports the read-side primitives of §4.1: First, Last, Seek,
// SeekExact, Next, Prev, Current.
type Cursor interface {
	First() (key, value []byte, err error)
	Seek(seek []byte) (key, value []byte, err error)
	SeekExact(key []byte) (value []byte, err error)
	Next() (key, value []byte, err error)
	Prev() (key, value []byte, err error)
	Last() (key, value []byte, err error)
	Current() (key, value []byte, err error)
	Close()
}

// CursorDupSort adds the DupSort-only read primitives of §4.1:
// seek_both_range, next_dup, prev_dup, next_no_dup, last_dup.
type CursorDupSort interface {
	Cursor
	SeekBothRange(key, value []byte) (retValue []byte, err error)
	NextDup() (key, value []byte, err error)
	PrevDup() (key, value []byte, err error)
	NextNoDup() (key, value []byte, err error)
	LastDup() (value []byte, err error)
}

// RwCursor adds the mutating primitives: upsert, put, append, delete_current.
type RwCursor interface {
	Cursor
	Put(key, value []byte) error
	Append(key, value []byte) error
	DeleteCurrent() error
}

// RwCursorDupSort adds append_dup and delete_current_duplicates.
type RwCursorDupSort interface {
	RwCursor
	CursorDupSort
	AppendDup(key, value []byte) error
	DeleteCurrentDuplicates() error
}

// Putter/Getter/Deleter are the narrow single-call interfaces the
// migrations and higher-level Database façade (object_database.go) are
// written against, matching the teacher's ethdb.Putter/Database split.
type Getter interface {
	Get(bucket string, key []byte) ([]byte, error)
}

type Putter interface {
	Put(bucket string, key, value []byte) error
}

type Deleter interface {
	Delete(bucket string, key []byte) error
}

// WalkFunc is the per-entry callback of Database.Walk (object_database.go);
// returning goOn=false stops the walk.
type WalkFunc func(k, v []byte) (goOn bool, err error)
