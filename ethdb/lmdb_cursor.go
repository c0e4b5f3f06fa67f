package ethdb

import (
	"github.com/ledgerwatch/lmdb-go/lmdb"

	"github.com/ArthurTh0mas/martinez/common/dbutils"
)

// lmdbCursor implements Cursor/CursorDupSort/RwCursor/RwCursorDupSort on
// top of a raw *lmdb.Cursor, applying the auto-dup key/value split of
// §4.1 transparently so every caller above this package sees logical
// (unsplit) keys and values.
type lmdbCursor struct {
	tx     *lmdbTx
	bucket string
	c      *lmdb.Cursor
	cfg    dbutils.BucketConfigItem
}

func (c *lmdbCursor) Close() { c.c.Close() }

func (c *lmdbCursor) logical(k, v []byte) ([]byte, []byte) {
	if !c.cfg.AutoDupSortKeysConversion {
		return k, v
	}
	return joinAutoDupKey(c.bucket, k, v), unsplitAutoDup(c.bucket, k, v)
}

func wrapNotFound(err error) error {
	if lmdb.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *lmdbCursor) First() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, lmdb.First)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	lk, lv := c.logical(k, v)
	return lk, lv, nil
}

func (c *lmdbCursor) Last() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, lmdb.Last)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	lk, lv := c.logical(k, v)
	return lk, lv, nil
}

func (c *lmdbCursor) Current() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, lmdb.GetCurrent)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	lk, lv := c.logical(k, v)
	return lk, lv, nil
}

func (c *lmdbCursor) Next() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, lmdb.Next)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	lk, lv := c.logical(k, v)
	return lk, lv, nil
}

func (c *lmdbCursor) Prev() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, lmdb.Prev)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	lk, lv := c.logical(k, v)
	return lk, lv, nil
}

// Seek finds the first key >= seek. For an auto-dup table, a logical seek
// key longer than DupToLen is split so the primary SetRange lands on the
// right storage-row prefix, then the value suffix is matched by walking
// forward within the dup group (§4.1 "seek" over a split key).
func (c *lmdbCursor) Seek(seek []byte) ([]byte, []byte, error) {
	if !c.cfg.AutoDupSortKeysConversion || len(seek) <= c.cfg.DupToLen {
		k, v, err := c.c.Get(seek, nil, lmdb.SetRange)
		if lmdb.IsNotFound(err) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		lk, lv := c.logical(k, v)
		return lk, lv, nil
	}
	pkey := seek[:c.cfg.DupToLen]
	wantSuffix := seek[c.cfg.DupToLen:]
	v, err := c.seekBothRangeRaw(pkey, wantSuffix)
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		// no dup in this primary key covers wantSuffix; advance to the
		// next primary key's first dup, mirroring the teacher's
		// nextNoDup-after-miss seek behaviour.
		k, v2, err2 := c.c.Get(pkey, nil, lmdb.SetRange)
		if lmdb.IsNotFound(err2) {
			return nil, nil, nil
		}
		if err2 != nil {
			return nil, nil, err2
		}
		lk, lv := c.logical(k, v2)
		return lk, lv, nil
	}
	lk, lv := c.logical(pkey, v)
	return lk, lv, nil
}

func (c *lmdbCursor) seekBothRangeRaw(pkey, wantSuffix []byte) ([]byte, error) {
	_, v, err := c.c.Get(pkey, wantSuffix, lmdb.GetBothRange)
	if lmdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c *lmdbCursor) SeekExact(key []byte) ([]byte, error) {
	if !c.cfg.AutoDupSortKeysConversion || len(key) <= c.cfg.DupToLen {
		_, v, err := c.c.Get(key, nil, lmdb.SetKey)
		if lmdb.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return unsplitAutoDup(c.bucket, key, v), nil
	}
	pkey := key[:c.cfg.DupToLen]
	wantSuffix := key[c.cfg.DupToLen:]
	_, v, err := c.c.Get(pkey, wantSuffix, lmdb.GetBoth)
	if lmdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return unsplitAutoDup(c.bucket, pkey, v), nil
}

// ----- DupSort-only reads ---------------------------------------------

func (c *lmdbCursor) SeekBothRange(key, value []byte) ([]byte, error) {
	v, err := c.seekBothRangeRaw(key, value)
	return v, err
}

func (c *lmdbCursor) NextDup() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, lmdb.NextDup)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	lk, lv := c.logical(k, v)
	return lk, lv, nil
}

func (c *lmdbCursor) PrevDup() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, lmdb.PrevDup)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	lk, lv := c.logical(k, v)
	return lk, lv, nil
}

func (c *lmdbCursor) NextNoDup() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, lmdb.NextNoDup)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	lk, lv := c.logical(k, v)
	return lk, lv, nil
}

func (c *lmdbCursor) LastDup() ([]byte, error) {
	_, v, err := c.c.Get(nil, nil, lmdb.LastDup)
	if lmdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ----- mutating primitives ---------------------------------------------

func (c *lmdbCursor) Put(key, value []byte) error {
	if err := ValidateAutoDupKeyLen(c.bucket, key); err != nil {
		return err
	}
	pkey, pvalue := splitAutoDupKV(c.bucket, key, value)
	return c.c.Put(pkey, pvalue, 0)
}

func (c *lmdbCursor) Append(key, value []byte) error {
	if err := ValidateAutoDupKeyLen(c.bucket, key); err != nil {
		return err
	}
	pkey, pvalue := splitAutoDupKV(c.bucket, key, value)
	flags := uint(lmdb.Append)
	if c.cfg.Flags&lmdb.DupSort != 0 {
		flags = lmdb.AppendDup
	}
	return c.c.Put(pkey, pvalue, flags)
}

func (c *lmdbCursor) AppendDup(key, value []byte) error {
	if err := ValidateAutoDupKeyLen(c.bucket, key); err != nil {
		return err
	}
	pkey, pvalue := splitAutoDupKV(c.bucket, key, value)
	return c.c.Put(pkey, pvalue, lmdb.AppendDup)
}

func (c *lmdbCursor) DeleteCurrent() error {
	return wrapNotFound(c.c.Del(0))
}

func (c *lmdbCursor) DeleteCurrentDuplicates() error {
	return wrapNotFound(c.c.Del(lmdb.NoDupData))
}
