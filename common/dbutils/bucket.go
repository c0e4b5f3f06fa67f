// Package dbutils declares the closed set of tables the KV store exposes
// (spec.md §3.2/§6.1) plus their DupSort/auto-dup configuration. It is
// grounded on the teacher's common/dbutils/bucket.go: same BucketConfigItem
// shape, same init()-time sort/validate pass, same "AutoDupSortKeysConversion"
// knob — renamed to the table identifiers spec.md and erigon-lib use
// (CanonicalHeader, HeaderNumber, PlainState, ...) instead of the teacher's
// legacy "CST2"/"PLAIN-CST2" short codes.
package dbutils

import (
	"sort"
	"strings"

	"github.com/ledgerwatch/lmdb-go/lmdb"

	"github.com/ArthurTh0mas/martinez/metrics"
)

// Buckets - table names (spec.md §3.2, §3.5).
var (
	// CanonicalHeader: BlockNumber -> H256. number -> canonical block hash.
	CanonicalHeader = "CanonicalHeader"
	// HeaderNumber: H256 -> BlockNumber. inverse index of CanonicalHeader.
	HeaderNumber = "HeaderNumber"
	// Header: (BlockNumber, H256) -> BlockHeader (RLP).
	Header = "Header"
	// HeadersTotalDifficulty: (BlockNumber, H256) -> U256. running TD.
	HeadersTotalDifficulty = "HeadersTotalDifficulty"
	// BlockBody: (BlockNumber, H256) -> BodyForStorage.
	BlockBody = "BlockBody"
	// BlockTransaction: TxIndex -> Transaction (RLP). global tx store, append-only.
	BlockTransaction = "BlockTransaction"
	// TxSender: TxIndex -> Address. recovered sender cache.
	TxSender = "TxSender"
	// TxLookup: H256(tx hash) -> BlockNumber. §3.5 supplement.
	TxLookup = "TxLookup"

	// PlainState: Address (account rows) | Address+Incarnation (storage
	// rows, DupSort). Current world state, keyed in "plain" (unhashed) form.
	PlainState = "PlainState"
	// PlainContractCode: Address+Incarnation -> H256(code hash).
	PlainContractCode = "PlainContractCode"
	// Code: H256(code hash) -> bytecode. §3.5 supplement.
	Code = "Code"

	// AccountChangeSet: BlockNumber -> ChangeSet{Address, Account_prev in the accounts for-storage encoding}.
	AccountChangeSet = "AccountChangeSet"
	// StorageChangeSet: BlockNumber -> ChangeSet{(Address,Incarnation,Location), prevValue}.
	StorageChangeSet = "StorageChangeSet"

	// AccountHistory: (Address, chunk-upper-bound BlockNumber) -> roaring bitmap.
	AccountHistory = "AccountHistory"
	// StorageHistory: (Address, H256 location, chunk-upper-bound BlockNumber) -> roaring bitmap.
	StorageHistory = "StorageHistory"

	// HashedAccount / HashedStorage: keccak-hashed mirror of PlainState, the
	// Merkle-trie input (§3.2, §3.3).
	HashedAccount = "HashedAccount"
	HashedStorage = "HashedStorage"

	// TrieAccount / TrieStorage: nibble prefix -> cached intermediate trie node.
	TrieAccount = "TrieAccount"
	TrieStorage = "TrieStorage"

	// IncarnationMap: Address -> Incarnation of account when it was last deleted.
	IncarnationMap = "IncarnationMap"

	// CallTraceSet: BlockNumber -> bitmap of (address, from/to flag). §3.5 supplement.
	CallTraceSet = "CallTraceSet"

	// LogAddressIndex / LogTopicIndex: address/topic -> bitmap(BlockNumber).
	LogAddressIndex = "LogAddressIndex"
	LogTopicIndex   = "LogTopicIndex"
	// Receipts: (BlockNumber, H256) -> []Receipt (storage form).
	Receipts = "Receipts"

	// BadBlock: H256 -> text of the error that rejected the block. bounded bad-blocks record (§4.6, §3.5).
	BadBlock = "BadBlock"

	// SyncStage: stage id (string) -> BlockNumber. pipeline progress (§6.2).
	SyncStage = "SyncStage"
	// SyncStageUnwind: stage id -> BlockNumber, unwind target while an unwind is in flight.
	SyncStageUnwind = "SyncStageUnwind"

	// DatabaseInfo stores information about data layout (schema version, etc).
	DatabaseInfo = "DatabaseInfo"
	// ChainConfig stores the RLP/JSON-encoded ChainSpec consumed at startup.
	ChainConfig = "ChainConfig"
	// Migrations: migration name -> serialised SyncStage/SyncStageUnwind snapshot.
	Migrations = "Migrations"
)

// Buckets - list of all live buckets. The KV layer opens exactly these
// tables, with their BucketsConfigs flags, when the environment opens,
// and panics when a transaction names a table outside this list.
var Buckets = []string{
	CanonicalHeader,
	HeaderNumber,
	Header,
	HeadersTotalDifficulty,
	BlockBody,
	BlockTransaction,
	TxSender,
	TxLookup,
	PlainState,
	PlainContractCode,
	Code,
	AccountChangeSet,
	StorageChangeSet,
	AccountHistory,
	StorageHistory,
	HashedAccount,
	HashedStorage,
	TrieAccount,
	TrieStorage,
	IncarnationMap,
	CallTraceSet,
	LogAddressIndex,
	LogTopicIndex,
	Receipts,
	BadBlock,
	SyncStage,
	SyncStageUnwind,
	DatabaseInfo,
	ChainConfig,
	Migrations,
}

// DeprecatedBuckets - buckets that may be programmatically dropped, e.g.
// after a migration. Empty for a freshly designed schema; kept as a slice
// (not removed) for the teacher's schema-evolution convention; no
// migration in this module appends to it.
var DeprecatedBuckets []string

type CustomComparator string

const (
	DefaultCmp     CustomComparator = ""
	DupCmpSuffix32 CustomComparator = "dup_cmp_suffix32"
)

// BucketConfigItem mirrors the teacher's bucket.go exactly: DupSort flag,
// auto-dup packing knobs (§4.1 "Auto-dup encoding"), and a DBI field. The
// lmdb backend keeps the handles it opens in its own map and leaves DBI
// unset.
type BucketConfigItem struct {
	Flags uint
	// AutoDupSortKeysConversion - when true, logical keys of length DupFromLen
	// are split at DupToLen: the primary key becomes key[:DupToLen], and
	// key[DupToLen:DupFromLen] is prepended to the value before it is stored.
	AutoDupSortKeysConversion bool
	IsDeprecated              bool
	DBI                       lmdb.DBI
	DupFromLen                int
	DupToLen                  int
	CustomDupComparator       CustomComparator
}

type BucketsCfg map[string]BucketConfigItem

// BucketsConfigs is the single source of truth for every table's on-disk
// layout; §4.1's "auto_dup_sort = {from, to}" is spelled out here per table.
var BucketsConfigs = BucketsCfg{
	PlainState: {
		Flags:                     lmdb.DupSort,
		AutoDupSortKeysConversion: true,
		// logical storage key = Address(20) + Incarnation(8) + Location(32) = 60 bytes
		// primary key kept on disk = Address(20) + Incarnation(8) = 28 bytes (§3.2, §6.1)
		DupFromLen: 60,
		DupToLen:   28,
	},
	HashedStorage: {
		Flags:                     lmdb.DupSort,
		AutoDupSortKeysConversion: true,
		// logical storage key = H256(addrHash)(32) + Incarnation(8) + H256(locationHash)(32) = 72 bytes
		// primary key kept on disk = addrHash(32) + Incarnation(8) = 40 bytes
		DupFromLen: 72,
		DupToLen:   40,
	},
	TrieAccount: {
		Flags:               lmdb.DupSort,
		CustomDupComparator: DupCmpSuffix32,
	},
	TrieStorage: {
		Flags:               lmdb.DupSort,
		CustomDupComparator: DupCmpSuffix32,
	},
	LogAddressIndex: {Flags: lmdb.DupSort},
	LogTopicIndex:   {Flags: lmdb.DupSort},
	AccountHistory:  {Flags: lmdb.DupSort},
	StorageHistory:  {Flags: lmdb.DupSort},
}

func sortBuckets() {
	sort.SliceStable(Buckets, func(i, j int) bool {
		return strings.Compare(Buckets[i], Buckets[j]) < 0
	})
}

func DefaultBuckets() BucketsCfg { return BucketsConfigs }

// UpdateBucketsList lets a migration swap the active schema wholesale,
// exactly as the teacher's dbutils.UpdateBucketsList does.
func UpdateBucketsList(newBucketCfg BucketsCfg) {
	newBuckets := make([]string, 0, len(newBucketCfg))
	for k, v := range newBucketCfg {
		if !v.IsDeprecated {
			newBuckets = append(newBuckets, k)
		}
	}
	Buckets = newBuckets
	BucketsConfigs = newBucketCfg
	reinit()
}

func init() { reinit() }

func reinit() {
	sortBuckets()
	for _, name := range Buckets {
		if _, ok := BucketsConfigs[name]; !ok {
			BucketsConfigs[name] = BucketConfigItem{}
		}
	}
	for _, name := range DeprecatedBuckets {
		cfg, ok := BucketsConfigs[name]
		if !ok {
			cfg = BucketConfigItem{}
		}
		cfg.IsDeprecated = true
		BucketsConfigs[name] = cfg
	}
}

// Metrics - kept from the teacher; registered here, but nothing in this
// module increments them.
var (
	PreimageCounter    = metrics.NewRegisteredCounter("db/preimage/total", nil)
	PreimageHitCounter = metrics.NewRegisteredCounter("db/preimage/hits", nil)
)
