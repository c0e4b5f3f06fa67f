package stagedsync

import (
	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/core/types"
)

// NetworkOracle is spec.md §6.3's "Network oracle" abstract surface:
// get_headers/get_bodies/announce/penalize, transport-agnostic. The
// HeaderDownload and BlockBodies stages are its only callers; no
// concrete devp2p transport is implemented here (out of this spec
// pack's scope — see SPEC_FULL.md's RPC/CLI/torrent exclusion), so
// production wiring supplies its own NetworkOracle and tests supply a
// fixed in-memory one.
type NetworkOracle interface {
	// GetHeaders fetches up to limit headers starting at start, in
	// ascending order unless reverse is set.
	GetHeaders(start uint64, limit int, reverse bool) ([]*types.Header, error)
	// GetBodies fetches the body for each requested (number, hash),
	// nil at that slot if the peer didn't have it.
	GetBodies(requests []BodyRequest) ([]*types.Body, error)
	// Announce tells peers about a newly assembled block (post-Execution).
	Announce(block *types.Block)
	// Penalize records a protocol fault against peerID (§7 "Protocol/oracle
	// errors ... recovered locally by retry with a different peer").
	Penalize(peerID string, reason string)
}

// BodyRequest identifies one block body fetch.
type BodyRequest struct {
	Number uint64
	Hash   common.Hash
}

// NoopOracle answers every request with "nothing more available": the
// default for a node that ingests blocks only through Blockchain.InsertBlock
// (§4.6) rather than bulk historical sync, so HeaderDownload/BlockBodies
// have no work of their own and the pipeline reduces to catching up its
// later stages over already-ingested blocks.
type NoopOracle struct{}

func (NoopOracle) GetHeaders(uint64, int, bool) ([]*types.Header, error) { return nil, nil }
func (NoopOracle) GetBodies([]BodyRequest) ([]*types.Body, error)        { return nil, nil }
func (NoopOracle) Announce(*types.Block)                                {}
func (NoopOracle) Penalize(string, string)                              {}
