package headerdownload

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/core/types"
)

// HandleHeadersMsg groups a peer's GetHeaders response into contiguous
// ChainSegments (§4.7's HeaderDownload stage feeds these to Prepend/the
// anchor walk), validating every parent-child edge present in the batch
// along the way. Headers may arrive in any order; they're reassembled by
// ParentHash regardless of the order peer sent them.
func (hd *HeaderDownload) HandleHeadersMsg(headers []*types.Header, peer PeerHandle) ([]*ChainSegment, *PeerPenalty, error) {
	if len(headers) == 0 {
		return nil, nil, nil
	}
	byHash := make(map[common.Hash]*types.Header, len(headers))
	order := make([]common.Hash, 0, len(headers))
	for _, h := range headers {
		hash := h.Hash()
		if _, ok := byHash[hash]; ok {
			return nil, &PeerPenalty{peerHandle: peer, penalty: DuplicateHeaderPenalty}, nil
		}
		byHash[hash] = h
		order = append(order, hash)
	}
	for _, hash := range order {
		if _, bad := hd.badHeaders[hash]; bad {
			return nil, &PeerPenalty{peerHandle: peer, penalty: BadBlockPenalty}, nil
		}
	}
	uf := newUnionFind(order)
	for _, hash := range order {
		h := byHash[hash]
		parent, ok := byHash[h.ParentHash]
		if !ok {
			continue
		}
		if penalty := validateChild(parent.NumberU64(), parent.Difficulty, parent.Time, parent.Hash(), parent.UncleHash, h, hd.calcDifficultyFunc); penalty != NoPenalty {
			return nil, &PeerPenalty{peerHandle: peer, penalty: penalty}, nil
		}
		uf.union(hash, h.ParentHash)
	}
	groups := make(map[common.Hash][]common.Hash)
	for _, hash := range order {
		root := uf.find(hash)
		groups[root] = append(groups[root], hash)
	}
	segments := make([]*ChainSegment, 0, len(groups))
	for _, members := range groups {
		var root *types.Header
		rest := make([]*types.Header, 0, len(members))
		for _, hash := range members {
			h := byHash[hash]
			if _, hasParent := byHash[h.ParentHash]; hasParent {
				rest = append(rest, h)
			} else {
				root = h
			}
		}
		segHeaders := make([]*types.Header, 0, len(members))
		if root != nil {
			segHeaders = append(segHeaders, root)
		}
		segHeaders = append(segHeaders, rest...)
		segments = append(segments, &ChainSegment{headers: segHeaders})
	}
	return segments, nil, nil
}

// HandleNewBlockMsg wraps a single gossiped header (NewBlock message) as
// its own one-element ChainSegment, the degenerate case of
// HandleHeadersMsg.
func (hd *HeaderDownload) HandleNewBlockMsg(header *types.Header, peer PeerHandle) ([]*ChainSegment, *PeerPenalty, error) {
	if _, bad := hd.badHeaders[header.Hash()]; bad {
		return nil, &PeerPenalty{peerHandle: peer, penalty: BadBlockPenalty}, nil
	}
	return []*ChainSegment{{headers: []*types.Header{header}}}, nil, nil
}

// Prepend attaches a root-first ChainSegment onto an existing tip (keyed
// by the segment root's ParentHash), extending hd.tips one header at a
// time. ok is false, with no error and no penalty, whenever the segment
// simply doesn't connect to anything currently tracked, or the match is
// a noPrepend (hard-coded/checkpoint) tip.
func (hd *HeaderDownload) Prepend(segment *ChainSegment, peer PeerHandle) (bool, *PeerPenalty, error) {
	if len(segment.headers) == 0 {
		return false, nil, errors.New("headerdownload: empty chain segment")
	}
	first := segment.headers[0]
	tip, ok := hd.tips[first.ParentHash]
	if !ok || tip.noPrepend {
		return false, nil, nil
	}

	parentNumber := tip.blockHeight
	parentDifficulty := tip.difficulty.ToBig()
	parentTime := tip.timestamp
	parentHash := first.ParentHash
	parentUncleHash := tip.uncleHash
	cumulative := tip.cumulativeDifficulty
	anchorParent := tip.anchorParent

	for _, h := range segment.headers {
		if penalty := validateChild(parentNumber, parentDifficulty, parentTime, parentHash, parentUncleHash, h, hd.calcDifficultyFunc); penalty != NoPenalty {
			return false, &PeerPenalty{peerHandle: peer, penalty: penalty}, nil
		}
		if hd.verifySealFunc != nil {
			if err := hd.verifySealFunc(h); err != nil {
				return false, &PeerPenalty{peerHandle: peer, penalty: InvalidSealPenalty, err: err}, nil
			}
		}
		var hDiff uint256.Int
		hDiff.SetFromBig(h.Difficulty)
		cumulative.Add(&cumulative, &hDiff)
		hd.tips[h.Hash()] = &Tip{
			anchorParent:         anchorParent,
			cumulativeDifficulty: cumulative,
			timestamp:            h.Time,
			difficulty:           hDiff,
			blockHeight:          h.NumberU64(),
			uncleHash:            h.UncleHash,
		}
		parentNumber = h.NumberU64()
		parentDifficulty = h.Difficulty
		parentTime = h.Time
		parentHash = h.Hash()
		parentUncleHash = h.UncleHash
	}
	return true, nil, nil
}

// addHeaderAsTip registers header as a tip whose lineage traces back to
// anchorParent, with the given total cumulative difficulty (the caller,
// typically the Execution stage reconciling a freshly-validated segment,
// already knows both).
func (hd *HeaderDownload) addHeaderAsTip(header *types.Header, anchorParent common.Hash, cumulativeDifficulty *uint256.Int) error {
	var diff uint256.Int
	diff.SetFromBig(header.Difficulty)
	hd.tips[header.Hash()] = &Tip{
		anchorParent:         anchorParent,
		cumulativeDifficulty: *cumulativeDifficulty,
		timestamp:            header.Time,
		difficulty:           diff,
		blockHeight:          header.NumberU64(),
		uncleHash:            header.UncleHash,
	}
	return nil
}

// addHardCodedTip installs a checkpoint tip (a genesis or weak-subjectivity
// hash operators configure out of band) that anchors future segments but
// is never itself a Prepend target.
func (hd *HeaderDownload) addHardCodedTip(powDepth int, blockHeight uint64, hash, anchorParent common.Hash, cumulativeDifficulty *uint256.Int) error {
	hd.tips[hash] = &Tip{
		anchorParent:         anchorParent,
		cumulativeDifficulty: *cumulativeDifficulty,
		blockHeight:          blockHeight,
		noPrepend:            true,
	}
	return nil
}

// validateChild checks the two invariants every parent-child header edge
// must satisfy: sequential block height and consensus-correct difficulty.
func validateChild(parentNumber uint64, parentDifficulty *big.Int, parentTime uint64, parentHash, parentUncleHash common.Hash, child *types.Header, calcDifficulty CalcDifficultyFunc) Penalty {
	if child.NumberU64() != parentNumber+1 {
		return WrongChildBlockHeightPenalty
	}
	expected := calcDifficulty(child.Time, parentTime, parentDifficulty, new(big.Int).SetUint64(parentNumber), parentHash, parentUncleHash)
	if child.Difficulty.Cmp(expected) != 0 {
		return WrongChildDifficultyPenalty
	}
	return NoPenalty
}

// unionFind is a minimal disjoint-set structure used to group a header
// batch into connected chain segments regardless of arrival order.
type unionFind struct {
	parent map[common.Hash]common.Hash
}

func newUnionFind(hashes []common.Hash) *unionFind {
	uf := &unionFind{parent: make(map[common.Hash]common.Hash, len(hashes))}
	for _, h := range hashes {
		uf.parent[h] = h
	}
	return uf
}

func (uf *unionFind) find(h common.Hash) common.Hash {
	for uf.parent[h] != h {
		uf.parent[h] = uf.parent[uf.parent[h]]
		h = uf.parent[h]
	}
	return h
}

func (uf *unionFind) union(a, b common.Hash) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}
