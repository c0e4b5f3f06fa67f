package types

import "github.com/ArthurTh0mas/martinez/common"

// BloomByteLength/BloomBitLength follow go-ethereum's 2048-bit logs bloom.
const (
	BloomByteLength = 256
	BloomBitLength  = 8 * BloomByteLength
)

// Bloom is the header's logs_bloom (§4.6 "compute receipts_root,
// logs_bloom, gas_used").
type Bloom [BloomByteLength]byte

func (b *Bloom) Add(d []byte) {
	h := common.MustHashData(d)
	for i := 0; i < 6; i += 2 {
		bit := (uint(h[i+1]) + (uint(h[i]) << 8)) & 2047
		b[BloomByteLength-1-bit/8] |= 1 << (bit % 8)
	}
}

func (b Bloom) Test(d []byte) bool {
	var probe Bloom
	probe.Add(d)
	for i := range b {
		if b[i]&probe[i] != probe[i] {
			return false
		}
	}
	return true
}

// CreateBloom ORs together the bloom contribution of every log in recs.
func CreateBloom(receipts []*Receipt) Bloom {
	var bin Bloom
	for _, receipt := range receipts {
		for _, log := range receipt.Logs {
			bin.Add(log.Address.Bytes())
			for _, topic := range log.Topics {
				bin.Add(topic.Bytes())
			}
		}
	}
	return bin
}
