// Package crypto implements the signature-recovery primitive the
// SenderRecovery stage needs (§4.7 stage 4) and the keccak-based address
// derivation every other package already leans on via common.HashData.
//
// No secp256k1/ECDSA-recovery library survived retrieval anywhere in the
// example pack (go-ethereum's own crypto/secp256k1 cgo binding, btcec and
// decred/dcrd/dcrec/secp256k1 are all absent from every repo's go.mod) so
// this is one of the few places in the tree built directly on math/big
// rather than on an ecosystem library — see DESIGN.md's justification for
// this package.
package crypto

import (
	"errors"
	"math/big"

	"github.com/ArthurTh0mas/martinez/common"
)

var (
	ErrInvalidSignatureLen = errors.New("crypto: invalid signature length")
	ErrInvalidRecoveryID   = errors.New("crypto: invalid recovery id")
	ErrPointNotOnCurve     = errors.New("crypto: recovered point is not on the curve")
)

// secp256k1 curve parameters (SEC 2, recommended domain parameters).
var (
	secp256k1P, _  = new(big.Int).SetString("fffffffffffffffffffffffffffffffffffffffffffffffffffffefffffc2f", 16)
	secp256k1N, _  = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
	secp256k1Gx, _ = new(big.Int).SetString("79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798", 16)
	secp256k1Gy, _ = new(big.Int).SetString("483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b", 16)
	secp256k1B     = big.NewInt(7)
)

type point struct {
	x, y *big.Int // nil x,y represents the point at infinity
}

func (p *point) isInfinity() bool { return p.x == nil }

func pointOnCurve(x, y *big.Int) bool {
	// y^2 == x^3 + 7 (mod p)
	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, secp256k1P)

	x3 := new(big.Int).Mul(x, x)
	x3.Mul(x3, x)
	x3.Add(x3, secp256k1B)
	x3.Mod(x3, secp256k1P)

	return y2.Cmp(x3) == 0
}

func pointDouble(p *point) *point {
	if p.isInfinity() || p.y.Sign() == 0 {
		return &point{}
	}
	// lambda = (3*x^2) / (2*y)
	num := new(big.Int).Mul(p.x, p.x)
	num.Mul(num, big.NewInt(3))
	num.Mod(num, secp256k1P)

	den := new(big.Int).Lsh(p.y, 1)
	den.Mod(den, secp256k1P)
	den.ModInverse(den, secp256k1P)

	lambda := num.Mul(num, den)
	lambda.Mod(lambda, secp256k1P)

	return addFromLambda(p, p, lambda)
}

func pointAdd(p, q *point) *point {
	if p.isInfinity() {
		return q
	}
	if q.isInfinity() {
		return p
	}
	if p.x.Cmp(q.x) == 0 {
		if p.y.Cmp(q.y) != 0 {
			return &point{} // P + (-P) = infinity
		}
		return pointDouble(p)
	}
	// lambda = (q.y - p.y) / (q.x - p.x)
	num := new(big.Int).Sub(q.y, p.y)
	num.Mod(num, secp256k1P)

	den := new(big.Int).Sub(q.x, p.x)
	den.Mod(den, secp256k1P)
	den.ModInverse(den, secp256k1P)

	lambda := num.Mul(num, den)
	lambda.Mod(lambda, secp256k1P)

	return addFromLambda(p, q, lambda)
}

func addFromLambda(p, q *point, lambda *big.Int) *point {
	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, p.x)
	x3.Sub(x3, q.x)
	x3.Mod(x3, secp256k1P)

	y3 := new(big.Int).Sub(p.x, x3)
	y3.Mul(y3, lambda)
	y3.Sub(y3, p.y)
	y3.Mod(y3, secp256k1P)

	return &point{x: x3, y: y3}
}

// scalarMult computes k*P via double-and-add.
func scalarMult(p *point, k *big.Int) *point {
	result := &point{}
	addend := p
	bits := k.Bits()
	_ = bits
	n := k.BitLen()
	for i := 0; i < n; i++ {
		if k.Bit(i) == 1 {
			result = pointAdd(result, addend)
		}
		addend = pointDouble(addend)
	}
	return result
}

func negate(p *point) *point {
	if p.isInfinity() {
		return p
	}
	y := new(big.Int).Neg(p.y)
	y.Mod(y, secp256k1P)
	return &point{x: p.x, y: y}
}

// decompressPoint recovers the point with the given x coordinate and the
// given y-parity bit (0 = even, 1 = odd), per SEC1 4.1.6.
func decompressPoint(x *big.Int, yOdd bool) (*point, error) {
	// y^2 = x^3 + 7 mod p
	rhs := new(big.Int).Mul(x, x)
	rhs.Mul(rhs, x)
	rhs.Add(rhs, secp256k1B)
	rhs.Mod(rhs, secp256k1P)

	y := new(big.Int).ModSqrt(rhs, secp256k1P)
	if y == nil {
		return nil, ErrPointNotOnCurve
	}
	if y.Bit(0) != boolToUint(yOdd) {
		y.Sub(secp256k1P, y)
	}
	return &point{x: x, y: y}, nil
}

func boolToUint(b bool) uint {
	if b {
		return 1
	}
	return 0
}

// RecoverPubkey recovers the uncompressed (0x04 || X || Y) public key from
// a message hash and an (r, s, v) signature, v in {0,1,2,3} per SEC1 4.1.6 /
// Ethereum's yellow paper Appendix F (Ecrecover).
func RecoverPubkey(hash []byte, r, s *big.Int, v byte) ([]byte, error) {
	if v > 3 {
		return nil, ErrInvalidRecoveryID
	}
	if r.Sign() <= 0 || r.Cmp(secp256k1N) >= 0 || s.Sign() <= 0 || s.Cmp(secp256k1N) >= 0 {
		return nil, errors.New("crypto: r/s out of range")
	}

	x := new(big.Int).Set(r)
	if v >= 2 {
		x.Add(x, secp256k1N)
		if x.Cmp(secp256k1P) >= 0 {
			return nil, errors.New("crypto: invalid signature, x overflows p")
		}
	}
	capR, err := decompressPoint(x, v&1 == 1)
	if err != nil {
		return nil, err
	}
	if !pointOnCurve(capR.x, capR.y) {
		return nil, ErrPointNotOnCurve
	}

	e := new(big.Int).SetBytes(hash)
	e.Mod(e, secp256k1N)
	eNeg := new(big.Int).Sub(secp256k1N, e)

	rInv := new(big.Int).ModInverse(r, secp256k1N)

	// Q = r^-1 * (s*R - e*G)
	sR := scalarMult(capR, s)
	eG := scalarMult(&point{x: secp256k1Gx, y: secp256k1Gy}, eNeg)
	sum := pointAdd(sR, eG)
	q := scalarMult(sum, rInv)

	if q.isInfinity() {
		return nil, errors.New("crypto: recovered point at infinity")
	}

	pub := make([]byte, 65)
	pub[0] = 0x04
	xb := q.x.Bytes()
	yb := q.y.Bytes()
	copy(pub[1+32-len(xb):33], xb)
	copy(pub[33+32-len(yb):65], yb)
	return pub, nil
}

// PubkeyToAddress derives the Ethereum address from an uncompressed
// public key: keccak256(X||Y)[12:].
func PubkeyToAddress(pub []byte) (common.Address, error) {
	if len(pub) != 65 || pub[0] != 0x04 {
		return common.Address{}, errors.New("crypto: invalid uncompressed pubkey")
	}
	h := common.MustHashData(pub[1:])
	return common.BytesToAddress(h[12:]), nil
}

// Ecrecover combines RecoverPubkey+PubkeyToAddress, mirroring the
// go-ethereum-lineage crypto.Ecrecover/Sender call shape used throughout
// the teacher's transaction pool and stagedsync packages.
func Ecrecover(hash []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, ErrInvalidSignatureLen
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	pub, err := RecoverPubkey(hash, r, s, sig[64])
	if err != nil {
		return common.Address{}, err
	}
	return PubkeyToAddress(pub)
}
