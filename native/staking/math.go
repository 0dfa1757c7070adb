package staking

import (
	"strings"

	"github.com/holiman/uint256"
)

const (
	// MinPrecisionExponent and MaxPrecisionExponent bound the per-pool
	// precision to 10^6 .. 10^36.
	MinPrecisionExponent = 6
	MaxPrecisionExponent = 36
	// MaxPoolDuration is the longest accrual window accepted at creation (5 years).
	MaxPoolDuration uint64 = 157_680_000
	// MinRewardWindow is the shortest remaining or effective window the
	// lifecycle operations tolerate.
	MinRewardWindow uint64 = 3_600
)

var ten = uint256.NewInt(10)

// NormalizeAsset canonicalises an asset identifier.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func precisionFromExponent(exp uint8) *uint256.Int {
	return new(uint256.Int).Exp(ten, uint256.NewInt(uint64(exp)))
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

// mulDiv returns floor(x*y/d) using a 512-bit intermediate product.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if isZero(d) {
		return nil, ErrArithmeticOverflow
	}
	z, overflow := new(uint256.Int).MulDivOverflow(zeroIfNil(x), zeroIfNil(y), d)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

func checkedAdd(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(zeroIfNil(x), zeroIfNil(y))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

func checkedSub(x, y *uint256.Int, underflowErr error) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(zeroIfNil(x), zeroIfNil(y))
	if underflow {
		return nil, underflowErr
	}
	return z, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
