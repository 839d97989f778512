package models

import (
	"fmt"
	"math"
	"math/big"
)

// RoundDigits is the number of decimals kept when converting wei to ether.
const RoundDigits = 3

const etherDecimals = 18

// WeiToEther converts wei to ether rounded half away from zero to digits
// decimals.
func WeiToEther(wei *big.Int, digits int) float64 {
	if digits < 0 || digits > etherDecimals {
		digits = RoundDigits
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(etherDecimals-digits)), nil)
	q, r := new(big.Int).QuoRem(wei, scale, new(big.Int))
	if new(big.Int).Lsh(r.Abs(r), 1).Cmp(scale) >= 0 {
		if wei.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	f, _ := new(big.Float).SetInt(q).Float64()
	return f / math.Pow10(digits)
}

// ParseWei parses a base-10 wei amount.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

// GweiToWei converts a gas price in gwei to wei.
func GweiToWei(gwei int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
}
