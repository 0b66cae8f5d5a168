package services

import "math/bits"

// SuggestedPrice returns the ceiling-rounded mean of the proposed prices,
// (sum + n - 1) / n. The sum is accumulated in 128 bits so large prices never
// wrap; the mean of uint64 values always fits back into a uint64.
func SuggestedPrice(prices []uint64) (uint64, error) {
	if len(prices) == 0 {
		return 0, ErrNoProposals
	}
	var hi, lo uint64
	for _, p := range prices {
		var carry uint64
		lo, carry = bits.Add64(lo, p, 0)
		hi += carry
	}
	return ceilDiv128(hi, lo, uint64(len(prices))), nil
}

// Deviation is the absolute distance between a proposal and the real price.
func Deviation(proposed, real uint64) uint64 {
	if proposed > real {
		return proposed - real
	}
	return real - proposed
}

// FoldDeviation folds one more session deviation d into a running average
// avg taken over count sessions, rounding up like SuggestedPrice:
// (avg*count + d + count) / (count + 1).
func FoldDeviation(avg, count, d uint64) (uint64, uint64, error) {
	if count == ^uint64(0) {
		return 0, 0, NewInvalidError("proposal count overflow")
	}
	if count == 0 {
		return d, 1, nil
	}
	hi, lo := bits.Mul64(avg, count)
	var carry uint64
	lo, carry = bits.Add64(lo, d, 0)
	hi += carry
	return ceilDiv128(hi, lo, count+1), count + 1, nil
}

// ceilDiv128 divides the 128-bit value hi:lo by m rounding up. Callers
// guarantee the quotient fits in 64 bits (it is a mean of uint64 values).
func ceilDiv128(hi, lo, m uint64) uint64 {
	q, r := bits.Div64(hi, lo, m)
	if r != 0 {
		q++
	}
	return q
}
