// descaler.go: float-to-decimal descaling for formatters
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ember

import "math"

// exp10 returns 10^exponent as a float64, computed by repeated
// multiplication rather than math.Pow so the result is exact for the
// small integer exponents Descale ever calls it with.
func exp10(exponent uint) float64 {
	if exponent == 0 {
		return 1
	}
	x := 1.0
	for i := uint(0); i != exponent; i++ {
		x *= 10
	}
	return x
}

// Descale extracts sig significant decimal digits from value, returning
// the digits as an integer mantissa and the base-10 exponent such that
// value is approximately mantissa * 10^exponent. It never calls
// strconv.FormatFloat or any other locale- or allocation-sensitive
// machinery, which is the point: a Formatter built on Descale can print a
// float without touching the heap.
//
// value must be finite and non-negative; callers are expected to handle
// sign, zero, NaN and Inf themselves before calling Descale, same as the
// original reckless itoa helper this is transliterated from.
func Descale(value float64, sig uint) (mantissa uint64, exponent int) {
	exponent = int(math.Ilogb(value))
	exponent = exponent/3 - 1 - int(sig)

	var descaledValue float64
	if exponent >= 0 {
		descaledValue = value / exp10(uint(exponent))
	} else {
		descaledValue = value * exp10(uint(-exponent))
	}

	sigPower := uint64(exp10(sig))
	ivalue := uint64(descaledValue)
	for ivalue >= sigPower {
		ivalue /= 10
		exponent++
	}
	return ivalue, exponent
}
