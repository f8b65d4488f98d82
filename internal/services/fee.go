package services

import "math"

// ComputeFee returns the fee in cents for a requested amount and a percentage
// in [0,100]. The percentage is carried at two-decimal precision (basis
// points) and the result is rounded half-up to the cent, so 500.00 at 9%
// yields exactly 45.00.
func ComputeFee(requestedAmount int64, feePercentage float64) int64 {
	if requestedAmount <= 0 || feePercentage <= 0 {
		return 0
	}
	basisPoints := int64(math.Round(feePercentage * 100))
	return (requestedAmount*basisPoints + 5000) / 10000
}

// NetAmount is the amount payable after fee deduction.
func NetAmount(requestedAmount, feeAmount int64) int64 {
	return requestedAmount - feeAmount
}
