package pool

// Quantity computes a NORMAL pool's allocatable quantity from the raw
// subscription quantity and the product multiplier. Multipliers <= 0
// normalize to 1. Pure; callers recompute on every refresh so later
// multiplier edits propagate.
func Quantity(subscriptionQuantity, productMultiplier int64) int64 {
	if productMultiplier <= 0 {
		productMultiplier = 1
	}
	return subscriptionQuantity * productMultiplier
}
