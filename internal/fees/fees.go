// Package fees implements the Kalshi fee schedule with integer math.
//
// Taker rate 7%: fee = ceil(7 * Q * P * (100-P) / 10_000)
// Maker rate 1.75%: fee = ceil(175 * Q * P * (100-P) / 1_000_000)
package fees

// Fee returns the exchange fee in cents for an order of quantity contracts
// at priceCents. Prices at or beyond the 0/100 bounds carry no fee.
func Fee(priceCents, quantity int, isTaker bool) int {
	if quantity <= 0 || priceCents <= 0 || priceCents >= 100 {
		return 0
	}
	p := uint64(priceCents)
	q := uint64(quantity)
	spreadFactor := p * (100 - p)

	if isTaker {
		num := 7 * q * spreadFactor
		return int((num + 9_999) / 10_000)
	}
	num := 175 * q * spreadFactor
	return int((num + 999_999) / 1_000_000)
}

// BreakEvenSellPrice returns the minimum sell price (cents) at which gross
// proceeds cover both the exit fee and the total entry cost. The second
// return value is false when no price in [1,99] breaks even; callers must
// defer the exit rather than force one.
func BreakEvenSellPrice(totalEntryCostCents, quantity int, isTakerExit bool) (int, bool) {
	if quantity <= 0 {
		return 0, false
	}
	for price := 1; price <= 99; price++ {
		fee := Fee(price, quantity, isTakerExit)
		gross := price * quantity
		if gross >= fee+totalEntryCostCents {
			return price, true
		}
	}
	return 0, false
}
