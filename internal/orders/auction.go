package orders

// AuctionPrice returns the clearing price for an order at tick. Within the
// auction window the price interpolates linearly from start to end; after the
// window, or for orders without auction bounds, the static limit price
// applies. ok is false only when neither an auction price nor a limit price
// is available.
func AuctionPrice(o *Order, tick uint64) (price uint64, ok bool) {
	if o.HasAuction {
		elapsed := int64(0)
		if tick > o.Slot {
			elapsed = int64(tick - o.Slot)
		}
		duration := int64(o.AuctionDuration)
		if elapsed <= duration {
			if duration == 0 {
				return clampPrice(o.AuctionStartPrice), true
			}
			delta := (o.AuctionEndPrice - o.AuctionStartPrice) * elapsed / duration
			return clampPrice(o.AuctionStartPrice + delta), true
		}
	}
	if o.Price == 0 {
		return 0, false
	}
	return o.Price, true
}

// Crosses reports whether a taker at takerPrice accepts a maker resting at
// makerPrice, given the taker's direction.
func Crosses(takerDirection Direction, takerPrice, makerPrice uint64) bool {
	if takerDirection == DirectionLong {
		return takerPrice >= makerPrice
	}
	return takerPrice <= makerPrice
}

func clampPrice(p int64) uint64 {
	if p < 0 {
		return 0
	}
	return uint64(p)
}
