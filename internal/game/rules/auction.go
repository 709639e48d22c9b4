package rules

// MinIncrement is the smallest raise accepted over the current bid.
func MinIncrement(currentBid int) int {
	switch {
	case currentBid < 100:
		return 10
	case currentBid < 500:
		return 25
	case currentBid < 1000:
		return 50
	default:
		return 100
	}
}

// StartingBid is the opening bid for an auctioned square: floor of
// AuctionStartPercent of the price, never below 1.
func StartingBid(price int, c Constants) int {
	percent := c.AuctionStartPercent
	if percent <= 0 {
		percent = 10
	}
	bid := price * percent / 100
	if bid < 1 {
		bid = 1
	}
	return bid
}

// MinimumBid is the lowest acceptable next bid. Before anyone has bid, the
// starting bid itself is enough.
func MinimumBid(startingBid, currentBid int, hasBidder bool) int {
	if !hasBidder {
		return startingBid
	}
	return currentBid + MinIncrement(currentBid)
}
