package game

import (
	"github.com/estate-game/estate-server/internal/game/board"
	"github.com/estate-game/estate-server/internal/game/rules"
)

// startAuction opens bidding on a declined square to every active player.
func (tx *txn) startAuction(tmpl board.SquareTemplate) {
	s := tx.s
	a := &Auction{
		Position:    tmpl.Position,
		StartingBid: rules.StartingBid(tmpl.Price, tx.e.constants),
	}
	for _, p := range s.ActivePlayers() {
		a.Participants = append(a.Participants, p.ID)
	}
	s.Auction = a
	tx.setPhase(PhaseAuction)
	tx.emit(EventAuctionStarted, s.CurrentTurn, map[string]interface{}{
		"square":       tmpl.Position,
		"name":         tmpl.Name,
		"starting_bid": a.StartingBid,
		"participants": append([]string(nil), a.Participants...),
	})
	if len(a.Active()) <= 1 {
		tx.resolveAuction()
	}
}

// auctionParticipant returns the auction and checks playerID may still act in it.
func (tx *txn) auctionParticipant(playerID string) (*Auction, *Player, error) {
	s := tx.s
	if s.Phase != PhaseAuction || s.Auction == nil {
		return nil, nil, invalid(ErrNoActiveAuction, "no auction running")
	}
	a := s.Auction
	p := s.Player(playerID)
	if p == nil || p.Bankrupt || indexOf(a.Participants, playerID) < 0 {
		return nil, nil, invalid(ErrNotEligible, "%s is not bidding", playerID)
	}
	if a.hasPassed(playerID) {
		return nil, nil, invalid(ErrNotEligible, "%s already passed", playerID)
	}
	return a, p, nil
}

func (tx *txn) placeBid(playerID string, amount int) error {
	a, p, err := tx.auctionParticipant(playerID)
	if err != nil {
		return err
	}
	if a.HighBidder == playerID {
		return invalid(ErrNotEligible, "already the high bidder")
	}
	if min := a.MinimumBid(); amount < min {
		return invalid(ErrInvalidAmount, "bid must be at least %d", min)
	}
	if amount > p.Cash {
		return violation(ErrInsufficientFunds, "bid %d exceeds cash %d", amount, p.Cash)
	}
	a.HighBid = amount
	a.HighBidder = playerID
	tx.emit(EventBidPlaced, playerID, map[string]interface{}{
		"square":      a.Position,
		"amount":      amount,
		"minimum_bid": a.MinimumBid(),
	})
	return nil
}

func (tx *txn) passAuction(playerID string) error {
	a, _, err := tx.auctionParticipant(playerID)
	if err != nil {
		return err
	}
	if a.HighBidder == playerID {
		return invalid(ErrNotEligible, "the high bidder cannot pass")
	}
	a.Passed = append(a.Passed, playerID)
	if len(a.Active()) <= 1 {
		tx.resolveAuction()
	}
	return nil
}

// resolveAuction sells to the high bidder, if any, and hands control back to
// the player whose landing opened the auction.
func (tx *txn) resolveAuction() {
	s := tx.s
	a := s.Auction
	if a == nil {
		return
	}
	tmpl := tx.e.board.MustTemplate(a.Position)
	payload := map[string]interface{}{
		"square": a.Position,
		"name":   tmpl.Name,
	}
	if winner := s.Player(a.HighBidder); winner != nil && !winner.Bankrupt && winner.Cash >= a.HighBid {
		tx.acquire(winner, tmpl, a.HighBid)
		payload["winner"] = winner.ID
		payload["price"] = a.HighBid
	} else {
		payload["winner"] = ""
	}
	s.Auction = nil
	tx.emit(EventAuctionEnded, s.CurrentTurn, payload)

	if p := s.Player(s.CurrentTurn); p != nil {
		tx.continueTurn(p)
	}
}
