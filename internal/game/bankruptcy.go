package game

import (
	"sort"

	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game/board"
	"github.com/estate-game/estate-server/internal/game/rules"
)

// Charge is a required debit. When cash falls short the debtor's holdings are
// liquidated; if that still cannot cover the debt the debtor goes bankrupt
// and the creditor receives whatever cash is left. creditor is empty for the
// bank.
func (tx *txn) Charge(debtor, creditor string, amount int) {
	tx.charge(debtor, creditor, amount)
}

// charge is Charge reporting whether the debt was paid in full.
func (tx *txn) charge(debtor, creditor string, amount int) bool {
	p := tx.s.Player(debtor)
	if p == nil || p.Bankrupt || amount <= 0 {
		return true
	}
	if p.Cash < amount {
		tx.liquidate(p, amount)
	}
	if p.Cash < amount {
		tx.bankrupt(p, creditor)
		return false
	}
	p.Cash -= amount
	if c := tx.s.Player(creditor); c != nil && !c.Bankrupt {
		c.Cash += amount
	}
	return true
}

// liquidate raises cash toward target: development is sold one level at a
// time, highest first and evenly, then undeveloped squares are mortgaged
// cheapest first.
func (tx *txn) liquidate(p *Player, target int) {
	s := tx.s
	b := tx.e.board
	// houses go back to an unlimited bank when forced
	forced := tx.e.constants
	forced.HouseSupply = 0

	for p.Cash < target {
		best := -1
		for _, pos := range rules.Holdings(s.Squares, p.ID) {
			if rules.CanSell(b, s.Squares, pos, p.ID, forced) != nil {
				continue
			}
			if best < 0 || s.Squares[pos].Level > s.Squares[best].Level {
				best = pos
			}
		}
		if best < 0 {
			break
		}
		tx.sellLevel(p, b.MustTemplate(best))
	}

	if p.Cash >= target {
		return
	}
	var candidates []board.SquareTemplate
	for _, pos := range rules.Holdings(s.Squares, p.ID) {
		if rules.CanMortgage(b, s.Squares, pos, p.ID) == nil {
			candidates = append(candidates, b.MustTemplate(pos))
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return rules.MortgageValue(candidates[i].Price) < rules.MortgageValue(candidates[j].Price)
	})
	for _, tmpl := range candidates {
		if p.Cash >= target {
			break
		}
		tx.mortgageSquare(p, tmpl)
	}
}

// bankrupt removes p from play. Squares return to the bank unencumbered and
// held cards go back to their decks.
func (tx *txn) bankrupt(p *Player, creditor string) {
	s := tx.s
	id := p.ID
	wasCurrent := s.CurrentTurn == id
	activeBefore := len(s.ActivePlayers())

	paid := 0
	if c := s.Player(creditor); c != nil && !c.Bankrupt && c.ID != id {
		paid = p.Cash
		c.Cash += paid
	}
	netWorth := p.Cash

	var released []int
	for i := range s.Squares {
		if s.Squares[i].Owner != id {
			continue
		}
		if s.FestivalSquare == i {
			s.FestivalSquare = -1
		}
		s.Squares[i].Release()
		released = append(released, i)
	}
	for _, cardID := range p.JailCards {
		tx.returnCard(cardID)
	}
	p.JailCards = nil
	p.Cash = 0
	p.Bankrupt = true
	p.InJail = false
	p.JailTurns = 0
	p.Doubles = 0

	next := s.nextAfter(id)
	if idx := indexOf(s.TurnOrder, id); idx >= 0 {
		s.TurnOrder = append(s.TurnOrder[:idx], s.TurnOrder[idx+1:]...)
	}
	s.Rankings = append(s.Rankings, Ranking{PlayerID: id, Rank: activeBefore, NetWorth: netWorth})

	tx.emit(EventBankruptcyDeclared, id, map[string]interface{}{
		"creditor":        creditor,
		"paid":            paid,
		"released":        released,
		"rank":            activeBefore,
		"remaining_count": len(s.TurnOrder),
	})
	if tx.logger != nil {
		tx.logger.Info("player bankrupt",
			zap.String("session_id", s.ID),
			zap.String("player_id", id),
			zap.String("creditor", creditor),
			zap.Int("paid", paid),
		)
	}

	if s.Trade != nil && s.Trade.Status == TradePending && (s.Trade.Terms.From == id || s.Trade.Terms.To == id) {
		tx.closeTrade(TradeCancelled, EventTradeCancelled, "participant bankrupt")
	}
	if s.Auction != nil && !s.Auction.hasPassed(id) && indexOf(s.Auction.Participants, id) >= 0 {
		s.Auction.Passed = append(s.Auction.Passed, id)
		if s.Auction.HighBidder == id {
			s.Auction.HighBidder = ""
			s.Auction.HighBid = 0
		}
	}

	if active := s.ActivePlayers(); rules.IsGameOver(len(active)) {
		if len(active) == 1 {
			w := active[0]
			tx.finish(w.ID, rules.NetWorth(tx.e.board, s.Squares, w.ID, w.Cash, tx.e.constants), "last player standing")
		}
		return
	}
	if s.Auction != nil && len(s.Auction.Active()) <= 1 {
		tx.resolveAuction()
	}
	if wasCurrent {
		s.PendingRent = nil
		s.RollAgain = false
		tx.setPhase(PhaseEndTurn)
		tx.passTurn(id, next)
	}
}
