package game

import (
	"github.com/estate-game/estate-server/internal/game/board"
	"github.com/estate-game/estate-server/internal/game/rules"
)

// decisionSquare resolves the square a purchase decision refers to. Zero
// means the player's own position; start is never purchasable anyway.
func (tx *txn) decisionSquare(p *Player, square int) (board.SquareTemplate, error) {
	if square == 0 {
		square = p.Position
	}
	if square != p.Position {
		return board.SquareTemplate{}, invalid(ErrNotEligible, "offer is for square %d", p.Position)
	}
	tmpl, err := tx.e.board.Template(square)
	if err != nil {
		return board.SquareTemplate{}, invalid(ErrInvalidAmount, "%v", err)
	}
	if !tmpl.Category.Purchasable() {
		return board.SquareTemplate{}, violation(rules.ErrNotPurchasable, "%s", tmpl.Name)
	}
	return tmpl, nil
}

func (tx *txn) purchase(playerID string, square int) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	if s.Phase != PhasePropertyDecision {
		return invalid(ErrWrongPhase, "no purchase offer during %s", s.Phase)
	}
	tmpl, err := tx.decisionSquare(p, square)
	if err != nil {
		return err
	}
	if s.Squares[tmpl.Position].Owned() {
		return violation(ErrAlreadyOwned, "%s", tmpl.Name)
	}
	if p.Cash < tmpl.Price {
		return violation(ErrInsufficientFunds, "%s costs %d", tmpl.Name, tmpl.Price)
	}

	tx.acquire(p, tmpl, tmpl.Price)
	tx.continueTurn(p)
	return nil
}

// acquire debits price and assigns ownership in one step.
func (tx *txn) acquire(p *Player, tmpl board.SquareTemplate, price int) {
	p.Cash -= price
	sq := &tx.s.Squares[tmpl.Position]
	sq.Owner = p.ID
	sq.Level = 0
	sq.Mortgaged = false
	tx.emit(EventPropertyPurchased, p.ID, map[string]interface{}{
		"square": tmpl.Position,
		"name":   tmpl.Name,
		"price":  price,
	})
}

func (tx *txn) decline(playerID string, square int) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	if s.Phase != PhasePropertyDecision {
		return invalid(ErrWrongPhase, "no purchase offer during %s", s.Phase)
	}
	tmpl, err := tx.decisionSquare(p, square)
	if err != nil {
		return err
	}
	tx.startAuction(tmpl)
	return nil
}

func (tx *txn) payRent(playerID string) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	if s.Phase != PhaseResolving || s.PendingRent == nil {
		return invalid(ErrWrongPhase, "no rent is due")
	}
	due := *s.PendingRent
	s.PendingRent = nil

	// insolvency is settled inside Charge by bankruptcy, not reported as an error
	if tx.charge(p.ID, due.Creditor, due.Amount) {
		tx.emit(EventRentPaid, p.ID, map[string]interface{}{
			"square": due.Position,
			"owner":  due.Creditor,
			"amount": due.Amount,
		})
	}
	tx.continueTurn(p)
	return nil
}

// managementPhase reports whether the current player may manage holdings now.
func managementPhase(p Phase, allowResolving bool) bool {
	switch p {
	case PhaseRolling, PhaseJail, PhaseDevelopment:
		return true
	case PhaseResolving:
		return allowResolving
	}
	return false
}

func (tx *txn) build(playerID string, square int) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	if !managementPhase(s.Phase, false) {
		return invalid(ErrWrongPhase, "cannot build during %s", s.Phase)
	}
	tmpl, err := tx.e.board.Template(square)
	if err != nil {
		return invalid(ErrInvalidAmount, "%v", err)
	}
	if err := rules.CanBuild(tx.e.board, s.Squares, square, p.ID, tx.e.constants); err != nil {
		return violation(err, "%s", tmpl.Name)
	}
	if p.Cash < tmpl.BuildCost {
		return violation(ErrInsufficientFunds, "building on %s costs %d", tmpl.Name, tmpl.BuildCost)
	}
	p.Cash -= tmpl.BuildCost
	s.Squares[square].Level++
	tx.emit(EventDevelopmentBuilt, p.ID, map[string]interface{}{
		"square": square,
		"level":  s.Squares[square].Level,
		"cost":   tmpl.BuildCost,
	})
	return nil
}

func (tx *txn) sell(playerID string, square int) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	if !managementPhase(s.Phase, true) {
		return invalid(ErrWrongPhase, "cannot sell during %s", s.Phase)
	}
	tmpl, err := tx.e.board.Template(square)
	if err != nil {
		return invalid(ErrInvalidAmount, "%v", err)
	}
	if err := rules.CanSell(tx.e.board, s.Squares, square, p.ID, tx.e.constants); err != nil {
		return violation(err, "%s", tmpl.Name)
	}
	tx.sellLevel(p, tmpl)
	return nil
}

func (tx *txn) sellLevel(p *Player, tmpl board.SquareTemplate) {
	value := rules.SellValue(tmpl)
	tx.s.Squares[tmpl.Position].Level--
	p.Cash += value
	tx.emit(EventDevelopmentSold, p.ID, map[string]interface{}{
		"square": tmpl.Position,
		"level":  tx.s.Squares[tmpl.Position].Level,
		"value":  value,
	})
}

func (tx *txn) mortgage(playerID string, square int) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	if !managementPhase(s.Phase, true) {
		return invalid(ErrWrongPhase, "cannot mortgage during %s", s.Phase)
	}
	tmpl, err := tx.e.board.Template(square)
	if err != nil {
		return invalid(ErrInvalidAmount, "%v", err)
	}
	if err := rules.CanMortgage(tx.e.board, s.Squares, square, p.ID); err != nil {
		return violation(err, "%s", tmpl.Name)
	}
	tx.mortgageSquare(p, tmpl)
	return nil
}

func (tx *txn) mortgageSquare(p *Player, tmpl board.SquareTemplate) {
	value := rules.MortgageValue(tmpl.Price)
	tx.s.Squares[tmpl.Position].Mortgaged = true
	p.Cash += value
	tx.emit(EventPropertyMortgaged, p.ID, map[string]interface{}{
		"square": tmpl.Position,
		"value":  value,
	})
}

func (tx *txn) unmortgage(playerID string, square int) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	if !managementPhase(s.Phase, true) {
		return invalid(ErrWrongPhase, "cannot unmortgage during %s", s.Phase)
	}
	tmpl, err := tx.e.board.Template(square)
	if err != nil {
		return invalid(ErrInvalidAmount, "%v", err)
	}
	if err := rules.CanUnmortgage(tx.e.board, s.Squares, square, p.ID); err != nil {
		return violation(err, "%s", tmpl.Name)
	}
	cost := rules.UnmortgageCost(tmpl.Price, tx.e.constants)
	if p.Cash < cost {
		return violation(ErrInsufficientFunds, "lifting the mortgage on %s costs %d", tmpl.Name, cost)
	}
	p.Cash -= cost
	s.Squares[square].Mortgaged = false
	tx.emit(EventPropertyUnmortgaged, p.ID, map[string]interface{}{
		"square": square,
		"cost":   cost,
	})
	return nil
}
