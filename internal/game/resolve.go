package game

import (
	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game/board"
	"github.com/estate-game/estate-server/internal/game/cards"
	"github.com/estate-game/estate-server/internal/game/rules"
)

// maxCardChain caps card → move → card sequences within one roll.
const maxCardChain = 3

// resolveSquare applies the square the player stands on. Ownable squares
// may leave a decision pending; everything else resolves in place.
func (tx *txn) resolveSquare(p *Player, depth int) {
	s := tx.s
	tmpl := tx.e.board.MustTemplate(p.Position)

	// a card modifier only applies to the square the card moved to
	modifier := 0
	if s.RentModifier > 1 && s.ModifierSquare == p.Position {
		modifier = s.RentModifier
	}
	s.RentModifier = 0

	resolved := func(outcome string, extra map[string]interface{}) {
		payload := map[string]interface{}{
			"position": p.Position,
			"category": string(tmpl.Category),
			"outcome":  outcome,
		}
		for k, v := range extra {
			payload[k] = v
		}
		tx.emit(EventSquareResolved, p.ID, payload)
	}

	switch tmpl.Category {
	case board.CategoryProperty, board.CategoryRailroad, board.CategoryUtility:
		sq := s.Squares[p.Position]
		switch {
		case !sq.Owned():
			tx.setPhase(PhasePropertyDecision)
			resolved("offer_purchase", map[string]interface{}{"price": tmpl.Price})
			tx.emitTo(p.ID, EventDecision, map[string]interface{}{
				"decision": "purchase",
				"square":   p.Position,
				"price":    tmpl.Price,
			})
		case sq.Owner == p.ID:
			resolved("own_square", nil)
		case sq.Mortgaged:
			resolved("mortgaged", nil)
		default:
			rent := rules.Rent(tx.e.board, s.Squares, p.Position, rules.RentInput{
				DiceSum:          s.Dice.Sum(),
				FestivalPosition: s.FestivalSquare,
				Modifier:         modifier,
			}, tx.e.constants)
			if rent <= 0 {
				resolved("no_rent", nil)
				return
			}
			s.PendingRent = &PendingRent{Creditor: sq.Owner, Position: p.Position, Amount: rent}
			tx.setPhase(PhaseResolving)
			resolved("rent_due", map[string]interface{}{"owner": sq.Owner, "rent": rent})
			// can_cover tells the client whether paying will end in bankruptcy
			raisable := p.Cash + rules.LiquidationValue(tx.e.board, s.Squares, p.ID)
			tx.emitTo(p.ID, EventDecision, map[string]interface{}{
				"decision":  "pay_rent",
				"square":    p.Position,
				"amount":    rent,
				"owner":     sq.Owner,
				"can_cover": raisable >= rent,
			})
		}

	case board.CategoryTax:
		resolved("tax", map[string]interface{}{"amount": tmpl.TaxAmount})
		tx.emit(EventTaxPaid, p.ID, map[string]interface{}{"amount": tmpl.TaxAmount})
		tx.Charge(p.ID, "", tmpl.TaxAmount)

	case board.CategoryChance, board.CategoryCommunity:
		tx.drawCard(p, cards.Category(tmpl.Category), depth)

	case board.CategorySendToJail:
		resolved("sent_to_jail", nil)
		tx.jail(p, "landed on go to jail")

	case board.CategoryFestival:
		tx.moveFestival(p)
		resolved("festival", map[string]interface{}{"festival_square": s.FestivalSquare})

	default:
		resolved("nothing", nil)
	}
}

func (tx *txn) drawCard(p *Player, category cards.Category, depth int) {
	deck := tx.s.deck(category)
	before := p.Position

	out, ok := tx.e.interpreter.Draw(deck, tx, p.ID)
	if !ok {
		tx.emit(EventSquareResolved, p.ID, map[string]interface{}{
			"position": p.Position,
			"category": string(category),
			"outcome":  "empty_deck",
		})
		return
	}
	tx.emit(EventCardDrawn, p.ID, map[string]interface{}{
		"card_id": out.CardID,
		"deck":    out.Deck,
		"text":    out.Text,
	})
	tx.emit(EventCardEffectApplied, p.ID, map[string]interface{}{
		"card_id":  out.CardID,
		"effect":   out.Effect,
		"amount":   out.Amount,
		"moved":    out.Moved,
		"from":     before,
		"position": out.Position,
		"kept":     out.Kept,
		"skipped":  out.Skipped,
	})

	if !out.Moved || p.Bankrupt || p.InJail || tx.s.Status == StatusFinished {
		return
	}
	if depth+1 >= maxCardChain {
		if tx.logger != nil {
			tx.logger.Warn("card chain limit reached, landing square left unresolved",
				zap.String("session_id", tx.s.ID),
				zap.String("player_id", p.ID),
				zap.Int("position", p.Position),
			)
		}
		return
	}
	tx.resolveSquare(p, depth+1)
}

// moveFestival puts the marker on the lander's best unmortgaged square.
func (tx *txn) moveFestival(p *Player) {
	s := tx.s
	best, bestRent := -1, -1
	for _, pos := range rules.Holdings(s.Squares, p.ID) {
		if s.Squares[pos].Mortgaged {
			continue
		}
		tmpl := tx.e.board.MustTemplate(pos)
		base := tmpl.RentAt(0)
		if tmpl.Category != board.CategoryProperty {
			base = rules.Rent(tx.e.board, s.Squares, pos, rules.RentInput{DiceSum: 7, FestivalPosition: -1}, tx.e.constants)
		}
		if base > bestRent {
			best, bestRent = pos, base
		}
	}
	if best < 0 || best == s.FestivalSquare {
		return
	}
	from := s.FestivalSquare
	s.FestivalSquare = best
	tx.emit(EventFestivalMoved, p.ID, map[string]interface{}{"from": from, "to": best})
}

// returnCard puts a kept card back at the bottom of its deck.
func (tx *txn) returnCard(cardID string) {
	card, ok := tx.e.interpreter.Catalog().Card(cardID)
	if !ok {
		if tx.logger != nil {
			tx.logger.Warn("held card not in catalog, dropping", zap.String("card_id", cardID))
		}
		return
	}
	tx.s.deck(card.Category).Return(cardID)
}

// The methods below satisfy cards.Table.

func (tx *txn) Board() *board.Board { return tx.e.board }

func (tx *txn) Position(playerID string) int {
	if p := tx.s.Player(playerID); p != nil {
		return p.Position
	}
	return 0
}

func (tx *txn) Balance(playerID string) int {
	if p := tx.s.Player(playerID); p != nil {
		return p.Cash
	}
	return 0
}

func (tx *txn) Active(playerID string) bool {
	p := tx.s.Player(playerID)
	return p != nil && !p.Bankrupt
}

func (tx *txn) Opponents(playerID string) []string {
	var out []string
	for _, p := range tx.s.ActivePlayers() {
		if p.ID != playerID {
			out = append(out, p.ID)
		}
	}
	return out
}

func (tx *txn) Holdings(playerID string) []board.Square {
	var out []board.Square
	for _, sq := range tx.s.Squares {
		if sq.Owner == playerID {
			out = append(out, sq)
		}
	}
	return out
}

func (tx *txn) Credit(playerID string, amount int) {
	if p := tx.s.Player(playerID); p != nil && amount > 0 {
		p.Cash += amount
	}
}

func (tx *txn) Transfer(from, to string, amount int) {
	payer, payee := tx.s.Player(from), tx.s.Player(to)
	if payer == nil || payee == nil || amount <= 0 {
		return
	}
	if amount > payer.Cash {
		amount = payer.Cash
	}
	payer.Cash -= amount
	payee.Cash += amount
}

// Advance moves forward and pays the bonus when start is crossed or reached.
func (tx *txn) Advance(playerID string, steps int) {
	p := tx.s.Player(playerID)
	if p == nil || steps <= 0 {
		return
	}
	size := tx.e.board.Size()
	if rules.PassesStart(p.Position, steps, size) {
		bonus := tx.e.constants.PassStartBonus
		p.Cash += bonus
		tx.emit(EventPassedStart, p.ID, map[string]interface{}{"bonus": bonus})
	}
	p.Position = (p.Position + steps) % size
}

func (tx *txn) Relocate(playerID string, position int) {
	if p := tx.s.Player(playerID); p != nil {
		p.Position = position
	}
}

func (tx *txn) SendToJail(playerID string) {
	if p := tx.s.Player(playerID); p != nil {
		tx.jail(p, "card")
	}
}

func (tx *txn) GrantJailCard(playerID, cardID string) {
	if p := tx.s.Player(playerID); p != nil {
		p.JailCards = append(p.JailCards, cardID)
	}
}

// SetRentModifier tags the square the current player now stands on.
func (tx *txn) SetRentModifier(multiplier int) {
	s := tx.s
	if p := s.Player(s.CurrentTurn); p != nil {
		s.RentModifier = multiplier
		s.ModifierSquare = p.Position
	}
}
