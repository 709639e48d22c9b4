package cards

import (
	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game/board"
)

// Table is the view of a session the interpreter mutates. Every call happens
// inside the session's unit of work, so effects commit or roll back together
// with the draw.
type Table interface {
	Board() *board.Board
	Position(playerID string) int
	Balance(playerID string) int
	Active(playerID string) bool
	Opponents(playerID string) []string
	Holdings(playerID string) []board.Square

	// Credit pays a bank-originated amount.
	Credit(playerID string, amount int)
	// Transfer moves money the payer is known to have.
	Transfer(from, to string, amount int)
	// Charge is a required debit. creditor is empty for the bank. The table
	// liquidates or bankrupts the debtor if the balance cannot cover it.
	Charge(debtor, creditor string, amount int)

	// Advance moves forward, paying the pass-start bonus on a wrap.
	Advance(playerID string, steps int)
	// Relocate moves without any bonus.
	Relocate(playerID string, position int)
	SendToJail(playerID string)
	GrantJailCard(playerID, cardID string)
	SetRentModifier(multiplier int)
}

// Outcome summarises what a card did.
type Outcome struct {
	CardID   string `json:"card_id"`
	Deck     string `json:"deck"`
	Text     string `json:"text"`
	Effect   string `json:"effect"`
	Amount   int    `json:"amount,omitempty"`
	Moved    bool   `json:"moved"`
	Position int    `json:"position"`
	Kept     bool   `json:"kept,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
}

// Interpreter applies cards from a catalog.
type Interpreter struct {
	catalog *Catalog
	logger  *zap.Logger
}

func NewInterpreter(catalog *Catalog, logger *zap.Logger) *Interpreter {
	return &Interpreter{catalog: catalog, logger: logger}
}

// Catalog returns the catalog the interpreter draws from.
func (in *Interpreter) Catalog() *Catalog {
	return in.catalog
}

// Draw takes the front card of deck, applies it, and puts it at the back
// unless the player keeps it. ok is false when the deck is empty.
func (in *Interpreter) Draw(deck *Deck, table Table, playerID string) (Outcome, bool) {
	id, ok := deck.Draw()
	if !ok {
		return Outcome{}, false
	}
	card, known := in.catalog.Card(id)
	if !known {
		if in.logger != nil {
			in.logger.Warn("deck holds unknown card, skipping", zap.String("card_id", id))
		}
		deck.Return(id)
		return Outcome{CardID: id, Deck: string(deck.Category), Effect: NoOp{}.Kind(), Skipped: true}, true
	}

	out := in.Apply(table, playerID, card)
	if !card.Keepable() {
		deck.Return(id)
	}
	return out, true
}

// Apply executes one card's effect for playerID.
func (in *Interpreter) Apply(table Table, playerID string, card Card) Outcome {
	out := Outcome{
		CardID: card.ID,
		Deck:   string(card.Category),
		Text:   card.Text,
		Effect: card.Effect.Kind(),
	}
	size := table.Board().Size()

	switch eff := card.Effect.(type) {
	case Collect:
		table.Credit(playerID, eff.Amount)
		out.Amount = eff.Amount
	case Pay:
		table.Charge(playerID, "", eff.Amount)
		out.Amount = eff.Amount
	case MoveTo:
		from := table.Position(playerID)
		steps := ((eff.Position-from)%size + size) % size
		table.Advance(playerID, steps)
		out.Moved = true
	case MoveBy:
		if eff.Offset > 0 {
			table.Advance(playerID, eff.Offset)
		} else {
			from := table.Position(playerID)
			table.Relocate(playerID, ((from+eff.Offset)%size+size)%size)
		}
		out.Moved = true
	case MoveToNearest:
		_, distance, found := table.Board().NextOfCategory(table.Position(playerID), eff.Category)
		if !found {
			out.Skipped = true
			break
		}
		table.Advance(playerID, distance)
		if eff.RentMultiplier > 1 {
			table.SetRentModifier(eff.RentMultiplier)
		}
		out.Moved = true
	case GoToJail:
		table.SendToJail(playerID)
	case JailRelease:
		table.GrantJailCard(playerID, card.ID)
		out.Kept = true
	case Repairs:
		houses, hotels := 0, 0
		for _, sq := range table.Holdings(playerID) {
			if sq.Level == board.MaxLevel {
				hotels++
			} else {
				houses += sq.Level
			}
		}
		total := houses*eff.PerHouse + hotels*eff.PerHotel
		if total > 0 {
			table.Charge(playerID, "", total)
		}
		out.Amount = total
	case PayEachPlayer:
		for _, opp := range table.Opponents(playerID) {
			if !table.Active(playerID) {
				break
			}
			table.Charge(playerID, opp, eff.Amount)
			out.Amount += eff.Amount
		}
	case CollectFromEachPlayer:
		for _, opp := range table.Opponents(playerID) {
			amount := eff.Amount
			if bal := table.Balance(opp); bal < amount {
				amount = bal
			}
			if amount > 0 {
				table.Transfer(opp, playerID, amount)
				out.Amount += amount
			}
		}
	case NoOp:
		if in.logger != nil {
			in.logger.Warn("drew a card with an unsupported effect",
				zap.String("card_id", card.ID),
				zap.String("reason", eff.Reason),
			)
		}
		out.Skipped = true
	}

	out.Position = table.Position(playerID)
	return out
}
