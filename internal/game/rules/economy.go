package rules

import (
	"github.com/estate-game/estate-server/internal/game/board"
)

// RentInput carries the session context a rent calculation depends on.
type RentInput struct {
	DiceSum int
	// FestivalPosition is the square hosting the festival, or -1.
	FestivalPosition int
	// Modifier multiplies the final rent when a card attached one. Values <= 1 are ignored.
	Modifier int
}

// HasMonopoly reports whether owner holds every square of a colour group.
func HasMonopoly(b *board.Board, squares []board.Square, group, owner string) bool {
	if owner == "" {
		return false
	}
	positions := b.Group(group)
	if len(positions) == 0 {
		return false
	}
	for _, pos := range positions {
		if squares[pos].Owner != owner {
			return false
		}
	}
	return true
}

// OwnedCount counts the squares of a category held by owner.
func OwnedCount(b *board.Board, squares []board.Square, owner string, category board.Category) int {
	count := 0
	for _, pos := range b.PositionsOf(category) {
		if squares[pos].Owner == owner {
			count++
		}
	}
	return count
}

// Rent computes what a visitor owes the owner of pos. Unowned or mortgaged
// squares charge nothing.
func Rent(b *board.Board, squares []board.Square, pos int, in RentInput, c Constants) int {
	tmpl, err := b.Template(pos)
	if err != nil {
		return 0
	}
	sq := squares[pos]
	if !sq.Owned() || sq.Mortgaged {
		return 0
	}

	rent := 0
	switch tmpl.Category {
	case board.CategoryProperty:
		if sq.Level > 0 {
			rent = tmpl.RentAt(sq.Level)
		} else {
			rent = tmpl.RentAt(0)
			if HasMonopoly(b, squares, tmpl.Group, sq.Owner) {
				rent *= c.MonopolyMultiplier
			}
		}
	case board.CategoryRailroad:
		rent = stepValue(c.RailroadRent, OwnedCount(b, squares, sq.Owner, board.CategoryRailroad))
	case board.CategoryUtility:
		rent = stepValue(c.UtilityMultipliers, OwnedCount(b, squares, sq.Owner, board.CategoryUtility)) * in.DiceSum
	default:
		return 0
	}

	if in.FestivalPosition == pos && c.FestivalMultiplier > 1 {
		rent *= c.FestivalMultiplier
	}
	if in.Modifier > 1 {
		rent *= in.Modifier
	}
	return rent
}

func stepValue(table []int, count int) int {
	if count <= 0 || len(table) == 0 {
		return 0
	}
	if count > len(table) {
		count = len(table)
	}
	return table[count-1]
}

// MortgageValue is floor(price / 2).
func MortgageValue(price int) int {
	return price / 2
}

// UnmortgageCost is floor(mortgage value × 1.1).
func UnmortgageCost(price int, c Constants) int {
	percent := c.UnmortgagePercent
	if percent <= 0 {
		percent = 110
	}
	return MortgageValue(price) * percent / 100
}

// SellValue is what the bank pays back for one level of development.
func SellValue(tmpl board.SquareTemplate) int {
	return tmpl.BuildCost / 2
}

// NetWorth = cash + Σ(unmortgaged price + level × build cost)
// − Σ(unmortgage cost − mortgage value) over mortgaged holdings.
func NetWorth(b *board.Board, squares []board.Square, owner string, cash int, c Constants) int {
	worth := cash
	for _, sq := range squares {
		if sq.Owner != owner {
			continue
		}
		tmpl := b.MustTemplate(sq.Position)
		if sq.Mortgaged {
			worth -= UnmortgageCost(tmpl.Price, c) - MortgageValue(tmpl.Price)
			continue
		}
		worth += tmpl.Price + sq.Level*tmpl.BuildCost
	}
	return worth
}

// LiquidationValue is the most cash owner could raise by selling every
// development and mortgaging every square.
func LiquidationValue(b *board.Board, squares []board.Square, owner string) int {
	total := 0
	for _, sq := range squares {
		if sq.Owner != owner || sq.Mortgaged {
			continue
		}
		tmpl := b.MustTemplate(sq.Position)
		total += sq.Level*SellValue(tmpl) + MortgageValue(tmpl.Price)
	}
	return total
}

// Holdings returns the positions owned by owner in board order.
func Holdings(squares []board.Square, owner string) []int {
	var out []int
	for _, sq := range squares {
		if sq.Owner == owner {
			out = append(out, sq.Position)
		}
	}
	return out
}

// PassesStart reports whether moving steps forward from pos crosses or lands on start.
func PassesStart(from, steps, size int) bool {
	if steps <= 0 || size <= 0 {
		return false
	}
	return from+steps >= size
}

// IsGameOver reports whether the session should finish.
func IsGameOver(activePlayers int) bool {
	return activePlayers <= 1
}

// CanMortgage checks that owner may mortgage pos.
func CanMortgage(b *board.Board, squares []board.Square, pos int, owner string) error {
	tmpl, err := b.Template(pos)
	if err != nil {
		return err
	}
	if !tmpl.Category.Purchasable() {
		return ErrNotPurchasable
	}
	sq := squares[pos]
	if sq.Owner != owner {
		return ErrNotOwner
	}
	if sq.Mortgaged {
		return ErrAlreadyMortgaged
	}
	if sq.Level > 0 {
		return ErrHasDevelopment
	}
	if tmpl.Category == board.CategoryProperty {
		for _, p := range b.Group(tmpl.Group) {
			if squares[p].Level > 0 {
				return ErrHasDevelopment
			}
		}
	}
	return nil
}

// CanUnmortgage checks that owner may lift the mortgage on pos.
func CanUnmortgage(b *board.Board, squares []board.Square, pos int, owner string) error {
	if _, err := b.Template(pos); err != nil {
		return err
	}
	sq := squares[pos]
	if sq.Owner != owner {
		return ErrNotOwner
	}
	if !sq.Mortgaged {
		return ErrNotMortgaged
	}
	return nil
}
