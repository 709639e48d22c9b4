package rules

import (
	"github.com/estate-game/estate-server/internal/game/board"
)

// BankSupply returns the houses and hotels currently on the board.
func BankSupply(squares []board.Square) (houses, hotels int) {
	for _, sq := range squares {
		switch {
		case sq.Level == board.MaxLevel:
			hotels++
		case sq.Level > 0:
			houses += sq.Level
		}
	}
	return houses, hotels
}

func groupLevels(b *board.Board, squares []board.Square, group string) (min, max int) {
	positions := b.Group(group)
	min, max = board.MaxLevel, 0
	for _, p := range positions {
		lvl := squares[p].Level
		if lvl < min {
			min = lvl
		}
		if lvl > max {
			max = lvl
		}
	}
	return min, max
}

// CanBuild checks every development precondition for adding one level at pos:
// monopoly, no mortgages in the group, level below hotel, the even-development
// rule and the bank's house/hotel supply.
func CanBuild(b *board.Board, squares []board.Square, pos int, owner string, c Constants) error {
	tmpl, err := b.Template(pos)
	if err != nil {
		return err
	}
	if tmpl.Category != board.CategoryProperty {
		return ErrNotDevelopable
	}
	sq := squares[pos]
	if sq.Owner != owner {
		return ErrNotOwner
	}
	if !HasMonopoly(b, squares, tmpl.Group, owner) {
		return ErrNoMonopoly
	}
	if sq.Mortgaged {
		return ErrMortgaged
	}
	for _, p := range b.Group(tmpl.Group) {
		if squares[p].Mortgaged {
			return ErrGroupMortgaged
		}
	}
	if sq.Level >= board.MaxLevel {
		return ErrMaxLevel
	}
	if min, _ := groupLevels(b, squares, tmpl.Group); sq.Level > min {
		return ErrUnevenDevelopment
	}

	houses, hotels := BankSupply(squares)
	if sq.Level == board.MaxLevel-1 {
		if c.HotelSupply > 0 && hotels >= c.HotelSupply {
			return ErrBankSupply
		}
	} else if c.HouseSupply > 0 && houses >= c.HouseSupply {
		return ErrBankSupply
	}
	return nil
}

// CanSell checks that one level of development may be removed from pos.
// Selling must keep the group even: only squares at the group's highest level
// may be reduced. Breaking a hotel back to houses needs the houses in supply.
func CanSell(b *board.Board, squares []board.Square, pos int, owner string, c Constants) error {
	tmpl, err := b.Template(pos)
	if err != nil {
		return err
	}
	if tmpl.Category != board.CategoryProperty {
		return ErrNotDevelopable
	}
	sq := squares[pos]
	if sq.Owner != owner {
		return ErrNotOwner
	}
	if sq.Level == 0 {
		return ErrNoDevelopment
	}
	if _, max := groupLevels(b, squares, tmpl.Group); sq.Level < max {
		return ErrUnevenDevelopment
	}
	if sq.Level == board.MaxLevel && c.HouseSupply > 0 {
		houses, _ := BankSupply(squares)
		if houses+board.MaxLevel-1 > c.HouseSupply {
			return ErrBankSupply
		}
	}
	return nil
}
