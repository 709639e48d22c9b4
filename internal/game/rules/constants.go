// Package rules holds the pure property-economy calculations: rent, mortgage
// values, monopoly membership, development eligibility, auction increments,
// net worth, trade validity and win conditions. Nothing here performs I/O or
// mutates its inputs.
package rules

import "errors"

var (
	ErrNotPurchasable    = errors.New("square cannot be owned")
	ErrNotDevelopable    = errors.New("square cannot be developed")
	ErrNotOwner          = errors.New("player does not own the square")
	ErrNoMonopoly        = errors.New("player does not own the whole colour group")
	ErrMortgaged         = errors.New("square is mortgaged")
	ErrGroupMortgaged    = errors.New("a square in the colour group is mortgaged")
	ErrMaxLevel          = errors.New("square is already at hotel level")
	ErrNoDevelopment     = errors.New("square has no development")
	ErrUnevenDevelopment = errors.New("development must stay even across the colour group")
	ErrBankSupply        = errors.New("bank has no houses or hotels left")
	ErrHasDevelopment    = errors.New("square has development")
	ErrAlreadyMortgaged  = errors.New("square is already mortgaged")
	ErrNotMortgaged      = errors.New("square is not mortgaged")
)

// Constants parameterise the economy. Values mirror the game config.
type Constants struct {
	StartingCash        int
	PassStartBonus      int
	JailFine            int
	MaxJailTurns        int
	MaxDoubles          int
	MonopolyMultiplier  int
	FestivalMultiplier  int
	HouseSupply         int
	HotelSupply         int
	RailroadRent        []int
	UtilityMultipliers  []int
	AuctionStartPercent int
	UnmortgagePercent   int
}

// DefaultConstants returns the standard economy.
func DefaultConstants() Constants {
	return Constants{
		StartingCash:        1500,
		PassStartBonus:      200,
		JailFine:            50,
		MaxJailTurns:        3,
		MaxDoubles:          3,
		MonopolyMultiplier:  2,
		FestivalMultiplier:  2,
		HouseSupply:         32,
		HotelSupply:         12,
		RailroadRent:        []int{25, 50, 100, 200},
		UtilityMultipliers:  []int{4, 10},
		AuctionStartPercent: 10,
		UnmortgagePercent:   110,
	}
}
