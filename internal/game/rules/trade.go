package rules

import (
	"errors"
	"fmt"

	"github.com/estate-game/estate-server/internal/game/board"
)

var (
	ErrInvalidTrade          = errors.New("invalid trade")
	ErrInvalidTradeSelf      = fmt.Errorf("%w: cannot trade with yourself", ErrInvalidTrade)
	ErrInvalidTradeNegative  = fmt.Errorf("%w: cash amounts must not be negative", ErrInvalidTrade)
	ErrInvalidTradeBalance   = fmt.Errorf("%w: cash exceeds balance", ErrInvalidTrade)
	ErrInvalidTradeOwnership = fmt.Errorf("%w: square not owned by the offering side", ErrInvalidTrade)
	ErrInvalidTradeDeveloped = fmt.Errorf("%w: developed squares cannot be traded", ErrInvalidTrade)
	ErrInvalidTradeEmpty     = fmt.Errorf("%w: nothing offered or requested", ErrInvalidTrade)
)

// TradeTerms describes both sides of a proposed exchange.
type TradeTerms struct {
	From           string
	To             string
	OfferCash      int
	RequestCash    int
	OfferSquares   []int
	RequestSquares []int
}

// ValidateTrade checks terms against the current balances and board.
func ValidateTrade(b *board.Board, squares []board.Square, terms TradeTerms, fromCash, toCash int) error {
	if terms.From == "" || terms.From == terms.To {
		return ErrInvalidTradeSelf
	}
	if terms.OfferCash < 0 || terms.RequestCash < 0 {
		return ErrInvalidTradeNegative
	}
	if terms.OfferCash == 0 && terms.RequestCash == 0 && len(terms.OfferSquares) == 0 && len(terms.RequestSquares) == 0 {
		return ErrInvalidTradeEmpty
	}
	if terms.OfferCash > fromCash || terms.RequestCash > toCash {
		return ErrInvalidTradeBalance
	}
	if err := checkTradeSquares(b, squares, terms.OfferSquares, terms.From); err != nil {
		return err
	}
	return checkTradeSquares(b, squares, terms.RequestSquares, terms.To)
}

func checkTradeSquares(b *board.Board, squares []board.Square, positions []int, owner string) error {
	seen := make(map[int]bool, len(positions))
	for _, pos := range positions {
		if _, err := b.Template(pos); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTradeOwnership, err)
		}
		if seen[pos] {
			return fmt.Errorf("%w: square %d listed twice", ErrInvalidTrade, pos)
		}
		seen[pos] = true
		if squares[pos].Owner != owner {
			return ErrInvalidTradeOwnership
		}
		if squares[pos].Level > 0 {
			return ErrInvalidTradeDeveloped
		}
	}
	return nil
}
