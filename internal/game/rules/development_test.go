package rules

import (
	"errors"
	"testing"

	"github.com/estate-game/estate-server/internal/game/board"
)

func TestCanBuildRequiresMonopoly(t *testing.T) {
	b := board.Default()
	c := DefaultConstants()
	squares := b.NewSquares()
	ownAll(squares, "p1", 20, 22)

	if err := CanBuild(b, squares, 20, "p1", c); !errors.Is(err, ErrNoMonopoly) {
		t.Fatalf("expected ErrNoMonopoly, got %v", err)
	}
	squares[23].Owner = "p1"
	if err := CanBuild(b, squares, 20, "p1", c); err != nil {
		t.Fatalf("expected build to be allowed, got %v", err)
	}
}

func TestCanBuildEvenRule(t *testing.T) {
	b := board.Default()
	c := DefaultConstants()
	squares := b.NewSquares()
	ownAll(squares, "p1", 1, 3)
	squares[1].Level = 1

	if err := CanBuild(b, squares, 1, "p1", c); !errors.Is(err, ErrUnevenDevelopment) {
		t.Fatalf("expected ErrUnevenDevelopment, got %v", err)
	}
	if err := CanBuild(b, squares, 3, "p1", c); err != nil {
		t.Fatalf("building on the lower square should be allowed, got %v", err)
	}
}

func TestCanBuildRejectsMortgagedAndHotel(t *testing.T) {
	b := board.Default()
	c := DefaultConstants()
	squares := b.NewSquares()
	ownAll(squares, "p1", 1, 3)
	squares[3].Mortgaged = true

	if err := CanBuild(b, squares, 3, "p1", c); !errors.Is(err, ErrMortgaged) {
		t.Fatalf("expected ErrMortgaged, got %v", err)
	}
	if err := CanBuild(b, squares, 1, "p1", c); !errors.Is(err, ErrGroupMortgaged) {
		t.Fatalf("expected ErrGroupMortgaged, got %v", err)
	}

	squares[3].Mortgaged = false
	squares[1].Level = board.MaxLevel
	squares[3].Level = board.MaxLevel
	if err := CanBuild(b, squares, 1, "p1", c); !errors.Is(err, ErrMaxLevel) {
		t.Fatalf("expected ErrMaxLevel, got %v", err)
	}
}

func TestCanBuildBankSupply(t *testing.T) {
	b := board.Default()
	c := DefaultConstants()
	c.HouseSupply = 2
	squares := b.NewSquares()
	ownAll(squares, "p1", 1, 3)
	squares[1].Level = 1
	squares[3].Level = 1

	if err := CanBuild(b, squares, 1, "p1", c); !errors.Is(err, ErrBankSupply) {
		t.Fatalf("expected ErrBankSupply, got %v", err)
	}
}

func TestCanSellReverseEvenRule(t *testing.T) {
	b := board.Default()
	c := DefaultConstants()
	squares := b.NewSquares()
	ownAll(squares, "p1", 1, 3)
	squares[1].Level = 2
	squares[3].Level = 1

	if err := CanSell(b, squares, 3, "p1", c); !errors.Is(err, ErrUnevenDevelopment) {
		t.Fatalf("expected ErrUnevenDevelopment, got %v", err)
	}
	if err := CanSell(b, squares, 1, "p1", c); err != nil {
		t.Fatalf("selling from the higher square should be allowed, got %v", err)
	}
	squares[1].Level = 0
	squares[3].Level = 0
	if err := CanSell(b, squares, 1, "p1", c); !errors.Is(err, ErrNoDevelopment) {
		t.Fatalf("expected ErrNoDevelopment, got %v", err)
	}
}

func TestBankSupplyCounts(t *testing.T) {
	b := board.Default()
	squares := b.NewSquares()
	squares[1].Level = 3
	squares[3].Level = board.MaxLevel
	squares[6].Level = 1

	houses, hotels := BankSupply(squares)
	if houses != 4 || hotels != 1 {
		t.Fatalf("expected 4 houses and 1 hotel, got %d and %d", houses, hotels)
	}
}
