// Package cards implements the chance and community decks: a closed set of
// card effects, the YAML catalog they are loaded from, cyclic decks and the
// interpreter that applies a drawn card to a session.
package cards

import (
	"errors"
	"fmt"

	"github.com/estate-game/estate-server/internal/game/board"
)

// ErrUnknownEffect is returned for descriptors that name no known effect.
var ErrUnknownEffect = errors.New("unknown card effect")

// Effect is the closed set of card effects. Only types in this package
// implement it, so the interpreter's type switch is exhaustive.
type Effect interface {
	effect()
	Kind() string
}

type Collect struct{ Amount int }
type Pay struct{ Amount int }
type MoveTo struct{ Position int }
type MoveBy struct{ Offset int }

// MoveToNearest advances to the next square of Category. RentMultiplier is
// attached to the session for the rent owed on arrival.
type MoveToNearest struct {
	Category       board.Category
	RentMultiplier int
}

type GoToJail struct{}

// JailRelease is the keepable card. It leaves the deck until used.
type JailRelease struct{}

type Repairs struct {
	PerHouse int
	PerHotel int
}

type PayEachPlayer struct{ Amount int }
type CollectFromEachPlayer struct{ Amount int }

// NoOp stands in for a card whose descriptor could not be parsed.
type NoOp struct{ Reason string }

func (Collect) effect()               {}
func (Pay) effect()                   {}
func (MoveTo) effect()                {}
func (MoveBy) effect()                {}
func (MoveToNearest) effect()         {}
func (GoToJail) effect()              {}
func (JailRelease) effect()           {}
func (Repairs) effect()               {}
func (PayEachPlayer) effect()         {}
func (CollectFromEachPlayer) effect() {}
func (NoOp) effect()                  {}

func (Collect) Kind() string               { return "collect" }
func (Pay) Kind() string                   { return "pay" }
func (MoveTo) Kind() string                { return "move_to" }
func (MoveBy) Kind() string                { return "move_by" }
func (MoveToNearest) Kind() string         { return "move_to_nearest" }
func (GoToJail) Kind() string              { return "go_to_jail" }
func (JailRelease) Kind() string           { return "jail_release" }
func (Repairs) Kind() string               { return "repairs" }
func (PayEachPlayer) Kind() string         { return "pay_each_player" }
func (CollectFromEachPlayer) Kind() string { return "collect_from_each_player" }
func (NoOp) Kind() string                  { return "noop" }

// Descriptor is the stored shape of an effect.
type Descriptor struct {
	Type       string `yaml:"type" json:"type"`
	Amount     int    `yaml:"amount,omitempty" json:"amount,omitempty"`
	Position   *int   `yaml:"position,omitempty" json:"position,omitempty"`
	Offset     int    `yaml:"offset,omitempty" json:"offset,omitempty"`
	Category   string `yaml:"category,omitempty" json:"category,omitempty"`
	Multiplier int    `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	PerHouse   int    `yaml:"per_house,omitempty" json:"per_house,omitempty"`
	PerHotel   int    `yaml:"per_hotel,omitempty" json:"per_hotel,omitempty"`
}

// ParseEffect converts a descriptor into an Effect.
func ParseEffect(d Descriptor) (Effect, error) {
	switch d.Type {
	case "collect":
		if d.Amount <= 0 {
			return nil, fmt.Errorf("collect needs a positive amount, got %d", d.Amount)
		}
		return Collect{Amount: d.Amount}, nil
	case "pay":
		if d.Amount <= 0 {
			return nil, fmt.Errorf("pay needs a positive amount, got %d", d.Amount)
		}
		return Pay{Amount: d.Amount}, nil
	case "move_to":
		if d.Position == nil || *d.Position < 0 {
			return nil, errors.New("move_to needs a position")
		}
		return MoveTo{Position: *d.Position}, nil
	case "move_by":
		if d.Offset == 0 {
			return nil, errors.New("move_by needs a non-zero offset")
		}
		return MoveBy{Offset: d.Offset}, nil
	case "move_to_nearest":
		if d.Category == "" {
			return nil, errors.New("move_to_nearest needs a category")
		}
		mult := d.Multiplier
		if mult < 1 {
			mult = 1
		}
		return MoveToNearest{Category: board.Category(d.Category), RentMultiplier: mult}, nil
	case "go_to_jail":
		return GoToJail{}, nil
	case "jail_release":
		return JailRelease{}, nil
	case "repairs":
		if d.PerHouse < 0 || d.PerHotel < 0 {
			return nil, errors.New("repairs needs non-negative levies")
		}
		return Repairs{PerHouse: d.PerHouse, PerHotel: d.PerHotel}, nil
	case "pay_each_player":
		if d.Amount <= 0 {
			return nil, fmt.Errorf("pay_each_player needs a positive amount, got %d", d.Amount)
		}
		return PayEachPlayer{Amount: d.Amount}, nil
	case "collect_from_each_player":
		if d.Amount <= 0 {
			return nil, fmt.Errorf("collect_from_each_player needs a positive amount, got %d", d.Amount)
		}
		return CollectFromEachPlayer{Amount: d.Amount}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, d.Type)
	}
}
