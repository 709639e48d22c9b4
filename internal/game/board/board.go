package board

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category identifies what happens when a player lands on a square.
type Category string

const (
	CategoryStart       Category = "start"
	CategoryProperty    Category = "property"
	CategoryRailroad    Category = "railroad"
	CategoryUtility     Category = "utility"
	CategoryTax         Category = "tax"
	CategoryChance      Category = "chance"
	CategoryCommunity   Category = "community"
	CategoryJail        Category = "jail"
	CategorySendToJail  Category = "send_to_jail"
	CategoryFestival    Category = "festival"
	CategoryFreeParking Category = "free_parking"
)

var knownCategories = map[Category]bool{
	CategoryStart:       true,
	CategoryProperty:    true,
	CategoryRailroad:    true,
	CategoryUtility:     true,
	CategoryTax:         true,
	CategoryChance:      true,
	CategoryCommunity:   true,
	CategoryJail:        true,
	CategorySendToJail:  true,
	CategoryFestival:    true,
	CategoryFreeParking: true,
}

// Purchasable reports whether squares of this category can be owned.
func (c Category) Purchasable() bool {
	return c == CategoryProperty || c == CategoryRailroad || c == CategoryUtility
}

// MaxLevel is the hotel level. Levels 1-3 are houses.
const MaxLevel = 4

var (
	ErrUnknownPosition = errors.New("unknown board position")
	ErrInvalidBoard    = errors.New("invalid board definition")
)

// SquareTemplate is the immutable, globally shared definition of a square.
type SquareTemplate struct {
	Position  int      `yaml:"position" json:"position"`
	Name      string   `yaml:"name" json:"name"`
	Category  Category `yaml:"category" json:"category"`
	Group     string   `yaml:"group" json:"group,omitempty"`
	Price     int      `yaml:"price" json:"price,omitempty"`
	Rent      []int    `yaml:"rent" json:"rent,omitempty"`
	BuildCost int      `yaml:"build_cost" json:"build_cost,omitempty"`
	TaxAmount int      `yaml:"tax" json:"tax,omitempty"`
}

// RentAt returns the rent schedule entry for a development level.
func (t SquareTemplate) RentAt(level int) int {
	if level < 0 || level >= len(t.Rent) {
		return 0
	}
	return t.Rent[level]
}

// Board is an ordered, read-only list of square templates plus derived indexes.
type Board struct {
	templates []SquareTemplate
	groups    map[string][]int
	jail      int
	start     int
}

//go:embed board.yaml
var defaultBoardYAML []byte

type boardFile struct {
	Squares []SquareTemplate `yaml:"squares"`
}

// Default returns the embedded 32-square board.
func Default() *Board {
	b, err := Parse(defaultBoardYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded board is invalid: %v", err))
	}
	return b
}

// Parse decodes a YAML board definition.
func Parse(data []byte) (*Board, error) {
	var file boardFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode board: %w", err)
	}
	return New(file.Squares)
}

// New validates templates and builds a Board. Templates are sorted by position
// and positions must form the contiguous range 0..N-1.
func New(templates []SquareTemplate) (*Board, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: no squares", ErrInvalidBoard)
	}

	sorted := make([]SquareTemplate, len(templates))
	copy(sorted, templates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	b := &Board{
		templates: sorted,
		groups:    make(map[string][]int),
		jail:      -1,
		start:     -1,
	}

	for i, t := range sorted {
		if t.Position != i {
			return nil, fmt.Errorf("%w: expected position %d, got %d", ErrInvalidBoard, i, t.Position)
		}
		if !knownCategories[t.Category] {
			return nil, fmt.Errorf("%w: square %d has unknown category %q", ErrInvalidBoard, i, t.Category)
		}
		switch t.Category {
		case CategoryProperty:
			if t.Group == "" || t.Price <= 0 {
				return nil, fmt.Errorf("%w: property %d needs a group and price", ErrInvalidBoard, i)
			}
			if len(t.Rent) != MaxLevel+1 {
				return nil, fmt.Errorf("%w: property %d needs %d rent entries", ErrInvalidBoard, i, MaxLevel+1)
			}
			b.groups[t.Group] = append(b.groups[t.Group], i)
		case CategoryRailroad, CategoryUtility:
			if t.Price <= 0 {
				return nil, fmt.Errorf("%w: square %d needs a price", ErrInvalidBoard, i)
			}
		case CategoryJail:
			if b.jail < 0 {
				b.jail = i
			}
		case CategoryStart:
			if b.start < 0 {
				b.start = i
			}
		}
	}

	if b.jail < 0 {
		return nil, fmt.Errorf("%w: no jail square", ErrInvalidBoard)
	}
	if b.start < 0 {
		b.start = 0
	}

	return b, nil
}

// Size returns the number of squares.
func (b *Board) Size() int {
	return len(b.templates)
}

// Template returns the template at a position.
func (b *Board) Template(pos int) (SquareTemplate, error) {
	if pos < 0 || pos >= len(b.templates) {
		return SquareTemplate{}, fmt.Errorf("%w: %d", ErrUnknownPosition, pos)
	}
	return b.templates[pos], nil
}

// MustTemplate is Template for positions already known to be valid.
func (b *Board) MustTemplate(pos int) SquareTemplate {
	t, err := b.Template(pos)
	if err != nil {
		panic(err)
	}
	return t
}

// Templates returns a copy of all templates in position order.
func (b *Board) Templates() []SquareTemplate {
	out := make([]SquareTemplate, len(b.templates))
	copy(out, b.templates)
	return out
}

// Group returns the positions belonging to a colour group.
func (b *Board) Group(name string) []int {
	return append([]int(nil), b.groups[name]...)
}

// Groups returns all colour group names, sorted.
func (b *Board) Groups() []string {
	names := make([]string, 0, len(b.groups))
	for name := range b.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JailPosition returns the jail square.
func (b *Board) JailPosition() int {
	return b.jail
}

// StartPosition returns the start square.
func (b *Board) StartPosition() int {
	return b.start
}

// PositionsOf returns every square of a category in position order.
func (b *Board) PositionsOf(category Category) []int {
	var out []int
	for _, t := range b.templates {
		if t.Category == category {
			out = append(out, t.Position)
		}
	}
	return out
}

// NextOfCategory finds the nearest square of a category strictly ahead of
// from, wrapping around the board. distance is the forward step count.
func (b *Board) NextOfCategory(from int, category Category) (pos int, distance int, ok bool) {
	size := len(b.templates)
	for step := 1; step <= size; step++ {
		candidate := (from + step) % size
		if b.templates[candidate].Category == category {
			return candidate, step, true
		}
	}
	return 0, 0, false
}

// Square is the per-session mutable state of one board position.
// Owner is empty when the bank holds the square.
type Square struct {
	Position  int    `json:"position"`
	Owner     string `json:"owner,omitempty"`
	Level     int    `json:"level"`
	Mortgaged bool   `json:"mortgaged"`
}

// Owned reports whether a player holds the square.
func (s Square) Owned() bool {
	return s.Owner != ""
}

// Release returns the square to the bank, clearing development and mortgage.
func (s *Square) Release() {
	s.Owner = ""
	s.Level = 0
	s.Mortgaged = false
}

// NewSquares creates unowned instances for every template on the board.
func (b *Board) NewSquares() []Square {
	squares := make([]Square, len(b.templates))
	for i := range squares {
		squares[i] = Square{Position: i}
	}
	return squares
}
