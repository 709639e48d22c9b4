package cards

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Category names a deck.
type Category string

const (
	CategoryChance    Category = "chance"
	CategoryCommunity Category = "community"
)

// ErrUnknownCard is returned when a persisted deck refers to a card the
// catalog does not know.
var ErrUnknownCard = errors.New("unknown card")

// Card is one catalog entry.
type Card struct {
	ID         string
	Category   Category
	Text       string
	Descriptor Descriptor
	Effect     Effect
}

// Keepable reports whether the drawer holds on to the card.
func (c Card) Keepable() bool {
	_, ok := c.Effect.(JailRelease)
	return ok
}

type cardEntry struct {
	ID     string     `yaml:"id"`
	Text   string     `yaml:"text"`
	Effect Descriptor `yaml:"effect"`
}

type catalogFile struct {
	Chance    []cardEntry `yaml:"chance"`
	Community []cardEntry `yaml:"community"`
}

// Catalog is the immutable set of cards shared by every session.
type Catalog struct {
	cards map[string]Card
	order map[Category][]string
}

//go:embed cards.yaml
var defaultCatalogYAML []byte

// DefaultCatalog loads the embedded catalog.
func DefaultCatalog(logger *zap.Logger) *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML, logger)
	if err != nil {
		panic(fmt.Sprintf("embedded card catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog decodes a YAML catalog. Entries whose effect cannot be parsed
// are kept as NoOp cards and logged, so one bad card never blocks a deck.
func ParseCatalog(data []byte, logger *zap.Logger) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode card catalog: %w", err)
	}

	c := &Catalog{
		cards: make(map[string]Card),
		order: make(map[Category][]string),
	}
	add := func(category Category, entries []cardEntry) error {
		for _, e := range entries {
			if e.ID == "" {
				return fmt.Errorf("%s card without id", category)
			}
			if _, dup := c.cards[e.ID]; dup {
				return fmt.Errorf("duplicate card id %q", e.ID)
			}
			eff, err := ParseEffect(e.Effect)
			if err != nil {
				if logger != nil {
					logger.Warn("card effect not recognised, card will be a no-op",
						zap.String("card_id", e.ID),
						zap.Error(err),
					)
				}
				eff = NoOp{Reason: err.Error()}
			}
			c.cards[e.ID] = Card{ID: e.ID, Category: category, Text: e.Text, Descriptor: e.Effect, Effect: eff}
			c.order[category] = append(c.order[category], e.ID)
		}
		return nil
	}
	if err := add(CategoryChance, file.Chance); err != nil {
		return nil, err
	}
	if err := add(CategoryCommunity, file.Community); err != nil {
		return nil, err
	}
	return c, nil
}

// Card looks up a card by id.
func (c *Catalog) Card(id string) (Card, bool) {
	card, ok := c.cards[id]
	return card, ok
}

// IDs returns the catalog order of a category.
func (c *Catalog) IDs(category Category) []string {
	return append([]string(nil), c.order[category]...)
}

// NewDeck builds a deck of every card in category, shuffled with rng when
// rng is non-nil.
func (c *Catalog) NewDeck(category Category, rng *rand.Rand) *Deck {
	d := &Deck{Category: category, Order: c.IDs(category)}
	if rng != nil {
		d.Shuffle(rng)
	}
	return d
}

// Deck is a cyclic draw pile. Order is exported so sessions can persist it.
type Deck struct {
	Category Category
	Order    []string
}

// Shuffle permutes the remaining cards.
func (d *Deck) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.Order), func(i, j int) { d.Order[i], d.Order[j] = d.Order[j], d.Order[i] })
}

// Draw removes and returns the front card id.
func (d *Deck) Draw() (string, bool) {
	if len(d.Order) == 0 {
		return "", false
	}
	id := d.Order[0]
	d.Order = append([]string(nil), d.Order[1:]...)
	return id, true
}

// Return appends a card to the back of the deck.
func (d *Deck) Return(id string) {
	d.Order = append(d.Order, id)
}

// Len is the number of cards left.
func (d *Deck) Len() int {
	return len(d.Order)
}

// Clone deep-copies the deck.
func (d *Deck) Clone() *Deck {
	if d == nil {
		return nil
	}
	return &Deck{Category: d.Category, Order: append([]string(nil), d.Order...)}
}

// Validate checks that every id in the deck belongs to the catalog.
func (d *Deck) Validate(c *Catalog) error {
	for _, id := range d.Order {
		card, ok := c.Card(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCard, id)
		}
		if card.Category != d.Category {
			return fmt.Errorf("card %s belongs to %s, not %s", id, card.Category, d.Category)
		}
	}
	return nil
}
