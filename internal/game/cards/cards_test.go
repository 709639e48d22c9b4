package cards

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estate-game/estate-server/internal/game/board"
)

type fakeTable struct {
	board     *board.Board
	squares   []board.Square
	positions map[string]int
	balances  map[string]int
	order     []string
	jailed    map[string]bool
	jailCards map[string][]string
	modifier  int
	bonus     int
	charges   []string
}

func newFakeTable(players ...string) *fakeTable {
	b := board.Default()
	t := &fakeTable{
		board:     b,
		squares:   b.NewSquares(),
		positions: map[string]int{},
		balances:  map[string]int{},
		jailed:    map[string]bool{},
		jailCards: map[string][]string{},
		bonus:     200,
		order:     players,
	}
	for _, p := range players {
		t.balances[p] = 1500
	}
	return t
}

func (t *fakeTable) Board() *board.Board         { return t.board }
func (t *fakeTable) Position(p string) int       { return t.positions[p] }
func (t *fakeTable) Balance(p string) int        { return t.balances[p] }
func (t *fakeTable) Active(p string) bool        { return t.balances[p] > 0 }
func (t *fakeTable) Credit(p string, amount int) { t.balances[p] += amount }
func (t *fakeTable) SetRentModifier(m int)       { t.modifier = m }

func (t *fakeTable) Opponents(p string) []string {
	var out []string
	for _, o := range t.order {
		if o != p {
			out = append(out, o)
		}
	}
	return out
}

func (t *fakeTable) Holdings(p string) []board.Square {
	var out []board.Square
	for _, sq := range t.squares {
		if sq.Owner == p {
			out = append(out, sq)
		}
	}
	return out
}

func (t *fakeTable) Transfer(from, to string, amount int) {
	t.balances[from] -= amount
	t.balances[to] += amount
}

func (t *fakeTable) Charge(debtor, creditor string, amount int) {
	t.charges = append(t.charges, creditor)
	t.balances[debtor] -= amount
	if creditor != "" {
		t.balances[creditor] += amount
	}
}

func (t *fakeTable) Advance(p string, steps int) {
	from := t.positions[p]
	if from+steps >= t.board.Size() && steps > 0 {
		t.balances[p] += t.bonus
	}
	t.positions[p] = (from + steps) % t.board.Size()
}

func (t *fakeTable) Relocate(p string, pos int) { t.positions[p] = pos }
func (t *fakeTable) SendToJail(p string) {
	t.positions[p] = t.board.JailPosition()
	t.jailed[p] = true
}
func (t *fakeTable) GrantJailCard(p, id string) { t.jailCards[p] = append(t.jailCards[p], id) }

func TestDefaultCatalogDecks(t *testing.T) {
	c := DefaultCatalog(zaptest.NewLogger(t))

	assert.Len(t, c.IDs(CategoryChance), 16)
	assert.Len(t, c.IDs(CategoryCommunity), 16)

	card, ok := c.Card("chance-railroad-1")
	require.True(t, ok)
	assert.Equal(t, MoveToNearest{Category: board.CategoryRailroad, RentMultiplier: 2}, card.Effect)
	assert.False(t, card.Keepable())

	jail, ok := c.Card("community-jail-free")
	require.True(t, ok)
	assert.True(t, jail.Keepable())
}

func TestParseCatalogKeepsUnknownEffectAsNoOp(t *testing.T) {
	data := []byte(`
chance:
  - {id: a, text: "mystery", effect: {type: teleport}}
community: []
`)
	c, err := ParseCatalog(data, zaptest.NewLogger(t))
	require.NoError(t, err)

	card, ok := c.Card("a")
	require.True(t, ok)
	assert.IsType(t, NoOp{}, card.Effect)
}

func TestParseEffectUnknown(t *testing.T) {
	_, err := ParseEffect(Descriptor{Type: "teleport"})
	assert.ErrorIs(t, err, ErrUnknownEffect)

	_, err = ParseEffect(Descriptor{Type: "pay", Amount: -1})
	assert.Error(t, err)
}

func TestDeckCyclesDrawnCardToBack(t *testing.T) {
	d := &Deck{Category: CategoryChance, Order: []string{"a", "b", "c"}}

	id, ok := d.Draw()
	require.True(t, ok)
	assert.Equal(t, "a", id)
	d.Return(id)
	assert.Equal(t, []string{"b", "c", "a"}, d.Order)

	empty := &Deck{}
	_, ok = empty.Draw()
	assert.False(t, ok)
}

func TestDeckShuffleIsSeeded(t *testing.T) {
	c := DefaultCatalog(nil)
	a := c.NewDeck(CategoryChance, rand.New(rand.NewSource(7)))
	b := c.NewDeck(CategoryChance, rand.New(rand.NewSource(7)))

	assert.Equal(t, a.Order, b.Order)
	assert.ElementsMatch(t, c.IDs(CategoryChance), a.Order)
	require.NoError(t, a.Validate(c))
}

func TestDrawNearestRailroadWrapsAndDoublesRent(t *testing.T) {
	c := DefaultCatalog(zaptest.NewLogger(t))
	in := NewInterpreter(c, zaptest.NewLogger(t))
	table := newFakeTable("p1", "p2")
	table.positions["p1"] = 30

	deck := &Deck{Category: CategoryChance, Order: []string{"chance-railroad-1", "chance-dividend"}}
	out, ok := in.Draw(deck, table, "p1")
	require.True(t, ok)

	assert.True(t, out.Moved)
	assert.Equal(t, 5, table.positions["p1"])
	assert.Equal(t, 1700, table.balances["p1"], "passing start pays the bonus")
	assert.Equal(t, 2, table.modifier)
	assert.Equal(t, []string{"chance-dividend", "chance-railroad-1"}, deck.Order)
}

func TestDrawJailReleaseIsKept(t *testing.T) {
	c := DefaultCatalog(nil)
	in := NewInterpreter(c, nil)
	table := newFakeTable("p1", "p2")

	deck := &Deck{Category: CategoryCommunity, Order: []string{"community-jail-free", "community-doctor"}}
	out, ok := in.Draw(deck, table, "p1")
	require.True(t, ok)

	assert.True(t, out.Kept)
	assert.Equal(t, []string{"community-jail-free"}, table.jailCards["p1"])
	assert.Equal(t, []string{"community-doctor"}, deck.Order)
}

func TestApplyMoveBackwardsNoBonus(t *testing.T) {
	c := DefaultCatalog(nil)
	in := NewInterpreter(c, nil)
	table := newFakeTable("p1")
	table.positions["p1"] = 1

	card, _ := c.Card("chance-back-three")
	out := in.Apply(table, "p1", card)

	assert.Equal(t, 30, out.Position)
	assert.Equal(t, 1500, table.balances["p1"])
}

func TestApplyMoveToStartPaysBonus(t *testing.T) {
	c := DefaultCatalog(nil)
	in := NewInterpreter(c, nil)
	table := newFakeTable("p1")
	table.positions["p1"] = 27

	card, _ := c.Card("chance-start")
	in.Apply(table, "p1", card)

	assert.Equal(t, 0, table.positions["p1"])
	assert.Equal(t, 1700, table.balances["p1"])
}

func TestApplyRepairsLevy(t *testing.T) {
	c := DefaultCatalog(nil)
	in := NewInterpreter(c, nil)
	table := newFakeTable("p1")
	table.squares[1] = board.Square{Position: 1, Owner: "p1", Level: 2}
	table.squares[3] = board.Square{Position: 3, Owner: "p1", Level: board.MaxLevel}

	card, _ := c.Card("chance-repairs")
	out := in.Apply(table, "p1", card)

	assert.Equal(t, 150, out.Amount)
	assert.Equal(t, 1350, table.balances["p1"])
}

func TestApplyCollectFromEachPlayerCapsAtBalance(t *testing.T) {
	c := DefaultCatalog(nil)
	in := NewInterpreter(c, nil)
	table := newFakeTable("p1", "p2", "p3")
	table.balances["p3"] = 4

	card, _ := c.Card("community-birthday")
	out := in.Apply(table, "p1", card)

	assert.Equal(t, 14, out.Amount)
	assert.Equal(t, 1514, table.balances["p1"])
	assert.Equal(t, 0, table.balances["p3"])
}

func TestApplyPayEachPlayerCreditsOpponents(t *testing.T) {
	c := DefaultCatalog(nil)
	in := NewInterpreter(c, nil)
	table := newFakeTable("p1", "p2", "p3")

	card, _ := c.Card("chance-chairman")
	in.Apply(table, "p1", card)

	assert.Equal(t, 1400, table.balances["p1"])
	assert.Equal(t, 1550, table.balances["p2"])
	assert.Equal(t, []string{"p2", "p3"}, table.charges)
}

func TestApplyNoOpLeavesStateAlone(t *testing.T) {
	in := NewInterpreter(DefaultCatalog(nil), zaptest.NewLogger(t))
	table := newFakeTable("p1")

	out := in.Apply(table, "p1", Card{ID: "bad", Effect: NoOp{Reason: "unknown"}})

	assert.True(t, out.Skipped)
	assert.Equal(t, 1500, table.balances["p1"])
}
