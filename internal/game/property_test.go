package game

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estate-game/estate-server/internal/game/rules"
)

func TestPurchaseUnownedSquare(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{1, 2}))
	m := newGame(t, e, "alice", "bob")

	res := mustExec(t, m, command(ActionRollDice, "alice"))
	s := m.Snapshot()
	assert.Equal(t, 3, s.Player("alice").Position)
	assert.Equal(t, PhasePropertyDecision, s.Phase)

	decision, ok := findEvent(res.Events, EventDecision)
	require.True(t, ok)
	assert.Equal(t, "alice", decision.TargetPlayer)
	assert.Equal(t, "purchase", decision.Payload["decision"])

	_, err := m.Execute(context.Background(), squareCommand(ActionPurchase, "alice", 9))
	assert.ErrorIs(t, err, ErrNotEligible)

	res = mustExec(t, m, command(ActionPurchase, "alice"))
	s = m.Snapshot()
	assert.Equal(t, "alice", s.Squares[3].Owner)
	assert.Equal(t, 1440, s.Player("alice").Cash)
	assert.Equal(t, PhaseDevelopment, s.Phase)
	assert.Contains(t, eventTypes(res.Events), EventPropertyPurchased)
}

func TestDeclineWithoutFundsStartsAuction(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{3, 5}))
	m := newGame(t, e, "alice", "bob")
	ctx := context.Background()
	m.session.Players[0].Position = 10
	m.session.Players[0].Cash = 150

	mustExec(t, m, command(ActionRollDice, "alice"))
	before := m.Snapshot()
	require.Equal(t, 18, before.Player("alice").Position)

	_, err := m.Execute(ctx, command(ActionPurchase, "alice"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, KindRule, KindOf(err))
	assert.Equal(t, before.Version, m.Version())
	assert.Equal(t, PhasePropertyDecision, m.Snapshot().Phase)

	res := mustExec(t, m, command(ActionDecline, "alice"))
	s := m.Snapshot()
	assert.Equal(t, PhaseAuction, s.Phase)
	require.NotNil(t, s.Auction)
	assert.Equal(t, 18, s.Auction.Position)
	assert.Equal(t, 20, s.Auction.StartingBid)
	assert.Equal(t, []string{"alice", "bob"}, s.Auction.Participants)
	assert.Contains(t, eventTypes(res.Events), EventAuctionStarted)
}

func TestAuctionBiddingAndResolution(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{3, 5}))
	m := newGame(t, e, "alice", "bob")
	ctx := context.Background()
	m.session.Players[0].Position = 10
	m.session.Players[0].Cash = 150

	mustExec(t, m, command(ActionRollDice, "alice"))
	mustExec(t, m, command(ActionDecline, "alice"))

	_, err := m.Execute(ctx, bidCommand("bob", 15))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	mustExec(t, m, bidCommand("alice", 20))

	_, err = m.Execute(ctx, command(ActionPassAuction, "alice"))
	assert.ErrorIs(t, err, ErrNotEligible, "the high bidder cannot pass")

	_, err = m.Execute(ctx, bidCommand("bob", 25))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = m.Execute(ctx, bidCommand("bob", 2000))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	mustExec(t, m, bidCommand("bob", 30))
	res := mustExec(t, m, command(ActionPassAuction, "alice"))

	s := m.Snapshot()
	assert.Nil(t, s.Auction)
	assert.Equal(t, "bob", s.Squares[18].Owner)
	assert.Equal(t, 1470, s.Player("bob").Cash)
	assert.Equal(t, 150, s.Player("alice").Cash)
	assert.Equal(t, "alice", s.CurrentTurn)
	assert.Equal(t, PhaseDevelopment, s.Phase)

	ended, ok := findEvent(res.Events, EventAuctionEnded)
	require.True(t, ok)
	assert.Equal(t, "bob", ended.Payload["winner"])
	assert.Equal(t, 30, ended.Payload["price"])
}

func TestAuctionWithNoBidsLeavesSquareUnowned(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{1, 2}))
	m := newGame(t, e, "alice", "bob")

	mustExec(t, m, command(ActionRollDice, "alice"))
	mustExec(t, m, command(ActionDecline, "alice"))
	mustExec(t, m, command(ActionPassAuction, "bob"))

	s := m.Snapshot()
	assert.Nil(t, s.Auction)
	assert.False(t, s.Squares[3].Owned())
	assert.Equal(t, PhaseDevelopment, s.Phase)
}

func TestRentOnCompleteGroup(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{2, 3}))
	m := newGame(t, e, "alice", "bob")
	ctx := context.Background()
	give(m, "bob", 20, 22, 23)
	m.session.Players[0].Position = 18
	m.session.Players[0].Cash = 500

	res := mustExec(t, m, command(ActionRollDice, "alice"))
	s := m.Snapshot()
	require.NotNil(t, s.PendingRent)
	assert.Equal(t, PendingRent{Creditor: "bob", Position: 23, Amount: 40}, *s.PendingRent)
	assert.Equal(t, PhaseResolving, s.Phase)

	decision, ok := findEvent(res.Events, EventDecision)
	require.True(t, ok)
	assert.Equal(t, "alice", decision.TargetPlayer)
	assert.Equal(t, "pay_rent", decision.Payload["decision"])

	_, err := m.Execute(ctx, command(ActionEndTurn, "alice"))
	assert.ErrorIs(t, err, ErrWrongPhase)

	res = mustExec(t, m, command(ActionPayRent, "alice"))
	s = m.Snapshot()
	assert.Nil(t, s.PendingRent)
	assert.Equal(t, 460, s.Player("alice").Cash)
	assert.Equal(t, 1540, s.Player("bob").Cash)
	assert.Equal(t, PhaseDevelopment, s.Phase)
	assert.Contains(t, eventTypes(res.Events), EventRentPaid)
}

func TestRentLiquidatesBeforeBankruptcy(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{2, 3}))
	m := newGame(t, e, "alice", "bob")
	give(m, "bob", 20, 22, 23)
	for _, pos := range []int{20, 22, 23} {
		m.session.Squares[pos].Level = 1
	}
	give(m, "alice", 10)
	m.session.Players[0].Position = 18
	m.session.Players[0].Cash = 30

	roll := mustExec(t, m, command(ActionRollDice, "alice"))
	require.Equal(t, 100, m.Snapshot().PendingRent.Amount)
	decision, ok := findEvent(roll.Events, EventDecision)
	require.True(t, ok)
	assert.Equal(t, true, decision.Payload["can_cover"], "mortgaging the utility raises enough")

	res := mustExec(t, m, command(ActionPayRent, "alice"))
	s := m.Snapshot()
	assert.True(t, s.Squares[10].Mortgaged)
	assert.Equal(t, "alice", s.Squares[10].Owner)
	assert.Equal(t, 5, s.Player("alice").Cash)
	assert.Equal(t, 1600, s.Player("bob").Cash)
	assert.False(t, s.Player("alice").Bankrupt)
	assert.Contains(t, eventTypes(res.Events), EventPropertyMortgaged)
	checkInvariants(t, e.Board(), s)
}

func TestRentBankruptcyHandsCashToCreditor(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{2, 3}))
	m := newGame(t, e, "alice", "bob", "carol")
	give(m, "bob", 20, 22, 23)
	for _, pos := range []int{20, 22, 23} {
		m.session.Squares[pos].Level = 1
	}
	m.session.Players[0].Position = 18
	m.session.Players[0].Cash = 30

	roll := mustExec(t, m, command(ActionRollDice, "alice"))
	decision, ok := findEvent(roll.Events, EventDecision)
	require.True(t, ok)
	assert.Equal(t, false, decision.Payload["can_cover"])
	res := mustExec(t, m, command(ActionPayRent, "alice"))

	s := m.Snapshot()
	alice := s.Player("alice")
	assert.True(t, alice.Bankrupt)
	assert.Equal(t, 0, alice.Cash)
	assert.Equal(t, 1530, s.Player("bob").Cash)
	assert.Equal(t, []string{"bob", "carol"}, s.TurnOrder)
	assert.Equal(t, "bob", s.CurrentTurn)
	assert.Equal(t, PhaseRolling, s.Phase)
	assert.Equal(t, StatusInProgress, s.Status)
	require.Len(t, s.Rankings, 1)
	assert.Equal(t, Ranking{PlayerID: "alice", Rank: 3, NetWorth: 30}, s.Rankings[0])

	types := eventTypes(res.Events)
	assert.Contains(t, types, EventBankruptcyDeclared)
	assert.NotContains(t, types, EventRentPaid)
	checkInvariants(t, e.Board(), s)
}

func TestBankruptcyOfLastOpponentFinishesGame(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{2, 3}))
	m := newGame(t, e, "alice", "bob")
	give(m, "bob", 20, 22, 23)
	give(m, "alice", 1, 3)
	m.session.Squares[1].Level = 1
	m.session.Squares[3].Level = 1
	m.session.Squares[23].Level = 4
	m.session.Players[0].Position = 18
	m.session.Players[0].Cash = 10

	mustExec(t, m, command(ActionRollDice, "alice"))
	mustExec(t, m, command(ActionPayRent, "alice"))

	s := m.Snapshot()
	assert.Equal(t, StatusFinished, s.Status)
	assert.Equal(t, "bob", s.Winner)
	assert.False(t, s.Squares[1].Owned())
	assert.Zero(t, s.Squares[1].Level)
	assert.False(t, s.Squares[1].Mortgaged)
	require.Len(t, s.Rankings, 2)
	assert.Equal(t, "alice", s.Rankings[0].PlayerID)
	assert.Equal(t, 2, s.Rankings[0].Rank)
	assert.Equal(t, Ranking{PlayerID: "bob", Rank: 1, NetWorth: s.Rankings[1].NetWorth}, s.Rankings[1])
	checkInvariants(t, e.Board(), s)
}

func TestNearestStationCardDoublesRent(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{3, 4}))
	m := newGame(t, e, "alice", "bob")
	give(m, "bob", 29)
	m.session.Players[0].Position = 20
	moveToFront(m.session.Chance.Order, "chance-railroad-1")

	res := mustExec(t, m, command(ActionRollDice, "alice"))
	s := m.Snapshot()
	assert.Equal(t, 29, s.Player("alice").Position)
	require.NotNil(t, s.PendingRent)
	assert.Equal(t, 50, s.PendingRent.Amount)
	assert.Equal(t, 0, s.RentModifier)
	assert.Equal(t, "chance-railroad-1", s.Chance.Order[len(s.Chance.Order)-1])

	drawn, ok := findEvent(res.Events, EventCardDrawn)
	require.True(t, ok)
	assert.Equal(t, "chance-railroad-1", drawn.Payload["card_id"])

	mustExec(t, m, command(ActionPayRent, "alice"))
	assert.Equal(t, 1450, m.Snapshot().Player("alice").Cash)
}

func TestJailCardEndsTurn(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{3, 4}))
	m := newGame(t, e, "alice", "bob")
	m.session.Players[0].Position = 20
	moveToFront(m.session.Chance.Order, "chance-jail")

	mustExec(t, m, command(ActionRollDice, "alice"))
	s := m.Snapshot()
	assert.True(t, s.Player("alice").InJail)
	assert.Equal(t, 8, s.Player("alice").Position)
	assert.Equal(t, "bob", s.CurrentTurn)
}

func TestFestivalDoublesRentOnBestSquare(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice(Dice{1, 2}))
	m := newGame(t, e, "alice", "bob")
	give(m, "alice", 1, 3)
	m.session.Players[0].Position = 13

	res := mustExec(t, m, command(ActionRollDice, "alice"))
	s := m.Snapshot()
	assert.Equal(t, 16, s.Player("alice").Position)
	assert.Equal(t, 3, s.FestivalSquare)
	assert.Contains(t, eventTypes(res.Events), EventFestivalMoved)

	mustExec(t, m, command(ActionEndTurn, "alice"))
	mustExec(t, m, command(ActionRollDice, "bob"))
	s = m.Snapshot()
	require.NotNil(t, s.PendingRent)
	// monopoly doubles the base 4, the festival doubles it again
	assert.Equal(t, 16, s.PendingRent.Amount)
}

func TestDevelopmentLifecycle(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice())
	m := newGame(t, e, "alice", "bob")
	ctx := context.Background()
	give(m, "alice", 1)

	_, err := m.Execute(ctx, squareCommand(ActionBuild, "alice", 1))
	assert.ErrorIs(t, err, rules.ErrNoMonopoly)

	give(m, "alice", 3)
	mustExec(t, m, squareCommand(ActionBuild, "alice", 1))
	s := m.Snapshot()
	assert.Equal(t, 1, s.Squares[1].Level)
	assert.Equal(t, 1450, s.Player("alice").Cash)

	_, err = m.Execute(ctx, squareCommand(ActionBuild, "alice", 1))
	assert.Equal(t, KindRule, KindOf(err))
	assert.Equal(t, "uneven_development", errorCode(t, err))

	_, err = m.Execute(ctx, squareCommand(ActionMortgage, "alice", 3))
	assert.Equal(t, "has_development", errorCode(t, err))

	mustExec(t, m, squareCommand(ActionBuild, "alice", 3))
	mustExec(t, m, squareCommand(ActionSell, "alice", 3))
	s = m.Snapshot()
	assert.Equal(t, 0, s.Squares[3].Level)
	assert.Equal(t, 1425, s.Player("alice").Cash)

	_, err = m.Execute(ctx, squareCommand(ActionBuild, "bob", 1))
	assert.ErrorIs(t, err, ErrNotYourTurn)
}

func TestMortgageAndUnmortgage(t *testing.T) {
	e, _ := newTestEngine(t, NewFixedDice())
	m := newGame(t, e, "alice", "bob")
	ctx := context.Background()
	give(m, "alice", 6)

	mustExec(t, m, squareCommand(ActionMortgage, "alice", 6))
	s := m.Snapshot()
	assert.True(t, s.Squares[6].Mortgaged)
	assert.Equal(t, 1550, s.Player("alice").Cash)

	_, err := m.Execute(ctx, squareCommand(ActionMortgage, "alice", 6))
	assert.Equal(t, "already_mortgaged", errorCode(t, err))

	mustExec(t, m, squareCommand(ActionUnmortgage, "alice", 6))
	s = m.Snapshot()
	assert.False(t, s.Squares[6].Mortgaged)
	assert.Equal(t, 1495, s.Player("alice").Cash)

	_, err = m.Execute(ctx, squareCommand(ActionMortgage, "alice", 7))
	assert.Equal(t, "not_owner", errorCode(t, err))
}

func moveToFront(order []string, id string) {
	for i, v := range order {
		if v == id {
			copy(order[1:i+1], order[:i])
			order[0] = id
			return
		}
	}
}
