package game

import (
	"time"

	"github.com/estate-game/estate-server/internal/game/board"
	"github.com/estate-game/estate-server/internal/game/bot"
	"github.com/estate-game/estate-server/internal/game/cards"
	"github.com/estate-game/estate-server/internal/game/rules"
)

// appliedActionLimit bounds the idempotence ring kept on each session.
const appliedActionLimit = 256

// Player is one participant's in-session state.
type Player struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id,omitempty"`
	Name       string         `json:"name"`
	IsBot      bool           `json:"is_bot"`
	Difficulty bot.Difficulty `json:"difficulty,omitempty"`
	Cash       int            `json:"cash"`
	Position   int            `json:"position"`
	InJail     bool           `json:"in_jail"`
	JailTurns  int            `json:"jail_turns"`
	Doubles    int            `json:"doubles"`
	JailCards  []string       `json:"jail_cards,omitempty"`
	Bankrupt   bool           `json:"bankrupt"`
}

func (p *Player) clone() *Player {
	cp := *p
	cp.JailCards = append([]string(nil), p.JailCards...)
	return &cp
}

// Auction is the open bidding on a declined square.
type Auction struct {
	Position     int      `json:"position"`
	StartingBid  int      `json:"starting_bid"`
	HighBid      int      `json:"high_bid"`
	HighBidder   string   `json:"high_bidder,omitempty"`
	Participants []string `json:"participants"`
	Passed       []string `json:"passed"`
}

func (a *Auction) clone() *Auction {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Participants = append([]string(nil), a.Participants...)
	cp.Passed = append([]string(nil), a.Passed...)
	return &cp
}

func (a *Auction) hasPassed(playerID string) bool {
	return indexOf(a.Passed, playerID) >= 0
}

// Active lists participants that have not passed.
func (a *Auction) Active() []string {
	var out []string
	for _, id := range a.Participants {
		if !a.hasPassed(id) {
			out = append(out, id)
		}
	}
	return out
}

// MinimumBid is the lowest bid the auction accepts next.
func (a *Auction) MinimumBid() int {
	return rules.MinimumBid(a.StartingBid, a.HighBid, a.HighBidder != "")
}

type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeAccepted  TradeStatus = "accepted"
	TradeRejected  TradeStatus = "rejected"
	TradeCancelled TradeStatus = "cancelled"
)

// Trade is an offer waiting on its counterparty.
type Trade struct {
	ID          string           `json:"id"`
	Terms       rules.TradeTerms `json:"terms"`
	Status      TradeStatus      `json:"status"`
	ReturnPhase Phase            `json:"return_phase"`
}

func (t *Trade) clone() *Trade {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Terms.OfferSquares = append([]int(nil), t.Terms.OfferSquares...)
	cp.Terms.RequestSquares = append([]int(nil), t.Terms.RequestSquares...)
	return &cp
}

// PendingRent is rent the current player must settle before moving on.
type PendingRent struct {
	Creditor string `json:"creditor"`
	Position int    `json:"position"`
	Amount   int    `json:"amount"`
}

// Ranking is a final placing. Eliminated players are appended as they drop.
type Ranking struct {
	PlayerID string `json:"player_id"`
	Rank     int    `json:"rank"`
	NetWorth int    `json:"net_worth"`
}

// Session is the authoritative state of one game.
type Session struct {
	ID             string         `json:"id"`
	RoomCode       string         `json:"room_code"`
	Status         Status         `json:"status"`
	Phase          Phase          `json:"phase"`
	Players        []*Player      `json:"players"`
	TurnOrder      []string       `json:"turn_order"`
	CurrentTurn    string         `json:"current_turn,omitempty"`
	Dice           Dice           `json:"dice"`
	RollAgain      bool           `json:"roll_again"`
	Round          int            `json:"round"`
	Squares        []board.Square `json:"squares"`
	Auction        *Auction       `json:"auction,omitempty"`
	Trade          *Trade         `json:"trade,omitempty"`
	PendingRent    *PendingRent   `json:"pending_rent,omitempty"`
	RentModifier   int            `json:"rent_modifier,omitempty"`
	ModifierSquare int            `json:"modifier_square"`
	FestivalSquare int            `json:"festival_square"`
	Chance         *cards.Deck    `json:"chance"`
	Community      *cards.Deck    `json:"community"`
	Rankings       []Ranking      `json:"rankings,omitempty"`
	Winner         string         `json:"winner,omitempty"`
	Version        int64          `json:"version"`
	AppliedActions []string       `json:"applied_actions,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone deep-copies the session. Bookmarks, snapshots and store records are
// all clones so nothing aliases live state.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Players = make([]*Player, len(s.Players))
	for i, p := range s.Players {
		cp.Players[i] = p.clone()
	}
	cp.TurnOrder = append([]string(nil), s.TurnOrder...)
	cp.Squares = append([]board.Square(nil), s.Squares...)
	cp.Auction = s.Auction.clone()
	cp.Trade = s.Trade.clone()
	if s.PendingRent != nil {
		pr := *s.PendingRent
		cp.PendingRent = &pr
	}
	cp.Chance = s.Chance.Clone()
	cp.Community = s.Community.Clone()
	cp.Rankings = append([]Ranking(nil), s.Rankings...)
	cp.AppliedActions = append([]string(nil), s.AppliedActions...)
	return &cp
}

// Public is the clone sent to clients: deck order stays on the server so
// nobody can read the next card.
func (s *Session) Public() *Session {
	cp := s.Clone()
	if cp.Chance != nil {
		cp.Chance = &cards.Deck{Category: cp.Chance.Category}
	}
	if cp.Community != nil {
		cp.Community = &cards.Deck{Category: cp.Community.Category}
	}
	return cp
}

// Player finds a participant by id.
func (s *Session) Player(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ActivePlayers returns non-bankrupt players in turn order.
func (s *Session) ActivePlayers() []*Player {
	out := make([]*Player, 0, len(s.TurnOrder))
	for _, id := range s.TurnOrder {
		if p := s.Player(id); p != nil && !p.Bankrupt {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) seat(id string) int {
	for i, p := range s.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) nextAfter(id string) string {
	n := len(s.TurnOrder)
	if n == 0 {
		return ""
	}
	idx := indexOf(s.TurnOrder, id)
	return s.TurnOrder[(idx+1+n)%n]
}

func (s *Session) hasApplied(actionID string) bool {
	return actionID != "" && indexOf(s.AppliedActions, actionID) >= 0
}

func (s *Session) recordAction(actionID string) {
	if actionID == "" {
		return
	}
	s.AppliedActions = append(s.AppliedActions, actionID)
	if over := len(s.AppliedActions) - appliedActionLimit; over > 0 {
		s.AppliedActions = append([]string(nil), s.AppliedActions[over:]...)
	}
}

func (s *Session) deck(category cards.Category) *cards.Deck {
	if category == cards.CategoryCommunity {
		return s.Community
	}
	return s.Chance
}

// botView copies what a bot may see. Callers hold the session lock.
func (s *Session) botView(b *board.Board, c rules.Constants) bot.View {
	view := bot.View{
		Board:         b,
		Squares:       append([]board.Square(nil), s.Squares...),
		Constants:     c,
		Phase:         s.Phase.String(),
		CurrentPlayer: s.CurrentTurn,
		RollAgain:     s.RollAgain,
		Round:         s.Round,
	}
	for _, p := range s.Players {
		view.Players = append(view.Players, bot.PlayerView{
			ID:        p.ID,
			Cash:      p.Cash,
			Position:  p.Position,
			InJail:    p.InJail,
			JailTurns: p.JailTurns,
			JailCards: len(p.JailCards),
			Bankrupt:  p.Bankrupt,
		})
	}
	if s.Auction != nil {
		view.Auction = &bot.AuctionView{
			Position:   s.Auction.Position,
			HighBid:    s.Auction.HighBid,
			HighBidder: s.Auction.HighBidder,
			MinimumBid: s.Auction.MinimumBid(),
			Active:     s.Auction.Active(),
		}
	}
	if s.Trade != nil && s.Trade.Status == TradePending {
		t := s.Trade.clone()
		view.Trade = &bot.TradeView{ID: t.ID, Terms: t.Terms}
	}
	if s.PendingRent != nil {
		view.PendingRent = s.PendingRent.Amount
	}
	return view
}

// expectedBots lists bots whose input the session is waiting on.
func (s *Session) expectedBots() []string {
	if s.Status != StatusInProgress {
		return nil
	}
	isBot := func(id string) bool {
		p := s.Player(id)
		return p != nil && p.IsBot && !p.Bankrupt
	}
	var out []string
	switch s.Phase {
	case PhaseAuction:
		if s.Auction == nil {
			return nil
		}
		for _, id := range s.Auction.Active() {
			if id != s.Auction.HighBidder && isBot(id) {
				out = append(out, id)
			}
		}
	case PhaseTrading:
		if s.Trade != nil && isBot(s.Trade.Terms.To) {
			out = append(out, s.Trade.Terms.To)
		}
	default:
		if isBot(s.CurrentTurn) {
			out = append(out, s.CurrentTurn)
		}
	}
	return out
}
