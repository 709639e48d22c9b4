package bot

import (
	"fmt"
	"math"

	"github.com/estate-game/estate-server/internal/game/board"
	"github.com/estate-game/estate-server/internal/game/rules"
)

// Action names match the session's action types.
type Action string

const (
	ActionNone        Action = ""
	ActionRollDice    Action = "roll_dice"
	ActionPurchase    Action = "purchase_property"
	ActionDecline     Action = "decline_purchase"
	ActionPayRent     Action = "pay_rent"
	ActionPlaceBid    Action = "place_bid"
	ActionPassAuction Action = "pass_auction"
	ActionBuild       Action = "build_development"
	ActionUnmortgage  Action = "unmortgage"
	ActionPayJailFine Action = "pay_jail_fine"
	ActionUseJailCard Action = "use_jail_card"
	ActionAcceptTrade Action = "accept_trade"
	ActionRejectTrade Action = "reject_trade"
	ActionEndTurn     Action = "end_turn"
)

// Phase names as reported by the session.
const (
	phaseRolling          = "rolling"
	phaseResolving        = "resolving"
	phasePropertyDecision = "property_decision"
	phaseAuction          = "auction"
	phaseTrading          = "trading"
	phaseDevelopment      = "development"
	phaseJail             = "jail"
)

type PlayerView struct {
	ID        string
	Cash      int
	Position  int
	InJail    bool
	JailTurns int
	JailCards int
	Bankrupt  bool
}

type AuctionView struct {
	Position   int
	HighBid    int
	HighBidder string
	MinimumBid int
	Active     []string
}

type TradeView struct {
	ID    string
	Terms rules.TradeTerms
}

// View is a read-only copy of the session taken under the session lock.
type View struct {
	Board         *board.Board
	Squares       []board.Square
	Constants     rules.Constants
	Phase         string
	CurrentPlayer string
	Players       []PlayerView
	Auction       *AuctionView
	Trade         *TradeView
	PendingRent   int
	RollAgain     bool
	Round         int
}

func (v View) player(id string) (PlayerView, bool) {
	for _, p := range v.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerView{}, false
}

// Decision is one action for the session to execute.
type Decision struct {
	Action  Action
	Square  int
	Amount  int
	TradeID string
	Reason  string
}

// Brain decides for one bot player.
type Brain struct {
	personality Personality
}

func New(d Difficulty) *Brain {
	return &Brain{personality: PersonalityFor(d)}
}

// Decide returns the single action the bot takes in the view's phase, or
// ActionNone when nothing is expected of it.
func (b *Brain) Decide(view View, playerID string) Decision {
	me, ok := view.player(playerID)
	if !ok || me.Bankrupt {
		return Decision{Reason: "not an active player"}
	}

	switch view.Phase {
	case phaseAuction:
		return b.decideAuction(view, me)
	case phaseTrading:
		return b.decideTrade(view, me)
	}

	if view.CurrentPlayer != playerID {
		return Decision{Reason: "not this bot's turn"}
	}

	switch view.Phase {
	case phaseRolling:
		return Decision{Action: ActionRollDice, Reason: "start of turn"}
	case phaseJail:
		return b.decideJail(view, me)
	case phaseResolving:
		if view.PendingRent > 0 {
			return Decision{Action: ActionPayRent, Amount: view.PendingRent, Reason: "rent owed"}
		}
		return Decision{Reason: "nothing to resolve"}
	case phasePropertyDecision:
		return b.decidePurchase(view, me)
	case phaseDevelopment:
		return b.decideDevelopment(view, me)
	}
	return Decision{Reason: fmt.Sprintf("no action in phase %s", view.Phase)}
}

func (b *Brain) reserve(view View) int {
	return int(math.Round(b.personality.CashReserve * float64(view.Constants.StartingCash)))
}

// desirability scores a square for playerID. Roughly 0.3 for an isolated
// low-yield square up to about 2 for a monopoly-completing one.
func (b *Brain) desirability(view View, pos int, playerID string) float64 {
	tmpl, err := view.Board.Template(pos)
	if err != nil || !tmpl.Category.Purchasable() || tmpl.Price == 0 {
		return 0
	}

	score := 0.3
	switch tmpl.Category {
	case board.CategoryProperty:
		score += 2 * float64(tmpl.RentAt(0)) / float64(tmpl.Price)

		group := view.Board.Group(tmpl.Group)
		mine, theirs := 0, 0
		owners := map[string]bool{}
		for _, p := range group {
			owner := view.Squares[p].Owner
			switch {
			case p == pos:
			case owner == playerID:
				mine++
			case owner != "":
				theirs++
				owners[owner] = true
			}
		}
		if theirs == 0 {
			score += 0.7 * float64(mine+1) / float64(len(group))
			if mine+1 == len(group) {
				score += 0.5
			}
		} else if len(owners) == 1 && theirs == len(group)-1 {
			// the only thing standing between an opponent and a monopoly
			score += 0.6
		} else {
			score += 0.1
		}
	case board.CategoryRailroad:
		owned := rules.OwnedCount(view.Board, view.Squares, playerID, board.CategoryRailroad)
		score += 0.25 * float64(owned+1)
	case board.CategoryUtility:
		score += 0.15
	}

	// squares just past jail are landed on more often
	jail := view.Board.JailPosition()
	dist := (pos - jail + view.Board.Size()) % view.Board.Size()
	if dist > 0 && dist <= 12 {
		score += 0.15
	}
	return score
}

func (b *Brain) gameStageThreshold(view View) float64 {
	owned := 0
	for _, sq := range view.Squares {
		if sq.Owned() {
			owned++
		}
	}
	purchasable := 0
	for _, t := range view.Board.Templates() {
		if t.Category.Purchasable() {
			purchasable++
		}
	}
	share := 0.0
	if purchasable > 0 {
		share = float64(owned) / float64(purchasable)
	}
	switch {
	case share < 0.3:
		return 0.5
	case share < 0.7:
		return 0.7
	default:
		return 0.9
	}
}

func (b *Brain) decidePurchase(view View, me PlayerView) Decision {
	tmpl, err := view.Board.Template(me.Position)
	if err != nil || !tmpl.Category.Purchasable() {
		return Decision{Action: ActionDecline, Square: me.Position, Reason: "not purchasable"}
	}
	if me.Cash < tmpl.Price {
		return Decision{Action: ActionDecline, Square: me.Position, Reason: "cannot afford"}
	}

	score := b.desirability(view, me.Position, me.ID)
	threshold := b.gameStageThreshold(view) / math.Max(b.personality.Aggressiveness, 0.1)
	after := me.Cash - tmpl.Price
	reserve := b.reserve(view)

	if score >= threshold && after >= reserve {
		return Decision{Action: ActionPurchase, Square: me.Position, Reason: fmt.Sprintf("score %.2f over %.2f", score, threshold)}
	}
	// a risk-tolerant bot dips into its reserve for a strong square
	if score >= 1.2 && float64(after) >= float64(reserve)*(1-b.personality.RiskTolerance/2) {
		return Decision{Action: ActionPurchase, Square: me.Position, Reason: fmt.Sprintf("strong square %.2f", score)}
	}
	return Decision{Action: ActionDecline, Square: me.Position, Reason: fmt.Sprintf("score %.2f under %.2f", score, threshold)}
}

// MaxBid is the most the bot pays for pos at auction.
func (b *Brain) MaxBid(view View, me PlayerView, pos int) int {
	tmpl, err := view.Board.Template(pos)
	if err != nil {
		return 0
	}
	value := float64(tmpl.Price) * b.desirability(view, pos, me.ID)
	limit := int(value * (0.5 + 0.4*b.personality.Aggressiveness))
	if spendable := me.Cash - b.reserve(view); limit > spendable {
		limit = spendable
	}
	if limit < 0 {
		return 0
	}
	return limit
}

func (b *Brain) decideAuction(view View, me PlayerView) Decision {
	a := view.Auction
	if a == nil {
		return Decision{Reason: "no auction"}
	}
	active := false
	for _, id := range a.Active {
		if id == me.ID {
			active = true
			break
		}
	}
	if !active {
		return Decision{Reason: "already passed"}
	}
	if a.HighBidder == me.ID {
		return Decision{Reason: "holding the high bid"}
	}
	limit := b.MaxBid(view, me, a.Position)
	if a.MinimumBid <= limit && a.MinimumBid <= me.Cash {
		return Decision{Action: ActionPlaceBid, Square: a.Position, Amount: a.MinimumBid, Reason: fmt.Sprintf("limit %d", limit)}
	}
	return Decision{Action: ActionPassAuction, Square: a.Position, Reason: fmt.Sprintf("minimum %d over limit %d", a.MinimumBid, limit)}
}

func (b *Brain) squaresValue(view View, positions []int, owner string) float64 {
	total := 0.0
	for _, pos := range positions {
		tmpl, err := view.Board.Template(pos)
		if err != nil {
			continue
		}
		v := float64(tmpl.Price) * b.desirability(view, pos, owner)
		if view.Squares[pos].Mortgaged {
			v -= float64(rules.UnmortgageCost(tmpl.Price, view.Constants))
		}
		total += math.Max(v, 0)
	}
	return total
}

// AcceptsTrade reports whether received value over given value clears the
// bot's threshold.
func (b *Brain) AcceptsTrade(view View, terms rules.TradeTerms) bool {
	received := float64(terms.OfferCash) + b.squaresValue(view, terms.OfferSquares, terms.To)
	given := float64(terms.RequestCash) + b.squaresValue(view, terms.RequestSquares, terms.To)
	if given <= 0 {
		return received > 0
	}
	threshold := 1.5 - 0.5*math.Min(b.personality.TradingWillingness, 1)
	return received/given >= threshold
}

func (b *Brain) decideTrade(view View, me PlayerView) Decision {
	if view.Trade == nil || view.Trade.Terms.To != me.ID {
		return Decision{Reason: "no trade addressed to bot"}
	}
	if view.Trade.Terms.RequestCash > me.Cash {
		return Decision{Action: ActionRejectTrade, TradeID: view.Trade.ID, Reason: "cannot cover requested cash"}
	}
	if b.AcceptsTrade(view, view.Trade.Terms) {
		return Decision{Action: ActionAcceptTrade, TradeID: view.Trade.ID, Reason: "favourable"}
	}
	return Decision{Action: ActionRejectTrade, TradeID: view.Trade.ID, Reason: "unfavourable"}
}

func (b *Brain) decideJail(view View, me PlayerView) Decision {
	fine := view.Constants.JailFine
	maxTurns := view.Constants.MaxJailTurns

	if me.JailCards > 0 && (b.personality.Aggressiveness >= 1 || me.JailTurns >= 1) {
		return Decision{Action: ActionUseJailCard, Reason: "spend held card"}
	}
	// the last roll forces the fine anyway
	if me.JailTurns >= maxTurns-1 {
		return Decision{Action: ActionRollDice, Reason: "final jail roll"}
	}
	affordable := me.Cash-fine >= b.reserve(view)
	urgency := b.personality.Aggressiveness + 0.3*float64(me.JailTurns)
	if affordable && urgency >= 1 {
		return Decision{Action: ActionPayJailFine, Reason: "buy time on the board"}
	}
	return Decision{Action: ActionRollDice, Reason: "try for doubles"}
}

func (b *Brain) decideDevelopment(view View, me PlayerView) Decision {
	reserve := b.reserve(view)

	if b.personality.DevelopmentFocus >= 0.5 {
		best, bestRent := -1, 0
		for _, pos := range rules.Holdings(view.Squares, me.ID) {
			tmpl := view.Board.MustTemplate(pos)
			if rules.CanBuild(view.Board, view.Squares, pos, me.ID, view.Constants) != nil {
				continue
			}
			if me.Cash-tmpl.BuildCost < reserve {
				continue
			}
			if gain := tmpl.RentAt(view.Squares[pos].Level + 1); gain > bestRent {
				best, bestRent = pos, gain
			}
		}
		if best >= 0 {
			return Decision{Action: ActionBuild, Square: best, Reason: fmt.Sprintf("rent rises to %d", bestRent)}
		}
	}

	for _, pos := range rules.Holdings(view.Squares, me.ID) {
		if !view.Squares[pos].Mortgaged {
			continue
		}
		cost := rules.UnmortgageCost(view.Board.MustTemplate(pos).Price, view.Constants)
		if me.Cash-cost >= 2*reserve {
			return Decision{Action: ActionUnmortgage, Square: pos, Reason: "cash to spare"}
		}
	}

	if view.RollAgain {
		return Decision{Action: ActionRollDice, Reason: "rolled doubles"}
	}
	return Decision{Action: ActionEndTurn, Reason: "done"}
}
