package game

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game/bot"
	"github.com/estate-game/estate-server/internal/game/rules"
)

// ActionType identifies a player action. Bot decisions use the same names.
type ActionType string

const (
	ActionJoin         ActionType = "join"
	ActionAddBot       ActionType = "add_bot"
	ActionStart        ActionType = "start"
	ActionRollDice     ActionType = ActionType(bot.ActionRollDice)
	ActionPurchase     ActionType = ActionType(bot.ActionPurchase)
	ActionDecline      ActionType = ActionType(bot.ActionDecline)
	ActionPayRent      ActionType = ActionType(bot.ActionPayRent)
	ActionPlaceBid     ActionType = ActionType(bot.ActionPlaceBid)
	ActionPassAuction  ActionType = ActionType(bot.ActionPassAuction)
	ActionBuild        ActionType = ActionType(bot.ActionBuild)
	ActionSell         ActionType = "sell_development"
	ActionMortgage     ActionType = "mortgage"
	ActionUnmortgage   ActionType = ActionType(bot.ActionUnmortgage)
	ActionPayJailFine  ActionType = ActionType(bot.ActionPayJailFine)
	ActionUseJailCard  ActionType = ActionType(bot.ActionUseJailCard)
	ActionProposeTrade ActionType = "propose_trade"
	ActionAcceptTrade  ActionType = ActionType(bot.ActionAcceptTrade)
	ActionRejectTrade  ActionType = ActionType(bot.ActionRejectTrade)
	ActionCancelTrade  ActionType = "cancel_trade"
	ActionEndTurn      ActionType = ActionType(bot.ActionEndTurn)
	ActionLeave        ActionType = "leave"
	ActionFinish       ActionType = "finish"
)

// TradeProposal is the payload of ActionProposeTrade.
type TradeProposal struct {
	To             string `json:"to"`
	OfferCash      int    `json:"offer_cash"`
	RequestCash    int    `json:"request_cash"`
	OfferSquares   []int  `json:"offer_squares"`
	RequestSquares []int  `json:"request_squares"`
}

// Command is one inbound action. PlayerID comes from the identity
// collaborator and is trusted; everything else is validated.
type Command struct {
	Type       ActionType     `json:"type"`
	SessionID  string         `json:"session_id"`
	PlayerID   string         `json:"player_id"`
	ActionID   string         `json:"action_id"`
	Square     int            `json:"square"`
	Amount     int            `json:"amount"`
	TradeID    string         `json:"trade_id,omitempty"`
	Trade      *TradeProposal `json:"trade,omitempty"`
	Name       string         `json:"name,omitempty"`
	Difficulty string         `json:"difficulty,omitempty"`
	// Admin marks commands issued by the server itself, such as Finish.
	Admin bool `json:"-"`
}

func (e *Engine) apply(tx *txn, cmd Command) error {
	s := tx.s
	if s.Status == StatusFinished {
		return invalid(ErrGameFinished, "session %s is over", s.ID)
	}

	switch cmd.Type {
	case ActionJoin:
		return tx.join(cmd.PlayerID, cmd.Name)
	case ActionAddBot:
		return tx.addBot(cmd.PlayerID, cmd.Name, cmd.Difficulty)
	case ActionStart:
		return tx.start(cmd.PlayerID)
	case ActionLeave:
		return tx.leave(cmd.PlayerID)
	case ActionFinish:
		if !cmd.Admin {
			return invalid(ErrNotEligible, "finish is an administrative action")
		}
		return tx.finishByNetWorth()
	}

	if s.Status != StatusInProgress {
		return invalid(ErrWrongPhase, "game has not started")
	}

	switch cmd.Type {
	case ActionRollDice:
		return tx.rollDice(cmd.PlayerID)
	case ActionPurchase:
		return tx.purchase(cmd.PlayerID, cmd.Square)
	case ActionDecline:
		return tx.decline(cmd.PlayerID, cmd.Square)
	case ActionPayRent:
		return tx.payRent(cmd.PlayerID)
	case ActionPlaceBid:
		return tx.placeBid(cmd.PlayerID, cmd.Amount)
	case ActionPassAuction:
		return tx.passAuction(cmd.PlayerID)
	case ActionBuild:
		return tx.build(cmd.PlayerID, cmd.Square)
	case ActionSell:
		return tx.sell(cmd.PlayerID, cmd.Square)
	case ActionMortgage:
		return tx.mortgage(cmd.PlayerID, cmd.Square)
	case ActionUnmortgage:
		return tx.unmortgage(cmd.PlayerID, cmd.Square)
	case ActionPayJailFine:
		return tx.payJailFine(cmd.PlayerID)
	case ActionUseJailCard:
		return tx.useJailCard(cmd.PlayerID)
	case ActionProposeTrade:
		return tx.proposeTrade(cmd.PlayerID, cmd.Trade)
	case ActionAcceptTrade:
		return tx.acceptTrade(cmd.PlayerID, cmd.TradeID)
	case ActionRejectTrade:
		return tx.rejectTrade(cmd.PlayerID, cmd.TradeID)
	case ActionCancelTrade:
		return tx.cancelTrade(cmd.PlayerID, cmd.TradeID)
	case ActionEndTurn:
		return tx.endTurn(cmd.PlayerID)
	default:
		return invalid(ErrUnknownAction, "%q", cmd.Type)
	}
}

// currentPlayer checks that playerID holds the turn.
func (tx *txn) currentPlayer(playerID string) (*Player, error) {
	p := tx.s.Player(playerID)
	if p == nil || p.Bankrupt {
		return nil, invalid(ErrUnknownPlayer, "%s", playerID)
	}
	if tx.s.CurrentTurn != playerID {
		return nil, invalid(ErrNotYourTurn, "current turn belongs to %s", tx.s.CurrentTurn)
	}
	return p, nil
}

func (tx *txn) join(playerID, name string) error {
	s := tx.s
	if playerID == "" {
		return invalid(ErrUnknownPlayer, "player id is required")
	}
	if s.Status != StatusWaiting {
		return invalid(ErrGameStarted, "cannot join a running game")
	}
	if s.Player(playerID) != nil {
		return invalid(ErrAlreadyJoined, "%s", playerID)
	}
	if len(s.Players) >= tx.e.cfg.MaxPlayers {
		return violation(ErrSessionFull, "limit is %d players", tx.e.cfg.MaxPlayers)
	}
	if name == "" {
		name = playerID
	}
	tx.addPlayer(&Player{ID: playerID, UserID: playerID, Name: name})
	return nil
}

func (tx *txn) addBot(requester, name, difficulty string) error {
	s := tx.s
	if s.Status != StatusWaiting {
		return invalid(ErrGameStarted, "cannot add a bot to a running game")
	}
	if s.Player(requester) == nil {
		return invalid(ErrUnknownPlayer, "only seated players may add bots")
	}
	d, err := bot.ParseDifficulty(difficulty)
	if err != nil {
		return invalid(ErrInvalidAmount, "%v", err)
	}
	if len(s.Players) >= tx.e.cfg.MaxPlayers {
		return violation(ErrSessionFull, "limit is %d players", tx.e.cfg.MaxPlayers)
	}
	seat := len(s.Players) + 1
	id := "bot-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d:%d", s.ID, s.Version, seat))).String()[:8]
	if name == "" {
		name = fmt.Sprintf("Bot %d", seat)
	}
	tx.addPlayer(&Player{ID: id, Name: name, IsBot: true, Difficulty: d})
	return nil
}

func (tx *txn) addPlayer(p *Player) {
	p.Cash = tx.e.constants.StartingCash
	p.Position = tx.e.board.StartPosition()
	tx.s.Players = append(tx.s.Players, p)
	tx.emit(EventRoomJoined, p.ID, map[string]interface{}{
		"name":   p.Name,
		"is_bot": p.IsBot,
		"seats":  len(tx.s.Players),
	})
}

func (tx *txn) start(playerID string) error {
	s := tx.s
	if s.Status != StatusWaiting {
		return invalid(ErrGameStarted, "game already running")
	}
	if s.Player(playerID) == nil {
		return invalid(ErrUnknownPlayer, "only seated players may start the game")
	}
	if len(s.Players) < tx.e.cfg.MinPlayers {
		return violation(ErrNotEnoughPlayers, "need at least %d players", tx.e.cfg.MinPlayers)
	}

	s.TurnOrder = s.TurnOrder[:0]
	for _, p := range s.Players {
		s.TurnOrder = append(s.TurnOrder, p.ID)
	}
	s.Status = StatusInProgress
	s.Round = 1
	s.CurrentTurn = s.TurnOrder[0]
	tx.emit(EventGameStarted, playerID, map[string]interface{}{
		"turn_order": append([]string(nil), s.TurnOrder...),
	})
	tx.startTurn(s.CurrentTurn)
	return nil
}

// leave is voluntary bankruptcy to the bank. Before the game starts the
// seat is simply freed.
func (tx *txn) leave(playerID string) error {
	s := tx.s
	p := s.Player(playerID)
	if p == nil || p.Bankrupt {
		return invalid(ErrUnknownPlayer, "%s", playerID)
	}
	if s.Status == StatusWaiting {
		for i, candidate := range s.Players {
			if candidate.ID == playerID {
				s.Players = append(s.Players[:i], s.Players[i+1:]...)
				break
			}
		}
		tx.emit(EventPlayerLeft, playerID, nil)
		return nil
	}
	tx.emit(EventPlayerLeft, playerID, map[string]interface{}{"cash_forfeited": p.Cash})
	tx.bankrupt(p, "")
	return nil
}

// finishByNetWorth ends the game now; the richest active player wins.
func (tx *txn) finishByNetWorth() error {
	s := tx.s
	if s.Status != StatusInProgress {
		return invalid(ErrWrongPhase, "game is not running")
	}
	active := s.ActivePlayers()
	worth := make(map[string]int, len(active))
	for _, p := range active {
		worth[p.ID] = rules.NetWorth(tx.e.board, s.Squares, p.ID, p.Cash, tx.e.constants)
	}
	sort.SliceStable(active, func(i, j int) bool { return worth[active[i].ID] > worth[active[j].ID] })

	// lowest placings are appended first so the list stays elimination-ordered
	for i := len(active) - 1; i >= 1; i-- {
		s.Rankings = append(s.Rankings, Ranking{PlayerID: active[i].ID, Rank: i + 1, NetWorth: worth[active[i].ID]})
	}
	tx.finish(active[0].ID, worth[active[0].ID], "ended by administrator")
	return nil
}

// finish records the winner and closes the session.
func (tx *txn) finish(winner string, netWorth int, reason string) {
	s := tx.s
	s.Winner = winner
	s.Rankings = append(s.Rankings, Ranking{PlayerID: winner, Rank: 1, NetWorth: netWorth})
	s.Status = StatusFinished
	s.Auction = nil
	s.Trade = nil
	s.PendingRent = nil
	s.RollAgain = false
	tx.setPhase(PhaseFinished)

	rankings := make([]Ranking, len(s.Rankings))
	copy(rankings, s.Rankings)
	sort.SliceStable(rankings, func(i, j int) bool { return rankings[i].Rank < rankings[j].Rank })
	tx.emit(EventGameFinished, winner, map[string]interface{}{
		"winner":   winner,
		"rankings": rankings,
		"reason":   reason,
	})
	if tx.logger != nil {
		tx.logger.Info("game finished",
			zap.String("session_id", s.ID),
			zap.String("winner", winner),
			zap.String("reason", reason),
		)
	}
}
