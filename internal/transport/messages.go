package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/estate-game/estate-server/internal/game"
)

// Inbound message types handled by the hub itself. Every other type is a
// game action and must match a game.ActionType.
const (
	MsgCreateRoom = "create_room"
	MsgJoinRoom   = "join_room"
)

// Outbound events produced by the hub rather than the engine.
const (
	EventConnected    = "connected"
	EventSessionState = "session-state"
)

var (
	ErrBadMessage    = errors.New("malformed message")
	ErrUnknownAction = errors.New("unknown action")
	ErrNoSession     = errors.New("not in a session")
)

// Inbound is what clients send.
type Inbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	ActionID  string          `json:"action_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Outbound is what the hub writes.
type Outbound struct {
	Event     string      `json:"event"`
	SessionID string      `json:"session_id,omitempty"`
	PlayerID  string      `json:"player_id,omitempty"`
	Version   int64       `json:"version,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// outbound flattens engine events so their payload sits directly under
// "payload", the same as hub-produced messages.
func outbound(sessionID, event string, payload interface{}) Outbound {
	ev, ok := payload.(game.Event)
	if !ok {
		return Outbound{Event: event, SessionID: sessionID, Payload: payload}
	}
	if sessionID == "" {
		sessionID = ev.SessionID
	}
	return Outbound{
		Event:     event,
		SessionID: sessionID,
		PlayerID:  ev.PlayerID,
		Version:   ev.Version,
		Payload:   ev.Payload,
	}
}

// actionPayload carries every argument any action can take.
type actionPayload struct {
	RoomCode   string              `json:"room_code"`
	Name       string              `json:"name"`
	Square     int                 `json:"square"`
	Amount     int                 `json:"amount"`
	TradeID    string              `json:"trade_id"`
	Trade      *game.TradeProposal `json:"trade"`
	Difficulty string              `json:"difficulty"`
}

var actionTypes = map[game.ActionType]bool{
	game.ActionJoin:         true,
	game.ActionAddBot:       true,
	game.ActionStart:        true,
	game.ActionRollDice:     true,
	game.ActionPurchase:     true,
	game.ActionDecline:      true,
	game.ActionPayRent:      true,
	game.ActionPlaceBid:     true,
	game.ActionPassAuction:  true,
	game.ActionBuild:        true,
	game.ActionSell:         true,
	game.ActionMortgage:     true,
	game.ActionUnmortgage:   true,
	game.ActionPayJailFine:  true,
	game.ActionUseJailCard:  true,
	game.ActionProposeTrade: true,
	game.ActionAcceptTrade:  true,
	game.ActionRejectTrade:  true,
	game.ActionCancelTrade:  true,
	game.ActionEndTurn:      true,
	game.ActionLeave:        true,
}

func decodeInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return Inbound{}, fmt.Errorf("%w: type is required", ErrBadMessage)
	}
	return msg, nil
}

func decodePayload(msg Inbound) (actionPayload, error) {
	var p actionPayload
	if len(msg.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: payload: %v", ErrBadMessage, err)
	}
	return p, nil
}

// toCommand turns a game action message into a command for playerID. Admin
// actions such as finish are never accepted from a connection.
func toCommand(msg Inbound, playerID string) (game.Command, error) {
	typ := game.ActionType(msg.Type)
	if !actionTypes[typ] {
		return game.Command{}, fmt.Errorf("%w: %s", ErrUnknownAction, msg.Type)
	}
	p, err := decodePayload(msg)
	if err != nil {
		return game.Command{}, err
	}
	return game.Command{
		Type:       typ,
		SessionID:  msg.SessionID,
		PlayerID:   playerID,
		ActionID:   msg.ActionID,
		Square:     p.Square,
		Amount:     p.Amount,
		TradeID:    p.TradeID,
		Trade:      p.Trade,
		Name:       p.Name,
		Difficulty: p.Difficulty,
	}, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrBadMessage):
		return "bad_message"
	case errors.Is(err, ErrUnknownAction):
		return "unknown_action"
	case errors.Is(err, ErrNoSession):
		return "no_session"
	case errors.Is(err, game.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, game.ErrRoomCodeTaken):
		return "room_code_taken"
	default:
		return "internal"
	}
}
