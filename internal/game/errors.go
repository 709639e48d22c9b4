package game

import (
	"errors"
	"fmt"

	"github.com/estate-game/estate-server/internal/game/rules"
)

// ErrorKind classifies why an action was refused.
type ErrorKind int

const (
	// KindValidation covers wrong turn, wrong phase and malformed input.
	KindValidation ErrorKind = iota
	// KindRule covers business-rule violations such as insufficient funds.
	KindRule
	// KindPersistence means the commit failed and the session was restored.
	KindPersistence
)

var errorKindNames = map[ErrorKind]string{
	KindValidation:  "validation",
	KindRule:        "rule",
	KindPersistence: "persistence",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind_%d", int(k))
}

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrWrongPhase        = errors.New("action not allowed in the current phase")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyOwned      = errors.New("square already owned")
	ErrNotOwner          = errors.New("player does not own the square")
	ErrNotEligible       = errors.New("player is not eligible for this action")
	ErrMortgaged         = errors.New("square is mortgaged")
	ErrHasDevelopment    = errors.New("square has development")
	ErrUnknownPlayer     = errors.New("unknown player")
	ErrGameFinished      = errors.New("game has finished")
	ErrNoPendingTrade    = errors.New("no pending trade")
	ErrNoActiveAuction   = errors.New("no active auction")
	ErrCommitFailed      = errors.New("commit failed")
	ErrSessionFull       = errors.New("session is full")
	ErrAlreadyJoined     = errors.New("player already joined")
	ErrNotEnoughPlayers  = errors.New("not enough players")
	ErrGameStarted       = errors.New("game already started")
	ErrUnknownAction     = errors.New("unknown action")
	ErrRoomCodeTaken     = errors.New("room code already in use")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrSessionNotFound, "session_not_found"},
	{ErrNotYourTurn, "not_your_turn"},
	{ErrWrongPhase, "wrong_phase"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrAlreadyOwned, "already_owned"},
	{ErrNotOwner, "not_owner"},
	{ErrNotEligible, "not_eligible"},
	{ErrMortgaged, "mortgaged"},
	{ErrHasDevelopment, "has_development"},
	{ErrUnknownPlayer, "unknown_player"},
	{ErrGameFinished, "game_finished"},
	{ErrNoPendingTrade, "no_pending_trade"},
	{ErrNoActiveAuction, "no_active_auction"},
	{ErrCommitFailed, "commit_failed"},
	{ErrSessionFull, "session_full"},
	{ErrAlreadyJoined, "already_joined"},
	{ErrNotEnoughPlayers, "not_enough_players"},
	{ErrGameStarted, "game_started"},
	{ErrUnknownAction, "unknown_action"},
	{rules.ErrInvalidTrade, "invalid_trade"},
	{rules.ErrNoMonopoly, "no_monopoly"},
	{rules.ErrUnevenDevelopment, "uneven_development"},
	{rules.ErrMaxLevel, "max_level"},
	{rules.ErrBankSupply, "bank_supply"},
	{rules.ErrNotOwner, "not_owner"},
	{rules.ErrMortgaged, "mortgaged"},
	{rules.ErrGroupMortgaged, "group_mortgaged"},
	{rules.ErrHasDevelopment, "has_development"},
	{rules.ErrNoDevelopment, "no_development"},
	{rules.ErrAlreadyMortgaged, "already_mortgaged"},
	{rules.ErrNotMortgaged, "not_mortgaged"},
	{rules.ErrNotDevelopable, "not_developable"},
	{rules.ErrNotPurchasable, "not_purchasable"},
}

func codeOf(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "rule_violation"
}

// ActionError is returned by every rejected action.
type ActionError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func invalid(err error, format string, args ...interface{}) error {
	return &ActionError{Kind: KindValidation, Code: codeOf(err), Message: fmt.Sprintf(format, args...), Err: err}
}

func violation(err error, format string, args ...interface{}) error {
	return &ActionError{Kind: KindRule, Code: codeOf(err), Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the ErrorKind of err, defaulting to KindRule for errors
// that did not come from an action.
func KindOf(err error) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, ErrCommitFailed) {
		return KindPersistence
	}
	return KindRule
}
