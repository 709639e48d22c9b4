package game

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/estate-game/estate-server/internal/game/rules"
)

// proposeTrade opens an offer from the current player. Only one trade may be
// pending; the turn pauses in the trading phase until it is answered.
func (tx *txn) proposeTrade(playerID string, proposal *TradeProposal) error {
	s := tx.s
	if _, err := tx.currentPlayer(playerID); err != nil {
		return err
	}
	if !managementPhase(s.Phase, false) {
		return invalid(ErrWrongPhase, "cannot trade during %s", s.Phase)
	}
	if proposal == nil {
		return invalid(ErrInvalidAmount, "trade terms are required")
	}
	if s.Trade != nil && s.Trade.Status == TradePending {
		return violation(ErrNotEligible, "trade %s is still pending", s.Trade.ID)
	}
	counterparty := s.Player(proposal.To)
	if counterparty == nil || counterparty.Bankrupt {
		return invalid(ErrUnknownPlayer, "%s", proposal.To)
	}

	terms := rules.TradeTerms{
		From:           playerID,
		To:             proposal.To,
		OfferCash:      proposal.OfferCash,
		RequestCash:    proposal.RequestCash,
		OfferSquares:   append([]int(nil), proposal.OfferSquares...),
		RequestSquares: append([]int(nil), proposal.RequestSquares...),
	}
	if err := tx.validateTerms(terms); err != nil {
		return err
	}

	// derived from session and version so replays reproduce the same id
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:trade:%d", s.ID, s.Version))).String()
	s.Trade = &Trade{ID: id, Terms: terms, Status: TradePending, ReturnPhase: s.Phase}
	tx.setPhase(PhaseTrading)
	tx.emit(EventTradeOffered, playerID, map[string]interface{}{
		"trade_id":        id,
		"from":            terms.From,
		"to":              terms.To,
		"offer_cash":      terms.OfferCash,
		"request_cash":    terms.RequestCash,
		"offer_squares":   terms.OfferSquares,
		"request_squares": terms.RequestSquares,
	})
	tx.emitTo(terms.To, EventDecision, map[string]interface{}{
		"decision": "trade",
		"trade_id": id,
		"from":     terms.From,
	})
	return nil
}

func (tx *txn) validateTerms(terms rules.TradeTerms) error {
	s := tx.s
	from, to := s.Player(terms.From), s.Player(terms.To)
	if from == nil || to == nil {
		return invalid(ErrUnknownPlayer, "trade participant missing")
	}
	err := rules.ValidateTrade(tx.e.board, s.Squares, terms, from.Cash, to.Cash)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rules.ErrInvalidTradeBalance):
		return violation(err, "trade cash exceeds a balance")
	case errors.Is(err, rules.ErrInvalidTradeOwnership), errors.Is(err, rules.ErrInvalidTradeDeveloped):
		return violation(err, "trade squares are not transferable")
	default:
		return invalid(err, "malformed trade")
	}
}

// pendingTrade looks up the open trade addressed by tradeID.
func (tx *txn) pendingTrade(tradeID string) (*Trade, error) {
	t := tx.s.Trade
	if tx.s.Phase != PhaseTrading || t == nil || t.Status != TradePending {
		return nil, invalid(ErrNoPendingTrade, "nothing to answer")
	}
	if tradeID != "" && tradeID != t.ID {
		return nil, invalid(ErrNoPendingTrade, "trade %s is not pending", tradeID)
	}
	return t, nil
}

func (tx *txn) acceptTrade(playerID, tradeID string) error {
	s := tx.s
	t, err := tx.pendingTrade(tradeID)
	if err != nil {
		return err
	}
	if t.Terms.To != playerID {
		return invalid(ErrNotEligible, "only %s may accept", t.Terms.To)
	}
	// balances and holdings may have changed since the offer
	if err := tx.validateTerms(t.Terms); err != nil {
		return err
	}

	from, to := s.Player(t.Terms.From), s.Player(t.Terms.To)
	from.Cash += t.Terms.RequestCash - t.Terms.OfferCash
	to.Cash += t.Terms.OfferCash - t.Terms.RequestCash
	for _, pos := range t.Terms.OfferSquares {
		s.Squares[pos].Owner = to.ID
	}
	for _, pos := range t.Terms.RequestSquares {
		s.Squares[pos].Owner = from.ID
	}
	tx.closeTrade(TradeAccepted, EventTradeAccepted, "")
	return nil
}

func (tx *txn) rejectTrade(playerID, tradeID string) error {
	t, err := tx.pendingTrade(tradeID)
	if err != nil {
		return err
	}
	if t.Terms.To != playerID {
		return invalid(ErrNotEligible, "only %s may reject", t.Terms.To)
	}
	tx.closeTrade(TradeRejected, EventTradeRejected, "")
	return nil
}

func (tx *txn) cancelTrade(playerID, tradeID string) error {
	t, err := tx.pendingTrade(tradeID)
	if err != nil {
		return err
	}
	if t.Terms.From != playerID {
		return invalid(ErrNotEligible, "only %s may cancel", t.Terms.From)
	}
	tx.closeTrade(TradeCancelled, EventTradeCancelled, "")
	return nil
}

// closeTrade settles the pending trade and resumes the interrupted phase.
func (tx *txn) closeTrade(status TradeStatus, event EventType, reason string) {
	s := tx.s
	t := s.Trade
	t.Status = status
	payload := map[string]interface{}{
		"trade_id": t.ID,
		"from":     t.Terms.From,
		"to":       t.Terms.To,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	s.Trade = nil
	tx.emit(event, tx.cmd.PlayerID, payload)
	if s.Phase == PhaseTrading {
		tx.setPhase(t.ReturnPhase)
	}
}
