package game

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/estate-game/estate-server/internal/game/cards"
)

// checksumVersion changes whenever the canonical representation does.
const checksumVersion = 1

// SerializationChecksum is a deterministic digest of a session.
type SerializationChecksum struct {
	Hash    string
	Version int
}

// ComputeChecksum hashes a canonical rendering of the session. Timestamps
// are left out so a replayed session hashes the same as the original.
func ComputeChecksum(s *Session) (*SerializationChecksum, error) {
	hash := sha256.New()
	if _, err := hash.Write([]byte(canonicalSession(s))); err != nil {
		return nil, fmt.Errorf("failed to compute hash: %w", err)
	}
	return &SerializationChecksum{
		Hash:    hex.EncodeToString(hash.Sum(nil)),
		Version: checksumVersion,
	}, nil
}

func canonicalSession(s *Session) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "SESSION:%s|%s|%s|%s|%s|%d|%d,%d|%t|%d|%s\n",
		s.ID, s.RoomCode, s.Status, s.Phase, s.CurrentTurn, s.Version,
		s.Dice.A, s.Dice.B, s.RollAgain, s.Round, s.Winner)
	fmt.Fprintf(&buf, "MARKERS:%d|%d|%d\n", s.FestivalSquare, s.RentModifier, s.ModifierSquare)

	// seat order is significant, so players are not sorted
	for _, p := range s.Players {
		fmt.Fprintf(&buf, "PLAYER:%s|%s|%s|%t|%s|%d|%d|%t|%d|%d|%t|%s\n",
			p.ID, p.UserID, p.Name, p.IsBot, p.Difficulty, p.Cash, p.Position,
			p.InJail, p.JailTurns, p.Doubles, p.Bankrupt, strings.Join(p.JailCards, ","))
	}
	buf.WriteString("TURN_ORDER:" + strings.Join(s.TurnOrder, ",") + "\n")

	for _, sq := range s.Squares {
		if !sq.Owned() {
			continue
		}
		fmt.Fprintf(&buf, "SQUARE:%d|%s|%d|%t\n", sq.Position, sq.Owner, sq.Level, sq.Mortgaged)
	}

	if a := s.Auction; a != nil {
		fmt.Fprintf(&buf, "AUCTION:%d|%d|%d|%s|%s|%s\n", a.Position, a.StartingBid, a.HighBid, a.HighBidder,
			strings.Join(a.Participants, ","), strings.Join(a.Passed, ","))
	}
	if t := s.Trade; t != nil {
		fmt.Fprintf(&buf, "TRADE:%s|%s|%s|%s|%d|%d|%v|%v|%s\n", t.ID, t.Status, t.Terms.From, t.Terms.To,
			t.Terms.OfferCash, t.Terms.RequestCash, t.Terms.OfferSquares, t.Terms.RequestSquares, t.ReturnPhase)
	}
	if r := s.PendingRent; r != nil {
		fmt.Fprintf(&buf, "RENT:%s|%d|%d\n", r.Creditor, r.Position, r.Amount)
	}
	buf.WriteString("CHANCE:" + deckLine(s.Chance) + "\n")
	buf.WriteString("COMMUNITY:" + deckLine(s.Community) + "\n")
	for _, r := range s.Rankings {
		fmt.Fprintf(&buf, "RANK:%d|%s|%d\n", r.Rank, r.PlayerID, r.NetWorth)
	}
	buf.WriteString("APPLIED:" + strings.Join(s.AppliedActions, ",") + "\n")
	return buf.String()
}

func deckLine(d *cards.Deck) string {
	if d == nil {
		return ""
	}
	return strings.Join(d.Order, ",")
}

// VerifyChecksum reports whether s still hashes to expected.
func VerifyChecksum(s *Session, expected *SerializationChecksum) (bool, error) {
	computed, err := ComputeChecksum(s)
	if err != nil {
		return false, fmt.Errorf("failed to compute checksum: %w", err)
	}
	return computed.Hash == expected.Hash, nil
}

// SerializeToBytes gob-encodes a session for replay files and caches.
func SerializeToBytes(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeFromBytes is the inverse of SerializeToBytes.
func DeserializeFromBytes(data []byte) (*Session, error) {
	var s Session
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}
