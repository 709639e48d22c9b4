// Package store persists game sessions. MemoryStore backs tests and
// single-node runs, PostgresStore is the durable store and CachedStore puts
// a Redis snapshot cache in front of either.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/estate-game/estate-server/internal/game"
	"github.com/estate-game/estate-server/internal/game/board"
)

// TemplateStore keeps the shared square definitions.
type TemplateStore interface {
	SeedTemplates(ctx context.Context, b *board.Board) error
	LoadTemplates(ctx context.Context) ([]board.SquareTemplate, error)
}

// Store is a session store that also holds board templates.
type Store interface {
	game.Store
	TemplateStore
}

// sessionRecord is the queryable projection of a session. The full session
// travels alongside it as JSON.
type sessionRecord struct {
	ID          string
	RoomCode    string
	Status      string
	Phase       string
	CurrentTurn string
	Round       int
	Winner      string
	Version     int64
	State       []byte
}

type playerRecord struct {
	SessionID string
	PlayerID  string
	Seat      int
	Name      string
	IsBot     bool
	Cash      int
	Position  int
	InJail    bool
	Bankrupt  bool
}

type squareRecord struct {
	SessionID string
	Position  int
	Owner     string
	Level     int
	Mortgaged bool
}

func toRecord(s *game.Session) (sessionRecord, error) {
	state, err := encodeSession(s)
	if err != nil {
		return sessionRecord{}, err
	}
	return sessionRecord{
		ID:          s.ID,
		RoomCode:    s.RoomCode,
		Status:      string(s.Status),
		Phase:       s.Phase.String(),
		CurrentTurn: s.CurrentTurn,
		Round:       s.Round,
		Winner:      s.Winner,
		Version:     s.Version,
		State:       state,
	}, nil
}

func playerRecords(s *game.Session) []playerRecord {
	out := make([]playerRecord, 0, len(s.Players))
	for seat, p := range s.Players {
		out = append(out, playerRecord{
			SessionID: s.ID,
			PlayerID:  p.ID,
			Seat:      seat,
			Name:      p.Name,
			IsBot:     p.IsBot,
			Cash:      p.Cash,
			Position:  p.Position,
			InJail:    p.InJail,
			Bankrupt:  p.Bankrupt,
		})
	}
	return out
}

// ownedSquares lists only squares with an owner; unowned squares are the
// board default and are not stored.
func ownedSquares(s *game.Session) []squareRecord {
	var out []squareRecord
	for _, sq := range s.Squares {
		if !sq.Owned() {
			continue
		}
		out = append(out, squareRecord{
			SessionID: s.ID,
			Position:  sq.Position,
			Owner:     sq.Owner,
			Level:     sq.Level,
			Mortgaged: sq.Mortgaged,
		})
	}
	return out
}

func encodeSession(s *game.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return data, nil
}

func decodeSession(data []byte) (*game.Session, error) {
	var s game.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
