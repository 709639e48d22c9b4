package game

import (
	"fmt"
	"math/rand"
	"sync"
)

// Phase is the sub-state of a turn that decides which actions are legal.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseRolling
	PhaseResolving
	PhasePropertyDecision
	PhaseAuction
	PhaseTrading
	PhaseDevelopment
	PhaseJail
	PhaseEndTurn
	PhaseFinished
)

var phaseNames = map[Phase]string{
	PhaseWaiting:          "waiting",
	PhaseRolling:          "rolling",
	PhaseResolving:        "resolving",
	PhasePropertyDecision: "property_decision",
	PhaseAuction:          "auction",
	PhaseTrading:          "trading",
	PhaseDevelopment:      "development",
	PhaseJail:             "jail",
	PhaseEndTurn:          "end_turn",
	PhaseFinished:         "finished",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase_%d", int(p))
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status is the coarse lifecycle of a session.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// Dice is one roll of two six-sided dice.
type Dice struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (d Dice) Sum() int      { return d.A + d.B }
func (d Dice) Doubles() bool { return d.A != 0 && d.A == d.B }

// Roller produces dice rolls for one session.
type Roller interface {
	Roll() Dice
}

// RandomDice rolls uniformly with its own source.
type RandomDice struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomDice(seed int64) *RandomDice {
	return &RandomDice{rng: rand.New(rand.NewSource(seed))}
}

func (r *RandomDice) Roll() Dice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Dice{A: r.rng.Intn(6) + 1, B: r.rng.Intn(6) + 1}
}

// FixedDice replays a scripted sequence, then repeats the last roll.
type FixedDice struct {
	mu    sync.Mutex
	rolls []Dice
	next  int
}

func NewFixedDice(rolls ...Dice) *FixedDice {
	return &FixedDice{rolls: rolls}
}

// Push appends rolls to the script.
func (f *FixedDice) Push(rolls ...Dice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolls = append(f.rolls, rolls...)
}

func (f *FixedDice) Roll() Dice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rolls) == 0 {
		return Dice{A: 1, B: 2}
	}
	if f.next >= len(f.rolls) {
		return f.rolls[len(f.rolls)-1]
	}
	d := f.rolls[f.next]
	f.next++
	return d
}

// rollDice handles both the normal roll and the in-jail roll.
func (tx *txn) rollDice(playerID string) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	switch {
	case s.Phase == PhaseRolling:
	case s.Phase == PhaseJail && p.InJail:
		return tx.rollInJail(p)
	case s.Phase == PhaseDevelopment && s.RollAgain:
	default:
		return invalid(ErrWrongPhase, "cannot roll during %s", s.Phase)
	}

	s.RollAgain = false
	dice := tx.roll()

	if dice.Doubles() {
		p.Doubles++
		if p.Doubles >= tx.e.constants.MaxDoubles {
			tx.emit(EventDiceRolled, p.ID, map[string]interface{}{
				"dice":     []int{dice.A, dice.B},
				"doubles":  true,
				"position": p.Position,
				"events":   []string{string(EventSentToJail)},
			})
			tx.jail(p, "three doubles in a row")
			tx.advanceTurn()
			return nil
		}
		s.RollAgain = true
	} else {
		p.Doubles = 0
	}

	return tx.moveAndResolve(p, dice)
}

func (tx *txn) rollInJail(p *Player) error {
	c := tx.e.constants
	dice := tx.roll()

	if dice.Doubles() {
		tx.release(p, "rolled doubles")
		return tx.moveAndResolve(p, dice)
	}

	p.JailTurns++
	if p.JailTurns >= c.MaxJailTurns {
		tx.Charge(p.ID, "", c.JailFine)
		if p.Bankrupt {
			tx.emit(EventDiceRolled, p.ID, map[string]interface{}{
				"dice":     []int{dice.A, dice.B},
				"doubles":  false,
				"position": p.Position,
			})
			return nil
		}
		tx.release(p, "served maximum jail turns")
		return tx.moveAndResolve(p, dice)
	}

	tx.emit(EventDiceRolled, p.ID, map[string]interface{}{
		"dice":       []int{dice.A, dice.B},
		"doubles":    false,
		"position":   p.Position,
		"jail_turns": p.JailTurns,
	})
	tx.advanceTurn()
	return nil
}

// moveAndResolve walks the player by the roll, resolves the landing square
// and settles the phase for what follows.
func (tx *txn) moveAndResolve(p *Player, dice Dice) error {
	mark := len(tx.events)
	tx.Advance(p.ID, dice.Sum())
	tx.resolveSquare(p, 0)

	triggered := make([]string, 0, len(tx.events)-mark)
	for _, ev := range tx.events[mark:] {
		triggered = append(triggered, string(ev.Type))
	}
	rolled := tx.newEvent(EventDiceRolled, p.ID, map[string]interface{}{
		"dice":     []int{dice.A, dice.B},
		"doubles":  dice.Doubles(),
		"position": p.Position,
		"events":   triggered,
	})
	tx.events = append(tx.events[:mark], append([]Event{rolled}, tx.events[mark:]...)...)

	tx.afterResolution(p)
	return nil
}

// afterResolution moves the turn on once nothing is pending for the player.
func (tx *txn) afterResolution(p *Player) {
	s := tx.s
	if s.Status == StatusFinished || p.Bankrupt || s.CurrentTurn != p.ID {
		return
	}
	if s.Phase == PhasePropertyDecision || s.Phase == PhaseAuction || s.PendingRent != nil {
		return
	}
	tx.continueTurn(p)
}

// continueTurn settles the phase once the landing square is fully handled.
func (tx *txn) continueTurn(p *Player) {
	s := tx.s
	if s.Status == StatusFinished || p.Bankrupt || s.CurrentTurn != p.ID {
		return
	}
	if p.InJail {
		tx.advanceTurn()
		return
	}
	tx.setPhase(PhaseDevelopment)
}

func (tx *txn) endTurn(playerID string) error {
	s := tx.s
	if _, err := tx.currentPlayer(playerID); err != nil {
		return err
	}
	if s.Phase != PhaseDevelopment {
		return invalid(ErrWrongPhase, "cannot end turn during %s", s.Phase)
	}
	if s.RollAgain {
		return violation(ErrNotEligible, "rolled doubles, roll again first")
	}
	tx.advanceTurn()
	return nil
}

// advanceTurn hands the turn to the next active player in order.
func (tx *txn) advanceTurn() {
	s := tx.s
	from := s.CurrentTurn
	if p := s.Player(from); p != nil {
		p.Doubles = 0
	}
	tx.setPhase(PhaseEndTurn)
	tx.passTurn(from, s.nextAfter(from))
}

func (tx *txn) passTurn(from, next string) {
	s := tx.s
	tx.emit(EventTurnEnded, from, map[string]interface{}{
		"next_player": next,
		"round":       s.Round,
	})
	// seats are stable across eliminations, turn order is not
	if s.seat(next) <= s.seat(from) {
		s.Round++
	}
	tx.startTurn(next)
}

func (tx *txn) startTurn(playerID string) {
	s := tx.s
	s.CurrentTurn = playerID
	s.RollAgain = false
	s.PendingRent = nil
	s.RentModifier = 0
	p := s.Player(playerID)
	if p == nil {
		return
	}
	p.Doubles = 0
	if p.InJail {
		tx.setPhase(PhaseJail)
	} else {
		tx.setPhase(PhaseRolling)
	}
}

func (tx *txn) jail(p *Player, reason string) {
	s := tx.s
	p.Position = tx.e.board.JailPosition()
	p.InJail = true
	p.JailTurns = 0
	p.Doubles = 0
	if s.CurrentTurn == p.ID {
		s.RollAgain = false
	}
	tx.emit(EventSentToJail, p.ID, map[string]interface{}{
		"position": p.Position,
		"reason":   reason,
	})
}

func (tx *txn) release(p *Player, reason string) {
	p.InJail = false
	p.JailTurns = 0
	tx.emit(EventJailReleased, p.ID, map[string]interface{}{"reason": reason})
}

func (tx *txn) payJailFine(playerID string) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	if s.Phase != PhaseJail || !p.InJail {
		return invalid(ErrWrongPhase, "player is not in jail")
	}
	fine := tx.e.constants.JailFine
	if p.Cash < fine {
		return violation(ErrInsufficientFunds, "jail fine is %d", fine)
	}
	p.Cash -= fine
	tx.release(p, "paid fine")
	tx.setPhase(PhaseRolling)
	return nil
}

func (tx *txn) useJailCard(playerID string) error {
	s := tx.s
	p, err := tx.currentPlayer(playerID)
	if err != nil {
		return err
	}
	if s.Phase != PhaseJail || !p.InJail {
		return invalid(ErrWrongPhase, "player is not in jail")
	}
	if len(p.JailCards) == 0 {
		return violation(ErrNotEligible, "no jail release card held")
	}
	cardID := p.JailCards[0]
	p.JailCards = p.JailCards[1:]
	tx.returnCard(cardID)
	tx.release(p, "used card")
	tx.setPhase(PhaseRolling)
	return nil
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}
