// Package bot chooses actions for computer-controlled players. It reads a
// View copied out of the session and returns a Decision; it never mutates
// session state.
package bot

import "fmt"

// Difficulty selects a personality preset.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty accepts the three preset names; empty means medium.
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(s) {
	case "":
		return DifficultyMedium, nil
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(s), nil
	default:
		return "", fmt.Errorf("unknown bot difficulty %q", s)
	}
}

// Personality weights the bot's scoring. All fields are in [0, 2]; 1 is neutral.
type Personality struct {
	Aggressiveness     float64
	RiskTolerance      float64
	TradingWillingness float64
	DevelopmentFocus   float64
	// CashReserve is the fraction of starting cash the bot tries to keep.
	CashReserve float64
}

var presets = map[Difficulty]Personality{
	DifficultyEasy: {
		Aggressiveness:     0.7,
		RiskTolerance:      0.5,
		TradingWillingness: 0.3,
		DevelopmentFocus:   0.2,
		CashReserve:        0.25,
	},
	DifficultyMedium: {
		Aggressiveness:     1.0,
		RiskTolerance:      0.8,
		TradingWillingness: 0.5,
		DevelopmentFocus:   0.6,
		CashReserve:        0.15,
	},
	DifficultyHard: {
		Aggressiveness:     1.3,
		RiskTolerance:      1.1,
		TradingWillingness: 0.7,
		DevelopmentFocus:   1.0,
		CashReserve:        0.1,
	},
}

// PersonalityFor returns the preset for a difficulty, medium when unknown.
func PersonalityFor(d Difficulty) Personality {
	if p, ok := presets[d]; ok {
		return p
	}
	return presets[DifficultyMedium]
}
