package initiative

import (
	"github.com/KirkDiggler/rpg-toolkit/dice"

	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

// InitiativeDie is the die rolled for initiative
const InitiativeDie = 20

// RollResult is a d20 initiative roll plus the entry's bonus
type RollResult struct {
	Natural int
	Bonus   int
	Total   int
}

// Roll rolls initiative for an entry with the given bonus
func Roll(roller dice.Roller, bonus int) (*RollResult, error) {
	if roller == nil {
		roller = dice.DefaultRoller
	}

	natural, err := roller.Roll(InitiativeDie)
	if err != nil {
		return nil, errors.Wrap(err, "failed to roll initiative")
	}

	return &RollResult{
		Natural: natural,
		Bonus:   bonus,
		Total:   natural + bonus,
	}, nil
}
