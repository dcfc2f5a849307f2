package encounter

import (
	"context"
	"log/slog"

	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/engine/initiative"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/encounters"
)

func (o *orchestrator) NextTurn(ctx context.Context, input *NextTurnInput) (*NextTurnOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	unlock := o.locks.Lock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(sc.actor, access.ActionAdvanceTurn, nil); err != nil {
		return nil, err
	}

	encounter := sc.encounter
	if !encounter.IsStarted() {
		return nil, errors.FailedPrecondition("encounter has not been started").
			WithMeta("encounter_id", encounter.ID)
	}

	sorted, err := o.listSorted(ctx, encounter.ID)
	if err != nil {
		return nil, err
	}

	next, err := initiative.Advance(initiative.TurnState{
		Round: encounter.CurrentRound,
		Index: encounter.CurrentTurnIndex,
	}, len(sorted))
	if err != nil {
		return nil, err
	}
	encounter.CurrentRound = next.Round
	encounter.CurrentTurnIndex = next.Index
	active := activeEntryID(encounter, sorted)

	evt, err := o.newEvent(encounter, entities.EventTypeTurnAdvance, entities.TurnAdvancePayload{
		EncounterID:      encounter.ID,
		CurrentRound:     encounter.CurrentRound,
		CurrentTurnIndex: encounter.CurrentTurnIndex,
		ActiveEntryID:    active,
	})
	if err != nil {
		return nil, err
	}

	if err := o.commit(ctx, &encounters.CommitInput{
		Encounter: encounter,
		Events:    []*entities.Event{evt},
	}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "turn advanced",
		"encounter_id", encounter.ID,
		"round", encounter.CurrentRound,
		"turn_index", encounter.CurrentTurnIndex,
		"active_entry_id", active)

	return &NextTurnOutput{Encounter: encounter, ActiveEntryID: active}, nil
}
