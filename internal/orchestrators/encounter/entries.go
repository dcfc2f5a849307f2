package encounter

import (
	"context"
	"log/slog"

	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/clients/character"
	"github.com/KirkDiggler/rpg-encounters/internal/engine/initiative"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/encounters"
)

func (o *orchestrator) GetInitiative(ctx context.Context, input *GetInitiativeInput) (*GetInitiativeOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	if _, err := o.EnsureMemberEntries(ctx, &EnsureMemberEntriesInput{
		Identity:    input.Identity,
		EncounterID: input.EncounterID,
	}); err != nil {
		return nil, err
	}

	unlock := o.locks.RLock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}

	sorted, err := o.listSorted(ctx, sc.encounter.ID)
	if err != nil {
		return nil, err
	}

	return &GetInitiativeOutput{
		Encounter:     sc.encounter,
		Entries:       access.RedactEntries(sc.actor.Role, sorted),
		ActiveEntryID: activeEntryID(sc.encounter, sorted),
		Role:          sc.actor.Role,
	}, nil
}

func (o *orchestrator) CreateEntry(ctx context.Context, input *CreateEntryInput) (*CreateEntryOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	var (
		patch    *EntryPatch
		snapshot *character.Snapshot
	)
	switch input.Type {
	case entities.EntryTypeNPC:
		if input.NPC == nil || input.Player != nil {
			return nil, errors.InvalidArgument("npc entries take npc fields only")
		}
		patch = npcPatch(input.NPC)
		if err := patch.Validate(); err != nil {
			return nil, err
		}
	case entities.EntryTypePlayer:
		if input.Player == nil || input.NPC != nil {
			return nil, errors.InvalidArgument("player entries take userId and characterId only")
		}
		vb := errors.NewValidationBuilder()
		errors.ValidateRequired("userId", input.Player.UserID, vb)
		errors.ValidateRequired("characterId", input.Player.CharacterID, vb)
		if err := vb.Build(); err != nil {
			return nil, err
		}

		var err error
		snapshot, err = o.prefetchPlayer(ctx, input)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.InvalidArgumentf("unknown entry type %q", input.Type)
	}

	unlock := o.locks.Lock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(sc.actor, access.ActionCreateEntry, nil); err != nil {
		return nil, err
	}

	before, err := o.listSorted(ctx, sc.encounter.ID)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	entry := &entities.InitiativeEntry{
		ID:          o.idGen.Generate(),
		EncounterID: sc.encounter.ID,
		Type:        input.Type,
		OrderIndex:  nextOrderIndex(before),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if input.Type == entities.EntryTypeNPC {
		patch.Apply(entry)
	} else {
		if err := checkPlayer(sc.campaign, before, input.Player); err != nil {
			return nil, err
		}
		userID, characterID := input.Player.UserID, input.Player.CharacterID
		entry.UserID = &userID
		entry.CharacterID = &characterID
		entry.Name = placeholderName
		if snapshot != nil {
			if snapshot.Name != "" {
				entry.Name = truncateName(snapshot.Name)
			}
			entry.AvatarURL = snapshot.AvatarURL
			entry.InitiativeBonus = clampBonus(snapshot.InitiativeBonus)
			entry.HP = snapshot.HP
			entry.MaxHP = snapshot.MaxHP
			entry.AC = snapshot.AC
		}
	}

	encounter := sc.encounter
	after := initiative.Sort(append(append([]*entities.InitiativeEntry{}, before...), entry))
	reconcileTurn(encounter, before, after)

	evt, err := o.newEvent(encounter, entities.EventTypeEntryAdded, entities.EntryAddedPayload{
		EncounterID:      encounter.ID,
		Entry:            entry,
		CurrentTurnIndex: encounter.CurrentTurnIndex,
	})
	if err != nil {
		return nil, err
	}

	if err := o.commit(ctx, &encounters.CommitInput{
		Encounter:  encounter,
		PutEntries: []*entities.InitiativeEntry{entry},
		Events:     []*entities.Event{evt},
	}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "entry created",
		"encounter_id", encounter.ID,
		"entry_id", entry.ID,
		"type", entry.Type)

	return &CreateEntryOutput{Entry: entry, Encounter: encounter}, nil
}

// prefetchPlayer checks the caller may add the player, then loads the character
// outside the encounter lock. A failed fetch falls back to a placeholder.
func (o *orchestrator) prefetchPlayer(ctx context.Context, input *CreateEntryInput) (*character.Snapshot, error) {
	var (
		sc      *scope
		entries []*entities.InitiativeEntry
		err     error
	)
	func() {
		unlock := o.locks.RLock(encounterLockKey(input.EncounterID))
		defer unlock()

		sc, err = o.resolve(ctx, input.EncounterID, input.Identity)
		if err != nil {
			return
		}
		entries, err = o.listSorted(ctx, input.EncounterID)
	}()
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(sc.actor, access.ActionCreateEntry, nil); err != nil {
		return nil, err
	}
	if err := checkPlayer(sc.campaign, entries, input.Player); err != nil {
		return nil, err
	}

	ch, err := o.characters.FetchCharacter(ctx, input.Player.CharacterID, input.Identity.Token)
	if err != nil {
		slog.WarnContext(ctx, "creating player entry without character data",
			"encounter_id", input.EncounterID,
			"character_id", input.Player.CharacterID,
			"error", err)
		return nil, nil
	}
	snap := character.TakeSnapshot(ch)
	return &snap, nil
}

// checkPlayer enforces roster membership and one entry per user
func checkPlayer(campaign *entities.Campaign, entries []*entities.InitiativeEntry, player *PlayerSpec) error {
	if !campaign.HasMember(player.UserID, player.CharacterID) {
		return errors.InvalidArgument("user and character are not on the campaign roster").
			WithMeta("user_id", player.UserID).
			WithMeta("character_id", player.CharacterID)
	}
	for _, e := range entries {
		if e.OwnedBy(player.UserID) {
			return errors.AlreadyExists("user already has an entry in this encounter").
				WithMeta("user_id", player.UserID).
				WithMeta("entry_id", e.ID)
		}
	}
	return nil
}

func npcPatch(spec *NPCSpec) *EntryPatch {
	patch := &EntryPatch{
		Name:            Some(spec.Name),
		InitiativeBonus: Some(spec.InitiativeBonus),
	}
	if spec.AvatarURL != nil {
		patch.AvatarURL = Some(*spec.AvatarURL)
	}
	if spec.CurrentInitiative != nil {
		patch.CurrentInitiative = Some(*spec.CurrentInitiative)
	}
	if spec.HP != nil {
		patch.HP = Some(*spec.HP)
	}
	if spec.MaxHP != nil {
		patch.MaxHP = Some(*spec.MaxHP)
	}
	if spec.AC != nil {
		patch.AC = Some(*spec.AC)
	}
	if spec.Notes != nil {
		patch.Notes = Some(*spec.Notes)
	}
	return patch
}

func clampBonus(bonus int) int {
	return min(max(bonus, MinBonus), MaxBonus)
}

func (o *orchestrator) UpdateEntry(ctx context.Context, input *UpdateEntryInput) (*UpdateEntryOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}
	if input.EntryID == "" {
		return nil, errors.InvalidArgument("entry ID is required")
	}
	if err := input.Patch.Validate(); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}

	sorted, err := o.listSorted(ctx, sc.encounter.ID)
	if err != nil {
		return nil, err
	}

	entry := findEntry(sorted, input.EntryID)
	if entry == nil {
		return nil, errors.NotFoundf("entry %s not found", input.EntryID)
	}
	if err := access.Authorize(sc.actor, access.ActionUpdateEntry, entry); err != nil {
		return nil, err
	}

	updated, evt, err := o.applyPatch(ctx, sc.encounter, sorted, entry, &input.Patch)
	if err != nil {
		return nil, err
	}

	return &UpdateEntryOutput{Entry: updated, Encounter: sc.encounter, Event: evt}, nil
}

// applyPatch merges patch into entry and commits it with its single event. A
// patch that changes nothing writes nothing and returns a nil event.
func (o *orchestrator) applyPatch(
	ctx context.Context,
	encounter *entities.Encounter,
	sorted []*entities.InitiativeEntry,
	entry *entities.InitiativeEntry,
	patch *EntryPatch,
) (*entities.InitiativeEntry, *entities.Event, error) {
	updated := entry.Clone()
	changes := patch.Apply(updated)
	if len(changes) == 0 {
		return entry, nil, nil
	}
	updated.UpdatedAt = o.clock.Now()

	reconcileTurn(encounter, sorted, replaceEntry(sorted, updated))

	eventType, payload := eventForChanges(encounter, updated, changes)
	evt, err := o.newEvent(encounter, eventType, payload)
	if err != nil {
		return nil, nil, err
	}

	if err := o.commit(ctx, &encounters.CommitInput{
		Encounter:  encounter,
		PutEntries: []*entities.InitiativeEntry{updated},
		Events:     []*entities.Event{evt},
	}); err != nil {
		return nil, nil, err
	}

	slog.InfoContext(ctx, "entry updated",
		"encounter_id", encounter.ID,
		"entry_id", updated.ID,
		"event_type", eventType,
		"fields", len(changes))

	return updated, evt, nil
}

func (o *orchestrator) DeleteEntry(ctx context.Context, input *DeleteEntryInput) (*DeleteEntryOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}
	if input.EntryID == "" {
		return nil, errors.InvalidArgument("entry ID is required")
	}

	unlock := o.locks.Lock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}

	before, err := o.listSorted(ctx, sc.encounter.ID)
	if err != nil {
		return nil, err
	}

	entry := findEntry(before, input.EntryID)
	if entry == nil {
		return nil, errors.NotFoundf("entry %s not found", input.EntryID)
	}
	if err := access.Authorize(sc.actor, access.ActionDeleteEntry, entry); err != nil {
		return nil, err
	}

	after := make([]*entities.InitiativeEntry, 0, len(before)-1)
	for _, e := range before {
		if e.ID != entry.ID {
			after = append(after, e)
		}
	}

	encounter := sc.encounter
	reconcileTurn(encounter, before, after)

	evt, err := o.newEvent(encounter, entities.EventTypeEntryRemoved, entities.EntryRemovedPayload{
		EncounterID:      encounter.ID,
		EntryID:          entry.ID,
		EntryType:        entry.Type,
		CurrentTurnIndex: encounter.CurrentTurnIndex,
	})
	if err != nil {
		return nil, err
	}

	if err := o.commit(ctx, &encounters.CommitInput{
		Encounter:      encounter,
		DeleteEntryIDs: []string{entry.ID},
		Events:         []*entities.Event{evt},
	}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "entry deleted",
		"encounter_id", encounter.ID,
		"entry_id", entry.ID,
		"current_turn_index", encounter.CurrentTurnIndex)

	return &DeleteEntryOutput{Encounter: encounter}, nil
}

func (o *orchestrator) RefreshEntryFromCharacter(ctx context.Context, input *RefreshEntryInput) (*RefreshEntryOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	target, err := o.refreshTarget(ctx, input)
	if err != nil {
		return nil, err
	}

	// the fetch error is the answer here; there is nothing to fall back to
	ch, err := o.characters.FetchCharacter(ctx, *target.CharacterID, input.Identity.Token)
	if err != nil {
		return nil, err
	}
	patch := snapshotPatch(character.TakeSnapshot(ch))

	unlock := o.locks.Lock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}

	sorted, err := o.listSorted(ctx, sc.encounter.ID)
	if err != nil {
		return nil, err
	}

	entry := findEntry(sorted, target.ID)
	if entry == nil {
		return nil, errors.NotFoundf("entry %s not found", target.ID)
	}
	if err := access.Authorize(sc.actor, access.ActionRefreshEntry, entry); err != nil {
		return nil, err
	}

	updated, evt, err := o.applyPatch(ctx, sc.encounter, sorted, entry, patch)
	if err != nil {
		return nil, err
	}
	return &RefreshEntryOutput{Entry: updated, Event: evt}, nil
}

// refreshTarget finds the player entry to refresh and checks the caller may
func (o *orchestrator) refreshTarget(ctx context.Context, input *RefreshEntryInput) (*entities.InitiativeEntry, error) {
	unlock := o.locks.RLock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}

	sorted, err := o.listSorted(ctx, sc.encounter.ID)
	if err != nil {
		return nil, err
	}

	var entry *entities.InitiativeEntry
	if input.EntryID == "" {
		for _, e := range sorted {
			if e.OwnedBy(sc.identity.UserID) {
				entry = e
				break
			}
		}
		if entry == nil {
			return nil, errors.NotFound("caller has no entry in this encounter")
		}
	} else {
		entry = findEntry(sorted, input.EntryID)
		if entry == nil {
			return nil, errors.NotFoundf("entry %s not found", input.EntryID)
		}
	}

	if !entry.IsPlayer() || entry.CharacterID == nil {
		return nil, errors.InvalidArgument("only player entries can be refreshed from a character").
			WithMeta("entry_id", entry.ID)
	}
	if err := access.Authorize(sc.actor, access.ActionRefreshEntry, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// snapshotPatch writes through every field the character actually has
func snapshotPatch(snap character.Snapshot) *EntryPatch {
	patch := &EntryPatch{InitiativeBonus: Some(clampBonus(snap.InitiativeBonus))}
	if snap.Name != "" {
		patch.Name = Some(truncateName(snap.Name))
	}
	if snap.AvatarURL != nil {
		patch.AvatarURL = Some(*snap.AvatarURL)
	}
	if snap.HP != nil {
		patch.HP = Some(min(max(*snap.HP, 0), MaxHitPoints))
	}
	if snap.MaxHP != nil {
		patch.MaxHP = Some(min(max(*snap.MaxHP, 0), MaxHitPoints))
	}
	if snap.AC != nil {
		patch.AC = Some(min(max(*snap.AC, 0), MaxArmorClass))
	}
	return patch
}

func (o *orchestrator) RollInitiative(ctx context.Context, input *RollInitiativeInput) (*RollInitiativeOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}
	if input.EntryID == "" {
		return nil, errors.InvalidArgument("entry ID is required")
	}

	unlock := o.locks.Lock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}

	sorted, err := o.listSorted(ctx, sc.encounter.ID)
	if err != nil {
		return nil, err
	}

	entry := findEntry(sorted, input.EntryID)
	if entry == nil {
		return nil, errors.NotFoundf("entry %s not found", input.EntryID)
	}
	if err := access.Authorize(sc.actor, access.ActionRollInitiative, entry); err != nil {
		return nil, err
	}

	roll, err := initiative.Roll(o.roller, entry.InitiativeBonus)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeInternal, "failed to roll initiative")
	}

	encounter := sc.encounter
	updated := entry.Clone()
	total := roll.Total
	updated.CurrentInitiative = &total
	updated.UpdatedAt = o.clock.Now()

	reconcileTurn(encounter, sorted, replaceEntry(sorted, updated))

	natural := roll.Natural
	evt, err := o.newEvent(encounter, entities.EventTypeInitiativeChange, entities.InitiativeChangePayload{
		EncounterID:      encounter.ID,
		EntryID:          updated.ID,
		EntryType:        updated.Type,
		OldInitiative:    entry.CurrentInitiative,
		NewInitiative:    updated.CurrentInitiative,
		Roll:             &natural,
		CurrentTurnIndex: encounter.CurrentTurnIndex,
	})
	if err != nil {
		return nil, err
	}

	if err := o.commit(ctx, &encounters.CommitInput{
		Encounter:  encounter,
		PutEntries: []*entities.InitiativeEntry{updated},
		Events:     []*entities.Event{evt},
	}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "initiative rolled",
		"encounter_id", encounter.ID,
		"entry_id", updated.ID,
		"natural", roll.Natural,
		"total", roll.Total)

	return &RollInitiativeOutput{Entry: updated, Encounter: encounter, Roll: roll}, nil
}
