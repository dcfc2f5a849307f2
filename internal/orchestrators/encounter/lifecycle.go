package encounter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/auth"
	"github.com/KirkDiggler/rpg-encounters/internal/clients/character"
	"github.com/KirkDiggler/rpg-encounters/internal/engine/initiative"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/encounters"
)

// placeholderName is used when a member's character cannot be loaded
const placeholderName = "Unknown adventurer"

func (o *orchestrator) CreateEncounter(ctx context.Context, input *CreateEncounterInput) (*CreateEncounterOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	campaign, actor, err := o.resolveCampaign(ctx, input.CampaignID, input.Identity)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, access.ActionCreateEncounter, nil); err != nil {
		return nil, err
	}

	vb := errors.NewValidationBuilder()
	validateName(input.Name, vb)
	if err := vb.Build(); err != nil {
		return nil, err
	}

	now := o.clock.Now()
	encounter := &entities.Encounter{
		ID:         o.idGen.Generate(),
		CampaignID: campaign.ID,
		Name:       strings.TrimSpace(input.Name),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	evt, err := o.newEvent(encounter, entities.EventTypeEncounterCreated, entities.EncounterCreatedPayload{
		EncounterID: encounter.ID,
		Name:        encounter.Name,
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

	slog.InfoContext(ctx, "encounter created",
		"encounter_id", encounter.ID,
		"campaign_id", campaign.ID)

	return &CreateEncounterOutput{Encounter: encounter}, nil
}

func (o *orchestrator) GetEncounter(ctx context.Context, input *GetEncounterInput) (*GetEncounterOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	unlock := o.locks.RLock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}

	return &GetEncounterOutput{Encounter: sc.encounter, Role: sc.actor.Role}, nil
}

func (o *orchestrator) ListEncounters(ctx context.Context, input *ListEncountersInput) (*ListEncountersOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	if _, _, err := o.resolveCampaign(ctx, input.CampaignID, input.Identity); err != nil {
		return nil, err
	}

	out, err := o.encounters.ListByCampaign(ctx, &encounters.ListByCampaignInput{CampaignID: input.CampaignID})
	if err != nil {
		return nil, err
	}
	return &ListEncountersOutput{Encounters: out.Encounters}, nil
}

func (o *orchestrator) Activate(ctx context.Context, input *ActivateInput) (*ActivateOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	snapshots, err := o.prefetchMembers(ctx, input.EncounterID, input.Identity, access.ActionActivate)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(sc.actor, access.ActionActivate, nil); err != nil {
		return nil, err
	}

	before, err := o.listSorted(ctx, sc.encounter.ID)
	if err != nil {
		return nil, err
	}

	encounter := sc.encounter
	created := o.placeholders(encounter, sc.campaign, before, snapshots)

	if encounter.IsStarted() {
		// already running: only top up missing members, like EnsureMemberEntries
		if len(created) == 0 {
			return &ActivateOutput{Encounter: encounter}, nil
		}
		if err := o.commitPlaceholders(ctx, encounter, before, created); err != nil {
			return nil, err
		}
		return &ActivateOutput{Encounter: encounter, CreatedEntries: created}, nil
	}

	now := o.clock.Now()
	encounter.StartedAt = &now
	encounter.CurrentRound = 1
	encounter.CurrentTurnIndex = 0

	evt, err := o.newEvent(encounter, entities.EventTypeEncounterStarted, entities.EncounterStartedPayload{
		EncounterID:      encounter.ID,
		StartedAt:        now,
		CurrentRound:     encounter.CurrentRound,
		CurrentTurnIndex: encounter.CurrentTurnIndex,
		CreatedEntries:   created,
	})
	if err != nil {
		return nil, err
	}

	if err := o.commit(ctx, &encounters.CommitInput{
		Encounter:  encounter,
		PutEntries: created,
		Events:     []*entities.Event{evt},
	}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "encounter activated",
		"encounter_id", encounter.ID,
		"campaign_id", encounter.CampaignID,
		"placeholders", len(created))

	return &ActivateOutput{Encounter: encounter, Activated: true, CreatedEntries: created}, nil
}

func (o *orchestrator) EndEncounter(ctx context.Context, input *EndEncounterInput) (*EndEncounterOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	unlock := o.locks.Lock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(sc.actor, access.ActionEnd, nil); err != nil {
		return nil, err
	}

	encounter := sc.encounter
	if encounter.EndedAt != nil {
		return &EndEncounterOutput{Encounter: encounter}, nil
	}

	now := o.clock.Now()
	encounter.EndedAt = &now

	evt, err := o.newEvent(encounter, entities.EventTypeEncounterEnded, entities.EncounterEndedPayload{
		EncounterID: encounter.ID,
		EndedAt:     now,
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

	slog.InfoContext(ctx, "encounter ended", "encounter_id", encounter.ID)
	return &EndEncounterOutput{Encounter: encounter}, nil
}

func (o *orchestrator) EnsureMemberEntries(ctx context.Context, input *EnsureMemberEntriesInput) (*EnsureMemberEntriesOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	snapshots, err := o.prefetchMembers(ctx, input.EncounterID, input.Identity, "")
	if err != nil {
		return nil, err
	}
	if snapshots == nil {
		return &EnsureMemberEntriesOutput{}, nil
	}

	unlock := o.locks.Lock(encounterLockKey(input.EncounterID))
	defer unlock()

	sc, err := o.resolve(ctx, input.EncounterID, input.Identity)
	if err != nil {
		return nil, err
	}
	if !sc.encounter.IsStarted() {
		return &EnsureMemberEntriesOutput{}, nil
	}

	before, err := o.listSorted(ctx, sc.encounter.ID)
	if err != nil {
		return nil, err
	}

	created := o.placeholders(sc.encounter, sc.campaign, before, snapshots)
	if len(created) == 0 {
		return &EnsureMemberEntriesOutput{}, nil
	}

	if err := o.commitPlaceholders(ctx, sc.encounter, before, created); err != nil {
		return nil, err
	}
	return &EnsureMemberEntriesOutput{Created: created}, nil
}

// prefetchMembers loads characters of members that lack an entry, before the
// encounter lock is taken. A nil map means there is nothing to create. When
// action is set the caller must be allowed to perform it.
func (o *orchestrator) prefetchMembers(
	ctx context.Context,
	encounterID string,
	id *auth.Identity,
	action access.Action,
) (map[string]character.Snapshot, error) {
	var (
		sc      *scope
		entries []*entities.InitiativeEntry
		err     error
	)
	func() {
		unlock := o.locks.RLock(encounterLockKey(encounterID))
		defer unlock()

		sc, err = o.resolve(ctx, encounterID, id)
		if err != nil {
			return
		}
		entries, err = o.listSorted(ctx, encounterID)
	}()
	if err != nil {
		return nil, err
	}

	if action != "" {
		if err := access.Authorize(sc.actor, action, nil); err != nil {
			return nil, err
		}
	} else if !sc.encounter.IsStarted() {
		return nil, nil
	}

	missing := missingMembers(sc.campaign, entries)
	snapshots := make(map[string]character.Snapshot, len(missing))
	for _, m := range missing {
		ch, err := o.characters.FetchCharacter(ctx, m.CharacterID, id.Token)
		if err != nil {
			slog.WarnContext(ctx, "using placeholder for unavailable character",
				"encounter_id", encounterID,
				"character_id", m.CharacterID,
				"error", err)
			continue
		}
		snapshots[m.CharacterID] = character.TakeSnapshot(ch)
	}
	return snapshots, nil
}

func missingMembers(campaign *entities.Campaign, entries []*entities.InitiativeEntry) []entities.CampaignMember {
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsPlayer() && e.UserID != nil {
			present[*e.UserID] = true
		}
	}

	var missing []entities.CampaignMember
	for _, m := range campaign.Members {
		if !present[m.UserID] {
			missing = append(missing, m)
		}
	}
	return missing
}

// placeholders builds player entries for members without one, in roster order.
// The initiative bonus stays 0 until the player refreshes from their character.
func (o *orchestrator) placeholders(
	encounter *entities.Encounter,
	campaign *entities.Campaign,
	existing []*entities.InitiativeEntry,
	snapshots map[string]character.Snapshot,
) []*entities.InitiativeEntry {
	missing := missingMembers(campaign, existing)
	if len(missing) == 0 {
		return nil
	}

	now := o.clock.Now()
	orderIndex := nextOrderIndex(existing)
	created := make([]*entities.InitiativeEntry, 0, len(missing))
	for _, m := range missing {
		userID, characterID := m.UserID, m.CharacterID
		entry := &entities.InitiativeEntry{
			ID:          o.idGen.Generate(),
			EncounterID: encounter.ID,
			Type:        entities.EntryTypePlayer,
			UserID:      &userID,
			CharacterID: &characterID,
			Name:        placeholderName,
			OrderIndex:  orderIndex,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if snap, ok := snapshots[characterID]; ok {
			if snap.Name != "" {
				entry.Name = truncateName(snap.Name)
			}
			entry.AvatarURL = snap.AvatarURL
			entry.HP = snap.HP
			entry.MaxHP = snap.MaxHP
			entry.AC = snap.AC
		}
		created = append(created, entry)
		orderIndex++
	}
	return created
}

// commitPlaceholders adds placeholders to a started encounter, one entry_added each
func (o *orchestrator) commitPlaceholders(
	ctx context.Context,
	encounter *entities.Encounter,
	before []*entities.InitiativeEntry,
	created []*entities.InitiativeEntry,
) error {
	after := initiative.Sort(append(append([]*entities.InitiativeEntry{}, before...), created...))
	reconcileTurn(encounter, before, after)

	evts := make([]*entities.Event, 0, len(created))
	for _, entry := range created {
		evt, err := o.newEvent(encounter, entities.EventTypeEntryAdded, entities.EntryAddedPayload{
			EncounterID:      encounter.ID,
			Entry:            entry,
			CurrentTurnIndex: encounter.CurrentTurnIndex,
		})
		if err != nil {
			return err
		}
		evts = append(evts, evt)
	}

	if err := o.commit(ctx, &encounters.CommitInput{
		Encounter:  encounter,
		PutEntries: created,
		Events:     evts,
	}); err != nil {
		return err
	}

	slog.InfoContext(ctx, "member placeholders created",
		"encounter_id", encounter.ID,
		"count", len(created))
	return nil
}

// nextOrderIndex is max(existing)+1, starting at 1
func nextOrderIndex(entries []*entities.InitiativeEntry) int64 {
	var highest int64
	for _, e := range entries {
		if e.OrderIndex > highest {
			highest = e.OrderIndex
		}
	}
	return highest + 1
}

func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) > MaxNameLength {
		return string(runes[:MaxNameLength])
	}
	return name
}
