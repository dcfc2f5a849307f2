// Package encounter orchestrates the encounter turn-order engine: lifecycle,
// initiative entries, turn advancement, and the event log each change lands in.
//
// Every mutation of one encounter runs under that encounter's lock, re-reads the
// stored state, and commits state and event in one transaction. Publishing to
// live subscribers happens under the campaign lock right after the commit, so
// subscribers see events in sequence order.
package encounter

//go:generate mockgen -destination=mock/mock_service.go -package=encountermock github.com/KirkDiggler/rpg-encounters/internal/orchestrators/encounter Service

import (
	"context"
	"log/slog"

	"github.com/KirkDiggler/rpg-toolkit/dice"

	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/auth"
	"github.com/KirkDiggler/rpg-encounters/internal/broadcast"
	"github.com/KirkDiggler/rpg-encounters/internal/clients/character"
	"github.com/KirkDiggler/rpg-encounters/internal/clients/roster"
	"github.com/KirkDiggler/rpg-encounters/internal/engine/initiative"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/pkg/clock"
	"github.com/KirkDiggler/rpg-encounters/internal/pkg/idgen"
	"github.com/KirkDiggler/rpg-encounters/internal/pkg/keylock"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/encounters"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/events"
)

// Service defines the interface for encounter operations
type Service interface {
	// CreateEncounter adds a pending encounter to a campaign (host only)
	CreateEncounter(ctx context.Context, input *CreateEncounterInput) (*CreateEncounterOutput, error)

	// GetEncounter reads one encounter
	GetEncounter(ctx context.Context, input *GetEncounterInput) (*GetEncounterOutput, error)

	// ListEncounters reads a campaign's encounters
	ListEncounters(ctx context.Context, input *ListEncountersInput) (*ListEncountersOutput, error)

	// Activate starts an encounter; calling it again is a no-op (host only)
	Activate(ctx context.Context, input *ActivateInput) (*ActivateOutput, error)

	// EndEncounter marks an encounter ended without blocking turn tracking (host only)
	EndEncounter(ctx context.Context, input *EndEncounterInput) (*EndEncounterOutput, error)

	// EnsureMemberEntries creates placeholder entries for campaign members
	// lacking one in a started encounter
	EnsureMemberEntries(ctx context.Context, input *EnsureMemberEntriesInput) (*EnsureMemberEntriesOutput, error)

	// GetInitiative returns the turn order redacted for the caller
	GetInitiative(ctx context.Context, input *GetInitiativeInput) (*GetInitiativeOutput, error)

	// CreateEntry adds an npc or roster player (host only)
	CreateEntry(ctx context.Context, input *CreateEntryInput) (*CreateEntryOutput, error)

	// UpdateEntry applies a patch (host, or the owning player)
	UpdateEntry(ctx context.Context, input *UpdateEntryInput) (*UpdateEntryOutput, error)

	// DeleteEntry removes a combatant (host only)
	DeleteEntry(ctx context.Context, input *DeleteEntryInput) (*DeleteEntryOutput, error)

	// RefreshEntryFromCharacter re-syncs a player entry from the character service
	// (host, or the owning player)
	RefreshEntryFromCharacter(ctx context.Context, input *RefreshEntryInput) (*RefreshEntryOutput, error)

	// RollInitiative rolls d20 plus bonus for an entry (host, or the owning player)
	RollInitiative(ctx context.Context, input *RollInitiativeInput) (*RollInitiativeOutput, error)

	// NextTurn advances the turn, wrapping into the next round (host only)
	NextTurn(ctx context.Context, input *NextTurnInput) (*NextTurnOutput, error)

	// ListEvents pages through the campaign's event log
	ListEvents(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error)

	// Subscribe opens a live event stream for the campaign
	Subscribe(ctx context.Context, input *SubscribeInput) (*SubscribeOutput, error)
}

// Config holds the dependencies for the encounter orchestrator
type Config struct {
	Encounters  encounters.Repository
	EventLog    events.Repository
	Roster      roster.Client
	Characters  character.Client
	Hub         broadcast.Broadcaster
	IDGenerator idgen.Generator
	// Clock (optional, defaults to the real clock)
	Clock clock.Clock
	// Roller (optional, defaults to dice.DefaultRoller)
	Roller dice.Roller
	// Locks (optional); share one Locker between orchestrators in a process
	Locks *keylock.Locker
}

// Validate ensures all required dependencies are provided
func (c *Config) Validate() error {
	if c == nil {
		return errors.InvalidArgument("config cannot be nil")
	}

	vb := errors.NewValidationBuilder()
	if c.Encounters == nil {
		vb.RequiredField("Encounters")
	}
	if c.EventLog == nil {
		vb.RequiredField("EventLog")
	}
	if c.Roster == nil {
		vb.RequiredField("Roster")
	}
	if c.Characters == nil {
		vb.RequiredField("Characters")
	}
	if c.Hub == nil {
		vb.RequiredField("Hub")
	}
	if c.IDGenerator == nil {
		vb.RequiredField("IDGenerator")
	}
	return vb.Build()
}

type orchestrator struct {
	encounters encounters.Repository
	eventLog   events.Repository
	roster     roster.Client
	characters character.Client
	hub        broadcast.Broadcaster
	idGen      idgen.Generator
	clock      clock.Clock
	roller     dice.Roller
	locks      *keylock.Locker
}

// NewOrchestrator creates a new encounter orchestrator with the provided dependencies
func NewOrchestrator(cfg *Config) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	o := &orchestrator{
		encounters: cfg.Encounters,
		eventLog:   cfg.EventLog,
		roster:     cfg.Roster,
		characters: cfg.Characters,
		hub:        cfg.Hub,
		idGen:      cfg.IDGenerator,
		clock:      cfg.Clock,
		roller:     cfg.Roller,
		locks:      cfg.Locks,
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.roller == nil {
		o.roller = dice.DefaultRoller
	}
	if o.locks == nil {
		o.locks = keylock.New()
	}
	return o, nil
}

// scope is an encounter read under its lock together with the caller's standing
type scope struct {
	identity  *auth.Identity
	campaign  *entities.Campaign
	actor     access.Actor
	encounter *entities.Encounter
}

func encounterLockKey(encounterID string) string {
	return "encounter:" + encounterID
}

func campaignLockKey(campaignID string) string {
	return "campaign:" + campaignID
}

func requireIdentity(id *auth.Identity) error {
	if id == nil || id.UserID == "" {
		return errors.Unauthenticated("caller identity is required")
	}
	return nil
}

// resolveCampaign loads the roster and the caller's role in it. Outsiders get
// NotFound.
func (o *orchestrator) resolveCampaign(ctx context.Context, campaignID string, id *auth.Identity) (*entities.Campaign, access.Actor, error) {
	if err := requireIdentity(id); err != nil {
		return nil, access.Actor{}, err
	}
	if campaignID == "" {
		return nil, access.Actor{}, errors.InvalidArgument("campaign ID is required")
	}

	campaign, err := o.roster.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, access.Actor{}, err
	}

	actor, err := access.ResolveActor(campaign, id.UserID)
	if err != nil {
		return nil, access.Actor{}, err
	}
	return campaign, actor, nil
}

// resolve loads an encounter and its campaign for the caller. A caller outside
// the campaign sees the encounter as missing.
func (o *orchestrator) resolve(ctx context.Context, encounterID string, id *auth.Identity) (*scope, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	if encounterID == "" {
		return nil, errors.InvalidArgument("encounter ID is required")
	}

	got, err := o.encounters.Get(ctx, &encounters.GetInput{EncounterID: encounterID})
	if err != nil {
		return nil, err
	}

	campaign, actor, err := o.resolveCampaign(ctx, got.Encounter.CampaignID, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFoundf("encounter %s not found", encounterID)
		}
		return nil, err
	}

	return &scope{
		identity:  id,
		campaign:  campaign,
		actor:     actor,
		encounter: got.Encounter,
	}, nil
}

func (o *orchestrator) listSorted(ctx context.Context, encounterID string) ([]*entities.InitiativeEntry, error) {
	out, err := o.encounters.ListEntries(ctx, &encounters.ListEntriesInput{EncounterID: encounterID})
	if err != nil {
		return nil, err
	}
	return initiative.Sort(out.Entries), nil
}

func (o *orchestrator) newEvent(encounter *entities.Encounter, eventType entities.EventType, payload any) (*entities.Event, error) {
	evt, err := entities.NewEvent(encounter.CampaignID, encounter.ID, eventType, payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build event")
	}
	evt.ID = o.idGen.Generate()
	evt.CreatedAt = o.clock.Now()
	return evt, nil
}

// commit writes the change and publishes its events. The campaign lock makes
// sequence reservation, commit and publish one step relative to other writers
// in the same campaign.
func (o *orchestrator) commit(ctx context.Context, input *encounters.CommitInput) error {
	input.Encounter.UpdatedAt = o.clock.Now()

	unlock := o.locks.Lock(campaignLockKey(input.Encounter.CampaignID))
	defer unlock()

	out, err := o.encounters.Commit(ctx, input)
	if err != nil {
		slog.ErrorContext(ctx, "encounter commit failed",
			"encounter_id", input.Encounter.ID,
			"campaign_id", input.Encounter.CampaignID,
			"error", err)
		return err
	}

	o.hub.Publish(input.Encounter.CampaignID, out.Events...)
	return nil
}

// reconcileTurn keeps the active combatant active across a change of entries
func reconcileTurn(encounter *entities.Encounter, before, after []*entities.InitiativeEntry) {
	if !encounter.IsStarted() {
		encounter.CurrentTurnIndex = 0
		return
	}
	encounter.CurrentTurnIndex = initiative.Reconcile(before, after, encounter.CurrentTurnIndex)
}

// replaceEntry returns a copy of sorted with updated swapped in, re-sorted
func replaceEntry(sorted []*entities.InitiativeEntry, updated *entities.InitiativeEntry) []*entities.InitiativeEntry {
	next := make([]*entities.InitiativeEntry, 0, len(sorted))
	for _, e := range sorted {
		if e.ID == updated.ID {
			next = append(next, updated)
			continue
		}
		next = append(next, e)
	}
	return initiative.Sort(next)
}

func findEntry(entries []*entities.InitiativeEntry, entryID string) *entities.InitiativeEntry {
	for _, e := range entries {
		if e.ID == entryID {
			return e
		}
	}
	return nil
}

func activeEntryID(encounter *entities.Encounter, sorted []*entities.InitiativeEntry) string {
	if !encounter.IsStarted() {
		return ""
	}
	active := initiative.Active(sorted, encounter.CurrentTurnIndex)
	if active == nil {
		return ""
	}
	return active.GetID()
}
