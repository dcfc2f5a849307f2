package encounter

import (
	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/auth"
	"github.com/KirkDiggler/rpg-encounters/internal/engine/initiative"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
)

// CreateEncounterInput defines the request for creating an encounter
type CreateEncounterInput struct {
	Identity   *auth.Identity
	CampaignID string
	Name       string
}

// CreateEncounterOutput defines the response for creating an encounter
type CreateEncounterOutput struct {
	Encounter *entities.Encounter
}

// GetEncounterInput defines the request for reading an encounter
type GetEncounterInput struct {
	Identity    *auth.Identity
	EncounterID string
}

// GetEncounterOutput defines the response for reading an encounter
type GetEncounterOutput struct {
	Encounter *entities.Encounter
	Role      access.Role
}

// ListEncountersInput defines the request for listing a campaign's encounters
type ListEncountersInput struct {
	Identity   *auth.Identity
	CampaignID string
}

// ListEncountersOutput defines the response for listing a campaign's encounters
type ListEncountersOutput struct {
	Encounters []*entities.Encounter
}

// ActivateInput defines the request for starting an encounter
type ActivateInput struct {
	Identity    *auth.Identity
	EncounterID string
}

// ActivateOutput defines the response for starting an encounter. Activated is
// false when the encounter had already been started.
type ActivateOutput struct {
	Encounter      *entities.Encounter
	Activated      bool
	CreatedEntries []*entities.InitiativeEntry
}

// EndEncounterInput defines the request for ending an encounter
type EndEncounterInput struct {
	Identity    *auth.Identity
	EncounterID string
}

// EndEncounterOutput defines the response for ending an encounter
type EndEncounterOutput struct {
	Encounter *entities.Encounter
}

// EnsureMemberEntriesInput defines the request for creating missing placeholders
type EnsureMemberEntriesInput struct {
	Identity    *auth.Identity
	EncounterID string
}

// EnsureMemberEntriesOutput lists the placeholders created, empty when none were missing
type EnsureMemberEntriesOutput struct {
	Created []*entities.InitiativeEntry
}

// GetInitiativeInput defines the request for the initiative list
type GetInitiativeInput struct {
	Identity    *auth.Identity
	EncounterID string
}

// GetInitiativeOutput is the turn order as the caller may see it
type GetInitiativeOutput struct {
	Encounter     *entities.Encounter
	Entries       []*entities.InitiativeEntry
	ActiveEntryID string
	Role          access.Role
}

// NPCSpec describes an npc entry to create
type NPCSpec struct {
	Name              string
	AvatarURL         *string
	InitiativeBonus   int
	CurrentInitiative *int
	HP                *int
	MaxHP             *int
	AC                *int
	Notes             *string
}

// PlayerSpec describes a player entry to create
type PlayerSpec struct {
	UserID      string
	CharacterID string
}

// CreateEntryInput defines the request for adding a combatant. Exactly one of NPC
// and Player is set, matching Type.
type CreateEntryInput struct {
	Identity    *auth.Identity
	EncounterID string
	Type        entities.EntryType
	NPC         *NPCSpec
	Player      *PlayerSpec
}

// CreateEntryOutput defines the response for adding a combatant
type CreateEntryOutput struct {
	Entry     *entities.InitiativeEntry
	Encounter *entities.Encounter
}

// UpdateEntryInput defines the request for patching an entry
type UpdateEntryInput struct {
	Identity    *auth.Identity
	EncounterID string
	EntryID     string
	Patch       EntryPatch
}

// UpdateEntryOutput defines the response for patching an entry. Event is nil when
// the patch changed nothing.
type UpdateEntryOutput struct {
	Entry     *entities.InitiativeEntry
	Encounter *entities.Encounter
	Event     *entities.Event
}

// DeleteEntryInput defines the request for removing a combatant
type DeleteEntryInput struct {
	Identity    *auth.Identity
	EncounterID string
	EntryID     string
}

// DeleteEntryOutput defines the response for removing a combatant
type DeleteEntryOutput struct {
	Encounter *entities.Encounter
}

// RefreshEntryInput defines the request for re-syncing a player entry from its
// character. An empty EntryID means the caller's own entry.
type RefreshEntryInput struct {
	Identity    *auth.Identity
	EncounterID string
	EntryID     string
}

// RefreshEntryOutput defines the response for re-syncing an entry
type RefreshEntryOutput struct {
	Entry *entities.InitiativeEntry
	Event *entities.Event
}

// RollInitiativeInput defines the request for rolling an entry's initiative
type RollInitiativeInput struct {
	Identity    *auth.Identity
	EncounterID string
	EntryID     string
}

// RollInitiativeOutput defines the response for rolling initiative
type RollInitiativeOutput struct {
	Entry     *entities.InitiativeEntry
	Encounter *entities.Encounter
	Roll      *initiative.RollResult
}

// NextTurnInput defines the request for advancing the turn
type NextTurnInput struct {
	Identity    *auth.Identity
	EncounterID string
}

// NextTurnOutput defines the response for advancing the turn
type NextTurnOutput struct {
	Encounter     *entities.Encounter
	ActiveEntryID string
}

// ListEventsInput defines the request for paging a campaign's log
type ListEventsInput struct {
	Identity   *auth.Identity
	CampaignID string
	Cursor     uint64
	Limit      int
	Descending bool
}

// ListEventsOutput defines a page of events redacted for the caller
type ListEventsOutput struct {
	Events     []*entities.Event
	NextCursor uint64
	HasMore    bool
}

// SubscribeInput defines the request for a live event stream. When Since is set
// the stream first replays every event after it.
type SubscribeInput struct {
	Identity   *auth.Identity
	CampaignID string
	Since      *uint64
}

// SubscribeOutput holds the opened stream
type SubscribeOutput struct {
	Stream *Stream
}
