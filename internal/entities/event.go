package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the payload variant carried by an Event
type EventType string

// Event types
const (
	EventTypeEncounterCreated EventType = "encounter_created"
	EventTypeEncounterStarted EventType = "encounter_started"
	EventTypeEncounterEnded   EventType = "encounter_ended"
	EventTypeEntryAdded       EventType = "entry_added"
	EventTypeEntryRemoved     EventType = "entry_removed"
	EventTypeEntryUpdated     EventType = "entry_updated"
	EventTypeHPChange         EventType = "hp_change"
	EventTypeInitiativeChange EventType = "initiative_change"
	EventTypeTurnAdvance      EventType = "turn_advance"
)

// Event is an immutable record of one state change in a campaign. Seq is assigned
// by the event log at append time and is strictly increasing per campaign.
type Event struct {
	ID          string          `json:"id"`
	CampaignID  string          `json:"campaignId"`
	EncounterID string          `json:"encounterId,omitempty"`
	Seq         uint64          `json:"seq"`
	Type        EventType       `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// NewEvent builds an unsequenced event with the payload encoded as JSON
func NewEvent(campaignID, encounterID string, eventType EventType, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		CampaignID:  campaignID,
		EncounterID: encounterID,
		Type:        eventType,
		Payload:     raw,
	}, nil
}

// DecodePayload unmarshals the payload into target
func (e *Event) DecodePayload(target any) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// Clone returns a copy that does not share the payload buffer
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	return &c
}

// EncounterCreatedPayload is carried by encounter_created
type EncounterCreatedPayload struct {
	EncounterID string `json:"encounterId"`
	Name        string `json:"name"`
}

// EncounterStartedPayload is carried by encounter_started. CreatedEntries are the
// member placeholders added by activation; they are always player entries.
type EncounterStartedPayload struct {
	EncounterID      string             `json:"encounterId"`
	StartedAt        time.Time          `json:"startedAt"`
	CurrentRound     int                `json:"currentRound"`
	CurrentTurnIndex int                `json:"currentTurnIndex"`
	CreatedEntries   []*InitiativeEntry `json:"createdEntries"`
}

// EncounterEndedPayload is carried by encounter_ended
type EncounterEndedPayload struct {
	EncounterID string    `json:"encounterId"`
	EndedAt     time.Time `json:"endedAt"`
}

// EntryAddedPayload is carried by entry_added
type EntryAddedPayload struct {
	EncounterID      string           `json:"encounterId"`
	Entry            *InitiativeEntry `json:"entry"`
	CurrentTurnIndex int              `json:"currentTurnIndex"`
}

// EntryRemovedPayload is carried by entry_removed
type EntryRemovedPayload struct {
	EncounterID      string    `json:"encounterId"`
	EntryID          string    `json:"entryId"`
	EntryType        EntryType `json:"entryType"`
	CurrentTurnIndex int       `json:"currentTurnIndex"`
}

// FieldChange is one field's before/after value in an entry_updated diff
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// EntryUpdatedPayload is carried by entry_updated; Changes is keyed by JSON field name
type EntryUpdatedPayload struct {
	EncounterID      string                 `json:"encounterId"`
	EntryID          string                 `json:"entryId"`
	EntryType        EntryType              `json:"entryType"`
	Changes          map[string]FieldChange `json:"changes"`
	CurrentTurnIndex int                    `json:"currentTurnIndex"`
}

// HPChangePayload is carried by hp_change
type HPChangePayload struct {
	EncounterID string    `json:"encounterId"`
	EntryID     string    `json:"entryId"`
	EntryType   EntryType `json:"entryType"`
	OldHP       *int      `json:"oldHp"`
	NewHP       *int      `json:"newHp"`
}

// InitiativeChangePayload is carried by initiative_change. Roll is set when the
// server rolled the die; CurrentTurnIndex reflects the re-sorted order.
type InitiativeChangePayload struct {
	EncounterID      string    `json:"encounterId"`
	EntryID          string    `json:"entryId"`
	EntryType        EntryType `json:"entryType"`
	OldInitiative    *int      `json:"oldInitiative"`
	NewInitiative    *int      `json:"newInitiative"`
	Roll             *int      `json:"roll,omitempty"`
	CurrentTurnIndex int       `json:"currentTurnIndex"`
}

// TurnAdvancePayload is carried by turn_advance
type TurnAdvancePayload struct {
	EncounterID      string `json:"encounterId"`
	CurrentRound     int    `json:"currentRound"`
	CurrentTurnIndex int    `json:"currentTurnIndex"`
	ActiveEntryID    string `json:"activeEntryId"`
}
