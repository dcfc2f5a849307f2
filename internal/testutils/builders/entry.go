// Package builders provides test data builders for creating test fixtures
package builders

import (
	"time"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
)

// EntryBuilder provides a fluent interface for building test InitiativeEntry instances
type EntryBuilder struct {
	entry *entities.InitiativeEntry
}

// NewNPCBuilder creates a builder for an unrolled NPC entry
func NewNPCBuilder(id string) *EntryBuilder {
	now := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	return &EntryBuilder{
		entry: &entities.InitiativeEntry{
			ID:          id,
			EncounterID: "enc-test-123",
			Type:        entities.EntryTypeNPC,
			Name:        id,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// NewPlayerBuilder creates a builder for a player entry owned by userID
func NewPlayerBuilder(id, userID, characterID string) *EntryBuilder {
	b := NewNPCBuilder(id)
	b.entry.Type = entities.EntryTypePlayer
	b.entry.UserID = &userID
	b.entry.CharacterID = &characterID
	return b
}

// WithEncounter sets the encounter ID
func (b *EntryBuilder) WithEncounter(encounterID string) *EntryBuilder {
	b.entry.EncounterID = encounterID
	return b
}

// WithName sets the display name
func (b *EntryBuilder) WithName(name string) *EntryBuilder {
	b.entry.Name = name
	return b
}

// WithOrder sets the insertion order used to break initiative ties
func (b *EntryBuilder) WithOrder(orderIndex int64) *EntryBuilder {
	b.entry.OrderIndex = orderIndex
	return b
}

// WithInitiative sets the rolled initiative
func (b *EntryBuilder) WithInitiative(value int) *EntryBuilder {
	b.entry.CurrentInitiative = &value
	return b
}

// WithBonus sets the initiative bonus
func (b *EntryBuilder) WithBonus(bonus int) *EntryBuilder {
	b.entry.InitiativeBonus = bonus
	return b
}

// WithHP sets current and max hit points
func (b *EntryBuilder) WithHP(hp, maxHP int) *EntryBuilder {
	b.entry.HP = &hp
	b.entry.MaxHP = &maxHP
	return b
}

// WithAC sets armor class
func (b *EntryBuilder) WithAC(ac int) *EntryBuilder {
	b.entry.AC = &ac
	return b
}

// WithNotes sets the host's notes
func (b *EntryBuilder) WithNotes(notes string) *EntryBuilder {
	b.entry.Notes = &notes
	return b
}

// Build returns a copy so one builder can produce several entries
func (b *EntryBuilder) Build() *entities.InitiativeEntry {
	return b.entry.Clone()
}
