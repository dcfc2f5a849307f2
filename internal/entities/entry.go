package entities

import (
	"time"

	"github.com/KirkDiggler/rpg-toolkit/core"
)

// EntryType distinguishes player combatants from host-controlled NPCs
type EntryType string

// Entry types
const (
	EntryTypePlayer EntryType = "player"
	EntryTypeNPC    EntryType = "npc"
)

// UnrolledInitiative is the value an entry without a rolled initiative sorts as
const UnrolledInitiative = -999

// InitiativeEntry is one combatant's row in an encounter's turn order.
//
// Player entries always carry UserID and CharacterID; NPC entries never do.
// OrderIndex is assigned once at creation and never changes.
type InitiativeEntry struct {
	ID                string    `json:"id"`
	EncounterID       string    `json:"encounterId"`
	Type              EntryType `json:"type"`
	UserID            *string   `json:"userId"`
	CharacterID       *string   `json:"characterId"`
	Name              string    `json:"name"`
	AvatarURL         *string   `json:"avatarUrl"`
	InitiativeBonus   int       `json:"initiativeBonus"`
	CurrentInitiative *int      `json:"currentInitiative"`
	HP                *int      `json:"hp"`
	MaxHP             *int      `json:"maxHp"`
	AC                *int      `json:"ac"`
	Notes             *string   `json:"notes"`
	OrderIndex        int64     `json:"orderIndex"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

var _ core.Entity = (*InitiativeEntry)(nil)

// GetID implements core.Entity
func (e *InitiativeEntry) GetID() string {
	return e.ID
}

// GetType implements core.Entity
func (e *InitiativeEntry) GetType() string {
	return string(e.Type)
}

// IsPlayer reports whether the entry is a player combatant
func (e *InitiativeEntry) IsPlayer() bool {
	return e.Type == EntryTypePlayer
}

// OwnedBy reports whether the entry is the player entry of userID
func (e *InitiativeEntry) OwnedBy(userID string) bool {
	return e.IsPlayer() && e.UserID != nil && *e.UserID == userID
}

// SortInitiative is the initiative used for ordering
func (e *InitiativeEntry) SortInitiative() int {
	if e.CurrentInitiative == nil {
		return UnrolledInitiative
	}
	return *e.CurrentInitiative
}

// Clone returns a deep copy
func (e *InitiativeEntry) Clone() *InitiativeEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.UserID = cloneString(e.UserID)
	c.CharacterID = cloneString(e.CharacterID)
	c.AvatarURL = cloneString(e.AvatarURL)
	c.Notes = cloneString(e.Notes)
	c.CurrentInitiative = cloneInt(e.CurrentInitiative)
	c.HP = cloneInt(e.HP)
	c.MaxHP = cloneInt(e.MaxHP)
	c.AC = cloneInt(e.AC)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
