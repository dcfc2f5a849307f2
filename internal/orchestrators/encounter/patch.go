package encounter

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

// Field limits for entry values
const (
	MaxNameLength  = 100
	MaxNotesLength = 4000
	MinBonus       = -20
	MaxBonus       = 20
	MinInitiative  = -50
	MaxInitiative  = 100
	MaxHitPoints   = 100000
	MaxArmorClass  = 100
)

// JSON names of the patchable fields
const (
	fieldName       = "name"
	fieldAvatarURL  = "avatarUrl"
	fieldBonus      = "initiativeBonus"
	fieldInitiative = "currentInitiative"
	fieldHP         = "hp"
	fieldMaxHP      = "maxHp"
	fieldAC         = "ac"
	fieldNotes      = "notes"
)

// Optional distinguishes an absent JSON field from an explicit null.
// Absent leaves Set false; null sets Set and Null.
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some is a present, non-null value
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// Null is a present null
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true, Null: true}
}

// UnmarshalJSON implements json.Unmarshaler
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// pointer returns nil for null and a fresh pointer otherwise
func (o Optional[T]) pointer() *T {
	if o.Null {
		return nil
	}
	v := o.Value
	return &v
}

// EntryPatch is the allow-list of entry fields a caller may change.
//
// A field absent from the patch is left alone. Null clears nullable fields and is
// rejected for name and initiativeBonus. Anything else in the request body is
// ignored by the decoder.
type EntryPatch struct {
	Name              Optional[string] `json:"name"`
	AvatarURL         Optional[string] `json:"avatarUrl"`
	InitiativeBonus   Optional[int]    `json:"initiativeBonus"`
	CurrentInitiative Optional[int]    `json:"currentInitiative"`
	HP                Optional[int]    `json:"hp"`
	MaxHP             Optional[int]    `json:"maxHp"`
	AC                Optional[int]    `json:"ac"`
	Notes             Optional[string] `json:"notes"`
}

// Validate checks every present field against its limits
func (p *EntryPatch) Validate() error {
	vb := errors.NewValidationBuilder()

	if p.Name.Set {
		if p.Name.Null {
			vb.Field(fieldName, "cannot be null")
		} else {
			validateName(p.Name.Value, vb)
		}
	}
	if p.InitiativeBonus.Set {
		if p.InitiativeBonus.Null {
			vb.Field(fieldBonus, "cannot be null")
		} else {
			errors.ValidateRange(fieldBonus, p.InitiativeBonus.Value, MinBonus, MaxBonus, vb)
		}
	}
	if p.CurrentInitiative.Set && !p.CurrentInitiative.Null {
		errors.ValidateRange(fieldInitiative, p.CurrentInitiative.Value, MinInitiative, MaxInitiative, vb)
	}
	if p.HP.Set && !p.HP.Null {
		errors.ValidateRange(fieldHP, p.HP.Value, 0, MaxHitPoints, vb)
	}
	if p.MaxHP.Set && !p.MaxHP.Null {
		errors.ValidateRange(fieldMaxHP, p.MaxHP.Value, 0, MaxHitPoints, vb)
	}
	if p.AC.Set && !p.AC.Null {
		errors.ValidateRange(fieldAC, p.AC.Value, 0, MaxArmorClass, vb)
	}
	if p.Notes.Set && !p.Notes.Null && utf8.RuneCountInString(p.Notes.Value) > MaxNotesLength {
		vb.Fieldf(fieldNotes, "must be no more than %d characters", MaxNotesLength)
	}

	return vb.Build()
}

func validateName(name string, vb *errors.ValidationBuilder) {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		vb.RequiredField(fieldName)
	case utf8.RuneCountInString(trimmed) > MaxNameLength:
		vb.Fieldf(fieldName, "must be no more than %d characters", MaxNameLength)
	}
}

// Apply merges the patch into entry and returns the fields that actually changed,
// keyed by JSON name. Call Validate first.
func (p *EntryPatch) Apply(entry *entities.InitiativeEntry) map[string]entities.FieldChange {
	changes := make(map[string]entities.FieldChange)

	if p.Name.Set && !p.Name.Null {
		name := strings.TrimSpace(p.Name.Value)
		if name != entry.Name {
			changes[fieldName] = entities.FieldChange{Old: entry.Name, New: name}
			entry.Name = name
		}
	}
	if p.InitiativeBonus.Set && !p.InitiativeBonus.Null && p.InitiativeBonus.Value != entry.InitiativeBonus {
		changes[fieldBonus] = entities.FieldChange{Old: entry.InitiativeBonus, New: p.InitiativeBonus.Value}
		entry.InitiativeBonus = p.InitiativeBonus.Value
	}

	applyOptional(changes, fieldAvatarURL, p.AvatarURL, &entry.AvatarURL)
	applyOptional(changes, fieldInitiative, p.CurrentInitiative, &entry.CurrentInitiative)
	applyOptional(changes, fieldHP, p.HP, &entry.HP)
	applyOptional(changes, fieldMaxHP, p.MaxHP, &entry.MaxHP)
	applyOptional(changes, fieldAC, p.AC, &entry.AC)
	applyOptional(changes, fieldNotes, p.Notes, &entry.Notes)

	return changes
}

func applyOptional[T comparable](changes map[string]entities.FieldChange, field string, patch Optional[T], target **T) {
	if !patch.Set {
		return
	}

	next := patch.pointer()
	current := *target
	if equalPtr(current, next) {
		return
	}

	changes[field] = entities.FieldChange{Old: deref(current), New: deref(next)}
	*target = next
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// deref unwraps a pointer for an event diff; nil stays nil
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// eventForChanges picks the one event a patch emits: hp_change or
// initiative_change when that field alone changed, entry_updated otherwise
func eventForChanges(
	encounter *entities.Encounter,
	entry *entities.InitiativeEntry,
	changes map[string]entities.FieldChange,
) (entities.EventType, any) {
	if len(changes) == 1 {
		if change, ok := changes[fieldHP]; ok {
			return entities.EventTypeHPChange, entities.HPChangePayload{
				EncounterID: encounter.ID,
				EntryID:     entry.ID,
				EntryType:   entry.Type,
				OldHP:       intFromAny(change.Old),
				NewHP:       intFromAny(change.New),
			}
		}
		if change, ok := changes[fieldInitiative]; ok {
			return entities.EventTypeInitiativeChange, entities.InitiativeChangePayload{
				EncounterID:      encounter.ID,
				EntryID:          entry.ID,
				EntryType:        entry.Type,
				OldInitiative:    intFromAny(change.Old),
				NewInitiative:    intFromAny(change.New),
				CurrentTurnIndex: encounter.CurrentTurnIndex,
			}
		}
	}

	return entities.EventTypeEntryUpdated, entities.EntryUpdatedPayload{
		EncounterID:      encounter.ID,
		EntryID:          entry.ID,
		EntryType:        entry.Type,
		Changes:          changes,
		CurrentTurnIndex: encounter.CurrentTurnIndex,
	}
}

func intFromAny(v any) *int {
	i, ok := v.(int)
	if !ok {
		return nil
	}
	return &i
}
