package access

import (
	"encoding/json"
	"log/slog"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
)

// secretFields are the npc fields hidden from non-hosts, by JSON name
var secretFields = map[string]bool{
	"hp":    true,
	"ac":    true,
	"notes": true,
}

// RedactEntry returns the entry as the viewer may see it. Stored data is never
// modified; a copy is returned whenever anything is hidden.
func RedactEntry(viewer Role, entry *entities.InitiativeEntry) *entities.InitiativeEntry {
	if entry == nil || viewer == RoleHost || entry.Type != entities.EntryTypeNPC {
		return entry
	}

	redacted := entry.Clone()
	redacted.HP = nil
	redacted.AC = nil
	redacted.Notes = nil
	return redacted
}

// RedactEntries applies RedactEntry to every element, preserving order
func RedactEntries(viewer Role, entries []*entities.InitiativeEntry) []*entities.InitiativeEntry {
	out := make([]*entities.InitiativeEntry, len(entries))
	for i, e := range entries {
		out[i] = RedactEntry(viewer, e)
	}
	return out
}

// RedactEvent hides npc secrets inside event payloads. Events that carry nothing
// secret are returned as-is.
func RedactEvent(viewer Role, evt *entities.Event) *entities.Event {
	if evt == nil || viewer == RoleHost {
		return evt
	}

	var payload any
	switch evt.Type {
	case entities.EventTypeEntryAdded:
		var p entities.EntryAddedPayload
		if !decode(evt, &p) {
			return withPayload(evt, nil)
		}
		if p.Entry == nil || p.Entry.Type != entities.EntryTypeNPC {
			return evt
		}
		p.Entry = RedactEntry(viewer, p.Entry)
		payload = p
	case entities.EventTypeHPChange:
		var p entities.HPChangePayload
		if !decode(evt, &p) {
			return withPayload(evt, nil)
		}
		if p.EntryType != entities.EntryTypeNPC {
			return evt
		}
		p.OldHP, p.NewHP = nil, nil
		payload = p
	case entities.EventTypeEntryUpdated:
		var p entities.EntryUpdatedPayload
		if !decode(evt, &p) {
			return withPayload(evt, nil)
		}
		if p.EntryType != entities.EntryTypeNPC {
			return evt
		}
		changes := make(map[string]entities.FieldChange, len(p.Changes))
		for field, change := range p.Changes {
			if secretFields[field] {
				change = entities.FieldChange{}
			}
			changes[field] = change
		}
		p.Changes = changes
		payload = p
	default:
		return evt
	}

	return withPayload(evt, payload)
}

// withPayload copies evt with payload re-encoded. A nil payload, or one that fails
// to encode, is replaced by an empty object so nothing secret leaks.
func withPayload(evt *entities.Event, payload any) *entities.Event {
	raw := json.RawMessage(`{}`)
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			slog.Error("failed to re-encode redacted event", "event_id", evt.ID, "error", err)
		} else {
			raw = encoded
		}
	}

	redacted := evt.Clone()
	redacted.Payload = raw
	return redacted
}

// RedactEvents applies RedactEvent to every element, preserving order
func RedactEvents(viewer Role, events []*entities.Event) []*entities.Event {
	out := make([]*entities.Event, len(events))
	for i, e := range events {
		out[i] = RedactEvent(viewer, e)
	}
	return out
}

func decode(evt *entities.Event, target any) bool {
	if err := evt.DecodePayload(target); err != nil {
		slog.Warn("failed to decode event payload for redaction",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"error", err)
		return false
	}
	return true
}
