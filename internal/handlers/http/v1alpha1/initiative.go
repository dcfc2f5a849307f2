package v1alpha1

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/orchestrators/encounter"
)

type initiativeResponse struct {
	Encounter     *entities.Encounter         `json:"encounter"`
	Entries       []*entities.InitiativeEntry `json:"entries"`
	ActiveEntryID string                      `json:"activeEntryId,omitempty"`
	Role          access.Role                 `json:"role"`
}

// createEntryRequest is the tagged union accepted by POST initiative. Fields of
// the other variant are rejected rather than silently dropped.
type createEntryRequest struct {
	Type entities.EntryType `json:"type"`
}

type npcRequest struct {
	Type              entities.EntryType `json:"type"`
	Name              string             `json:"name"`
	AvatarURL         *string            `json:"avatarUrl"`
	InitiativeBonus   int                `json:"initiativeBonus"`
	CurrentInitiative *int               `json:"currentInitiative"`
	HP                *int               `json:"hp"`
	MaxHP             *int               `json:"maxHp"`
	AC                *int               `json:"ac"`
	Notes             *string            `json:"notes"`
}

type playerRequest struct {
	Type        entities.EntryType `json:"type"`
	UserID      string             `json:"userId"`
	CharacterID string             `json:"characterId"`
}

type refreshRequest struct {
	EntryID string `json:"entryId"`
}

type nextTurnResponse struct {
	CurrentRound     int    `json:"currentRound"`
	CurrentTurnIndex int    `json:"currentTurnIndex"`
	ActiveEntryID    string `json:"activeEntryId,omitempty"`
}

// GetInitiative handles GET /encounters/{encounterID}/initiative
func (h *Handler) GetInitiative(w http.ResponseWriter, r *http.Request) {
	out, err := h.encounterService.GetInitiative(r.Context(), &encounter.GetInitiativeInput{
		Identity:    identity(r),
		EncounterID: r.PathValue("encounterID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries := out.Entries
	if entries == nil {
		entries = []*entities.InitiativeEntry{}
	}
	writeJSON(w, http.StatusOK, initiativeResponse{
		Encounter:     out.Encounter,
		Entries:       entries,
		ActiveEntryID: out.ActiveEntryID,
		Role:          out.Role,
	})
}

// CreateEntry handles POST /encounters/{encounterID}/initiative
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw, false); err != nil {
		writeError(w, r, err)
		return
	}

	input, err := parseCreateEntry(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	input.Identity = identity(r)
	input.EncounterID = r.PathValue("encounterID")

	out, err := h.encounterService.CreateEntry(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, out.Entry)
}

func parseCreateEntry(raw json.RawMessage) (*encounter.CreateEntryInput, error) {
	var head createEntryRequest
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, errors.InvalidArgumentf("malformed request body: %v", err)
	}

	switch head.Type {
	case entities.EntryTypeNPC:
		var req npcRequest
		if err := strictUnmarshal(raw, &req); err != nil {
			return nil, err
		}
		return &encounter.CreateEntryInput{
			Type: entities.EntryTypeNPC,
			NPC: &encounter.NPCSpec{
				Name:              req.Name,
				AvatarURL:         req.AvatarURL,
				InitiativeBonus:   req.InitiativeBonus,
				CurrentInitiative: req.CurrentInitiative,
				HP:                req.HP,
				MaxHP:             req.MaxHP,
				AC:                req.AC,
				Notes:             req.Notes,
			},
		}, nil
	case entities.EntryTypePlayer:
		var req playerRequest
		if err := strictUnmarshal(raw, &req); err != nil {
			return nil, err
		}
		return &encounter.CreateEntryInput{
			Type:   entities.EntryTypePlayer,
			Player: &encounter.PlayerSpec{UserID: req.UserID, CharacterID: req.CharacterID},
		}, nil
	case "":
		return nil, errors.NewValidationBuilder().RequiredField("type").Build()
	default:
		return nil, errors.InvalidArgumentf("unknown entry type %q", head.Type).
			WithMeta("allowed", []string{string(entities.EntryTypeNPC), string(entities.EntryTypePlayer)})
	}
}

func strictUnmarshal(raw json.RawMessage, target any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return errors.InvalidArgumentf("invalid entry fields: %v", err)
	}
	return nil
}

// UpdateEntry handles PATCH /encounters/{encounterID}/initiative/{entryID}
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var patch encounter.EntryPatch
	if err := decodeJSON(w, r, &patch, false); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.encounterService.UpdateEntry(r.Context(), &encounter.UpdateEntryInput{
		Identity:    identity(r),
		EncounterID: r.PathValue("encounterID"),
		EntryID:     r.PathValue("entryID"),
		Patch:       patch,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, out.Entry)
}

// DeleteEntry handles DELETE /encounters/{encounterID}/initiative/{entryID}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	_, err := h.encounterService.DeleteEntry(r.Context(), &encounter.DeleteEntryInput{
		Identity:    identity(r),
		EncounterID: r.PathValue("encounterID"),
		EntryID:     r.PathValue("entryID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RefreshEntry handles POST /encounters/{encounterID}/initiative/refresh-entry
func (h *Handler) RefreshEntry(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.encounterService.RefreshEntryFromCharacter(r.Context(), &encounter.RefreshEntryInput{
		Identity:    identity(r),
		EncounterID: r.PathValue("encounterID"),
		EntryID:     req.EntryID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, out.Entry)
}

// RollInitiative handles POST /encounters/{encounterID}/initiative/{entryID}/roll
func (h *Handler) RollInitiative(w http.ResponseWriter, r *http.Request) {
	out, err := h.encounterService.RollInitiative(r.Context(), &encounter.RollInitiativeInput{
		Identity:    identity(r),
		EncounterID: r.PathValue("encounterID"),
		EntryID:     r.PathValue("entryID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, out.Entry)
}

// NextTurn handles POST /encounters/{encounterID}/initiative/next-turn
func (h *Handler) NextTurn(w http.ResponseWriter, r *http.Request) {
	out, err := h.encounterService.NextTurn(r.Context(), &encounter.NextTurnInput{
		Identity:    identity(r),
		EncounterID: r.PathValue("encounterID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nextTurnResponse{
		CurrentRound:     out.Encounter.CurrentRound,
		CurrentTurnIndex: out.Encounter.CurrentTurnIndex,
		ActiveEntryID:    out.ActiveEntryID,
	})
}
