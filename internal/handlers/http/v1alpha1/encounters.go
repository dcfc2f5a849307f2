package v1alpha1

import (
	"net/http"

	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/orchestrators/encounter"
)

type createEncounterRequest struct {
	Name string `json:"name"`
}

type encounterResponse struct {
	Encounter *entities.Encounter `json:"encounter"`
	Status    string              `json:"status"`
	Role      access.Role         `json:"role,omitempty"`
}

type listEncountersResponse struct {
	Encounters []*entities.Encounter `json:"encounters"`
}

func newEncounterResponse(e *entities.Encounter, role access.Role) encounterResponse {
	return encounterResponse{Encounter: e, Status: string(e.Status()), Role: role}
}

// CreateEncounter handles POST /campaigns/{campaignID}/encounters
func (h *Handler) CreateEncounter(w http.ResponseWriter, r *http.Request) {
	var req createEncounterRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.encounterService.CreateEncounter(r.Context(), &encounter.CreateEncounterInput{
		Identity:   identity(r),
		CampaignID: r.PathValue("campaignID"),
		Name:       req.Name,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newEncounterResponse(out.Encounter, access.RoleHost))
}

// ListEncounters handles GET /campaigns/{campaignID}/encounters
func (h *Handler) ListEncounters(w http.ResponseWriter, r *http.Request) {
	out, err := h.encounterService.ListEncounters(r.Context(), &encounter.ListEncountersInput{
		Identity:   identity(r),
		CampaignID: r.PathValue("campaignID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	encounters := out.Encounters
	if encounters == nil {
		encounters = []*entities.Encounter{}
	}
	writeJSON(w, http.StatusOK, listEncountersResponse{Encounters: encounters})
}

// GetEncounter handles GET /encounters/{encounterID}
func (h *Handler) GetEncounter(w http.ResponseWriter, r *http.Request) {
	out, err := h.encounterService.GetEncounter(r.Context(), &encounter.GetEncounterInput{
		Identity:    identity(r),
		EncounterID: r.PathValue("encounterID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newEncounterResponse(out.Encounter, out.Role))
}

// StartEncounter handles POST /encounters/{encounterID}/start
func (h *Handler) StartEncounter(w http.ResponseWriter, r *http.Request) {
	out, err := h.encounterService.Activate(r.Context(), &encounter.ActivateInput{
		Identity:    identity(r),
		EncounterID: r.PathValue("encounterID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newEncounterResponse(out.Encounter, access.RoleHost))
}

// EndEncounter handles POST /encounters/{encounterID}/end
func (h *Handler) EndEncounter(w http.ResponseWriter, r *http.Request) {
	out, err := h.encounterService.EndEncounter(r.Context(), &encounter.EndEncounterInput{
		Identity:    identity(r),
		EncounterID: r.PathValue("encounterID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newEncounterResponse(out.Encounter, access.RoleHost))
}
