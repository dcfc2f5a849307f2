// Package encounters provides persistence for encounters and their initiative entries
package encounters

//go:generate mockgen -destination=mock/mock_repository.go -package=encountersmock github.com/KirkDiggler/rpg-encounters/internal/repositories/encounters Repository

import (
	"context"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
)

// Repository defines the storage interface for encounters.
//
// Reads return copies; callers mutate their copy and write it back through Commit.
// Callers serialize writers per encounter, the repository does not lock.
type Repository interface {
	// Get retrieves an encounter by ID
	// Returns errors.InvalidArgument for an empty ID
	// Returns errors.NotFound if the encounter doesn't exist
	Get(ctx context.Context, input *GetInput) (*GetOutput, error)

	// ListByCampaign retrieves a campaign's encounters, oldest first
	ListByCampaign(ctx context.Context, input *ListByCampaignInput) (*ListByCampaignOutput, error)

	// ListEntries retrieves an encounter's entries in OrderIndex order
	// Returns errors.InvalidArgument for an empty ID
	ListEntries(ctx context.Context, input *ListEntriesInput) (*ListEntriesOutput, error)

	// Commit writes an encounter, entry upserts and deletes, and the events that
	// describe them in a single transaction. Events get their sequence numbers here.
	// Returns errors.InvalidArgument for an empty commit or mismatched IDs
	// Returns errors.Unavailable when storage cannot be reached
	Commit(ctx context.Context, input *CommitInput) (*CommitOutput, error)
}

// GetInput defines the request for retrieving an encounter
type GetInput struct {
	EncounterID string
}

// GetOutput defines the response for retrieving an encounter
type GetOutput struct {
	Encounter *entities.Encounter
}

// ListByCampaignInput defines the request for listing a campaign's encounters
type ListByCampaignInput struct {
	CampaignID string
}

// ListByCampaignOutput defines the response for listing a campaign's encounters
type ListByCampaignOutput struct {
	Encounters []*entities.Encounter
}

// ListEntriesInput defines the request for listing entries
type ListEntriesInput struct {
	EncounterID string
}

// ListEntriesOutput defines the response for listing entries
type ListEntriesOutput struct {
	Entries []*entities.InitiativeEntry
}

// CommitInput defines one atomic write.
//
// Encounter is required: every change to an encounter's entries is committed with
// the encounter record so UpdatedAt and the turn index move together.
type CommitInput struct {
	Encounter      *entities.Encounter
	PutEntries     []*entities.InitiativeEntry
	DeleteEntryIDs []string
	Events         []*entities.Event
}

// CommitOutput defines the result of a commit. Events carry their sequence numbers.
type CommitOutput struct {
	Events []*entities.Event
}
