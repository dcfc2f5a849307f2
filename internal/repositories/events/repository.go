// Package events provides the append-only, per-campaign event log
package events

//go:generate mockgen -destination=mock/mock_repository.go -package=eventsmock github.com/KirkDiggler/rpg-encounters/internal/repositories/events Repository

import (
	"context"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	redisclient "github.com/KirkDiggler/rpg-encounters/internal/redis"
)

// Repository defines the storage interface for campaign event logs.
//
// Sequence numbers are strictly increasing per campaign. A reservation that is
// never committed leaves a gap; sequence numbers are never reused.
type Repository interface {
	// Reserve assigns the next sequence numbers to input.Events in slice order.
	// The caller must hold the campaign's append lock until the events are
	// committed so that commit order matches sequence order.
	// Returns errors.InvalidArgument for events from a different campaign
	Reserve(ctx context.Context, input *ReserveInput) (*ReserveOutput, error)

	// Stage queues writes for already reserved events on pipe without executing it,
	// so events commit in the same transaction as the state they describe.
	Stage(ctx context.Context, pipe redisclient.Pipeliner, events []*entities.Event) error

	// List pages through a campaign's log ordered by sequence number
	// Returns errors.InvalidArgument for an empty campaign ID
	List(ctx context.Context, input *ListInput) (*ListOutput, error)

	// LatestSeq returns the highest sequence number reserved for a campaign, 0 if none
	LatestSeq(ctx context.Context, input *LatestSeqInput) (*LatestSeqOutput, error)
}

// ReserveInput defines the request for reserving sequence numbers
type ReserveInput struct {
	CampaignID string
	Events     []*entities.Event
}

// ReserveOutput defines the response for reserving sequence numbers
type ReserveOutput struct {
	FirstSeq uint64
	LastSeq  uint64
}

// ListInput defines the request for paging through a log.
//
// Ascending pages start after Cursor (0 = from the beginning). Descending pages
// start before Cursor (0 = from the newest event).
type ListInput struct {
	CampaignID string
	Cursor     uint64
	Limit      int
	Descending bool
}

// ListOutput defines the response for paging through a log.
//
// NextCursor is the sequence of the last row read, or the input cursor when the
// page is empty, so an ascending reader can keep polling with it. Rows that fail
// to decode are skipped but still move the cursor. HasMore
// reports whether another page exists right now.
type ListOutput struct {
	Events     []*entities.Event
	NextCursor uint64
	HasMore    bool
}

// LatestSeqInput defines the request for the latest sequence number
type LatestSeqInput struct {
	CampaignID string
}

// LatestSeqOutput defines the response for the latest sequence number
type LatestSeqOutput struct {
	Seq uint64
}
