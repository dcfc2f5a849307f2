// Package entities provides the core data structures for rpg-encounters.
package entities

import (
	"time"
)

// EncounterStatus is the lifecycle position of an encounter
type EncounterStatus string

// Encounter statuses
const (
	EncounterStatusPending EncounterStatus = "pending"
	EncounterStatusActive  EncounterStatus = "active"
	EncounterStatusEnded   EncounterStatus = "ended"
)

// Encounter is a single combat within a campaign with its own turn order.
// CurrentRound and CurrentTurnIndex are meaningful only once StartedAt is set.
type Encounter struct {
	ID               string     `json:"id"`
	CampaignID       string     `json:"campaignId"`
	Name             string     `json:"name"`
	StartedAt        *time.Time `json:"startedAt"`
	EndedAt          *time.Time `json:"endedAt"`
	CurrentRound     int        `json:"currentRound"`
	CurrentTurnIndex int        `json:"currentTurnIndex"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsStarted reports whether the encounter has been activated
func (e *Encounter) IsStarted() bool {
	return e.StartedAt != nil
}

// Status derives the lifecycle status. Ended is reported even though it does not
// block turn tracking.
func (e *Encounter) Status() EncounterStatus {
	switch {
	case e.EndedAt != nil:
		return EncounterStatusEnded
	case e.StartedAt != nil:
		return EncounterStatusActive
	default:
		return EncounterStatusPending
	}
}

// Clone returns a deep copy
func (e *Encounter) Clone() *Encounter {
	if e == nil {
		return nil
	}
	c := *e
	c.StartedAt = cloneTime(e.StartedAt)
	c.EndedAt = cloneTime(e.EndedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
