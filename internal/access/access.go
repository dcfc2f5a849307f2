// Package access decides what an actor may do to an encounter and projects stored
// entries and events into the view a given role is allowed to see.
package access

import (
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

// Role is an actor's standing in one campaign
type Role string

// Roles
const (
	RoleHost   Role = "host"
	RoleMember Role = "member"
)

// Action is something an actor attempts on an encounter or entry
type Action string

// Actions
const (
	ActionCreateEncounter Action = "create_encounter"
	ActionActivate        Action = "activate"
	ActionEnd             Action = "end"
	ActionAdvanceTurn     Action = "advance_turn"
	ActionCreateEntry     Action = "create_entry"
	ActionDeleteEntry     Action = "delete_entry"
	ActionUpdateEntry     Action = "update_entry"
	ActionRefreshEntry    Action = "refresh_entry"
	ActionRollInitiative  Action = "roll_initiative"
)

// Actor is an authenticated user resolved against a campaign roster
type Actor struct {
	UserID string
	Role   Role
}

// IsHost reports whether the actor hosts the campaign
func (a Actor) IsHost() bool {
	return a.Role == RoleHost
}

// ResolveActor determines the role of userID in campaign. Users outside the roster
// get NotFound so the campaign's existence is not disclosed.
func ResolveActor(campaign *entities.Campaign, userID string) (Actor, error) {
	if userID == "" {
		return Actor{}, errors.Unauthenticated("missing user identity")
	}
	if campaign.IsHost(userID) {
		return Actor{UserID: userID, Role: RoleHost}, nil
	}
	if _, ok := campaign.MemberByUserID(userID); ok {
		return Actor{UserID: userID, Role: RoleMember}, nil
	}
	return Actor{}, errors.NotFoundf("campaign %s not found", campaign.ID)
}

// Decision is the outcome of an authorization check
type Decision bool

// Decisions
const (
	Allow Decision = true
	Deny  Decision = false
)

// Decide evaluates the authorization table:
//
//	host    any action, any entry            -> Allow
//	member  update/refresh/roll own player   -> Allow
//	member  anything else                    -> Deny
//
// target is nil for actions that do not address an entry.
func Decide(actor Actor, action Action, target *entities.InitiativeEntry) Decision {
	if actor.IsHost() {
		return Allow
	}

	switch action {
	case ActionUpdateEntry, ActionRefreshEntry, ActionRollInitiative:
		if target != nil && target.OwnedBy(actor.UserID) {
			return Allow
		}
	}
	return Deny
}

// Authorize is Decide returning a PermissionDenied error on Deny
func Authorize(actor Actor, action Action, target *entities.InitiativeEntry) error {
	if Decide(actor, action, target) == Allow {
		return nil
	}

	err := errors.PermissionDenied(deniedMessage(action)).
		WithMeta("action", string(action)).
		WithMeta("user_id", actor.UserID)
	if target != nil {
		err.WithMeta("entry_id", target.ID)
	}
	return err
}

func deniedMessage(action Action) string {
	switch action {
	case ActionUpdateEntry, ActionRefreshEntry, ActionRollInitiative:
		return "members may only change their own player entry"
	default:
		return "only the campaign host may " + string(action)
	}
}
