package character

import (
	"math"
	"strings"
)

// Character is the subset of the character service's document the encounter
// core reads
type Character struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	AvatarURL     string        `json:"avatarUrl"`
	AbilityScores AbilityScores `json:"abilityScores"`
	HP            *int          `json:"hp"`
	MaxHP         *int          `json:"maxHp"`
	AC            *int          `json:"ac"`
	Features      []Feature     `json:"features"`
	// InitiativeMiscBonus covers items and one-off adjustments
	InitiativeMiscBonus int `json:"initiativeMiscBonus"`
}

// AbilityScores holds the six ability scores
type AbilityScores struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// Feature is a class or racial feature; only its initiative bonus matters here
type Feature struct {
	Name            string `json:"name"`
	InitiativeBonus int    `json:"initiativeBonus"`
}

// AbilityModifier is floor((score-10)/2)
func AbilityModifier(score int) int {
	return int(math.Floor(float64(score-10) / 2))
}

// ComputeInitiativeBonus is the dexterity modifier plus feature and misc bonuses
func ComputeInitiativeBonus(ch *Character) int {
	if ch == nil {
		return 0
	}

	bonus := AbilityModifier(ch.AbilityScores.Dexterity) + ch.InitiativeMiscBonus
	for _, f := range ch.Features {
		bonus += f.InitiativeBonus
	}
	return bonus
}

// ExtractAvatar returns the avatar URL, nil when the character has none
func ExtractAvatar(ch *Character) *string {
	if ch == nil {
		return nil
	}
	avatar := strings.TrimSpace(ch.AvatarURL)
	if avatar == "" {
		return nil
	}
	return &avatar
}

// Snapshot is what an initiative entry copies from a character
type Snapshot struct {
	Name            string
	AvatarURL       *string
	InitiativeBonus int
	HP              *int
	MaxHP           *int
	AC              *int
}

// TakeSnapshot extracts the entry-facing fields of a character
func TakeSnapshot(ch *Character) Snapshot {
	return Snapshot{
		Name:            strings.TrimSpace(ch.Name),
		AvatarURL:       ExtractAvatar(ch),
		InitiativeBonus: ComputeInitiativeBonus(ch),
		HP:              ch.HP,
		MaxHP:           ch.MaxHP,
		AC:              ch.AC,
	}
}
