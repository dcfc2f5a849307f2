package testutils

import (
	"github.com/KirkDiggler/rpg-encounters/internal/clients/character"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
)

// Users and characters of the party fixture
const (
	HostUserID  = "user_host"
	AliceUserID = "user_alice"
	AliceCharID = "char_alice"
	BobUserID   = "user_bob"
	BobCharID   = "char_bob"

	// TestCharacterName is the default character name for test fixtures
	TestCharacterName = "Aria"
)

// CreateTestCampaign creates a campaign hosted by HostUserID with Alice and Bob as members
func CreateTestCampaign(campaignID string) *entities.Campaign {
	return &entities.Campaign{
		ID:         campaignID,
		HostUserID: HostUserID,
		Members: []entities.CampaignMember{
			{UserID: AliceUserID, CharacterID: AliceCharID},
			{UserID: BobUserID, CharacterID: BobCharID},
		},
	}
}

// CreateTestSoloCampaign creates a campaign with a host and no members
func CreateTestSoloCampaign(campaignID string) *entities.Campaign {
	return &entities.Campaign{ID: campaignID, HostUserID: HostUserID}
}

// CreateTestCharacter creates a character service document with sensible defaults
func CreateTestCharacter(characterID string) *character.Character {
	hp, ac := 12, 15
	return &character.Character{
		ID:        characterID,
		Name:      TestCharacterName,
		AvatarURL: "https://cdn.example/" + characterID + ".png",
		AbilityScores: character.AbilityScores{
			Strength:     10,
			Dexterity:    16,
			Constitution: 14,
			Intelligence: 10,
			Wisdom:       12,
			Charisma:     8,
		},
		HP:    &hp,
		MaxHP: &hp,
		AC:    &ac,
	}
}
