package entities

// Campaign is the externally owned roster the encounter core consumes read-only
type Campaign struct {
	ID         string           `json:"id"`
	HostUserID string           `json:"hostUserId"`
	Members    []CampaignMember `json:"members"`
}

// CampaignMember pairs a user with the character they play in the campaign
type CampaignMember struct {
	UserID      string `json:"userId"`
	CharacterID string `json:"characterId"`
}

// IsHost reports whether userID created the campaign
func (c *Campaign) IsHost(userID string) bool {
	return userID != "" && c.HostUserID == userID
}

// MemberByUserID finds the roster row of userID
func (c *Campaign) MemberByUserID(userID string) (CampaignMember, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return CampaignMember{}, false
}

// HasMember reports whether the exact (userID, characterID) pair is on the roster
func (c *Campaign) HasMember(userID, characterID string) bool {
	m, ok := c.MemberByUserID(userID)
	return ok && m.CharacterID == characterID
}
