// Package roster reads campaign membership published by the campaign service
package roster

//go:generate mockgen -destination=mock/mock_client.go -package=rostermock github.com/KirkDiggler/rpg-encounters/internal/clients/roster Client

import (
	"context"
	"encoding/json"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	redisclient "github.com/KirkDiggler/rpg-encounters/internal/redis"
)

const campaignKeyPrefix = "campaign:"

// Client looks up campaign rosters
type Client interface {
	// GetCampaign returns the host and members of a campaign
	// Returns errors.NotFound if the campaign doesn't exist
	GetCampaign(ctx context.Context, campaignID string) (*entities.Campaign, error)
}

// Store is the Redis-backed roster. PutCampaign exists for the admin command and
// tests; in production the campaign service owns these keys.
type Store struct {
	client redisclient.Client
}

// Config contains configuration for the roster store
type Config struct {
	Client redisclient.Client
}

// Validate validates the config
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.InvalidArgument("config cannot be nil")
	}
	if cfg.Client == nil {
		return errors.InvalidArgument("client cannot be nil")
	}
	return nil
}

// New creates a Redis-backed roster store
func New(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{client: cfg.Client}, nil
}

// Key is where a campaign roster lives
func Key(campaignID string) string {
	return campaignKeyPrefix + campaignID
}

// GetCampaign implements Client
func (s *Store) GetCampaign(ctx context.Context, campaignID string) (*entities.Campaign, error) {
	if campaignID == "" {
		return nil, errors.InvalidArgument("campaign ID cannot be empty")
	}

	raw, err := s.client.Get(ctx, Key(campaignID)).Result()
	if err != nil {
		if err == redisclient.Nil {
			return nil, errors.NotFoundf("campaign %s not found", campaignID)
		}
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to load campaign roster")
	}

	var campaign entities.Campaign
	if err := json.Unmarshal([]byte(raw), &campaign); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal campaign %s", campaignID)
	}
	if campaign.ID == "" {
		campaign.ID = campaignID
	}
	return &campaign, nil
}

// PutCampaign writes a roster
func (s *Store) PutCampaign(ctx context.Context, campaign *entities.Campaign) error {
	if campaign == nil || campaign.ID == "" {
		return errors.InvalidArgument("campaign ID cannot be empty")
	}

	vb := errors.NewValidationBuilder()
	errors.ValidateRequired("host_user_id", campaign.HostUserID, vb)
	seen := make(map[string]bool, len(campaign.Members))
	for _, m := range campaign.Members {
		if m.UserID == "" || m.CharacterID == "" {
			vb.Field("members", "every member needs a user and a character")
			continue
		}
		if seen[m.UserID] {
			vb.Fieldf("members", "user %s listed twice", m.UserID)
		}
		seen[m.UserID] = true
	}
	if err := vb.Build(); err != nil {
		return err
	}

	data, err := json.Marshal(campaign)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal campaign")
	}

	if err := s.client.Set(ctx, Key(campaign.ID), data, 0).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to store campaign roster")
	}
	return nil
}
