package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KirkDiggler/rpg-encounters/internal/clients/roster"
	"github.com/KirkDiggler/rpg-encounters/internal/config"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/redis"
)

var (
	campaignFile    string
	campaignID      string
	campaignHost    string
	campaignMembers []string
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage campaign rosters",
}

var campaignPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Write a campaign roster into Redis",
	Long: `Write a campaign roster, either from a JSON file or from flags:

  rpg-encounters campaign put --file camp.json
  rpg-encounters campaign put --id camp_1 --host user_dm --member user_a=char_a --member user_b=char_b`,
	RunE: runCampaignPut,
}

func init() {
	campaignPutCmd.Flags().StringVar(&campaignFile, "file", "", "JSON file holding the campaign")
	campaignPutCmd.Flags().StringVar(&campaignID, "id", "", "campaign ID")
	campaignPutCmd.Flags().StringVar(&campaignHost, "host", "", "host user ID")
	campaignPutCmd.Flags().StringArrayVar(&campaignMembers, "member", nil, "member as userId=characterId (repeatable)")
	campaignPutCmd.MarkFlagsMutuallyExclusive("file", "id")
	campaignCmd.AddCommand(campaignPutCmd)
}

func runCampaignPut(cmd *cobra.Command, _ []string) error {
	campaign, err := campaignFromFlags()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client, err := redis.NewClient(cfg.RedisAddr, &redis.Options{PoolSize: 1})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	store, err := roster.New(&roster.Config{Client: client})
	if err != nil {
		return err
	}
	if err := store.PutCampaign(cmd.Context(), campaign); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored campaign %s with %d members\n", campaign.ID, len(campaign.Members))
	return err
}

func campaignFromFlags() (*entities.Campaign, error) {
	if campaignFile != "" {
		raw, err := os.ReadFile(campaignFile)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeInvalidArgument, "failed to read campaign file")
		}
		var campaign entities.Campaign
		if err := json.Unmarshal(raw, &campaign); err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeInvalidArgument, "failed to parse campaign file")
		}
		return &campaign, nil
	}

	campaign := &entities.Campaign{ID: campaignID, HostUserID: campaignHost}
	for _, m := range campaignMembers {
		userID, characterID, ok := strings.Cut(m, "=")
		if !ok {
			return nil, errors.InvalidArgumentf("member %q must be userId=characterId", m)
		}
		campaign.Members = append(campaign.Members, entities.CampaignMember{UserID: userID, CharacterID: characterID})
	}
	return campaign, nil
}
