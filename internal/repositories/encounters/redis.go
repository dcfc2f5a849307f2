package encounters

import (
	"context"
	"encoding/json"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	redisclient "github.com/KirkDiggler/rpg-encounters/internal/redis"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/events"
)

const (
	encounterKeyPrefix = "encounter:"
	entriesKeySuffix   = ":entries"
	entryKeyInfix      = ":entry:"
	campaignKeyPrefix  = "campaign:"
	campaignIndexKey   = ":encounters"

	errEncounterIDEmpty = "encounter ID cannot be empty"
	errEntryIDEmpty     = "entry ID cannot be empty"
)

func encounterKey(encounterID string) string {
	return encounterKeyPrefix + encounterID
}

// entries are indexed in a sorted set scored by OrderIndex
func entriesKey(encounterID string) string {
	return encounterKeyPrefix + encounterID + entriesKeySuffix
}

func entryKey(encounterID, entryID string) string {
	return encounterKeyPrefix + encounterID + entryKeyInfix + entryID
}

func campaignEncountersKey(campaignID string) string {
	return campaignKeyPrefix + campaignID + campaignIndexKey
}

type redisRepository struct {
	client   redisclient.Client
	eventLog events.Repository
}

// RedisConfig contains configuration for the Redis encounter repository
type RedisConfig struct {
	Client   redisclient.Client
	EventLog events.Repository
}

// Validate validates the RedisConfig
func (cfg *RedisConfig) Validate() error {
	if cfg == nil {
		return errors.InvalidArgument("config cannot be nil")
	}

	vb := errors.NewValidationBuilder()
	if cfg.Client == nil {
		vb.RequiredField("client")
	}
	if cfg.EventLog == nil {
		vb.RequiredField("event_log")
	}
	return vb.Build()
}

// NewRedis creates a new Redis-backed encounter repository
func NewRedis(cfg *RedisConfig) (Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &redisRepository{
		client:   cfg.Client,
		eventLog: cfg.EventLog,
	}, nil
}

func (r *redisRepository) Get(ctx context.Context, input *GetInput) (*GetOutput, error) {
	if input == nil || input.EncounterID == "" {
		return nil, errors.InvalidArgument(errEncounterIDEmpty)
	}

	result, err := r.client.Get(ctx, encounterKey(input.EncounterID)).Result()
	if err != nil {
		if err == redisclient.Nil {
			return nil, errors.NotFoundf("encounter %s not found", input.EncounterID)
		}
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to get encounter")
	}

	var encounter entities.Encounter
	if err := json.Unmarshal([]byte(result), &encounter); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal encounter %s", input.EncounterID)
	}

	return &GetOutput{Encounter: &encounter}, nil
}

func (r *redisRepository) ListByCampaign(ctx context.Context, input *ListByCampaignInput) (*ListByCampaignOutput, error) {
	if input == nil || input.CampaignID == "" {
		return nil, errors.InvalidArgument("campaign ID cannot be empty")
	}

	ids, err := r.client.ZRange(ctx, campaignEncountersKey(input.CampaignID), 0, -1).Result()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to list encounters")
	}
	if len(ids) == 0 {
		return &ListByCampaignOutput{Encounters: []*entities.Encounter{}}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = encounterKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to get encounters")
	}

	encounters := make([]*entities.Encounter, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var encounter entities.Encounter
		if err := json.Unmarshal([]byte(raw), &encounter); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal encounter %s", ids[i])
		}
		encounters = append(encounters, &encounter)
	}

	return &ListByCampaignOutput{Encounters: encounters}, nil
}

func (r *redisRepository) ListEntries(ctx context.Context, input *ListEntriesInput) (*ListEntriesOutput, error) {
	if input == nil || input.EncounterID == "" {
		return nil, errors.InvalidArgument(errEncounterIDEmpty)
	}

	ids, err := r.client.ZRange(ctx, entriesKey(input.EncounterID), 0, -1).Result()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to list entries")
	}
	if len(ids) == 0 {
		return &ListEntriesOutput{Entries: []*entities.InitiativeEntry{}}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(input.EncounterID, id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to get entries")
	}

	entries := make([]*entities.InitiativeEntry, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index and record are written together; a miss means a concurrent delete
			continue
		}
		var entry entities.InitiativeEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal entry %s", ids[i])
		}
		entries = append(entries, &entry)
	}

	return &ListEntriesOutput{Entries: entries}, nil
}

func (r *redisRepository) Commit(ctx context.Context, input *CommitInput) (*CommitOutput, error) {
	if input == nil || input.Encounter == nil {
		return nil, errors.InvalidArgument("encounter cannot be nil")
	}
	encounter := input.Encounter
	if encounter.ID == "" {
		return nil, errors.InvalidArgument(errEncounterIDEmpty)
	}
	if encounter.CampaignID == "" {
		return nil, errors.InvalidArgument("campaign ID cannot be empty")
	}
	for _, entry := range input.PutEntries {
		if entry.ID == "" {
			return nil, errors.InvalidArgument(errEntryIDEmpty)
		}
		if entry.EncounterID != encounter.ID {
			return nil, errors.InvalidArgumentf("entry %s belongs to encounter %s", entry.ID, entry.EncounterID)
		}
	}

	encounterData, err := json.Marshal(encounter)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal encounter")
	}

	if len(input.Events) > 0 {
		if _, err := r.eventLog.Reserve(ctx, &events.ReserveInput{
			CampaignID: encounter.CampaignID,
			Events:     input.Events,
		}); err != nil {
			return nil, err
		}
	}

	pipe := r.client.TxPipeline()

	pipe.Set(ctx, encounterKey(encounter.ID), encounterData, 0)
	pipe.ZAddNX(ctx, campaignEncountersKey(encounter.CampaignID), redisclient.Z{
		Score:  float64(encounter.CreatedAt.UnixMilli()),
		Member: encounter.ID,
	})

	for _, entry := range input.PutEntries {
		data, err := json.Marshal(entry)
		if err != nil {
			pipe.Discard()
			return nil, errors.Wrapf(err, "failed to marshal entry %s", entry.ID)
		}
		pipe.Set(ctx, entryKey(encounter.ID, entry.ID), data, 0)
		pipe.ZAdd(ctx, entriesKey(encounter.ID), redisclient.Z{
			Score:  float64(entry.OrderIndex),
			Member: entry.ID,
		})
	}

	for _, entryID := range input.DeleteEntryIDs {
		pipe.Del(ctx, entryKey(encounter.ID, entryID))
		pipe.ZRem(ctx, entriesKey(encounter.ID), entryID)
	}

	if err := r.eventLog.Stage(ctx, pipe, input.Events); err != nil {
		pipe.Discard()
		return nil, err
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to commit encounter changes").
			WithMeta("encounter_id", encounter.ID)
	}

	return &CommitOutput{Events: input.Events}, nil
}
