package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	redisclient "github.com/KirkDiggler/rpg-encounters/internal/redis"
)

const (
	campaignKeyPrefix = "campaign:"
	eventsKeySuffix   = ":events"
	seqKeySuffix      = ":events:seq"

	// DefaultLimit is the page size used when none is given
	DefaultLimit = 50
	// MaxLimit caps the page size
	MaxLimit = 200

	errCampaignIDEmpty = "campaign ID cannot be empty"
)

// LogKey is the sorted set holding a campaign's events scored by sequence
func LogKey(campaignID string) string {
	return campaignKeyPrefix + campaignID + eventsKeySuffix
}

// SeqKey is the counter holding a campaign's last reserved sequence
func SeqKey(campaignID string) string {
	return campaignKeyPrefix + campaignID + seqKeySuffix
}

type redisRepository struct {
	client redisclient.Client
}

// RedisConfig contains configuration for the Redis event log
type RedisConfig struct {
	Client redisclient.Client
}

// Validate validates the RedisConfig
func (cfg *RedisConfig) Validate() error {
	if cfg == nil {
		return errors.InvalidArgument("config cannot be nil")
	}
	if cfg.Client == nil {
		return errors.InvalidArgument("client cannot be nil")
	}
	return nil
}

// NewRedis creates a new Redis-backed event log
func NewRedis(cfg *RedisConfig) (Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &redisRepository{
		client: cfg.Client,
	}, nil
}

func (r *redisRepository) Reserve(ctx context.Context, input *ReserveInput) (*ReserveOutput, error) {
	if input == nil || input.CampaignID == "" {
		return nil, errors.InvalidArgument(errCampaignIDEmpty)
	}
	if len(input.Events) == 0 {
		return &ReserveOutput{}, nil
	}
	for _, evt := range input.Events {
		if evt.CampaignID != input.CampaignID {
			return nil, errors.InvalidArgumentf("event for campaign %s cannot be appended to campaign %s",
				evt.CampaignID, input.CampaignID)
		}
	}

	last, err := r.client.IncrBy(ctx, SeqKey(input.CampaignID), int64(len(input.Events))).Result()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to reserve event sequence")
	}

	first := uint64(last) - uint64(len(input.Events)) + 1
	for i, evt := range input.Events {
		evt.Seq = first + uint64(i)
	}

	return &ReserveOutput{FirstSeq: first, LastSeq: uint64(last)}, nil
}

func (r *redisRepository) Stage(ctx context.Context, pipe redisclient.Pipeliner, events []*entities.Event) error {
	for _, evt := range events {
		if evt.Seq == 0 {
			return errors.InvalidArgumentf("event %s has no reserved sequence", evt.ID)
		}

		data, err := json.Marshal(evt)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal event %s", evt.ID)
		}

		pipe.ZAdd(ctx, LogKey(evt.CampaignID), redisclient.Z{
			Score:  float64(evt.Seq),
			Member: data,
		})
	}
	return nil
}

func (r *redisRepository) List(ctx context.Context, input *ListInput) (*ListOutput, error) {
	if input == nil || input.CampaignID == "" {
		return nil, errors.InvalidArgument(errCampaignIDEmpty)
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	// one extra row tells us whether another page exists
	rangeBy := &redisclient.ZRangeBy{Count: int64(limit) + 1}

	var (
		members []redisclient.Z
		err     error
	)
	key := LogKey(input.CampaignID)
	if input.Descending {
		rangeBy.Min = "-inf"
		rangeBy.Max = "+inf"
		if input.Cursor > 0 {
			rangeBy.Max = "(" + strconv.FormatUint(input.Cursor, 10)
		}
		members, err = r.client.ZRevRangeByScoreWithScores(ctx, key, rangeBy).Result()
	} else {
		rangeBy.Min = "(" + strconv.FormatUint(input.Cursor, 10)
		rangeBy.Max = "+inf"
		members, err = r.client.ZRangeByScoreWithScores(ctx, key, rangeBy).Result()
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to list events")
	}

	hasMore := len(members) > limit
	if hasMore {
		members = members[:limit]
	}

	out := &ListOutput{
		Events:     make([]*entities.Event, 0, len(members)),
		NextCursor: input.Cursor,
		HasMore:    hasMore,
	}
	for _, member := range members {
		seq := uint64(member.Score)
		out.NextCursor = seq

		raw, ok := member.Member.(string)
		if !ok {
			slog.ErrorContext(ctx, "skipping undecodable event",
				"campaign_id", input.CampaignID,
				"seq", seq)
			continue
		}
		var evt entities.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			slog.ErrorContext(ctx, "skipping undecodable event",
				"campaign_id", input.CampaignID,
				"seq", seq,
				"error", err)
			continue
		}
		out.Events = append(out.Events, &evt)
	}

	return out, nil
}

func (r *redisRepository) LatestSeq(ctx context.Context, input *LatestSeqInput) (*LatestSeqOutput, error) {
	if input == nil || input.CampaignID == "" {
		return nil, errors.InvalidArgument(errCampaignIDEmpty)
	}

	raw, err := r.client.Get(ctx, SeqKey(input.CampaignID)).Result()
	if err != nil {
		if err == redisclient.Nil {
			return &LatestSeqOutput{}, nil
		}
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to read event sequence")
	}

	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt event sequence for campaign %s", input.CampaignID)
	}

	return &LatestSeqOutput{Seq: seq}, nil
}
