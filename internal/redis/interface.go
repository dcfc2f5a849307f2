package redis

import (
	"github.com/redis/go-redis/v9"
)

// Client wraps redis.UniversalClient so repositories depend on this package only
type Client interface {
	redis.UniversalClient
}

// Pipeliner wraps redis.Pipeliner for batch operations
type Pipeliner interface {
	redis.Pipeliner
}

// Z is a sorted set member
type Z = redis.Z

// ZRangeBy bounds a sorted set range query
type ZRangeBy = redis.ZRangeBy
