// Package testutils provides utilities for testing, including Redis test helpers
package testutils

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/KirkDiggler/rpg-encounters/internal/redis"
)

// CreateTestRedisClient creates an in-memory Redis client for testing
func CreateTestRedisClient(t *testing.T) (redis.Client, func()) {
	client, _, cleanup := CreateTestRedisServer(t)
	return client, cleanup
}

// CreateTestRedisServer is CreateTestRedisClient that also hands back the server,
// so tests can seed keys or simulate an outage with mr.Close().
func CreateTestRedisServer(t *testing.T) (redis.Client, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to create miniredis")

	client, err := redis.NewClient(mr.Addr(), nil)
	require.NoError(t, err, "failed to create redis client")

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

// FlakyTxClient wraps a client so MULTI/EXEC transactions can be made to fail on
// demand. Everything else passes through.
type FlakyTxClient struct {
	redis.Client
	fail atomic.Bool
}

// NewFlakyTxClient wraps client with transactions initially working
func NewFlakyTxClient(client redis.Client) *FlakyTxClient {
	return &FlakyTxClient{Client: client}
}

// FailTransactions makes every later Exec discard its queue and fail
func (c *FlakyTxClient) FailTransactions(fail bool) {
	c.fail.Store(fail)
}

// TxPipeline returns a pipeline whose Exec fails while FailTransactions is on
func (c *FlakyTxClient) TxPipeline() goredis.Pipeliner {
	pipe := c.Client.TxPipeline()
	if !c.fail.Load() {
		return pipe
	}
	return &failingPipeline{Pipeliner: pipe}
}

type failingPipeline struct {
	goredis.Pipeliner
}

func (p *failingPipeline) Exec(_ context.Context) ([]goredis.Cmder, error) {
	p.Pipeliner.Discard()
	return nil, goredis.TxFailedErr
}
