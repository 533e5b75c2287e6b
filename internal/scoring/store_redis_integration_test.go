//go:build integration

package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"accord/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore[TrustScore]
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.store = NewRedisStore[TrustScore](s.redis.Client, cacheTrust)
}

func (s *RedisStoreSuite) TestRoundTripAndDelete() {
	entry := Entry[TrustScore]{
		Value:      TrustScore{StandardID: "S1", Value: 0.8, ComputedAt: t0},
		CachedAt:   t0,
		StaleAfter: t0.Add(time.Minute),
	}
	s.Require().NoError(s.store.Set(s.ctx, "S1", entry, time.Minute))

	keys, err := s.redis.Client.Keys(s.ctx, "accord:trust:*").Result()
	s.Require().NoError(err)
	s.Equal([]string{"accord:trust:S1"}, keys)

	got, ok, err := s.store.Get(s.ctx, "S1")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(0.8, got.Value.Value)
	s.True(got.CachedAt.Equal(t0))

	s.Require().NoError(s.store.Delete(s.ctx, "S1"))
	_, ok, err = s.store.Get(s.ctx, "S1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisStoreSuite) TestServiceInvalidatesSharedCachePerStandard() {
	svc, err := NewService(emptyReader{}, WithSharedCache(s.store, NewRedisStore[RiskProfile](s.redis.Client, cacheRisk)))
	s.Require().NoError(err)
	_, err = svc.RiskProfile(s.ctx, "A")
	s.Require().NoError(err)
	_, err = svc.RiskProfile(s.ctx, "B")
	s.Require().NoError(err)

	svc.Invalidate(s.ctx, "A")

	n, err := s.redis.Client.Exists(s.ctx, "accord:risk:A", "accord:trust:A").Result()
	s.Require().NoError(err)
	s.Equal(int64(0), n)
	n, err = s.redis.Client.Exists(s.ctx, "accord:risk:B", "accord:trust:B").Result()
	s.Require().NoError(err)
	s.Equal(int64(2), n)
}
