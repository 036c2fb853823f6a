//go:build integration

package blob_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certifier/internal/certificate/blob"
	"certifier/pkg/testutil/containers"
)

type RedisReserverSuite struct {
	suite.Suite
	redis    *containers.RedisContainer
	reserver *blob.RedisReserver
}

func TestRedisReserverSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisReserverSuite))
}

func (s *RedisReserverSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.reserver = blob.NewRedisReserver(s.redis.Client, time.Minute)
}

func (s *RedisReserverSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushDB(context.Background()))
}

func (s *RedisReserverSuite) TestSecondReservationLoses() {
	ctx := context.Background()

	ok, err := s.reserver.Reserve(ctx, "1_a.pdf")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.reserver.Reserve(ctx, "1_a.pdf")
	s.Require().NoError(err)
	s.False(ok)

	ttl, err := s.redis.Client.TTL(ctx, "certifier:upload:1_a.pdf").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

// TestConcurrentReservationsSingleWinner verifies SETNX admits exactly one
// claimant for a key.
func (s *RedisReserverSuite) TestConcurrentReservationsSingleWinner() {
	ctx := context.Background()
	const goroutines = 30

	var wg sync.WaitGroup
	var winners atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.reserver.Reserve(ctx, "2_same.pdf")
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), winners.Load())
}
