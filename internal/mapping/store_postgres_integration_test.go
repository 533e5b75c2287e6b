//go:build integration

package mapping

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "accord/pkg/domain-errors"
	"accord/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(s.ctx))
	s.store = NewPostgresStore(s.pg.Pool, NewNotifier(nil))
}

func (s *PostgresStoreSuite) TestSupersedeRoundTrip() {
	v1, err := s.store.Supersede(s.ctx, newMapping("E1", "S1", 0.7))
	s.Require().NoError(err)
	v2, err := s.store.Supersede(s.ctx, newMapping("E1", "S1", 0.9))
	s.Require().NoError(err)
	s.Equal(2, v2.Version)

	active, err := s.store.ListActiveByStandard(s.ctx, "S1")
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(v2.ID, active[0].ID)

	history, err := s.store.History(s.ctx, "E1", "S1")
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(v1.ID, history[0].ID)
	s.False(history[0].Active)
}

func (s *PostgresStoreSuite) TestInsertRefusesSecondActive() {
	_, err := s.store.Insert(s.ctx, newMapping("E1", "S1", 0.7))
	s.Require().NoError(err)
	_, err = s.store.Insert(s.ctx, newMapping("E1", "S1", 0.8))
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *PostgresStoreSuite) TestConcurrentSupersede() {
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_, err := s.store.Supersede(s.ctx, newMapping("E1", "S1", 0.6))
			s.NoError(err)
		})
	}
	wg.Wait()

	active, err := s.store.ListActiveByEvidence(s.ctx, "E1")
	s.Require().NoError(err)
	s.Len(active, 1)
	history, err := s.store.History(s.ctx, "E1", "S1")
	s.Require().NoError(err)
	s.Len(history, 10)
}

func (s *PostgresStoreSuite) TestMarkVerified() {
	m, err := s.store.Supersede(s.ctx, newMapping("E1", "S1", 0.9))
	s.Require().NoError(err)
	got, err := s.store.MarkVerified(s.ctx, m.ID)
	s.Require().NoError(err)
	s.True(got.Verified)

	found, err := s.store.FindByID(s.ctx, m.ID)
	s.Require().NoError(err)
	s.True(found.Verified)
}
