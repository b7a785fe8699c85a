//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fitgate/internal/guest/models"
	"fitgate/internal/guest/store/postgres"
	"fitgate/pkg/platform/sentinel"
	"fitgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetPostgres(s.T())
	s.store = postgres.New(s.pg.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "identity_records"))
}

func (s *PostgresStoreSuite) defaults() models.UpsertDefaults {
	return models.UpsertDefaults{
		Fingerprint: "fp-1",
		UsageLimit:  3,
		ClientIP:    "203.0.113.1",
		KnownIPCap:  10,
	}
}

func (s *PostgresStoreSuite) TestUpsertIdempotence() {
	ctx := context.Background()

	first, err := s.store.Upsert(ctx, "dev-1", s.defaults())
	s.Require().NoError(err)

	_, err = s.store.TryReserveUsage(ctx, "dev-1", 3)
	s.Require().NoError(err)

	d := s.defaults()
	d.ClientIP = "203.0.113.2"
	d.UsageLimit = 99
	second, err := s.store.Upsert(ctx, "dev-1", d)
	s.Require().NoError(err)

	s.Equal(first.CreatedAt.UTC(), second.CreatedAt.UTC())
	s.Equal(1, second.UsedCount)
	s.Equal(3, second.UsageLimit)
	s.Equal([]string{"203.0.113.1", "203.0.113.2"}, second.KnownIPs)
}

func (s *PostgresStoreSuite) TestKnownIPCapAndDedup() {
	ctx := context.Background()
	d := s.defaults()
	d.KnownIPCap = 3

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "1.1.1.1", "3.3.3.3", "4.4.4.4"} {
		d.ClientIP = ip
		_, err := s.store.Upsert(ctx, "dev-1", d)
		s.Require().NoError(err)
	}

	rec, err := s.store.Get(ctx, "dev-1")
	s.Require().NoError(err)
	s.Equal([]string{"1.1.1.1", "3.3.3.3", "4.4.4.4"}, rec.KnownIPs)
}

// TestConcurrentReservations verifies the core admission property: with far
// more concurrent attempts than quota, exactly usage_limit reservations
// succeed and used_count never overshoots.
func (s *PostgresStoreSuite) TestConcurrentReservations() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, "dev-1", s.defaults())
	s.Require().NoError(err)

	const attempts = 50
	var reserved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.TryReserveUsage(ctx, "dev-1", 3)
			if err == nil {
				reserved.Add(1)
			} else {
				s.ErrorIs(err, sentinel.ErrLimitReached)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(3), reserved.Load())

	rec, err := s.store.Get(ctx, "dev-1")
	s.Require().NoError(err)
	s.Equal(3, rec.UsedCount)
}

func (s *PostgresStoreSuite) TestReleaseFloorsAtZero() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, "dev-1", s.defaults())
	s.Require().NoError(err)

	_, err = s.store.TryReserveUsage(ctx, "dev-1", 3)
	s.Require().NoError(err)

	s.Require().NoError(s.store.ReleaseUsage(ctx, "dev-1"))
	s.Require().NoError(s.store.ReleaseUsage(ctx, "dev-1"))

	rec, err := s.store.Get(ctx, "dev-1")
	s.Require().NoError(err)
	s.Equal(0, rec.UsedCount)
}

func (s *PostgresStoreSuite) TestWindowBumpAndSweep() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, "dev-1", s.defaults())
	s.Require().NoError(err)

	for i := 1; i <= 3; i++ {
		n, err := s.store.BumpDaily(ctx, "dev-1", 24*time.Hour)
		s.Require().NoError(err)
		s.Equal(i, n)
	}

	// A sub-second window is already stale by the next statement, so the
	// counter restarts at 1 - the lazy reset path.
	_, err = s.store.BumpBurst(ctx, "dev-1", time.Minute)
	s.Require().NoError(err)
	time.Sleep(50 * time.Millisecond)
	n, err := s.store.BumpBurst(ctx, "dev-1", 10*time.Millisecond)
	s.Require().NoError(err)
	s.Equal(1, n)

	swept, err := s.store.SweepBurst(ctx)
	s.Require().NoError(err)
	s.Equal(1, swept)
}

func (s *PostgresStoreSuite) TestConcurrentRiskIncrements() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, "dev-1", s.defaults())
	s.Require().NoError(err)

	deltas := []int{15, 10, 20, 5, 10}
	var wg sync.WaitGroup
	for _, d := range deltas {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			_, err := s.store.AddRisk(ctx, "dev-1", d, false)
			s.NoError(err)
		}(d)
	}
	wg.Wait()

	rec, err := s.store.Get(ctx, "dev-1")
	s.Require().NoError(err)
	s.Equal(60, rec.RiskScore)
}

func (s *PostgresStoreSuite) TestMissingIdentity() {
	ctx := context.Background()

	_, err := s.store.Get(ctx, "ghost")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.TryReserveUsage(ctx, "ghost", 3)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.ReleaseUsage(ctx, "ghost"), sentinel.ErrNotFound)
}
