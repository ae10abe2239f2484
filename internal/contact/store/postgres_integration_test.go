//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"identify/internal/contact/models"
	"identify/internal/contact/service"
	"identify/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	storeContractSuite
	postgres *containers.PostgresContainer
	sql      *SQLStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := new(PostgresStoreSuite)
	s.newStore = func() transactionalStore { return s.sql }
	suite.Run(t, s)
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(Migrate(context.Background(), s.postgres.DB, DialectPostgres))
	s.sql = NewSQLStore(s.postgres.DB, DialectPostgres)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "contacts"))
	s.storeContractSuite.SetupTest()
}

// TestConcurrentFirstSightings verifies that racing reconciliations of the
// same new email produce exactly one primary.
func (s *PostgresStoreSuite) TestConcurrentFirstSightings() {
	svc := service.New(s.sql, s.sql)
	const goroutines = 30

	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			_, err := svc.Reconcile(context.Background(), "race@x.com", "")
			return err
		})
	}
	s.Require().NoError(g.Wait())

	all, err := s.sql.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
	s.True(all[0].IsPrimary())
}

// TestConcurrentBridges verifies that concurrent merges touching the same
// clusters leave exactly one primary per cluster.
func (s *PostgresStoreSuite) TestConcurrentBridges() {
	svc := service.New(s.sql, s.sql)
	const clusters = 4
	for i := 0; i < clusters; i++ {
		_, err := svc.Reconcile(s.ctx, fmt.Sprintf("u%d@x.com", i), fmt.Sprintf("%d00", i))
		s.Require().NoError(err)
	}

	var (
		wg       sync.WaitGroup
		failures atomic.Int32
	)
	for i := 0; i < clusters-1; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Reconcile(context.Background(), fmt.Sprintf("u%d@x.com", i), fmt.Sprintf("%d00", i+1)); err != nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()
	s.Zero(failures.Load())

	all, err := s.sql.ListAll(s.ctx)
	s.Require().NoError(err)
	var primaries []*models.Contact
	for _, c := range all {
		if c.IsPrimary() {
			primaries = append(primaries, c)
		}
	}
	s.Require().Len(primaries, 1)

	cluster, err := s.sql.FindCluster(s.ctx, primaries[0].ID)
	s.Require().NoError(err)
	s.Len(cluster, len(all))
	s.NoError(models.VerifyCluster(primaries[0].ID, cluster))
	s.Equal(models.ContactID(1), primaries[0].ID)
}

// TestMergeRollback verifies a failure after the relink leaves both clusters
// untouched.
func (s *PostgresStoreSuite) TestMergeRollback() {
	p1 := s.insertPrimary("a@x.com", "", 0)
	p2 := s.insertPrimary("", "999", time.Second)
	boom := errors.New("boom")

	err := s.sql.RunInTx(s.ctx, func(txCtx context.Context) error {
		if err := s.sql.Update(txCtx, []models.ContactID{p2.ID}, models.LinkUpdate{LinkedID: p1.ID, UpdatedAt: baseTime}); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	roots, err := s.sql.LockContacts(s.ctx, []models.ContactID{p1.ID, p2.ID})
	s.Require().NoError(err)
	s.Require().Len(roots, 2)
	s.True(roots[0].IsPrimary())
	s.True(roots[1].IsPrimary())
}

// TestLockIdentityRequiresTransaction verifies advisory locks are refused
// outside a transaction, where they would be released immediately.
func (s *PostgresStoreSuite) TestLockIdentityRequiresTransaction() {
	s.Error(s.sql.LockIdentity(s.ctx, []string{"email:a@x.com"}))
}
