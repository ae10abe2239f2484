package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"identify/internal/contact/models"
)

type InMemoryStoreSuite struct {
	storeContractSuite
}

func TestInMemoryStoreSuite(t *testing.T) {
	s := new(InMemoryStoreSuite)
	s.newStore = func() transactionalStore { return NewInMemoryStore() }
	suite.Run(t, s)
}

// TestReturnsCopies verifies callers cannot mutate stored records.
func (s *InMemoryStoreSuite) TestReturnsCopies() {
	p := s.insertPrimary("a@x.com", "", 0)
	email := "mutated@x.com"
	p.Email = &email

	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal("a@x.com", all[0].EmailValue())
}

// TestWritesOutsideTransaction verifies direct calls apply immediately.
func (s *InMemoryStoreSuite) TestWritesOutsideTransaction() {
	p, err := s.store.Insert(s.ctx, models.NewPrimaryDraft(models.Fragment{PhoneNumber: "111"}, baseTime))
	s.Require().NoError(err)

	found, err := s.store.FindByIdentity(s.ctx, "", "111")
	s.Require().NoError(err)
	s.Equal([]models.ContactID{p.ID}, ids(found))
}

// TestTransactionsSerialize verifies concurrent transactions never interleave.
func (s *InMemoryStoreSuite) TestTransactionsSerialize() {
	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.RunInTx(context.Background(), func(txCtx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)
				_, err := s.store.Insert(txCtx, models.NewPrimaryDraft(models.Fragment{Email: "same@x.com"}, baseTime))

				mu.Lock()
				inside--
				mu.Unlock()
				return err
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(1, maxSeen)
	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, workers)
}

// TestDefaultTimeout verifies the transaction deadline applies to fn.
func (s *InMemoryStoreSuite) TestDefaultTimeout() {
	store := NewInMemoryStore(WithMemoryTxTimeout(time.Minute))
	err := store.RunInTx(context.Background(), func(txCtx context.Context) error {
		deadline, ok := txCtx.Deadline()
		s.True(ok)
		s.WithinDuration(time.Now().Add(time.Minute), deadline, 5*time.Second)
		return nil
	})
	s.Require().NoError(err)
}

// TestRollbackUndoesWritesInReverse verifies a failed transaction restores
// relinked rows and drops inserted ones.
func (s *InMemoryStoreSuite) TestRollbackUndoesWritesInReverse() {
	older := s.insertPrimary("a@x.com", "", 0)
	newer := s.insertPrimary("", "111", time.Second)

	boom := errors.New("boom")
	err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
		link := models.LinkUpdate{LinkedID: older.ID, UpdatedAt: baseTime.Add(time.Minute)}
		if err := s.store.Update(txCtx, []models.ContactID{newer.ID}, link); err != nil {
			return err
		}
		if err := s.store.Update(txCtx, []models.ContactID{newer.ID}, link); err != nil {
			return err
		}
		if _, err := s.store.Insert(txCtx, models.NewSecondaryDraft(models.Fragment{Email: "b@x.com", PhoneNumber: "111"}, older.ID, baseTime.Add(time.Minute))); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.True(all[1].IsPrimary())
	s.Nil(all[1].LinkedID)
	s.Equal(newer.UpdatedAt, all[1].UpdatedAt)

	next := s.insertPrimary("c@x.com", "", 2*time.Second)
	s.Equal(newer.ID+1, next.ID)
}

// TestPanicRollsBack verifies a panicking transaction leaves no writes and
// releases the writer lock.
func (s *InMemoryStoreSuite) TestPanicRollsBack() {
	s.Panics(func() {
		_ = s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
			if _, err := s.store.Insert(txCtx, models.NewPrimaryDraft(models.Fragment{Email: "a@x.com"}, baseTime)); err != nil {
				return err
			}
			panic("boom")
		})
	})

	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)
	s.insertPrimary("b@x.com", "", 0)
}
