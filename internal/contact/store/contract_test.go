package store

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/suite"

	"identify/internal/contact/models"
	dErrors "identify/pkg/domain-errors"
)

// transactionalStore is what every contact store implementation provides.
type transactionalStore interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
	FindByIdentity(ctx context.Context, email, phoneNumber string) ([]*models.Contact, error)
	FindCluster(ctx context.Context, primaryID models.ContactID) ([]*models.Contact, error)
	Insert(ctx context.Context, draft models.ContactDraft) (*models.Contact, error)
	Update(ctx context.Context, ids []models.ContactID, link models.LinkUpdate) error
	LockIdentity(ctx context.Context, keys []string) error
	LockContacts(ctx context.Context, ids []models.ContactID) ([]*models.Contact, error)
	ListAll(ctx context.Context) ([]*models.Contact, error)
}

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// storeContractSuite exercises behaviour every implementation must share.
// Embedding suites provide newStore.
type storeContractSuite struct {
	suite.Suite
	ctx      context.Context
	store    transactionalStore
	newStore func() transactionalStore
}

func (s *storeContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
}

func (s *storeContractSuite) insertPrimary(email, phone string, offset time.Duration) *models.Contact {
	f := models.Fragment{Email: email, PhoneNumber: phone}
	var c *models.Contact
	err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
		var err error
		c, err = s.store.Insert(txCtx, models.NewPrimaryDraft(f, baseTime.Add(offset)))
		return err
	})
	s.Require().NoError(err)
	return c
}

func (s *storeContractSuite) insertSecondary(primary models.ContactID, email, phone string, offset time.Duration) *models.Contact {
	f := models.Fragment{Email: email, PhoneNumber: phone}
	var c *models.Contact
	err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
		var err error
		c, err = s.store.Insert(txCtx, models.NewSecondaryDraft(f, primary, baseTime.Add(offset)))
		return err
	})
	s.Require().NoError(err)
	return c
}

func ids(contacts []*models.Contact) []models.ContactID {
	out := make([]models.ContactID, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.ID)
	}
	return out
}

func (s *storeContractSuite) TestInsert() {
	s.Run("assigns ascending ids and keeps fields", func() {
		first := s.insertPrimary("a@x.com", "", 0)
		second := s.insertPrimary("", "111", time.Second)

		s.Less(first.ID, second.ID)
		s.Equal("a@x.com", first.EmailValue())
		s.Nil(first.PhoneNumber)
		s.True(first.IsPrimary())
		s.True(first.CreatedAt.Equal(baseTime))
		s.True(first.UpdatedAt.Equal(baseTime))

		all, err := s.store.ListAll(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(all, 2)
		s.Equal(first.ID, all[0].ID)
		s.Nil(all[0].PhoneNumber)
		s.Nil(all[0].LinkedID)
		s.True(all[0].CreatedAt.Equal(baseTime))
	})

	s.Run("links secondary to primary", func() {
		p := s.insertPrimary("b@x.com", "222", 2*time.Second)
		sec := s.insertSecondary(p.ID, "b2@x.com", "222", 3*time.Second)

		s.Equal(models.LinkPrecedenceSecondary, sec.LinkPrecedence)
		s.Require().NotNil(sec.LinkedID)
		s.Equal(p.ID, *sec.LinkedID)
	})

	s.Run("rejects draft without identity", func() {
		_, err := s.store.Insert(s.ctx, models.ContactDraft{
			LinkPrecedence: models.LinkPrecedencePrimary,
			CreatedAt:      baseTime,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConsistencyViolation))
	})

	s.Run("rejects secondary of unknown primary", func() {
		err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
			_, err := s.store.Insert(txCtx, models.NewSecondaryDraft(
				models.Fragment{Email: "ghost@x.com"}, 9999, baseTime))
			return err
		})
		s.Require().Error(err)
	})
}

func (s *storeContractSuite) TestFindByIdentity() {
	p1 := s.insertPrimary("a@x.com", "111", 0)
	sec := s.insertSecondary(p1.ID, "a2@x.com", "111", time.Second)
	p2 := s.insertPrimary("c@x.com", "333", 2*time.Second)

	s.Run("matches email and pulls in linked secondaries", func() {
		found, err := s.store.FindByIdentity(s.ctx, "a@x.com", "")
		s.Require().NoError(err)
		s.Equal([]models.ContactID{p1.ID, sec.ID}, ids(found))
	})

	s.Run("matches phone across contacts", func() {
		found, err := s.store.FindByIdentity(s.ctx, "", "111")
		s.Require().NoError(err)
		s.Equal([]models.ContactID{p1.ID, sec.ID}, ids(found))
	})

	s.Run("matches either value", func() {
		found, err := s.store.FindByIdentity(s.ctx, "c@x.com", "111")
		s.Require().NoError(err)
		s.Equal([]models.ContactID{p1.ID, sec.ID, p2.ID}, ids(found))
	})

	s.Run("secondary match returns only direct hits and their links", func() {
		found, err := s.store.FindByIdentity(s.ctx, "a2@x.com", "")
		s.Require().NoError(err)
		s.Equal([]models.ContactID{sec.ID}, ids(found))
		s.Equal(p1.ID, found[0].RootID())
	})

	s.Run("empty values match nothing", func() {
		found, err := s.store.FindByIdentity(s.ctx, "", "")
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("unknown values match nothing", func() {
		found, err := s.store.FindByIdentity(s.ctx, "nobody@x.com", "000")
		s.Require().NoError(err)
		s.Empty(found)
	})
}

func (s *storeContractSuite) TestFindCluster() {
	p := s.insertPrimary("a@x.com", "", 0)
	sec := s.insertSecondary(p.ID, "", "111", time.Second)
	other := s.insertPrimary("b@x.com", "", 2*time.Second)

	cluster, err := s.store.FindCluster(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal([]models.ContactID{p.ID, sec.ID}, ids(cluster))

	cluster, err = s.store.FindCluster(s.ctx, other.ID)
	s.Require().NoError(err)
	s.Equal([]models.ContactID{other.ID}, ids(cluster))
}

func (s *storeContractSuite) TestUpdate() {
	s.Run("relinks a batch", func() {
		p1 := s.insertPrimary("a@x.com", "", 0)
		p2 := s.insertPrimary("b@x.com", "", time.Second)
		sec := s.insertSecondary(p2.ID, "", "222", 2*time.Second)
		when := baseTime.Add(time.Hour)

		err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
			return s.store.Update(txCtx, []models.ContactID{p2.ID, sec.ID}, models.LinkUpdate{LinkedID: p1.ID, UpdatedAt: when})
		})
		s.Require().NoError(err)

		cluster, err := s.store.FindCluster(s.ctx, p1.ID)
		s.Require().NoError(err)
		s.Require().Len(cluster, 3)
		s.NoError(models.VerifyCluster(p1.ID, cluster))
		for _, c := range cluster[1:] {
			s.True(c.UpdatedAt.Equal(when))
			s.True(c.CreatedAt.Before(when))
		}
	})

	s.Run("unknown id fails and rolls back the batch", func() {
		p1 := s.insertPrimary("c@x.com", "", 3*time.Second)
		p2 := s.insertPrimary("d@x.com", "", 4*time.Second)

		err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
			return s.store.Update(txCtx, []models.ContactID{p2.ID, 9999}, models.LinkUpdate{LinkedID: p1.ID, UpdatedAt: baseTime})
		})
		s.Require().Error(err)

		locked, err := s.store.LockContacts(s.ctx, []models.ContactID{p2.ID})
		s.Require().NoError(err)
		s.Require().Len(locked, 1)
		s.True(locked[0].IsPrimary())
	})
}

func (s *storeContractSuite) TestRunInTx() {
	s.Run("rolls back every write when fn fails", func() {
		boom := errors.New("boom")
		err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
			p, err := s.store.Insert(txCtx, models.NewPrimaryDraft(models.Fragment{Email: "gone@x.com"}, baseTime))
			if err != nil {
				return err
			}
			visible, err := s.store.FindByIdentity(txCtx, "gone@x.com", "")
			if err != nil {
				return err
			}
			s.Equal([]models.ContactID{p.ID}, ids(visible))
			return boom
		})
		s.Require().ErrorIs(err, boom)

		found, err := s.store.FindByIdentity(s.ctx, "gone@x.com", "")
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("commits writes when fn succeeds", func() {
		err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
			if err := s.store.LockIdentity(txCtx, []string{"email:kept@x.com"}); err != nil {
				return err
			}
			_, err := s.store.Insert(txCtx, models.NewPrimaryDraft(models.Fragment{Email: "kept@x.com"}, baseTime))
			return err
		})
		s.Require().NoError(err)

		found, err := s.store.FindByIdentity(s.ctx, "kept@x.com", "")
		s.Require().NoError(err)
		s.Len(found, 1)
	})

	s.Run("cancelled context never starts", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := s.store.RunInTx(ctx, func(context.Context) error {
			called = true
			return nil
		})
		s.Require().Error(err)
		s.False(called)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	s.Run("nested call joins the outer transaction", func() {
		boom := errors.New("boom")
		err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
			err := s.store.RunInTx(txCtx, func(inner context.Context) error {
				_, err := s.store.Insert(inner, models.NewPrimaryDraft(models.Fragment{Email: "nested@x.com"}, baseTime))
				return err
			})
			if err != nil {
				return err
			}
			return boom
		})
		s.Require().ErrorIs(err, boom)

		found, err := s.store.FindByIdentity(s.ctx, "nested@x.com", "")
		s.Require().NoError(err)
		s.Empty(found)
	})
}

func (s *storeContractSuite) TestLockContacts() {
	p := s.insertPrimary("a@x.com", "", 0)
	q := s.insertPrimary("b@x.com", "", time.Second)

	err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
		locked, err := s.store.LockContacts(txCtx, []models.ContactID{q.ID, p.ID})
		if err != nil {
			return err
		}
		s.Equal([]models.ContactID{p.ID, q.ID}, ids(locked))
		return nil
	})
	s.Require().NoError(err)
}
