package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"identify/internal/contact/models"
	dErrors "identify/pkg/domain-errors"
	"identify/pkg/platform/sentinel"
)

// defaultTxTimeout bounds a transaction whose context carries no deadline.
const defaultTxTimeout = 5 * time.Second

// InMemoryStore is a single-writer contact store. RunInTx holds the writer
// lock for the whole transaction and writes in place, recording an undo entry
// per change; a failed transaction replays the entries in reverse.
type InMemoryStore struct {
	mu      sync.RWMutex
	state   *memoryState
	timeout time.Duration
}

type memoryState struct {
	contacts map[models.ContactID]*models.Contact
	nextID   models.ContactID
}

type memoryTx struct {
	owner *InMemoryStore
	undo  []func(st *memoryState)
}

type memoryTxKey struct{}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryTxTimeout overrides the default transaction timeout.
func WithMemoryTxTimeout(d time.Duration) MemoryOption {
	return func(s *InMemoryStore) {
		s.timeout = d
	}
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		state: &memoryState{
			contacts: make(map[models.ContactID]*models.Contact),
			nextID:   1,
		},
		timeout: defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn with exclusive access to the store. A call made while ctx
// already holds a transaction of s joins it.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := s.txFrom(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := &memoryTx{owner: s}
	committed := false
	defer func() {
		if !committed {
			tx.rollback(s.state)
		}
	}()

	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	committed = true
	return nil
}

func (s *InMemoryStore) txFrom(ctx context.Context) (*memoryTx, bool) {
	tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx)
	if !ok || tx.owner != s {
		return nil, false
	}
	return tx, true
}

func (tx *memoryTx) record(undo func(st *memoryState)) {
	tx.undo = append(tx.undo, undo)
}

func (tx *memoryTx) rollback(st *memoryState) {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i](st)
	}
	tx.undo = nil
}

// view runs read against the live state. Inside a transaction the caller
// already holds the writer lock.
func (s *InMemoryStore) view(ctx context.Context, read func(st *memoryState) error) error {
	if _, ok := s.txFrom(ctx); ok {
		return read(s.state)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return read(s.state)
}

// mutate applies write to the live state. Inside a transaction the undo
// entries join the transaction's log; outside one they are replayed at once
// if write fails.
func (s *InMemoryStore) mutate(ctx context.Context, write func(st *memoryState, tx *memoryTx) error) error {
	if tx, ok := s.txFrom(ctx); ok {
		return write(s.state, tx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{owner: s}
	if err := write(s.state, tx); err != nil {
		tx.rollback(s.state)
		return err
	}
	return nil
}

func (s *InMemoryStore) FindByIdentity(ctx context.Context, email, phoneNumber string) ([]*models.Contact, error) {
	var out []*models.Contact
	err := s.view(ctx, func(st *memoryState) error {
		matched := make(map[models.ContactID]struct{})
		for _, c := range st.contacts {
			if (email != "" && c.EmailValue() == email) || (phoneNumber != "" && c.PhoneValue() == phoneNumber) {
				matched[c.ID] = struct{}{}
			}
		}
		for _, c := range st.contacts {
			_, direct := matched[c.ID]
			linked := false
			if c.LinkedID != nil {
				_, linked = matched[*c.LinkedID]
			}
			if direct || linked {
				out = append(out, c.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByID(out)
	return out, nil
}

func (s *InMemoryStore) FindCluster(ctx context.Context, primaryID models.ContactID) ([]*models.Contact, error) {
	var out []*models.Contact
	err := s.view(ctx, func(st *memoryState) error {
		for _, c := range st.contacts {
			if c.ID == primaryID || (c.LinkedID != nil && *c.LinkedID == primaryID) {
				out = append(out, c.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByID(out)
	return out, nil
}

func (s *InMemoryStore) Insert(ctx context.Context, draft models.ContactDraft) (*models.Contact, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	var created *models.Contact
	err := s.mutate(ctx, func(st *memoryState, tx *memoryTx) error {
		if draft.LinkedID != nil {
			target, ok := st.contacts[*draft.LinkedID]
			if !ok {
				return sentinel.ErrNotFound
			}
			if !target.IsPrimary() {
				return dErrors.New(dErrors.CodeConsistencyViolation, "secondary must link to a primary")
			}
		}
		c := draft.Materialize(st.nextID)
		prevNext := st.nextID
		st.nextID++
		st.contacts[c.ID] = c
		tx.record(func(st *memoryState) {
			delete(st.contacts, c.ID)
			st.nextID = prevNext
		})
		created = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update applies link to every id; any unknown id fails the whole batch.
func (s *InMemoryStore) Update(ctx context.Context, ids []models.ContactID, link models.LinkUpdate) error {
	return s.mutate(ctx, func(st *memoryState, tx *memoryTx) error {
		for _, id := range ids {
			if _, ok := st.contacts[id]; !ok {
				return sentinel.ErrNotFound
			}
		}
		for _, id := range ids {
			prev := st.contacts[id].Clone()
			tx.record(func(st *memoryState) {
				st.contacts[prev.ID] = prev
			})
			link.Apply(st.contacts[id])
		}
		return nil
	})
}

// LockIdentity is a no-op: the writer lock held by RunInTx already
// serializes every transaction.
func (s *InMemoryStore) LockIdentity(_ context.Context, _ []string) error {
	return nil
}

// LockContacts returns the requested rows; missing ids are omitted.
func (s *InMemoryStore) LockContacts(ctx context.Context, ids []models.ContactID) ([]*models.Contact, error) {
	var out []*models.Contact
	err := s.view(ctx, func(st *memoryState) error {
		for _, id := range ids {
			if c, ok := st.contacts[id]; ok {
				out = append(out, c.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByID(out)
	return out, nil
}

func (s *InMemoryStore) ListAll(ctx context.Context) ([]*models.Contact, error) {
	var out []*models.Contact
	err := s.view(ctx, func(st *memoryState) error {
		out = make([]*models.Contact, 0, len(st.contacts))
		for _, c := range st.contacts {
			out = append(out, c.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByID(out)
	return out, nil
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}

func sortByID(contacts []*models.Contact) {
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })
}
