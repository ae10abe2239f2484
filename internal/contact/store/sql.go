package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"identify/internal/contact/models"
	dErrors "identify/pkg/domain-errors"
	"identify/pkg/platform/sentinel"
	txcontext "identify/pkg/platform/tx"
)

const contactColumns = "id, email, phone_number, linked_id, link_precedence, created_at, updated_at"

// SQLStore persists contacts in Postgres or SQLite.
//
// Postgres serializes overlapping reconciliations with transaction-scoped
// advisory locks per identity key plus row locks on cluster roots. SQLite
// runs with a single connection and immediate transactions, so every
// transaction is already exclusive.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
	tracer  trace.Tracer
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLTxTimeout overrides the default transaction timeout.
func WithSQLTxTimeout(d time.Duration) SQLOption {
	return func(s *SQLStore) {
		s.timeout = d
	}
}

// WithSQLTracer overrides the global OpenTelemetry tracer.
func WithSQLTracer(tracer trace.Tracer) SQLOption {
	return func(s *SQLStore) {
		s.tracer = tracer
	}
}

// NewSQLStore wraps db, which must already hold the contacts schema.
func NewSQLStore(db *sql.DB, dialect Dialect, opts ...SQLOption) *SQLStore {
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		timeout: defaultTxTimeout,
		tracer:  otel.Tracer("identify/internal/contact/store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn inside one database transaction carried by txCtx. A call
// made while ctx already holds a transaction joins it.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := txcontext.From(ctx); ok {
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

	ctx, span := s.tracer.Start(ctx, "contact.store.tx",
		trace.WithAttributes(attribute.String("db.system", string(s.dialect))))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		span.RecordError(err)
		return err
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) FindByIdentity(ctx context.Context, email, phoneNumber string) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
		WHERE email = ? OR phone_number = ?
		   OR linked_id IN (SELECT id FROM contacts WHERE email = ? OR phone_number = ?)
		ORDER BY id`
	e, p := nullable(email), nullable(phoneNumber)
	contacts, err := s.queryContacts(ctx, query, e, p, e, p)
	if err != nil {
		return nil, fmt.Errorf("find contacts by identity: %w", err)
	}
	return contacts, nil
}

func (s *SQLStore) FindCluster(ctx context.Context, primaryID models.ContactID) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = ? OR linked_id = ? ORDER BY id`
	contacts, err := s.queryContacts(ctx, query, int64(primaryID), int64(primaryID))
	if err != nil {
		return nil, fmt.Errorf("find cluster %d: %w", primaryID, err)
	}
	return contacts, nil
}

func (s *SQLStore) Insert(ctx context.Context, draft models.ContactDraft) (*models.Contact, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	draft.CreatedAt = normalizeTime(draft.CreatedAt)

	var linked any
	if draft.LinkedID != nil {
		linked = int64(*draft.LinkedID)
	}
	query := s.dialect.rebind(`INSERT INTO contacts
		(email, phone_number, linked_id, link_precedence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)

	var id int64
	err := txcontext.Conn(ctx, s.db).QueryRowContext(ctx, query,
		nullable(draft.Email),
		nullable(draft.PhoneNumber),
		linked,
		string(draft.LinkPrecedence),
		draft.CreatedAt,
		draft.CreatedAt,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	return draft.Materialize(models.ContactID(id)), nil
}

// Update applies link to every id as one statement; if any id is missing
// the statement's effect is reported as ErrNotFound and must be rolled back.
func (s *SQLStore) Update(ctx context.Context, ids []models.ContactID, link models.LinkUpdate) error {
	if len(ids) == 0 {
		return nil
	}
	cond, args := s.dialect.idSet("id", ids)
	query := s.dialect.rebind(`UPDATE contacts
		SET link_precedence = ?, linked_id = ?, updated_at = ?
		WHERE ` + cond)
	args = append([]any{
		string(models.LinkPrecedenceSecondary),
		int64(link.LinkedID),
		normalizeTime(link.UpdatedAt),
	}, args...)

	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("relink contacts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("relink contacts: %w", err)
	}
	if affected != int64(len(ids)) {
		return fmt.Errorf("relink contacts: %d of %d rows: %w", affected, len(ids), sentinel.ErrNotFound)
	}
	return nil
}

// LockIdentity takes a transaction-scoped advisory lock per key. Keys must
// arrive sorted so concurrent callers cannot deadlock.
func (s *SQLStore) LockIdentity(ctx context.Context, keys []string) error {
	if s.dialect != DialectPostgres {
		return nil
	}
	tx, ok := txcontext.From(ctx)
	if !ok {
		return fmt.Errorf("lock identity outside transaction: %w", sentinel.ErrInvalidState)
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("lock identity %q: %w", key, err)
		}
	}
	return nil
}

// LockContacts reads ids with row locks held until the transaction ends.
func (s *SQLStore) LockContacts(ctx context.Context, ids []models.ContactID) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cond, args := s.dialect.idSet("id", ids)
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE ` + cond + ` ORDER BY id` + s.dialect.forUpdate()
	contacts, err := s.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lock contacts: %w", err)
	}
	return contacts, nil
}

func (s *SQLStore) ListAll(ctx context.Context) ([]*models.Contact, error) {
	contacts, err := s.queryContacts(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

// Ping checks the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) queryContacts(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

type contactRow interface {
	Scan(dest ...any) error
}

func scanContact(row contactRow) (*models.Contact, error) {
	var (
		id         int64
		email      sql.NullString
		phone      sql.NullString
		linkedID   sql.NullInt64
		precedence string
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(&id, &email, &phone, &linkedID, &precedence, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	c := &models.Contact{
		ID:             models.ContactID(id),
		LinkPrecedence: models.LinkPrecedence(precedence),
		CreatedAt:      createdAt.UTC(),
		UpdatedAt:      updatedAt.UTC(),
	}
	if email.Valid {
		c.Email = &email.String
	}
	if phone.Valid {
		c.PhoneNumber = &phone.String
	}
	if linkedID.Valid {
		linked := models.ContactID(linkedID.Int64)
		c.LinkedID = &linked
	}
	return c, nil
}

// nullable maps "not supplied" onto SQL NULL, which never compares equal.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalizeTime drops precision below what Postgres stores so values read
// back compare equal to the ones written.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
