package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contactmetrics "identify/internal/contact/metrics"
	"identify/internal/contact/models"
	dErrors "identify/pkg/domain-errors"
	"identify/pkg/requestcontext"
)

// Store is the contact store contract the reconciler depends on. Every call
// made inside StoreTx.RunInTx joins that transaction through txCtx.
type Store interface {
	// FindByIdentity returns contacts matching email or phone plus the
	// secondaries of those matches. An empty argument matches nothing.
	FindByIdentity(ctx context.Context, email, phoneNumber string) ([]*models.Contact, error)
	// FindCluster returns the primary and every contact linked to it.
	FindCluster(ctx context.Context, primaryID models.ContactID) ([]*models.Contact, error)
	Insert(ctx context.Context, draft models.ContactDraft) (*models.Contact, error)
	Update(ctx context.Context, ids []models.ContactID, link models.LinkUpdate) error
	// LockIdentity serializes transactions touching the same identity keys.
	LockIdentity(ctx context.Context, keys []string) error
	// LockContacts locks the given rows until commit and returns them freshly read.
	LockContacts(ctx context.Context, ids []models.ContactID) ([]*models.Contact, error)
	ListAll(ctx context.Context) ([]*models.Contact, error)
}

// StoreTx provides the transactional boundary for one reconciliation.
// fn's error rolls back every write made through txCtx.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// maxResolveAttempts bounds how often a lookup is repeated when a concurrent
// merge demoted one of the roots it found.
const maxResolveAttempts = 3

const tracerName = "identify/internal/contact/service"

// Service is the reconciler: it maps an identity fragment onto its cluster,
// merging clusters the fragment bridges, and returns the consolidated view.
type Service struct {
	store   Store
	tx      StoreTx
	logger  *slog.Logger
	metrics *contactmetrics.Metrics
	tracer  trace.Tracer
}

type serviceConfig struct {
	logger  *slog.Logger
	metrics *contactmetrics.Metrics
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*serviceConfig)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

// WithMetrics enables Prometheus recording.
func WithMetrics(m *contactmetrics.Metrics) Option {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *serviceConfig) {
		c.tracer = tracer
	}
}

// New builds the reconciler over store, using tx for its transaction boundary.
func New(store Store, tx StoreTx, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(tracerName)
	}
	return &Service{
		store:   store,
		tx:      tx,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
	}
}

// Reconcile links the fragment (email, phoneNumber) into the identity graph
// and returns the consolidated view of the cluster it ends up in.
//
// The lookup, every write, and the final read run in one transaction, so a
// failure at any step leaves the store exactly as it was.
func (s *Service) Reconcile(ctx context.Context, email, phoneNumber string) (*models.ConsolidatedContact, error) {
	fragment, err := models.NewFragment(email, phoneNumber)
	if err != nil {
		s.incrementFailure(err)
		return nil, err
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "contact.Reconcile")
	defer span.End()

	var (
		res  models.Resolution
		view *models.ConsolidatedContact
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		res, err = s.resolve(txCtx, fragment)
		if err != nil {
			return err
		}
		view, err = s.consolidate(txCtx, res)
		return err
	})
	if err != nil {
		err = storeErr(err, "reconcile transaction")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.incrementFailure(err)
		if dErrors.HasCode(err, dErrors.CodeConsistencyViolation) {
			s.logger.ErrorContext(ctx, "contact graph consistency violation",
				"request_id", requestcontext.RequestID(ctx),
				"error", err.Error(),
			)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("identify.outcome", string(res.Outcome())),
		attribute.Int64("identify.primary_id", int64(res.PrimaryID)),
	)
	if s.metrics != nil {
		s.metrics.ObserveResolution(res, start)
	}
	s.logResolution(ctx, res)
	return view, nil
}

// ListContacts returns every stored contact ordered by id.
func (s *Service) ListContacts(ctx context.Context) ([]*models.Contact, error) {
	contacts, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, storeErr(err, "list contacts")
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })
	return contacts, nil
}

// resolve finds the clusters the fragment touches and performs the writes
// that bring them to a consistent state.
func (s *Service) resolve(ctx context.Context, f models.Fragment) (models.Resolution, error) {
	if err := s.store.LockIdentity(ctx, f.Keys()); err != nil {
		return models.Resolution{}, storeErr(err, "lock identity")
	}
	now := requestcontext.Now(ctx)

	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		matches, err := s.store.FindByIdentity(ctx, f.Email, f.PhoneNumber)
		if err != nil {
			return models.Resolution{}, storeErr(err, "find contacts by identity")
		}
		if len(matches) == 0 {
			inserted, err := s.store.Insert(ctx, models.NewPrimaryDraft(f, now))
			if err != nil {
				return models.Resolution{}, storeErr(err, "insert primary contact")
			}
			return models.Resolution{PrimaryID: inserted.ID, Inserted: inserted}, nil
		}

		rootIDs := models.RootIDs(matches)
		roots, err := s.store.LockContacts(ctx, rootIDs)
		if err != nil {
			return models.Resolution{}, storeErr(err, "lock cluster roots")
		}
		if !stillPrimary(rootIDs, roots) {
			if s.metrics != nil {
				s.metrics.IncrementResolveRetry()
			}
			s.logger.DebugContext(ctx, "cluster root changed under lock, repeating lookup",
				"request_id", requestcontext.RequestID(ctx),
				"attempt", attempt,
			)
			continue
		}
		return s.link(ctx, f, roots, now)
	}
	return models.Resolution{}, dErrors.New(dErrors.CodeConsistencyViolation, "cluster roots are not primaries")
}

// link merges the locked roots when there is more than one and records the
// fragment as a secondary when it carries a value the cluster lacks.
func (s *Service) link(ctx context.Context, f models.Fragment, roots []*models.Contact, now time.Time) (models.Resolution, error) {
	plan, err := models.PlanMerge(roots)
	if err != nil {
		return models.Resolution{}, err
	}

	clusters := make(map[models.ContactID][]*models.Contact, len(roots))
	var members []*models.Contact
	for _, root := range roots {
		cluster, err := s.store.FindCluster(ctx, root.ID)
		if err != nil {
			return models.Resolution{}, storeErr(err, "find cluster")
		}
		clusters[root.ID] = cluster
		members = append(members, cluster...)
	}
	// The request clock was pinned before the locks were taken; a write never
	// predates a contact already in the clusters it joins.
	now = notBefore(now, members)

	res := models.Resolution{PrimaryID: plan.Survivor.ID}
	if plan.IsMerge() {
		relink := plan.RelinkIDs(clusters)
		update := models.LinkUpdate{LinkedID: plan.Survivor.ID, UpdatedAt: now}
		if err := s.store.Update(ctx, relink, update); err != nil {
			return models.Resolution{}, storeErr(err, "relink merged clusters")
		}
		for _, demoted := range plan.Demoted {
			res.Demoted = append(res.Demoted, demoted.ID)
		}
		res.Relinked = relink
	}

	if f.HasNewInformation(members) {
		inserted, err := s.store.Insert(ctx, models.NewSecondaryDraft(f, plan.Survivor.ID, now))
		if err != nil {
			return models.Resolution{}, storeErr(err, "insert secondary contact")
		}
		res.Inserted = inserted
	}
	return res, nil
}

// consolidate reads the final cluster back and assembles its view.
func (s *Service) consolidate(ctx context.Context, res models.Resolution) (*models.ConsolidatedContact, error) {
	if res.Outcome() == models.OutcomeCreatedPrimary {
		return models.Consolidate(res.PrimaryID, []*models.Contact{res.Inserted})
	}
	cluster, err := s.store.FindCluster(ctx, res.PrimaryID)
	if err != nil {
		return nil, storeErr(err, "find consolidated cluster")
	}
	return models.Consolidate(res.PrimaryID, cluster)
}

func (s *Service) logResolution(ctx context.Context, res models.Resolution) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"outcome", string(res.Outcome()),
		"primary_id", int64(res.PrimaryID),
	}
	if len(res.Demoted) > 0 {
		s.logger.InfoContext(ctx, "merged contact clusters",
			append(attrs, "demoted", res.Demoted, "relinked", len(res.Relinked))...)
		return
	}
	s.logger.DebugContext(ctx, "reconciled contact", attrs...)
}

func (s *Service) incrementFailure(err error) {
	if s.metrics == nil {
		return
	}
	code := dErrors.CodeInternal
	if de, ok := dErrors.As(err); ok {
		code = de.Code
	}
	s.metrics.IncrementFailure(string(code))
}

// notBefore returns the latest of t and every member's createdAt.
func notBefore(t time.Time, members []*models.Contact) time.Time {
	for _, c := range members {
		if c.CreatedAt.After(t) {
			t = c.CreatedAt
		}
	}
	return t
}

func stillPrimary(ids []models.ContactID, roots []*models.Contact) bool {
	if len(roots) != len(ids) {
		return false
	}
	for _, root := range roots {
		if !root.IsPrimary() {
			return false
		}
	}
	return true
}

// storeErr gives store failures a domain code. Coded errors pass through,
// and cancellation becomes a timeout so callers can tell it from an outage.
func storeErr(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeTimeout, "reconcile aborted: "+op)
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeStore, "contact store failure: "+op)
}
