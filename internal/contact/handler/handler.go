package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"identify/internal/contact/models"
	"identify/internal/platform/metrics"
	"identify/internal/platform/middleware"
	dErrors "identify/pkg/domain-errors"
	"identify/pkg/platform/httputil"
	"identify/pkg/platform/middleware/admin"
	request "identify/pkg/platform/middleware/request"
	"identify/pkg/platform/middleware/requesttime"
)

// maxBodyBytes caps the identify request body.
const maxBodyBytes = 1 << 20

// Service defines the interface for reconciliation operations.
type Service interface {
	Reconcile(ctx context.Context, email, phoneNumber string) (*models.ConsolidatedContact, error)
	ListContacts(ctx context.Context) ([]*models.Contact, error)
}

// Handler serves the identify endpoints.
type Handler struct {
	logger         *slog.Logger
	service        Service
	metrics        *metrics.Metrics
	validate       *validator.Validate
	adminToken     string
	requestTimeout time.Duration
	clock          requesttime.Clock
}

// Option configures a Handler.
type Option func(*Handler)

// WithAdminToken guards GET /identify with X-Admin-Token.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = token
	}
}

// WithRequestTimeout overrides the 30s request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.requestTimeout = d
	}
}

// WithMetrics records request latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithClock fixes the time stamped on each request.
func WithClock(clock requesttime.Clock) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

// New creates a new identify Handler.
func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:         logger,
		service:        service,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		requestTimeout: 30 * time.Second,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the identify routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	identifyRouter := chi.NewRouter()
	identifyRouter.Use(request.Recovery(h.logger))
	identifyRouter.Use(request.RequestID)
	identifyRouter.Use(requesttime.WithClock(h.clock))
	identifyRouter.Use(request.Logger(h.logger))
	identifyRouter.Use(request.Timeout(h.requestTimeout))
	identifyRouter.Use(request.ContentTypeJSON)
	identifyRouter.Use(middleware.LatencyMiddleware(h.metrics))
	identifyRouter.Post("/identify", h.handleIdentify)
	identifyRouter.With(admin.RequireAdminToken(h.adminToken, h.logger)).Get("/identify", h.handleListContacts)

	r.Mount("/", identifyRouter)
}

// handleIdentify reconciles the submitted email and phone number.
func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	var req IdentifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid identify request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, "invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.logger.WarnContext(ctx, "identify request failed validation",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, validationMessage(err)))
		return
	}

	view, err := h.service.Reconcile(ctx, req.Email, string(req.PhoneNumber))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to reconcile contact", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, IdentifyResponse{Contact: view})
}

// handleListContacts dumps every stored contact.
func (h *Handler) handleListContacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contacts, err := h.service.ListContacts(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list contacts", err)
		return
	}
	if contacts == nil {
		contacts = []*models.Contact{}
	}
	httputil.WriteJSON(w, http.StatusOK, contacts)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	requestID := request.GetRequestID(ctx)
	if dErrors.Is(err, dErrors.CodeInvalidRequest) {
		h.logger.WarnContext(ctx, "invalid identify request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestID,
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Email":
			return "email is too long"
		case "PhoneNumber":
			return "phoneNumber is too long"
		}
	}
	return "invalid request body"
}
