package contact

import (
	"log/slog"

	"identify/internal/contact/handler"
	"identify/internal/contact/service"
)

// Service is the reconciler.
type Service = service.Service

// Handler wires HTTP endpoints to the reconciler.
type Handler = handler.Handler

// Store is the contact store contract the reconciler depends on.
type Store = service.Store

// StoreTx is the transactional boundary of a contact store.
type StoreTx = service.StoreTx

// NewService constructs the reconciler over a transactional store.
func NewService(store Store, tx StoreTx, opts ...service.Option) *Service {
	return service.New(store, tx, opts...)
}

// NewHandler constructs the HTTP handler for the identify routes.
func NewHandler(s *Service, logger *slog.Logger, opts ...handler.Option) *Handler {
	return handler.New(s, logger, opts...)
}
