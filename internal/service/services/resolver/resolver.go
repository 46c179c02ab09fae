// Package resolver maps a caller supplied service order identifier, either the
// canonical id or a legacy order number, to the canonical id.
package resolver

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/iserviceorderrepo"
	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/serviceorder"
	"github.com/corray333/backend-labs/materials/internal/service/services/storecall"
)

const canonicalLength = 36

// Resolver resolves service order identifiers.
type Resolver struct {
	repo   iserviceorderrepo.IServiceOrderRepository
	policy storecall.Policy
}

type option func(*Resolver)

// New creates a Resolver backed by the service order repository.
func New(repo iserviceorderrepo.IServiceOrderRepository, opts ...option) *Resolver {
	r := &Resolver{repo: repo, policy: storecall.DefaultPolicy()}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// WithPolicy sets the timeout and read retries for lookups.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPolicy(p storecall.Policy) option {
	return func(r *Resolver) {
		r.policy = p
	}
}

// IsCanonical reports whether identifier is a canonical id: a UUID in its
// 36 character hyphenated form.
func IsCanonical(identifier string) bool {
	if len(identifier) != canonicalLength {
		return false
	}
	_, err := uuid.Parse(identifier)

	return err == nil
}

// Resolve returns identifier unchanged when it is canonical and otherwise looks it
// up as a legacy order number. It performs at most one lookup.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", errs.Validation("service order identifier is required")
	}
	if IsCanonical(identifier) {
		return identifier, nil
	}

	return storecall.Read(ctx, r.policy, "service_orders.find_by_number", func(ctx context.Context) (string, error) {
		return r.repo.FindIDByOrderNumber(ctx, identifier)
	})
}

// ResolveExisting is Resolve that also proves a canonical id names a stored service
// order. A legacy number is proven by its lookup.
func (r *Resolver) ResolveExisting(ctx context.Context, identifier string) (string, error) {
	id, err := r.Resolve(ctx, identifier)
	if err != nil || !IsCanonical(strings.TrimSpace(identifier)) {
		return id, err
	}

	_, err = storecall.Read(ctx, r.policy, "service_orders.get", func(ctx context.Context) (serviceorder.ServiceOrder, error) {
		return r.repo.Get(ctx, id)
	})
	if err != nil {
		return "", err
	}

	return id, nil
}
