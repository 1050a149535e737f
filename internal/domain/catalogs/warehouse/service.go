package warehouse

import (
	"context"
	"fmt"
	"strings"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/tx"
	"backoffice/pkg/logger"
)

// Service is the warehouse registry. Callers resolve a user-supplied reference
// to a Warehouse here once, then carry the warehouse ID.
type Service struct {
	repo        Repository
	txManager   tx.Manager
	defaultName string
}

// NewService creates the registry. defaultName is the configured default
// warehouse; it may be empty.
func NewService(repo Repository, txManager tx.Manager, defaultName string) *Service {
	if txManager == nil {
		txManager = tx.Passthrough
	}
	return &Service{
		repo:        repo,
		txManager:   txManager,
		defaultName: strings.TrimSpace(defaultName),
	}
}

// DefaultName returns the configured default warehouse name.
func (s *Service) DefaultName() string {
	return s.defaultName
}

// List returns warehouses, optionally filtered by status.
func (s *Service) List(ctx context.Context, status *Status) ([]*Warehouse, error) {
	if status != nil && !status.IsValid() {
		return nil, apperror.NewValidation("status must be active or inactive").
			WithDetail("status", string(*status))
	}
	return s.repo.List(ctx, ListFilter{Status: status})
}

// ListActive returns active warehouses ordered by code.
func (s *Service) ListActive(ctx context.Context) ([]*Warehouse, error) {
	active := StatusActive
	return s.repo.List(ctx, ListFilter{Status: &active})
}

// ResolveDefault picks the warehouse used when the caller gives none:
// the configured default if it is active, then the warehouse flagged as
// default, then the first active warehouse by code.
func (s *Service) ResolveDefault(ctx context.Context) (*Warehouse, error) {
	if s.defaultName != "" {
		w, err := s.lookup(ctx, s.defaultName)
		switch {
		case err == nil && w.IsActive():
			return w, nil
		case err != nil && !apperror.IsNotFound(err):
			return nil, err
		}
		logger.Warn(ctx, "configured default warehouse unavailable, falling back",
			"warehouse", s.defaultName)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active warehouses: %w", err)
	}
	if len(active) == 0 {
		return nil, apperror.NewNoActiveWarehouse()
	}
	for _, w := range active {
		if w.IsDefault {
			return w, nil
		}
	}
	return active[0], nil
}

// Resolve looks a warehouse up by ID, code or name. Matching is exact after
// trimming and case folding; there is no partial or alias matching.
func (s *Service) Resolve(ctx context.Context, ref string) (*Warehouse, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperror.NewValidation("warehouse is required").WithDetail("field", "warehouseName")
	}
	return s.lookup(ctx, ref)
}

// ResolveActive is Resolve restricted to active warehouses.
func (s *Service) ResolveActive(ctx context.Context, ref string) (*Warehouse, error) {
	w, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !w.IsActive() {
		return nil, apperror.NewWarehouseInactive(w.Name)
	}
	return w, nil
}

// Get returns a warehouse by ID.
func (s *Service) Get(ctx context.Context, whID id.ID) (*Warehouse, error) {
	return s.repo.GetByID(ctx, whID)
}

// Create registers a warehouse. Codes and names must be unique.
func (s *Service) Create(ctx context.Context, w *Warehouse) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.repo.FindByCode(ctx, w.Code); err == nil {
			return apperror.NewDuplicate("warehouse", "code", w.Code)
		} else if !apperror.IsNotFound(err) {
			return err
		}
		if _, err := s.repo.FindByName(ctx, w.Name); err == nil {
			return apperror.NewDuplicate("warehouse", "name", w.Name)
		} else if !apperror.IsNotFound(err) {
			return err
		}
		if w.IsDefault {
			if err := s.repo.ClearDefault(ctx); err != nil {
				return fmt.Errorf("clear default: %w", err)
			}
		}
		if err := s.repo.Create(ctx, w); err != nil {
			return fmt.Errorf("create warehouse: %w", err)
		}
		logger.Info(ctx, "warehouse created", "warehouse_id", w.ID, "code", w.Code, "name", w.Name)
		return nil
	})
}

// SetStatus activates or deactivates a warehouse. Existing movements are kept.
func (s *Service) SetStatus(ctx context.Context, whID id.ID, status Status) error {
	if !status.IsValid() {
		return apperror.NewValidation("status must be active or inactive")
	}
	if err := s.repo.SetStatus(ctx, whID, status); err != nil {
		return err
	}
	logger.Info(ctx, "warehouse status changed", "warehouse_id", whID, "status", status)
	return nil
}

func (s *Service) lookup(ctx context.Context, ref string) (*Warehouse, error) {
	if whID, ok := id.TryParse(ref); ok {
		return s.repo.GetByID(ctx, whID)
	}
	w, err := s.repo.FindByCode(ctx, ref)
	if err == nil {
		return w, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, err
	}
	w, err = s.repo.FindByName(ctx, ref)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("warehouse", ref)
		}
		return nil, err
	}
	return w, nil
}
