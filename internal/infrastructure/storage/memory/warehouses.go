package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/domain/catalogs/warehouse"
)

// WarehouseRepo keeps the warehouse registry in memory.
type WarehouseRepo struct {
	mu   sync.RWMutex
	rows map[id.ID]warehouse.Warehouse
}

// NewWarehouseRepo creates a registry preloaded with warehouses.
func NewWarehouseRepo(seed ...*warehouse.Warehouse) *WarehouseRepo {
	r := &WarehouseRepo{rows: make(map[id.ID]warehouse.Warehouse)}
	for _, w := range seed {
		r.rows[w.ID] = *w
	}
	return r
}

func (r *WarehouseRepo) Create(ctx context.Context, w *warehouse.Warehouse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id.IsNil(w.ID) {
		w.ID = id.New()
	}
	if _, ok := r.rows[w.ID]; ok {
		return apperror.NewDuplicate("warehouse", "id", w.ID.String())
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	r.rows[w.ID] = *w
	return nil
}

func (r *WarehouseRepo) GetByID(ctx context.Context, whID id.ID) (*warehouse.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.rows[whID]
	if !ok {
		return nil, apperror.NewNotFound("warehouse", whID.String())
	}
	return &w, nil
}

func (r *WarehouseRepo) FindByCode(ctx context.Context, code string) (*warehouse.Warehouse, error) {
	return r.find(ctx, "code", code, func(w *warehouse.Warehouse) string { return w.Code })
}

func (r *WarehouseRepo) FindByName(ctx context.Context, name string) (*warehouse.Warehouse, error) {
	return r.find(ctx, "name", name, func(w *warehouse.Warehouse) string { return w.Name })
}

func (r *WarehouseRepo) find(ctx context.Context, field, value string, get func(*warehouse.Warehouse) string) (*warehouse.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value = strings.TrimSpace(value)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.rows {
		if strings.EqualFold(get(&w), value) {
			return &w, nil
		}
	}
	return nil, apperror.NewNotFound("warehouse", value).WithDetail("field", field)
}

func (r *WarehouseRepo) List(ctx context.Context, filter warehouse.ListFilter) ([]*warehouse.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]*warehouse.Warehouse, 0, len(r.rows))
	for _, w := range r.rows {
		if filter.Status != nil && w.Status != *filter.Status {
			continue
		}
		w := w
		out = append(out, &w)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *WarehouseRepo) SetStatus(ctx context.Context, whID id.ID, status warehouse.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rows[whID]
	if !ok {
		return apperror.NewNotFound("warehouse", whID.String())
	}
	w.Status = status
	w.UpdatedAt = time.Now().UTC()
	r.rows[whID] = w
	return nil
}

func (r *WarehouseRepo) ClearDefault(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, w := range r.rows {
		if w.IsDefault {
			w.IsDefault = false
			r.rows[k] = w
		}
	}
	return nil
}

var _ warehouse.Repository = (*WarehouseRepo)(nil)
