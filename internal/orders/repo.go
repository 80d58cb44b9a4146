package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agoralabs/mercado-backend/pkg/db/models"
	"github.com/agoralabs/mercado-backend/pkg/enums"
	"github.com/agoralabs/mercado-backend/pkg/pagination"
)

// Repository exposes reads and the status write for placed orders. Every
// query excludes cart-status aggregates: a cart is not an order yet.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPlacedByID(ctx context.Context, id uuid.UUID) (*models.CartOrder, error)
	FindPlacedByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CartOrder, error)
	FindPlacedByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.CartOrder, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, params pagination.Params) ([]models.CartOrder, *pagination.Cursor, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) locked(q *gorm.DB) *gorm.DB {
	if r.db.Dialector.Name() == "postgres" {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r *repository) FindPlacedByID(ctx context.Context, id uuid.UUID) (*models.CartOrder, error) {
	return r.findPlaced(r.db.WithContext(ctx), id)
}

func (r *repository) FindPlacedByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CartOrder, error) {
	return r.findPlaced(r.locked(r.db.WithContext(ctx)), id)
}

func (r *repository) findPlaced(q *gorm.DB, id uuid.UUID) (*models.CartOrder, error) {
	var order models.CartOrder
	err := q.
		Preload("Items").
		Where("id = ? AND status <> ?", id, enums.OrderStatusCart).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindPlacedByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.CartOrder, error) {
	var order models.CartOrder
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND owner_id = ? AND status <> ?", id, ownerID, enums.OrderStatusCart).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, params pagination.Params) ([]models.CartOrder, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Model(&models.CartOrder{}).
		Preload("Items").
		Where("owner_id = ? AND status <> ?", ownerID, enums.OrderStatusCart)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var orders []models.CartOrder
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, nil, err
	}

	if len(orders) > normalized {
		orders = orders[:normalized]
		last := orders[normalized-1]
		return orders, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return orders, nil, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.CartOrder{}).
		Where("id = ?", id).
		Update("status", status).Error
}
