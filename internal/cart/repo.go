package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agoralabs/mercado-backend/pkg/db/models"
	"github.com/agoralabs/mercado-backend/pkg/enums"
)

// CartRepository exposes persistence operations for the cart-to-order
// aggregate and its line items.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	Create(ctx context.Context, cart *models.CartOrder) (*models.CartOrder, error)
	Update(ctx context.Context, cart *models.CartOrder) error
	FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) (*models.CartOrder, error)
	FindActiveByOwnerForUpdate(ctx context.Context, ownerID uuid.UUID) (*models.CartOrder, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CartOrder, error)
	CreateItem(ctx context.Context, item *models.LineItem) error
	UpdateItem(ctx context.Context, item *models.LineItem) error
	DeleteItem(ctx context.Context, lineItemID uuid.UUID) error
	FindItem(ctx context.Context, lineItemID uuid.UUID) (*models.LineItem, error)
	MarkPlaced(ctx context.Context, id uuid.UUID, orderNumber string) (bool, error)
}

// Repository is the gorm-backed CartRepository.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// locked adds a row lock when the dialect supports it. Sqlite serializes
// writers on its own, so tests run the same code path without the clause.
func (r *Repository) locked(q *gorm.DB) *gorm.DB {
	if r.db.Dialector.Name() == "postgres" {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// Create inserts a new CartOrder.
func (r *Repository) Create(ctx context.Context, cart *models.CartOrder) (*models.CartOrder, error) {
	if cart.Status == "" {
		cart.Status = enums.OrderStatusCart
	}
	if err := r.db.WithContext(ctx).Omit("Items").Create(cart).Error; err != nil {
		return nil, err
	}
	return cart, nil
}

// Update persists the aggregate's scalar columns. Line items are managed
// through the item operations, never through association writes.
func (r *Repository) Update(ctx context.Context, cart *models.CartOrder) error {
	return r.db.WithContext(ctx).Omit("Items").Save(cart).Error
}

// FindActiveByOwner loads the owner's cart-status aggregate with its items.
func (r *Repository) FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) (*models.CartOrder, error) {
	return r.findActive(r.db.WithContext(ctx), ownerID)
}

// FindActiveByOwnerForUpdate is FindActiveByOwner with the cart row locked,
// serializing concurrent mutations of the same cart.
func (r *Repository) FindActiveByOwnerForUpdate(ctx context.Context, ownerID uuid.UUID) (*models.CartOrder, error) {
	return r.findActive(r.locked(r.db.WithContext(ctx)), ownerID)
}

func (r *Repository) findActive(q *gorm.DB, ownerID uuid.UUID) (*models.CartOrder, error) {
	var cart models.CartOrder
	err := q.
		Preload("Items").
		Where("owner_id = ? AND status = ?", ownerID, enums.OrderStatusCart).
		Order("created_at DESC").
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindByIDForUpdate loads any aggregate by id with the row locked.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CartOrder, error) {
	var cart models.CartOrder
	err := r.locked(r.db.WithContext(ctx)).
		Preload("Items").
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// CreateItem inserts a line item.
func (r *Repository) CreateItem(ctx context.Context, item *models.LineItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// UpdateItem saves a line item.
func (r *Repository) UpdateItem(ctx context.Context, item *models.LineItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

// DeleteItem removes a line item by id.
func (r *Repository) DeleteItem(ctx context.Context, lineItemID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", lineItemID).
		Delete(&models.LineItem{}).Error
}

// FindItem loads a line item by id.
func (r *Repository) FindItem(ctx context.Context, lineItemID uuid.UUID) (*models.LineItem, error) {
	var item models.LineItem
	err := r.db.WithContext(ctx).
		Where("id = ?", lineItemID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// MarkPlaced flips a cart-status aggregate to ordered, stamping placed_at
// and the order number in the same guarded update. The status guard makes
// the flip idempotent under races: only one committer sees a row affected.
func (r *Repository) MarkPlaced(ctx context.Context, id uuid.UUID, orderNumber string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CartOrder{}).
		Where("id = ? AND status = ?", id, enums.OrderStatusCart).
		Updates(map[string]any{
			"status":       enums.OrderStatusOrdered,
			"order_number": orderNumber,
			"placed_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
