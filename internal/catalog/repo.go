package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/pkg/db/models"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
)

// OfferRepository exposes catalog reads plus the in-transaction stock
// operations the commit engine relies on.
type OfferRepository interface {
	WithTx(tx *gorm.DB) OfferRepository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Offer, error)
	DecrementStock(ctx context.Context, tx *gorm.DB, offerID uuid.UUID, qty int) (bool, error)
}

// Repository is the gorm-backed OfferRepository.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an offer repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) OfferRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByID loads an offer with its product and supplier.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	var offer models.Offer
	err := r.db.WithContext(ctx).
		Preload("Product").
		Preload("Supplier").
		Where("id = ?", id).
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load offer")
	}
	return &offer, nil
}

// FindByIDs loads the given offers keyed by id. Missing ids are simply
// absent from the map; callers decide whether that is an error.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Offer, error) {
	result := make(map[uuid.UUID]models.Offer, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []models.Offer
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load offers")
	}
	for _, row := range rows {
		result[row.ID] = row
	}
	return result, nil
}

// DecrementStock conditionally takes qty units from the offer. The WHERE
// guard makes the decrement a compare-and-swap: it reports false when the
// offer no longer has qty units available, without ever reading first.
func (r *Repository) DecrementStock(ctx context.Context, tx *gorm.DB, offerID uuid.UUID, qty int) (bool, error) {
	if qty <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock decrement")
	}
	res := tx.WithContext(ctx).
		Model(&models.Offer{}).
		Where("id = ? AND available_qty >= ?", offerID, qty).
		Update("available_qty", gorm.Expr("available_qty - ?", qty))
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
	}
	return res.RowsAffected == 1, nil
}
