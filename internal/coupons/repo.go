package coupons

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/pkg/db/models"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
)

// Directory resolves coupon codes and tracks usage.
type Directory interface {
	WithTx(tx *gorm.DB) Directory
	FindUsableByCode(ctx context.Context, code string, now time.Time) (*models.Coupon, error)
	IncrementUsage(ctx context.Context, code string) error
}

// Repository is the gorm-backed coupon directory.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a coupon repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) Directory {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindUsableByCode resolves a coupon code. Unknown, expired and exhausted
// codes all come back as the same validation error so callers cannot
// enumerate the catalog of codes.
func (r *Repository) FindUsableByCode(ctx context.Context, code string, now time.Time) (*models.Coupon, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}
	var coupon models.Coupon
	err := r.db.WithContext(ctx).
		Where("code = ?", trimmed).
		First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon is not valid")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	if !coupon.Usable(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon is not valid")
	}
	return &coupon, nil
}

// IncrementUsage bumps the usage counter for the code. The update is
// conditional on the usage budget so two racing commits cannot push the
// counter past max_uses; losing the race comes back as a conflict.
func (r *Repository) IncrementUsage(ctx context.Context, code string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("code = ? AND (max_uses = 0 OR used_count < max_uses)", code).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment coupon usage")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "coupon is no longer valid")
	}
	return nil
}
