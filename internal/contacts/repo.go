package contacts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/pkg/db/models"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
)

// Directory answers existence checks for a user's saved addresses and
// phone numbers. Checkout only needs to know the referenced record is
// real and belongs to the owner; it never reads the contents.
type Directory interface {
	AddressExists(ctx context.Context, ownerID, addressID uuid.UUID) (bool, error)
	PhoneExists(ctx context.Context, ownerID, phoneID uuid.UUID) (bool, error)
}

// Repository is the gorm-backed contact directory.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a contact repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AddressExists(ctx context.Context, ownerID, addressID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Address{}).
		Where("id = ? AND user_id = ?", addressID, ownerID).
		Count(&count).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check address")
	}
	return count > 0, nil
}

func (r *Repository) PhoneExists(ctx context.Context, ownerID, phoneID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Phone{}).
		Where("id = ? AND user_id = ?", phoneID, ownerID).
		Count(&count).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check phone")
	}
	return count > 0, nil
}
