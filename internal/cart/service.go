package cart

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/internal/catalog"
	"github.com/agoralabs/mercado-backend/internal/contacts"
	"github.com/agoralabs/mercado-backend/internal/coupons"
	"github.com/agoralabs/mercado-backend/pkg/config"
	pkgdb "github.com/agoralabs/mercado-backend/pkg/db"
	"github.com/agoralabs/mercado-backend/pkg/db/models"
	"github.com/agoralabs/mercado-backend/pkg/enums"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
)

var vatNumberPattern = regexp.MustCompile(`^[0-9]{9}$`)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the line-item ledger and the checkout setters. Every
// mutation runs in a per-cart transaction with the cart row locked, so two
// browser tabs mutating the same cart serialize instead of losing updates.
type Service interface {
	GetActiveCart(ctx context.Context, ownerID uuid.UUID) (*models.CartOrder, error)
	AddItem(ctx context.Context, ownerID uuid.UUID, offerID uuid.UUID, quantity int) (*models.CartOrder, error)
	UpdateQuantity(ctx context.Context, ownerID, lineItemID uuid.UUID, quantity int) (*models.CartOrder, error)
	RemoveItem(ctx context.Context, ownerID, lineItemID uuid.UUID) (*models.CartOrder, error)
	ApplyCoupon(ctx context.Context, ownerID uuid.UUID, code string) (*models.CartOrder, error)
	SetShipping(ctx context.Context, ownerID uuid.UUID, method enums.ShippingMethod, addressID *uuid.UUID) (*models.CartOrder, error)
	SetPaymentMethod(ctx context.Context, ownerID uuid.UUID, method enums.PaymentMethod) (*models.CartOrder, error)
	SetContact(ctx context.Context, ownerID, phoneID uuid.UUID) (*models.CartOrder, error)
	SetVat(ctx context.Context, ownerID uuid.UUID, vatNumber, businessName string) (*models.CartOrder, error)
}

type service struct {
	repo     CartRepository
	tx       txRunner
	offers   catalog.OfferRepository
	coupons  coupons.Directory
	contacts contacts.Directory

	deliveryFeePerSupplier decimal.Decimal
	codSurcharge           decimal.Decimal
}

// NewService builds a cart service backed by the provided stack.
func NewService(
	repo CartRepository,
	tx txRunner,
	offers catalog.OfferRepository,
	couponDir coupons.Directory,
	contactDir contacts.Directory,
	cfg config.CheckoutConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if offers == nil {
		return nil, fmt.Errorf("offer repository required")
	}
	if couponDir == nil {
		return nil, fmt.Errorf("coupon directory required")
	}
	if contactDir == nil {
		return nil, fmt.Errorf("contact directory required")
	}
	return &service{
		repo:                   repo,
		tx:                     tx,
		offers:                 offers,
		coupons:                couponDir,
		contacts:               contactDir,
		deliveryFeePerSupplier: cfg.DeliveryFeePerSupplier,
		codSurcharge:           cfg.CODSurcharge,
	}, nil
}

// GetActiveCart returns the owner's mutable cart, or not-found.
func (s *service) GetActiveCart(ctx context.Context, ownerID uuid.UUID) (*models.CartOrder, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	cart, err := s.repo.FindActiveByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "active cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	s.recompute(cart)
	return cart, nil
}

// AddItem puts an offer in the owner's cart, creating the cart lazily on
// the first add. Re-adding an offer overwrites the stored quantity and
// re-captures the offer's current price.
func (s *service) AddItem(ctx context.Context, ownerID, offerID uuid.UUID, quantity int) (*models.CartOrder, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	if offerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer id is required")
	}
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var saved *models.CartOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		offers := s.offers.WithTx(tx)

		cart, err := repo.FindActiveByOwnerForUpdate(ctx, ownerID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
			}
			owner := ownerID
			cart, err = repo.Create(ctx, &models.CartOrder{OwnerID: &owner})
			if pkgdb.IsUniqueViolation(err, "ux_cart_orders_active_owner") {
				// Two first-adds raced on the one-active-cart index; the
				// other tab won, so adopt its cart.
				cart, err = repo.FindActiveByOwnerForUpdate(ctx, ownerID)
			}
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
			}
		}
		if cart.IsFrozen() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is frozen")
		}

		offer, err := offers.FindByID(ctx, offerID)
		if err != nil {
			return err
		}
		if quantity > offer.AvailableQty {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock for offer").
				WithDetails(map[string]int{"available": offer.AvailableQty})
		}

		var existing *models.LineItem
		for i := range cart.Items {
			if cart.Items[i].OfferID == offerID {
				existing = &cart.Items[i]
				break
			}
		}
		if existing != nil {
			existing.Quantity = quantity
			existing.PriceAtAdd = offer.Price
			existing.SupplierID = offer.SupplierID
			if err := repo.UpdateItem(ctx, existing); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line item")
			}
		} else {
			item := models.LineItem{
				CartID:     cart.ID,
				OfferID:    offerID,
				SupplierID: offer.SupplierID,
				Quantity:   quantity,
				PriceAtAdd: offer.Price,
			}
			if err := repo.CreateItem(ctx, &item); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create line item")
			}
			cart.Items = append(cart.Items, item)
		}

		saved, err = s.saveRecomputed(ctx, repo, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// UpdateQuantity changes the quantity of an existing line item.
func (s *service) UpdateQuantity(ctx context.Context, ownerID, lineItemID uuid.UUID, quantity int) (*models.CartOrder, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	if lineItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item id is required")
	}

	var saved *models.CartOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		offers := s.offers.WithTx(tx)

		cart, item, err := s.resolveItem(ctx, repo, ownerID, lineItemID)
		if err != nil {
			return err
		}
		if cart.IsFrozen() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is frozen")
		}

		offer, err := offers.FindByID(ctx, item.OfferID)
		if err != nil {
			return err
		}
		if quantity < 1 || quantity > offer.AvailableQty {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "quantity must be between 1 and %d", offer.AvailableQty)
		}

		item.Quantity = quantity
		if err := repo.UpdateItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line item")
		}
		for i := range cart.Items {
			if cart.Items[i].ID == item.ID {
				cart.Items[i].Quantity = quantity
			}
		}

		saved, err = s.saveRecomputed(ctx, repo, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// RemoveItem drops a line item from the cart. Removing an id that is
// already gone is a no-op so cart clearing stays idempotent.
func (s *service) RemoveItem(ctx context.Context, ownerID, lineItemID uuid.UUID) (*models.CartOrder, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}

	var saved *models.CartOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, item, err := s.resolveItem(ctx, repo, ownerID, lineItemID)
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				cart, lookupErr := repo.FindActiveByOwnerForUpdate(ctx, ownerID)
				if lookupErr != nil {
					if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
						return pkgerrors.New(pkgerrors.CodeNotFound, "active cart not found")
					}
					return pkgerrors.Wrap(pkgerrors.CodeDependency, lookupErr, "load cart")
				}
				s.recompute(cart)
				saved = cart
				return nil
			}
			return err
		}
		if cart.IsFrozen() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is frozen")
		}

		if err := repo.DeleteItem(ctx, item.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete line item")
		}
		remaining := cart.Items[:0]
		for i := range cart.Items {
			if cart.Items[i].ID != item.ID {
				remaining = append(remaining, cart.Items[i])
			}
		}
		cart.Items = remaining

		saved, err = s.saveRecomputed(ctx, repo, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ApplyCoupon resolves the code against the coupon directory and stores the
// discount. A later cart change does not re-validate the coupon.
func (s *service) ApplyCoupon(ctx context.Context, ownerID uuid.UUID, code string) (*models.CartOrder, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}
	return s.mutateActiveCart(ctx, ownerID, func(tx *gorm.DB, cart *models.CartOrder) error {
		coupon, err := s.coupons.WithTx(tx).FindUsableByCode(ctx, code, time.Now())
		if err != nil {
			return err
		}
		cart.CouponCode = &coupon.Code
		cart.CouponDiscount = coupon.Discount
		return nil
	})
}

// SetShipping selects the shipping method. Delivery needs a saved address
// belonging to the owner; store pickup needs the cart to span exactly one
// supplier. The cost itself is derived during recompute, so it tracks the
// supplier count as items come and go.
func (s *service) SetShipping(ctx context.Context, ownerID uuid.UUID, method enums.ShippingMethod, addressID *uuid.UUID) (*models.CartOrder, error) {
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid shipping method")
	}
	return s.mutateActiveCart(ctx, ownerID, func(tx *gorm.DB, cart *models.CartOrder) error {
		switch method {
		case enums.ShippingMethodDelivery:
			if addressID == nil || *addressID == uuid.Nil {
				return pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required for delivery")
			}
			exists, err := s.contacts.AddressExists(ctx, ownerID, *addressID)
			if err != nil {
				return err
			}
			if !exists {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shipping address not found")
			}
			cart.ShippingAddressID = addressID
		case enums.ShippingMethodStorePickup:
			if DistinctSupplierCount(cart.Items) != 1 {
				return pkgerrors.New(pkgerrors.CodeValidation, "store pickup requires a single supplier")
			}
			cart.ShippingAddressID = nil
		}
		shipping := method
		cart.ShippingMethod = &shipping
		return nil
	})
}

// SetPaymentMethod selects how the order will be paid. Choosing cash on a
// delivered order adds the COD surcharge during recompute.
func (s *service) SetPaymentMethod(ctx context.Context, ownerID uuid.UUID, method enums.PaymentMethod) (*models.CartOrder, error) {
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	return s.mutateActiveCart(ctx, ownerID, func(tx *gorm.DB, cart *models.CartOrder) error {
		payment := method
		cart.PaymentMethod = &payment
		return nil
	})
}

// SetContact assigns the contact phone after an existence check.
func (s *service) SetContact(ctx context.Context, ownerID, phoneID uuid.UUID) (*models.CartOrder, error) {
	if phoneID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone id is required")
	}
	return s.mutateActiveCart(ctx, ownerID, func(tx *gorm.DB, cart *models.CartOrder) error {
		exists, err := s.contacts.PhoneExists(ctx, ownerID, phoneID)
		if err != nil {
			return err
		}
		if !exists {
			return pkgerrors.New(pkgerrors.CodeNotFound, "contact phone not found")
		}
		phone := phoneID
		cart.ContactPhoneID = &phone
		return nil
	})
}

// SetVat records business invoice data. Pure assignment; totals are not
// affected.
func (s *service) SetVat(ctx context.Context, ownerID uuid.UUID, vatNumber, businessName string) (*models.CartOrder, error) {
	vatNumber = strings.TrimSpace(vatNumber)
	if !vatNumberPattern.MatchString(vatNumber) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vat number must be exactly nine digits")
	}
	businessName = strings.TrimSpace(businessName)
	return s.mutateActiveCart(ctx, ownerID, func(tx *gorm.DB, cart *models.CartOrder) error {
		cart.VATNumber = &vatNumber
		if businessName != "" {
			cart.BusinessName = &businessName
		} else {
			cart.BusinessName = nil
		}
		return nil
	})
}

// mutateActiveCart loads the owner's cart under lock, applies fn, then
// recomputes and persists the derived totals.
func (s *service) mutateActiveCart(ctx context.Context, ownerID uuid.UUID, fn func(tx *gorm.DB, cart *models.CartOrder) error) (*models.CartOrder, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}

	var saved *models.CartOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.FindActiveByOwnerForUpdate(ctx, ownerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "active cart not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if cart.IsFrozen() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is frozen")
		}
		if err := fn(tx, cart); err != nil {
			return err
		}
		saved, err = s.saveRecomputed(ctx, repo, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// resolveItem finds a line item and its aggregate, verifying ownership.
func (s *service) resolveItem(ctx context.Context, repo CartRepository, ownerID, lineItemID uuid.UUID) (*models.CartOrder, *models.LineItem, error) {
	item, err := repo.FindItem(ctx, lineItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "line item not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line item")
	}
	cart, err := repo.FindByIDForUpdate(ctx, item.CartID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "line item not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if cart.OwnerID == nil || *cart.OwnerID != ownerID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "line item not found")
	}
	return cart, item, nil
}

func (s *service) saveRecomputed(ctx context.Context, repo CartRepository, cart *models.CartOrder) (*models.CartOrder, error) {
	s.recompute(cart)
	if err := repo.Update(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart")
	}
	return cart, nil
}

// recompute re-derives every monetary field from the line items and the
// current selections. Stored totals are never trusted on their own.
func (s *service) recompute(cart *models.CartOrder) {
	subtotal := decimal.Zero
	for i := range cart.Items {
		subtotal = subtotal.Add(cart.Items[i].LineTotal())
	}
	cart.SubtotalAmount = subtotal

	cart.ShippingCost = decimal.Zero
	if cart.ShippingMethod != nil && *cart.ShippingMethod == enums.ShippingMethodDelivery {
		suppliers := int64(DistinctSupplierCount(cart.Items))
		cart.ShippingCost = s.deliveryFeePerSupplier.Mul(decimal.NewFromInt(suppliers))
	}

	total := subtotal.Sub(cart.CouponDiscount).Add(cart.ShippingCost)
	if s.codSurchargeApplies(cart) {
		total = total.Add(s.codSurcharge)
	}
	cart.TotalAmount = total
}

// The surcharge applies to cash payments on anything that is not a store
// pickup, including carts that have not chosen a shipping method yet.
func (s *service) codSurchargeApplies(cart *models.CartOrder) bool {
	if cart.PaymentMethod == nil || *cart.PaymentMethod != enums.PaymentMethodCash {
		return false
	}
	return cart.ShippingMethod == nil || *cart.ShippingMethod != enums.ShippingMethodStorePickup
}
