package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/internal/catalog"
	"github.com/agoralabs/mercado-backend/internal/contacts"
	"github.com/agoralabs/mercado-backend/internal/coupons"
	"github.com/agoralabs/mercado-backend/pkg/config"
	"github.com/agoralabs/mercado-backend/pkg/db/models"
	"github.com/agoralabs/mercado-backend/pkg/enums"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fixture struct {
	db      *gorm.DB
	svc     Service
	ownerID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Supplier{}, &models.Product{}, &models.Offer{},
		&models.Coupon{}, &models.Address{}, &models.Phone{},
		&models.CartOrder{}, &models.LineItem{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.CheckoutConfig{
		DeliveryFeePerSupplier: decimal.NewFromInt(3),
		CODSurcharge:           decimal.NewFromInt(3),
	}
	svc, err := NewService(
		NewRepository(db),
		testTxRunner{db: db},
		catalog.NewRepository(db),
		coupons.NewRepository(db),
		contacts.NewRepository(db),
		cfg,
	)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return &fixture{db: db, svc: svc, ownerID: uuid.New()}
}

func (f *fixture) seedOffer(t *testing.T, price string, qty int) models.Offer {
	t.Helper()
	supplier := models.Supplier{Name: "supplier"}
	if err := f.db.Create(&supplier).Error; err != nil {
		t.Fatalf("seed supplier: %v", err)
	}
	return f.seedOfferFor(t, supplier.ID, price, qty)
}

func (f *fixture) seedOfferFor(t *testing.T, supplierID uuid.UUID, price string, qty int) models.Offer {
	t.Helper()
	product := models.Product{Name: "product"}
	if err := f.db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	offer := models.Offer{
		ProductID:    product.ID,
		SupplierID:   supplierID,
		Price:        decimal.RequireFromString(price),
		AvailableQty: qty,
	}
	if err := f.db.Create(&offer).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return offer
}

func (f *fixture) seedAddress(t *testing.T) models.Address {
	t.Helper()
	address := models.Address{UserID: f.ownerID, Line1: "Gran Via 1", City: "Madrid", PostalCode: "28013"}
	if err := f.db.Create(&address).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return address
}

func assertAmount(t *testing.T, got decimal.Decimal, want string, field string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s = %s, want %s", field, got, want)
	}
}

func TestAddItemCreatesCartLazily(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "4.00", 10)

	cart, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 2)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if cart.Status != enums.OrderStatusCart {
		t.Fatalf("status = %s, want cart", cart.Status)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(cart.Items))
	}
	assertAmount(t, cart.SubtotalAmount, "8.00", "subtotal")
	assertAmount(t, cart.TotalAmount, "8.00", "total")
}

type cartRaceState struct {
	fired    bool
	winnerID uuid.UUID
}

// racingCartRepo makes the first lazy cart creation lose to a concurrent
// first-add: the rival cart is inserted first and the caller's insert
// bounces off the one-active-cart unique index.
type racingCartRepo struct {
	CartRepository
	state *cartRaceState
}

func (r *racingCartRepo) WithTx(tx *gorm.DB) CartRepository {
	return &racingCartRepo{CartRepository: r.CartRepository.WithTx(tx), state: r.state}
}

func (r *racingCartRepo) Create(ctx context.Context, cart *models.CartOrder) (*models.CartOrder, error) {
	if !r.state.fired {
		r.state.fired = true
		winner, err := r.CartRepository.Create(ctx, &models.CartOrder{OwnerID: cart.OwnerID})
		if err != nil {
			return nil, err
		}
		r.state.winnerID = winner.ID
		return nil, errors.New(`duplicate key value violates unique constraint "ux_cart_orders_active_owner"`)
	}
	return r.CartRepository.Create(ctx, cart)
}

func TestAddItemAdoptsCartWhenCreateRaces(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "4.00", 10)

	state := &cartRaceState{}
	svc, err := NewService(
		&racingCartRepo{CartRepository: NewRepository(f.db), state: state},
		testTxRunner{db: f.db},
		catalog.NewRepository(f.db),
		coupons.NewRepository(f.db),
		contacts.NewRepository(f.db),
		config.CheckoutConfig{DeliveryFeePerSupplier: decimal.NewFromInt(3)},
	)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	cart, err := svc.AddItem(ctx, f.ownerID, offer.ID, 2)
	if err != nil {
		t.Fatalf("add item after lost create race: %v", err)
	}
	if !state.fired {
		t.Fatal("race was never triggered")
	}
	if cart.ID != state.winnerID {
		t.Fatalf("cart id = %s, want the rival's %s", cart.ID, state.winnerID)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(cart.Items))
	}

	var count int64
	if err := f.db.Model(&models.CartOrder{}).
		Where("owner_id = ? AND status = ?", f.ownerID, enums.OrderStatusCart).
		Count(&count).Error; err != nil {
		t.Fatalf("count carts: %v", err)
	}
	if count != 1 {
		t.Fatalf("active carts = %d, want 1", count)
	}
}

func TestAddItemRejectsInvalidQuantity(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	offer := f.seedOffer(t, "4.00", 10)

	_, err := f.svc.AddItem(context.Background(), f.ownerID, offer.ID, 0)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddItemRejectsQuantityBeyondAvailability(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	offer := f.seedOffer(t, "4.00", 3)

	_, err := f.svc.AddItem(context.Background(), f.ownerID, offer.ID, 4)
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestReAddOverwritesQuantityAndRecapturesPrice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "4.00", 10)

	if _, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 2); err != nil {
		t.Fatalf("add item: %v", err)
	}

	if err := f.db.Model(&models.Offer{}).
		Where("id = ?", offer.ID).
		Update("price", decimal.RequireFromString("5.00")).Error; err != nil {
		t.Fatalf("reprice offer: %v", err)
	}

	cart, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 3)
	if err != nil {
		t.Fatalf("re-add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(cart.Items))
	}
	if cart.Items[0].Quantity != 3 {
		t.Fatalf("quantity = %d, want 3 (overwrite, not sum)", cart.Items[0].Quantity)
	}
	assertAmount(t, cart.Items[0].PriceAtAdd, "5.00", "price_at_add")
	assertAmount(t, cart.SubtotalAmount, "15.00", "subtotal")
}

func TestUpdateQuantityBounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "2.00", 5)

	cart, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 1)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	itemID := cart.Items[0].ID

	updated, err := f.svc.UpdateQuantity(ctx, f.ownerID, itemID, 5)
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	assertAmount(t, updated.SubtotalAmount, "10.00", "subtotal")

	if _, err := f.svc.UpdateQuantity(ctx, f.ownerID, itemID, 6); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error above availability, got %v", err)
	}
	if _, err := f.svc.UpdateQuantity(ctx, f.ownerID, itemID, 0); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error below 1, got %v", err)
	}
	if _, err := f.svc.UpdateQuantity(ctx, f.ownerID, uuid.New(), 1); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestRemoveItemIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offerA := f.seedOffer(t, "2.00", 5)
	offerB := f.seedOffer(t, "3.00", 5)

	if _, err := f.svc.AddItem(ctx, f.ownerID, offerA.ID, 1); err != nil {
		t.Fatalf("add item a: %v", err)
	}
	cart, err := f.svc.AddItem(ctx, f.ownerID, offerB.ID, 1)
	if err != nil {
		t.Fatalf("add item b: %v", err)
	}

	var itemA uuid.UUID
	for _, item := range cart.Items {
		if item.OfferID == offerA.ID {
			itemA = item.ID
		}
	}

	first, err := f.svc.RemoveItem(ctx, f.ownerID, itemA)
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if len(first.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(first.Items))
	}
	if groups := GroupBySupplier(first.Items); len(groups) != 1 {
		t.Fatalf("supplier groups = %d, want 1 (empty group dropped)", len(groups))
	}

	second, err := f.svc.RemoveItem(ctx, f.ownerID, itemA)
	if err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
	if !second.TotalAmount.Equal(first.TotalAmount) {
		t.Fatalf("totals changed on no-op remove: %s != %s", second.TotalAmount, first.TotalAmount)
	}
}

func TestLedgerRejectsFrozenCart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "2.00", 5)

	cart, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 1)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	itemID := cart.Items[0].ID

	if err := f.db.Model(&models.CartOrder{}).
		Where("id = ?", cart.ID).
		Update("status", enums.OrderStatusOrdered).Error; err != nil {
		t.Fatalf("freeze cart: %v", err)
	}

	if _, err := f.svc.UpdateQuantity(ctx, f.ownerID, itemID, 2); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if _, err := f.svc.RemoveItem(ctx, f.ownerID, itemID); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestApplyCouponValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "10.00", 5)
	if _, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 1); err != nil {
		t.Fatalf("add item: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	expired := models.Coupon{Code: "VIEJO", Discount: decimal.NewFromInt(2), ExpiresAt: &past}
	if err := f.db.Create(&expired).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}

	if _, err := f.svc.ApplyCoupon(ctx, f.ownerID, "VIEJO"); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for expired coupon, got %v", err)
	}
	if _, err := f.svc.ApplyCoupon(ctx, f.ownerID, "NOEXISTE"); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for unknown coupon, got %v", err)
	}
}

func TestApplyCouponReplacesPreviousAndSkipsRevalidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "10.00", 5)
	if _, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 2); err != nil {
		t.Fatalf("add item: %v", err)
	}

	for _, coupon := range []models.Coupon{
		{Code: "DOS", Discount: decimal.NewFromInt(2)},
		{Code: "CINCO", Discount: decimal.NewFromInt(5)},
	} {
		c := coupon
		if err := f.db.Create(&c).Error; err != nil {
			t.Fatalf("seed coupon: %v", err)
		}
	}

	if _, err := f.svc.ApplyCoupon(ctx, f.ownerID, "DOS"); err != nil {
		t.Fatalf("apply first coupon: %v", err)
	}
	cart, err := f.svc.ApplyCoupon(ctx, f.ownerID, "CINCO")
	if err != nil {
		t.Fatalf("apply second coupon: %v", err)
	}
	if cart.CouponCode == nil || *cart.CouponCode != "CINCO" {
		t.Fatalf("coupon = %v, want CINCO", cart.CouponCode)
	}
	assertAmount(t, cart.TotalAmount, "15.00", "total")

	// The coupon survives later cart mutations without re-validation,
	// even once the coupon itself would no longer be applicable.
	if err := f.db.Model(&models.Coupon{}).
		Where("code = ?", "CINCO").
		Updates(map[string]any{"max_uses": 1, "used_count": 1}).Error; err != nil {
		t.Fatalf("exhaust coupon: %v", err)
	}
	mutated, err := f.svc.UpdateQuantity(ctx, f.ownerID, cart.Items[0].ID, 3)
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if mutated.CouponCode == nil || *mutated.CouponCode != "CINCO" {
		t.Fatal("coupon dropped by unrelated mutation")
	}
	assertAmount(t, mutated.TotalAmount, "25.00", "total")
}

func TestSetShippingDeliveryRequiresOwnAddress(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "10.00", 5)
	if _, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 1); err != nil {
		t.Fatalf("add item: %v", err)
	}

	if _, err := f.svc.SetShipping(ctx, f.ownerID, enums.ShippingMethodDelivery, nil); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error without address, got %v", err)
	}

	unknown := uuid.New()
	if _, err := f.svc.SetShipping(ctx, f.ownerID, enums.ShippingMethodDelivery, &unknown); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not-found error for unknown address, got %v", err)
	}
}

func TestSetShippingPickupNeedsSingleSupplier(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offerA := f.seedOffer(t, "10.00", 5)
	offerB := f.seedOffer(t, "5.00", 5)
	if _, err := f.svc.AddItem(ctx, f.ownerID, offerA.ID, 1); err != nil {
		t.Fatalf("add item a: %v", err)
	}
	if _, err := f.svc.AddItem(ctx, f.ownerID, offerB.ID, 1); err != nil {
		t.Fatalf("add item b: %v", err)
	}

	_, err := f.svc.SetShipping(ctx, f.ownerID, enums.ShippingMethodStorePickup, nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for multi-supplier pickup, got %v", err)
	}
}

func TestSetVatValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "10.00", 5)
	if _, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 1); err != nil {
		t.Fatalf("add item: %v", err)
	}

	for _, bad := range []string{"", "12345678", "1234567890", "12345678a"} {
		if _, err := f.svc.SetVat(ctx, f.ownerID, bad, "Empresa SL"); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("vat %q: expected validation error, got %v", bad, err)
		}
	}

	before, err := f.svc.GetActiveCart(ctx, f.ownerID)
	if err != nil {
		t.Fatalf("load cart: %v", err)
	}
	cart, err := f.svc.SetVat(ctx, f.ownerID, "123456789", "Empresa SL")
	if err != nil {
		t.Fatalf("set vat: %v", err)
	}
	if cart.VATNumber == nil || *cart.VATNumber != "123456789" {
		t.Fatalf("vat = %v, want 123456789", cart.VATNumber)
	}
	if !cart.TotalAmount.Equal(before.TotalAmount) {
		t.Fatal("vat assignment must not change totals")
	}
}

func TestSetContactRequiresExistingPhone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	offer := f.seedOffer(t, "10.00", 5)
	if _, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 1); err != nil {
		t.Fatalf("add item: %v", err)
	}

	if _, err := f.svc.SetContact(ctx, f.ownerID, uuid.New()); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}

	phone := models.Phone{UserID: f.ownerID, Number: "+34 600 111 222"}
	if err := f.db.Create(&phone).Error; err != nil {
		t.Fatalf("seed phone: %v", err)
	}
	cart, err := f.svc.SetContact(ctx, f.ownerID, phone.ID)
	if err != nil {
		t.Fatalf("set contact: %v", err)
	}
	if cart.ContactPhoneID == nil || *cart.ContactPhoneID != phone.ID {
		t.Fatalf("contact = %v, want %s", cart.ContactPhoneID, phone.ID)
	}
}

// Two suppliers, delivery, coupon, cash: the running totals follow the
// invariant total = subtotal - discount + shipping + surcharge.
func TestTwoSupplierDeliveryScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	offerA := f.seedOffer(t, "10.00", 10)
	offerB := f.seedOffer(t, "5.00", 10)
	address := f.seedAddress(t)

	if _, err := f.svc.AddItem(ctx, f.ownerID, offerA.ID, 2); err != nil {
		t.Fatalf("add item a: %v", err)
	}
	cart, err := f.svc.AddItem(ctx, f.ownerID, offerB.ID, 1)
	if err != nil {
		t.Fatalf("add item b: %v", err)
	}
	assertAmount(t, cart.SubtotalAmount, "25.00", "subtotal")

	cart, err = f.svc.SetShipping(ctx, f.ownerID, enums.ShippingMethodDelivery, &address.ID)
	if err != nil {
		t.Fatalf("set shipping: %v", err)
	}
	assertAmount(t, cart.ShippingCost, "6.00", "shipping")
	assertAmount(t, cart.TotalAmount, "31.00", "total")

	coupon := models.Coupon{Code: "SAVE5", Discount: decimal.NewFromInt(5)}
	if err := f.db.Create(&coupon).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	cart, err = f.svc.ApplyCoupon(ctx, f.ownerID, "SAVE5")
	if err != nil {
		t.Fatalf("apply coupon: %v", err)
	}
	assertAmount(t, cart.TotalAmount, "26.00", "total")

	cart, err = f.svc.SetPaymentMethod(ctx, f.ownerID, enums.PaymentMethodCash)
	if err != nil {
		t.Fatalf("set payment: %v", err)
	}
	assertAmount(t, cart.TotalAmount, "29.00", "total")
}

// Single supplier, store pickup, cash: no shipping cost and no surcharge.
func TestSingleSupplierPickupScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	offer := f.seedOffer(t, "10.00", 10)
	cart, err := f.svc.AddItem(ctx, f.ownerID, offer.ID, 2)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	assertAmount(t, cart.SubtotalAmount, "20.00", "subtotal")

	cart, err = f.svc.SetShipping(ctx, f.ownerID, enums.ShippingMethodStorePickup, nil)
	if err != nil {
		t.Fatalf("set shipping: %v", err)
	}
	assertAmount(t, cart.ShippingCost, "0.00", "shipping")

	cart, err = f.svc.SetPaymentMethod(ctx, f.ownerID, enums.PaymentMethodCash)
	if err != nil {
		t.Fatalf("set payment: %v", err)
	}
	assertAmount(t, cart.TotalAmount, "20.00", "total")
}

// Delivery cost is re-derived from the live supplier count: removing the
// only item from one supplier shrinks the fee on the next recompute.
func TestDeliveryCostTracksSupplierCount(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	offerA := f.seedOffer(t, "10.00", 10)
	offerB := f.seedOffer(t, "5.00", 10)
	address := f.seedAddress(t)

	if _, err := f.svc.AddItem(ctx, f.ownerID, offerA.ID, 1); err != nil {
		t.Fatalf("add item a: %v", err)
	}
	cart, err := f.svc.AddItem(ctx, f.ownerID, offerB.ID, 1)
	if err != nil {
		t.Fatalf("add item b: %v", err)
	}
	if _, err := f.svc.SetShipping(ctx, f.ownerID, enums.ShippingMethodDelivery, &address.ID); err != nil {
		t.Fatalf("set shipping: %v", err)
	}

	var itemB uuid.UUID
	for _, item := range cart.Items {
		if item.OfferID == offerB.ID {
			itemB = item.ID
		}
	}
	after, err := f.svc.RemoveItem(ctx, f.ownerID, itemB)
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	assertAmount(t, after.ShippingCost, "3.00", "shipping")
	assertAmount(t, after.TotalAmount, "13.00", "total")
}
