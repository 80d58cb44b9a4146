package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/pkg/db/models"
	"github.com/agoralabs/mercado-backend/pkg/enums"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
	"github.com/agoralabs/mercado-backend/pkg/outbox"
	"github.com/agoralabs/mercado-backend/pkg/pagination"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fixture struct {
	db  *gorm.DB
	svc Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.CartOrder{}, &models.LineItem{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := NewService(
		NewRepository(db),
		testTxRunner{db: db},
		outbox.NewService(outbox.NewRepository(db), nil),
	)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return &fixture{db: db, svc: svc}
}

func (f *fixture) seedOrder(t *testing.T, ownerID uuid.UUID, status enums.OrderStatus) models.CartOrder {
	t.Helper()
	owner := ownerID
	number := "MM-20260831-" + uuid.NewString()[:8]
	placedAt := time.Now().UTC()
	order := models.CartOrder{
		OwnerID:        &owner,
		Status:         status,
		OrderNumber:    &number,
		SubtotalAmount: decimal.NewFromInt(20),
		TotalAmount:    decimal.NewFromInt(20),
		PlacedAt:       &placedAt,
	}
	if err := f.db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func TestAdvanceStatusForward(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, uuid.New(), enums.OrderStatusOrdered)

	updated, err := f.svc.AdvanceStatus(ctx, order.ID, enums.OrderStatusShipped)
	if err != nil {
		t.Fatalf("advance to shipped: %v", err)
	}
	if updated.Status != enums.OrderStatusShipped {
		t.Fatalf("status = %s, want shipped", updated.Status)
	}

	_, err = f.svc.AdvanceStatus(ctx, order.ID, enums.OrderStatusReviewed)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict moving backward, got %v", err)
	}

	if _, err := f.svc.AdvanceStatus(ctx, order.ID, enums.OrderStatusCompleted); err != nil {
		t.Fatalf("advance to completed: %v", err)
	}
	_, err = f.svc.AdvanceStatus(ctx, order.ID, enums.OrderStatusShipped)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict after completion, got %v", err)
	}

	var events int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventOrderStatusChanged).
		Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 2 {
		t.Fatalf("status events = %d, want 2", events)
	}
}

// The rule is strictly-greater rank, not immediate successor: jumping from
// ordered straight to completed is valid.
func TestAdvanceStatusAllowsSkippingStates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, uuid.New(), enums.OrderStatusOrdered)

	updated, err := f.svc.AdvanceStatus(context.Background(), order.ID, enums.OrderStatusCompleted)
	if err != nil {
		t.Fatalf("skip-ahead transition: %v", err)
	}
	if updated.Status != enums.OrderStatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
}

func TestAdvanceStatusRejectsSameState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, uuid.New(), enums.OrderStatusReviewed)

	_, err := f.svc.AdvanceStatus(context.Background(), order.ID, enums.OrderStatusReviewed)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for same state, got %v", err)
	}
}

func TestAdvanceStatusNeverTouchesCarts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	owner := uuid.New()
	cart := models.CartOrder{OwnerID: &owner, Status: enums.OrderStatusCart}
	if err := f.db.Create(&cart).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	_, err := f.svc.AdvanceStatus(context.Background(), cart.ID, enums.OrderStatusShipped)
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not-found for cart-status aggregate, got %v", err)
	}
}

func TestAdvanceStatusLeavesMoneyUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, uuid.New(), enums.OrderStatusOrdered)

	if _, err := f.svc.AdvanceStatus(context.Background(), order.ID, enums.OrderStatusReviewed); err != nil {
		t.Fatalf("advance: %v", err)
	}
	var reloaded models.CartOrder
	if err := f.db.First(&reloaded, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.TotalAmount.Equal(order.TotalAmount) || !reloaded.SubtotalAmount.Equal(order.SubtotalAmount) {
		t.Fatal("monetary fields changed during status transition")
	}
}

func TestListByOwnerPagination(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	for i := 0; i < 3; i++ {
		f.seedOrder(t, owner, enums.OrderStatusOrdered)
		time.Sleep(5 * time.Millisecond)
	}
	// A cart and a stranger's order must stay out of the listing.
	cartOwner := owner
	if err := f.db.Create(&models.CartOrder{OwnerID: &cartOwner, Status: enums.OrderStatusCart}).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	f.seedOrder(t, uuid.New(), enums.OrderStatusOrdered)

	first, err := f.svc.ListByOwner(ctx, owner, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.Orders) != 2 {
		t.Fatalf("first page = %d orders, want 2", len(first.Orders))
	}
	if first.NextCursor == "" {
		t.Fatal("expected next cursor")
	}

	second, err := f.svc.ListByOwner(ctx, owner, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Orders) != 1 {
		t.Fatalf("second page = %d orders, want 1", len(second.Orders))
	}
	if second.NextCursor != "" {
		t.Fatal("expected no cursor on last page")
	}
}

func TestGetByIDAndOwner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	order := f.seedOrder(t, owner, enums.OrderStatusOrdered)

	found, err := f.svc.GetByIDAndOwner(ctx, order.ID, owner)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if found.ID != order.ID {
		t.Fatalf("order id = %s, want %s", found.ID, order.ID)
	}

	_, err = f.svc.GetByIDAndOwner(ctx, order.ID, uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not-found for foreign owner, got %v", err)
	}
}
