package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/internal/cart"
	"github.com/agoralabs/mercado-backend/internal/catalog"
	"github.com/agoralabs/mercado-backend/internal/coupons"
	"github.com/agoralabs/mercado-backend/pkg/config"
	"github.com/agoralabs/mercado-backend/pkg/db/models"
	"github.com/agoralabs/mercado-backend/pkg/enums"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
	"github.com/agoralabs/mercado-backend/pkg/metrics"
	"github.com/agoralabs/mercado-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Result is the success half of a commit attempt. The failure half is a
// conflict error carrying the full []CommitIssue in its details.
type Result struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// OrderPlacedEvent is the outbox payload emitted when a cart becomes an
// order.
type OrderPlacedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	OwnerID     uuid.UUID       `json:"owner_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
}

// Service converts a cart into an order, atomically reserving stock.
type Service interface {
	PlaceOrder(ctx context.Context, ownerID, cartID uuid.UUID) (*Result, error)
}

type service struct {
	tx       txRunner
	cartRepo cart.CartRepository
	offers   catalog.OfferRepository
	coupons  coupons.Directory
	outbox   outboxPublisher
	metrics  *metrics.CheckoutMetrics

	commitTimeout time.Duration
	numberPrefix  string
}

// NewService builds the commit engine.
func NewService(
	tx txRunner,
	cartRepo cart.CartRepository,
	offers catalog.OfferRepository,
	couponDir coupons.Directory,
	publisher outboxPublisher,
	checkoutMetrics *metrics.CheckoutMetrics,
	cfg config.CheckoutConfig,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if cartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if offers == nil {
		return nil, fmt.Errorf("offer repository required")
	}
	if couponDir == nil {
		return nil, fmt.Errorf("coupon directory required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	timeout := cfg.CommitTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	prefix := strings.TrimSpace(cfg.OrderNumberPrefix)
	if prefix == "" {
		prefix = "MM"
	}
	return &service{
		tx:            tx,
		cartRepo:      cartRepo,
		offers:        offers,
		coupons:       couponDir,
		outbox:        publisher,
		metrics:       checkoutMetrics,
		commitTimeout: timeout,
		numberPrefix:  prefix,
	}, nil
}

// PlaceOrder runs the whole commit in one bounded transaction: re-validate
// every line against live stock and price, decrement conditionally, flip
// the status once, emit the outbox event. Any issue rolls the entire
// attempt back and leaves the cart mutable.
func (s *service) PlaceOrder(ctx context.Context, ownerID, cartID uuid.UUID) (*Result, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	if cartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()

	started := time.Now()
	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cartRepo := s.cartRepo.WithTx(tx)
		offers := s.offers.WithTx(tx)

		record, err := cartRepo.FindByIDForUpdate(ctx, cartID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if record.OwnerID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart must have an owner before checkout")
		}
		if *record.OwnerID != ownerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cart does not belong to user")
		}
		if record.IsFrozen() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart already placed")
		}
		if len(record.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
		}

		// Offers are visited in id order in both phases so two commits
		// touching the same offers cannot deadlock each other.
		items := make([]models.LineItem, len(record.Items))
		copy(items, record.Items)
		sort.Slice(items, func(i, j int) bool {
			return items[i].OfferID.String() < items[j].OfferID.String()
		})

		offerIDs := make([]uuid.UUID, len(items))
		for i, item := range items {
			offerIDs[i] = item.OfferID
		}
		current, err := offers.FindByIDs(ctx, offerIDs)
		if err != nil {
			return err
		}

		var issues []CommitIssue
		for _, item := range items {
			offer, ok := current[item.OfferID]
			if !ok {
				zero := 0
				issues = append(issues, CommitIssue{LineItemID: item.ID, Reason: IssueOutOfStock, Available: &zero})
				continue
			}
			if !offer.Price.Equal(item.PriceAtAdd) {
				issues = append(issues, CommitIssue{LineItemID: item.ID, Reason: IssuePriceChanged})
				continue
			}
			if item.Quantity > offer.AvailableQty {
				available := offer.AvailableQty
				issues = append(issues, CommitIssue{LineItemID: item.ID, Reason: IssueOutOfStock, Available: &available})
			}
		}
		if len(issues) > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "cart cannot be placed").WithDetails(issues)
		}

		for _, item := range items {
			ok, err := offers.DecrementStock(ctx, tx, item.OfferID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				// Lost a race since the pre-check; report with the stock
				// as it stands now. The rollback undoes earlier decrements.
				available := 0
				if offer, err := offers.FindByID(ctx, item.OfferID); err == nil {
					available = offer.AvailableQty
				}
				issue := CommitIssue{LineItemID: item.ID, Reason: IssueOutOfStock, Available: &available}
				return pkgerrors.New(pkgerrors.CodeConflict, "stock commit conflict").WithDetails([]CommitIssue{issue})
			}
		}

		orderNumber := s.newOrderNumber()
		flipped, err := cartRepo.MarkPlaced(ctx, cartID, orderNumber)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "place order")
		}
		if !flipped {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart already placed")
		}

		// The coupon was validated when applied; carts can sit around, so
		// the window and budget are checked once more under the commit lock.
		if record.CouponCode != nil {
			couponDir := s.coupons.WithTx(tx)
			if _, err := couponDir.FindUsableByCode(ctx, *record.CouponCode, time.Now().UTC()); err != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "coupon is no longer valid")
			}
			if err := couponDir.IncrementUsage(ctx, *record.CouponCode); err != nil {
				return err
			}
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateCartOrder,
			AggregateID:   record.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{OwnerID: ownerID},
			Data: OrderPlacedEvent{
				OrderID:     record.ID,
				OrderNumber: orderNumber,
				OwnerID:     ownerID,
				TotalAmount: record.TotalAmount,
				ItemCount:   len(record.Items),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result = &Result{
			OrderID:     record.ID,
			OrderNumber: orderNumber,
			TotalAmount: record.TotalAmount,
		}
		return nil
	})
	s.observe(started, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) observe(started time.Time, err error) {
	elapsed := time.Since(started)
	switch {
	case err == nil:
		s.metrics.IncPlaced()
		s.metrics.ObserveCommit("placed", elapsed)
	case pkgerrors.HasCode(err, pkgerrors.CodeConflict):
		for _, reason := range conflictReasons(err) {
			s.metrics.IncConflict(reason)
		}
		s.metrics.ObserveCommit("conflict", elapsed)
	default:
		s.metrics.ObserveCommit("rejected", elapsed)
	}
}

func conflictReasons(err error) []string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return nil
	}
	issues, ok := typed.Details().([]CommitIssue)
	if !ok || len(issues) == 0 {
		return []string{"unknown"}
	}
	seen := map[IssueReason]struct{}{}
	reasons := make([]string, 0, len(issues))
	for _, issue := range issues {
		if _, dup := seen[issue.Reason]; dup {
			continue
		}
		seen[issue.Reason] = struct{}{}
		reasons = append(reasons, string(issue.Reason))
	}
	return reasons
}

// newOrderNumber builds the human-readable identifier stamped on a placed
// order, e.g. MM-20260831-9F27C41A.
func (s *service) newOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("%s-%s-%s", s.numberPrefix, time.Now().UTC().Format("20060102"), suffix)
}
