package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/pkg/db/models"
	"github.com/agoralabs/mercado-backend/pkg/enums"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
	"github.com/agoralabs/mercado-backend/pkg/outbox"
	"github.com/agoralabs/mercado-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OrderList is a page of an owner's placed orders.
type OrderList struct {
	Orders     []models.CartOrder `json:"orders"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// StatusChangedEvent is the outbox payload emitted when fulfillment
// advances.
type StatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	FromStatus enums.OrderStatus `json:"from_status"`
	ToStatus   enums.OrderStatus `json:"to_status"`
}

// Service drives the forward-only fulfillment progression and order reads.
type Service interface {
	AdvanceStatus(ctx context.Context, orderID uuid.UUID, newStatus enums.OrderStatus) (*models.CartOrder, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (*OrderList, error)
	GetByIDAndOwner(ctx context.Context, orderID, ownerID uuid.UUID) (*models.CartOrder, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: publisher}, nil
}

// AdvanceStatus moves a placed order strictly forward along
// cart < ordered < reviewed < shipped < completed. Skipping intermediate
// states is allowed; moving backward or standing still is not, and a
// completed order admits no transition at all.
func (s *service) AdvanceStatus(ctx context.Context, orderID uuid.UUID, newStatus enums.OrderStatus) (*models.CartOrder, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !newStatus.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	var updated *models.CartOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindPlacedByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already completed")
		}
		if newStatus.Rank() <= order.Status.Rank() {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "invalid status transition from %s to %s", order.Status, newStatus)
		}

		if err := repo.UpdateStatus(ctx, order.ID, newStatus); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateCartOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: StatusChangedEvent{
				OrderID:    order.ID,
				FromStatus: order.Status,
				ToStatus:   newStatus,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		order.Status = newStatus
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListByOwner returns a cursor page of the owner's placed orders.
func (s *service) ListByOwner(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	orders, next, err := s.repo.ListByOwner(ctx, ownerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	list := &OrderList{Orders: orders}
	if next != nil {
		list.NextCursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

// GetByIDAndOwner loads one placed order scoped to its owner.
func (s *service) GetByIDAndOwner(ctx context.Context, orderID, ownerID uuid.UUID) (*models.CartOrder, error) {
	if orderID == uuid.Nil || ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and owner id are required")
	}
	order, err := s.repo.FindPlacedByIDAndOwner(ctx, orderID, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
