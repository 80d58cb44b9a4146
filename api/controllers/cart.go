package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/mercado-backend/api/middleware"
	"github.com/agoralabs/mercado-backend/api/responses"
	"github.com/agoralabs/mercado-backend/api/validators"
	cartsvc "github.com/agoralabs/mercado-backend/internal/cart"
	"github.com/agoralabs/mercado-backend/pkg/db/models"
	"github.com/agoralabs/mercado-backend/pkg/enums"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
	"github.com/agoralabs/mercado-backend/pkg/logger"
)

// CartFetch exposes the owner's active cart with its supplier grouping.
func CartFetch(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.GetActiveCart(r.Context(), ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(record))
	}
}

// CartAddItem adds or overwrites one offer line on the active cart.
func CartAddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.AddItem(r.Context(), ownerID, payload.OfferID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCartView(record))
	}
}

// CartUpdateItem changes the quantity on one line item.
func CartUpdateItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lineItemID, err := parseUUIDParam(r, "lineItemID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.UpdateQuantity(r.Context(), ownerID, lineItemID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(record))
	}
}

// CartRemoveItem deletes one line item from the active cart.
func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lineItemID, err := parseUUIDParam(r, "lineItemID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.RemoveItem(r.Context(), ownerID, lineItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(record))
	}
}

// CartApplyCoupon validates and attaches a coupon code to the active cart.
func CartApplyCoupon(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload couponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.ApplyCoupon(r.Context(), ownerID, payload.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(record))
	}
}

// CartSetShipping selects the shipping method, with a delivery address when required.
func CartSetShipping(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload shippingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParseShippingMethod(payload.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping method"))
			return
		}

		record, err := svc.SetShipping(r.Context(), ownerID, method, payload.AddressID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(record))
	}
}

// CartSetPayment selects the payment method.
func CartSetPayment(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		record, err := svc.SetPaymentMethod(r.Context(), ownerID, method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(record))
	}
}

// CartSetContact attaches an owned contact phone to the active cart.
func CartSetContact(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload contactRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.SetContact(r.Context(), ownerID, payload.PhoneID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(record))
	}
}

// CartSetVat stores the invoicing details on the active cart.
func CartSetVat(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload vatRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.SetVat(r.Context(), ownerID, payload.VATNumber, payload.BusinessName)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(record))
	}
}

type addItemRequest struct {
	OfferID  uuid.UUID `json:"offer_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,min=1"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type couponRequest struct {
	Code string `json:"code" validate:"required"`
}

type shippingRequest struct {
	Method    string     `json:"method" validate:"required"`
	AddressID *uuid.UUID `json:"address_id,omitempty"`
}

type paymentRequest struct {
	Method string `json:"method" validate:"required"`
}

type contactRequest struct {
	PhoneID uuid.UUID `json:"phone_id" validate:"required"`
}

type vatRequest struct {
	VATNumber    string `json:"vat_number" validate:"required"`
	BusinessName string `json:"business_name" validate:"required"`
}

type cartView struct {
	ID             uuid.UUID           `json:"id"`
	Status         string              `json:"status"`
	ShippingMethod *string             `json:"shipping_method,omitempty"`
	PaymentMethod  *string             `json:"payment_method,omitempty"`
	CouponCode     *string             `json:"coupon_code,omitempty"`
	CouponDiscount decimal.Decimal     `json:"coupon_discount"`
	VATNumber      *string             `json:"vat_number,omitempty"`
	BusinessName   *string             `json:"business_name,omitempty"`
	Subtotal       decimal.Decimal     `json:"subtotal"`
	ShippingCost   decimal.Decimal     `json:"shipping_cost"`
	Total          decimal.Decimal     `json:"total"`
	SupplierGroups []supplierGroupView `json:"supplier_groups"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type supplierGroupView struct {
	SupplierID uuid.UUID       `json:"supplier_id"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Items      []lineItemView  `json:"items"`
}

type lineItemView struct {
	ID         uuid.UUID       `json:"id"`
	OfferID    uuid.UUID       `json:"offer_id"`
	SupplierID uuid.UUID       `json:"supplier_id"`
	Quantity   int             `json:"quantity"`
	PriceAtAdd decimal.Decimal `json:"price_at_add"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

func newCartView(record *models.CartOrder) cartView {
	if record == nil {
		return cartView{}
	}

	groups := cartsvc.GroupBySupplier(record.Items)
	groupViews := make([]supplierGroupView, 0, len(groups))
	for _, group := range groups {
		items := make([]lineItemView, 0, len(group.Items))
		for _, item := range group.Items {
			items = append(items, lineItemView{
				ID:         item.ID,
				OfferID:    item.OfferID,
				SupplierID: item.SupplierID,
				Quantity:   item.Quantity,
				PriceAtAdd: item.PriceAtAdd,
				LineTotal:  item.LineTotal(),
			})
		}
		groupViews = append(groupViews, supplierGroupView{
			SupplierID: group.SupplierID,
			Subtotal:   group.Subtotal,
			Items:      items,
		})
	}

	view := cartView{
		ID:             record.ID,
		Status:         string(record.Status),
		CouponCode:     record.CouponCode,
		CouponDiscount: record.CouponDiscount,
		VATNumber:      record.VATNumber,
		BusinessName:   record.BusinessName,
		Subtotal:       record.SubtotalAmount,
		ShippingCost:   record.ShippingCost,
		Total:          record.TotalAmount,
		SupplierGroups: groupViews,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
	if record.ShippingMethod != nil {
		method := string(*record.ShippingMethod)
		view.ShippingMethod = &method
	}
	if record.PaymentMethod != nil {
		method := string(*record.PaymentMethod)
		view.PaymentMethod = &method
	}
	return view
}

func ownerIDFromContext(r *http.Request) (uuid.UUID, error) {
	if r == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner context missing")
	}
	raw := middleware.OwnerIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner context missing")
	}
	ownerID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid owner id")
	}
	return ownerID, nil
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%s is required", name)
	}
	value, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return value, nil
}
