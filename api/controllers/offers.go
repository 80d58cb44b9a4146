package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/mercado-backend/api/responses"
	"github.com/agoralabs/mercado-backend/internal/catalog"
	"github.com/agoralabs/mercado-backend/pkg/db/models"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
	"github.com/agoralabs/mercado-backend/pkg/logger"
)

// OfferDetail exposes one catalog offer with its product and supplier.
func OfferDetail(repo catalog.OfferRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offer repository unavailable"))
			return
		}

		offerID, err := parseUUIDParam(r, "offerID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		offer, err := repo.FindByID(r.Context(), offerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOfferView(offer))
	}
}

type offerView struct {
	ID           uuid.UUID       `json:"id"`
	ProductID    uuid.UUID       `json:"product_id"`
	ProductName  string          `json:"product_name,omitempty"`
	SupplierID   uuid.UUID       `json:"supplier_id"`
	SupplierName string          `json:"supplier_name,omitempty"`
	Price        decimal.Decimal `json:"price"`
	AvailableQty int             `json:"available_qty"`
}

func newOfferView(offer *models.Offer) offerView {
	if offer == nil {
		return offerView{}
	}
	view := offerView{
		ID:           offer.ID,
		ProductID:    offer.ProductID,
		SupplierID:   offer.SupplierID,
		Price:        offer.Price,
		AvailableQty: offer.AvailableQty,
	}
	if offer.Product != nil {
		view.ProductName = offer.Product.Name
	}
	if offer.Supplier != nil {
		view.SupplierName = offer.Supplier.Name
	}
	return view
}
