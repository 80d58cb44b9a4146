package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/agoralabs/mercado-backend/api/responses"
	"github.com/agoralabs/mercado-backend/api/validators"
	checkoutsvc "github.com/agoralabs/mercado-backend/internal/checkout"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
	"github.com/agoralabs/mercado-backend/pkg/logger"
)

// Checkout handles submission of the owner's cart through the commit engine.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.PlaceOrder(r.Context(), ownerID, payload.CartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type checkoutRequest struct {
	CartID uuid.UUID `json:"cart_id" validate:"required"`
}
