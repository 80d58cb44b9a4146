package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/internal/catalog"
	"github.com/agoralabs/mercado-backend/pkg/db/models"
	pkgerrors "github.com/agoralabs/mercado-backend/pkg/errors"
)

type stubOfferRepo struct {
	offer *models.Offer
	err   error
}

func (s *stubOfferRepo) WithTx(tx *gorm.DB) catalog.OfferRepository { return s }

func (s *stubOfferRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	return s.offer, s.err
}

func (s *stubOfferRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Offer, error) {
	return nil, s.err
}

func (s *stubOfferRepo) DecrementStock(ctx context.Context, tx *gorm.DB, offerID uuid.UUID, qty int) (bool, error) {
	return false, s.err
}

func TestOfferDetailSuccess(t *testing.T) {
	offer := &models.Offer{
		ID:           uuid.New(),
		ProductID:    uuid.New(),
		SupplierID:   uuid.New(),
		Price:        decimal.RequireFromString("4.50"),
		AvailableQty: 7,
		Product:      &models.Product{Name: "Olive Oil 1L"},
		Supplier:     &models.Supplier{Name: "Andalus Farms"},
	}
	handler := OfferDetail(&stubOfferRepo{offer: offer}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/offers/"+offer.ID.String(), nil)
	req = withURLParam(req, "offerID", offer.ID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data offerView `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.ProductName != "Olive Oil 1L" {
		t.Fatalf("expected product name, got %q", envelope.Data.ProductName)
	}
	if envelope.Data.AvailableQty != 7 {
		t.Fatalf("expected qty 7 got %d", envelope.Data.AvailableQty)
	}
}

func TestOfferDetailNotFound(t *testing.T) {
	handler := OfferDetail(&stubOfferRepo{err: pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")}, nil)

	offerID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/offers/"+offerID.String(), nil)
	req = withURLParam(req, "offerID", offerID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
