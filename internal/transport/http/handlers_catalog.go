package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"entpool/internal/catalog"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
	"entpool/pkg/platform/sentinel"
)

type CatalogService interface {
	Upsert(ctx context.Context, p *catalog.Product) error
	GetProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error)
}

type catalogHandler struct {
	catalog CatalogService
}

func newCatalogHandler(cat CatalogService) *catalogHandler {
	return &catalogHandler{catalog: cat}
}

func (h *catalogHandler) register(r chi.Router) {
	r.Put("/products/{id}", h.upsert)
	r.Get("/products/{id}", h.get)
}

type productRequest struct {
	Name             string            `json:"name,omitempty"`
	Multiplier       int64             `json:"multiplier,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	ProvidedProducts []string          `json:"providedProducts,omitempty"`
}

type productResponse struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Multiplier       int64             `json:"multiplier"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	ProvidedProducts []string          `json:"providedProducts,omitempty"`
}

func (h *catalogHandler) upsert(w http.ResponseWriter, r *http.Request) {
	productID := id.ProductID(chi.URLParam(r, "id"))
	if productID == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "product id cannot be empty"))
		return
	}
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	provided := make([]id.ProductID, len(req.ProvidedProducts))
	for i, p := range req.ProvidedProducts {
		provided[i] = id.ProductID(p)
	}
	err := h.catalog.Upsert(r.Context(), &catalog.Product{
		ID:               productID,
		Name:             req.Name,
		Multiplier:       req.Multiplier,
		Attributes:       catalog.Attributes(req.Attributes),
		ProvidedProducts: provided,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *catalogHandler) get(w http.ResponseWriter, r *http.Request) {
	productID := id.ProductID(chi.URLParam(r, "id"))
	p, err := h.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		writeError(w, translateProductLookup(err))
		return
	}
	provided := make([]string, len(p.ProvidedProducts))
	for i, pp := range p.ProvidedProducts {
		provided[i] = pp.String()
	}
	writeJSON(w, http.StatusOK, productResponse{
		ID:               p.ID.String(),
		Name:             p.Name,
		Multiplier:       p.Multiplier,
		Attributes:       map[string]string(p.Attributes),
		ProvidedProducts: provided,
	})
}

func translateProductLookup(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "product not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load product")
}
