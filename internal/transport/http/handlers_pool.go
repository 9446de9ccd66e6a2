package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"entpool/internal/pool"
	id "entpool/pkg/domain"
)

type PoolService interface {
	RefreshOwner(ctx context.Context, owner id.OwnerID) error
	ListPools(ctx context.Context, owner id.OwnerID, filter pool.ListFilter) ([]*pool.Pool, error)
	GetPool(ctx context.Context, poolID id.PoolID) (*pool.Pool, error)
}

type poolHandler struct {
	pools PoolService
}

func newPoolHandler(pools PoolService) *poolHandler {
	return &poolHandler{pools: pools}
}

func (h *poolHandler) register(r chi.Router) {
	r.Get("/owners/{owner}/pools", h.list)
	r.Get("/pools/{id}", h.get)
}

type poolResponse struct {
	ID               string            `json:"id"`
	Owner            string            `json:"owner"`
	Subscription     string            `json:"subscriptionId,omitempty"`
	Product          string            `json:"productId"`
	Quantity         int64             `json:"quantity"`
	Consumed         int64             `json:"consumed"`
	Unlimited        bool              `json:"unlimited"`
	Type             string            `json:"type"`
	ProvidedProducts []string          `json:"providedProducts,omitempty"`
	SubProduct       string            `json:"derivedProductId,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	StartDate        time.Time         `json:"startDate"`
	EndDate          time.Time         `json:"endDate"`
}

func toPoolResponse(p *pool.Pool) poolResponse {
	provided := make([]string, len(p.ProvidedProducts))
	for i, pp := range p.ProvidedProducts {
		provided[i] = pp.String()
	}
	resp := poolResponse{
		ID:               p.ID.String(),
		Owner:            p.Owner.String(),
		Product:          p.Product.String(),
		Quantity:         p.Quantity,
		Consumed:         p.Consumed,
		Unlimited:        p.Unlimited(),
		Type:             string(p.Type),
		ProvidedProducts: provided,
		SubProduct:       p.SubProduct.String(),
		Attributes:       map[string]string(p.Attributes),
		StartDate:        p.StartDate,
		EndDate:          p.EndDate,
	}
	if !p.Subscription.IsNil() {
		resp.Subscription = p.Subscription.String()
	}
	return resp
}

func (h *poolHandler) list(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter := pool.ListFilter{
		Product: id.ProductID(r.URL.Query().Get("product")),
		Type:    pool.Type(r.URL.Query().Get("type")),
	}
	pools, err := h.pools.ListPools(r.Context(), owner, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]poolResponse, len(pools))
	for i, p := range pools {
		out[i] = toPoolResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *poolHandler) get(w http.ResponseWriter, r *http.Request) {
	poolID, err := id.ParsePoolID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.pools.GetPool(r.Context(), poolID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolResponse(p))
}
