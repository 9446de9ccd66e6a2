package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"entpool/internal/consumer"
	"entpool/internal/entitlement"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
)

type ConsumerService interface {
	Register(ctx context.Context, c *consumer.Consumer) (*consumer.Consumer, error)
	Get(ctx context.Context, consumerID id.ConsumerID) (*consumer.Consumer, error)
	Update(ctx context.Context, req consumer.UpdateRequest) (*consumer.Consumer, bool, error)
}

type Unregistrar interface {
	OnConsumerUnregistered(ctx context.Context, consumerID id.ConsumerID) error
}

type consumerHandler struct {
	consumers   ConsumerService
	unregistrar Unregistrar
	ledger      LedgerService
}

func newConsumerHandler(consumers ConsumerService, unregistrar Unregistrar, ledger LedgerService) *consumerHandler {
	return &consumerHandler{consumers: consumers, unregistrar: unregistrar, ledger: ledger}
}

func (h *consumerHandler) register(r chi.Router) {
	r.Route("/consumers", func(r chi.Router) {
		r.Post("/", h.registerConsumer)
		r.Get("/{uuid}", h.get)
		r.Put("/{uuid}", h.update)
		r.Delete("/{uuid}", h.unregister)
		r.Post("/{uuid}/entitlements", h.bind)
		r.Get("/{uuid}/entitlements", h.listEntitlements)
	})
}

type registerConsumerRequest struct {
	Owner             string            `json:"owner"`
	Type              string            `json:"type"`
	Name              string            `json:"name"`
	Username          string            `json:"username,omitempty"`
	Facts             map[string]string `json:"facts,omitempty"`
	InstalledProducts []string          `json:"installedProducts,omitempty"`
	GuestIDs          []string          `json:"guestIds,omitempty"`
}

type updateConsumerRequest struct {
	Name              *string           `json:"name,omitempty"`
	Facts             map[string]string `json:"facts,omitempty"`
	InstalledProducts []string          `json:"installedProducts,omitempty"`
	GuestIDs          []string          `json:"guestIds,omitempty"`
}

type consumerResponse struct {
	ID                string            `json:"uuid"`
	Owner             string            `json:"owner"`
	Type              string            `json:"type"`
	Name              string            `json:"name"`
	Username          string            `json:"username,omitempty"`
	Facts             map[string]string `json:"facts,omitempty"`
	InstalledProducts []string          `json:"installedProducts,omitempty"`
	GuestIDs          []string          `json:"guestIds,omitempty"`
	UpdatedAt         string            `json:"updatedAt"`
}

func toConsumerResponse(c *consumer.Consumer) consumerResponse {
	installed := make([]string, len(c.InstalledProducts))
	for i, p := range c.InstalledProducts {
		installed[i] = p.String()
	}
	return consumerResponse{
		ID:                c.ID.String(),
		Owner:             c.Owner.String(),
		Type:              string(c.Type),
		Name:              c.Name,
		Username:          c.Username,
		Facts:             c.Facts,
		InstalledProducts: installed,
		GuestIDs:          c.GuestIDs,
		UpdatedAt:         c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func consumerParam(r *http.Request) (id.ConsumerID, error) {
	return id.ParseConsumerID(chi.URLParam(r, "uuid"))
}

func (h *consumerHandler) registerConsumer(w http.ResponseWriter, r *http.Request) {
	var req registerConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	owner, err := id.ParseOwnerID(req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}

	installed := make([]id.ProductID, len(req.InstalledProducts))
	for i, p := range req.InstalledProducts {
		installed[i] = id.ProductID(p)
	}
	c, err := h.consumers.Register(r.Context(), &consumer.Consumer{
		Owner:             owner,
		Type:              consumer.Type(req.Type),
		Name:              req.Name,
		Username:          req.Username,
		Facts:             req.Facts,
		InstalledProducts: installed,
		GuestIDs:          req.GuestIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConsumerResponse(c))
}

func (h *consumerHandler) get(w http.ResponseWriter, r *http.Request) {
	consumerID, err := consumerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := h.consumers.Get(r.Context(), consumerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsumerResponse(c))
}

func (h *consumerHandler) update(w http.ResponseWriter, r *http.Request) {
	consumerID, err := consumerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	var installed []id.ProductID
	if req.InstalledProducts != nil {
		installed = make([]id.ProductID, len(req.InstalledProducts))
		for i, p := range req.InstalledProducts {
			installed[i] = id.ProductID(p)
		}
	}
	c, _, err := h.consumers.Update(r.Context(), consumer.UpdateRequest{
		ID:                consumerID,
		Name:              req.Name,
		Facts:             req.Facts,
		InstalledProducts: installed,
		GuestIDs:          req.GuestIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsumerResponse(c))
}

func (h *consumerHandler) unregister(w http.ResponseWriter, r *http.Request) {
	consumerID, err := consumerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.unregistrar.OnConsumerUnregistered(r.Context(), consumerID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bindRequest struct {
	Pool     string `json:"pool,omitempty"`
	Product  string `json:"product,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
}

func (h *consumerHandler) bind(w http.ResponseWriter, r *http.Request) {
	consumerID, err := consumerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	var ent *entitlement.Entitlement
	switch {
	case req.Pool != "":
		poolID, err := id.ParsePoolID(req.Pool)
		if err != nil {
			writeError(w, err)
			return
		}
		ent, err = h.ledger.Bind(r.Context(), entitlement.BindRequest{
			Consumer: consumerID,
			Pool:     poolID,
			Quantity: req.Quantity,
		})
		if err != nil {
			writeError(w, err)
			return
		}
	case req.Product != "":
		ent, err = h.ledger.BindProduct(r.Context(), consumerID, id.ProductID(req.Product), req.Quantity)
		if err != nil {
			writeError(w, err)
			return
		}
	default:
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "bind requires a pool or a product"))
		return
	}
	writeJSON(w, http.StatusCreated, toEntitlementResponse(ent))
}

func (h *consumerHandler) listEntitlements(w http.ResponseWriter, r *http.Request) {
	consumerID, err := consumerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ents, err := h.ledger.ListByConsumer(r.Context(), consumerID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]entitlementResponse, len(ents))
	for i, ent := range ents {
		out[i] = toEntitlementResponse(ent)
	}
	writeJSON(w, http.StatusOK, out)
}
