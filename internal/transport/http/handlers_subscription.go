package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"entpool/internal/manifest"
	"entpool/internal/subscription"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
)

type SubscriptionService interface {
	Create(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, error)
	List(ctx context.Context, owner id.OwnerID) ([]*subscription.Subscription, error)
	Delete(ctx context.Context, subID id.SubscriptionID) error
}

type ImportService interface {
	Import(ctx context.Context, owner id.OwnerID, raw []byte, force ...manifest.ForceFlag) (*manifest.ImportRecord, error)
	ListRecords(ctx context.Context, owner id.OwnerID) ([]*manifest.ImportRecord, error)
}

type subscriptionHandler struct {
	subs    SubscriptionService
	pools   PoolService
	imports ImportService
}

func newSubscriptionHandler(subs SubscriptionService, pools PoolService, imports ImportService) *subscriptionHandler {
	return &subscriptionHandler{subs: subs, pools: pools, imports: imports}
}

func (h *subscriptionHandler) register(r chi.Router) {
	r.Route("/owners/{owner}", func(r chi.Router) {
		r.Post("/subscriptions", h.create)
		r.Get("/subscriptions", h.list)
		r.Delete("/subscriptions/{id}", h.delete)
		r.Post("/subscriptions/refresh", h.refresh)
		r.Post("/imports", h.importManifest)
		r.Get("/imports", h.listImports)
	})
}

type createSubscriptionRequest struct {
	Product          string    `json:"productId"`
	Quantity         int64     `json:"quantity"`
	ProvidedProducts []string  `json:"providedProducts,omitempty"`
	ContractNumber   string    `json:"contractNumber,omitempty"`
	AccountNumber    string    `json:"accountNumber,omitempty"`
	OrderNumber      string    `json:"orderNumber,omitempty"`
	StartDate        time.Time `json:"startDate"`
	EndDate          time.Time `json:"endDate"`
}

type subscriptionResponse struct {
	ID                    string    `json:"id"`
	Owner                 string    `json:"owner"`
	Product               string    `json:"productId"`
	Quantity              int64     `json:"quantity"`
	StartDate             time.Time `json:"startDate"`
	EndDate               time.Time `json:"endDate"`
	UpstreamEntitlementID string    `json:"upstreamEntitlementId,omitempty"`
}

func toSubscriptionResponse(sub *subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                    sub.ID.String(),
		Owner:                 sub.Owner.String(),
		Product:               sub.Product.String(),
		Quantity:              sub.Quantity,
		StartDate:             sub.StartDate,
		EndDate:               sub.EndDate,
		UpstreamEntitlementID: sub.UpstreamEntitlementID,
	}
}

func ownerParam(r *http.Request) (id.OwnerID, error) {
	return id.ParseOwnerID(chi.URLParam(r, "owner"))
}

func (h *subscriptionHandler) create(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	provided := make([]id.ProductID, len(req.ProvidedProducts))
	for i, p := range req.ProvidedProducts {
		provided[i] = id.ProductID(p)
	}
	sub, err := h.subs.Create(r.Context(), &subscription.Subscription{
		Owner:            owner,
		Product:          id.ProductID(req.Product),
		Quantity:         req.Quantity,
		ProvidedProducts: provided,
		ContractNumber:   req.ContractNumber,
		AccountNumber:    req.AccountNumber,
		OrderNumber:      req.OrderNumber,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

func (h *subscriptionHandler) list(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	subs, err := h.subs.List(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]subscriptionResponse, len(subs))
	for i, sub := range subs {
		out[i] = toSubscriptionResponse(sub)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *subscriptionHandler) delete(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.subs.Delete(r.Context(), subID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *subscriptionHandler) refresh(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.pools.RefreshOwner(r.Context(), owner); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importRecordResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Origin    string    `json:"origin,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toImportRecordResponse(rec *manifest.ImportRecord) importRecordResponse {
	return importRecordResponse{
		ID:        rec.ID.String(),
		Status:    string(rec.Status),
		Message:   rec.Message,
		Origin:    rec.Origin,
		CreatedAt: rec.CreatedAt,
	}
}

func (h *subscriptionHandler) importManifest(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "unreadable request body"))
		return
	}

	var force []manifest.ForceFlag
	for _, f := range r.URL.Query()["force"] {
		force = append(force, manifest.ForceFlag(f))
	}

	rec, err := h.imports.Import(r.Context(), owner, raw, force...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toImportRecordResponse(rec))
}

func (h *subscriptionHandler) listImports(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	recs, err := h.imports.ListRecords(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]importRecordResponse, len(recs))
	for i, rec := range recs {
		out[i] = toImportRecordResponse(rec)
	}
	writeJSON(w, http.StatusOK, out)
}
