package httptransport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"entpool/internal/entitlement"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
	"entpool/pkg/platform/sentinel"
)

type LedgerService interface {
	Bind(ctx context.Context, req entitlement.BindRequest) (*entitlement.Entitlement, error)
	BindProduct(ctx context.Context, consumerID id.ConsumerID, productID id.ProductID, qty int64) (*entitlement.Entitlement, error)
	Unbind(ctx context.Context, entID id.EntitlementID) error
	Get(ctx context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error)
	ListByConsumer(ctx context.Context, consumerID id.ConsumerID) ([]*entitlement.Entitlement, error)
}

type SerialService interface {
	Get(ctx context.Context, serial id.SerialID) (entitlement.SerialStatus, error)
}

type entitlementHandler struct {
	ledger  LedgerService
	serials SerialService
}

func newEntitlementHandler(ledger LedgerService, serials SerialService) *entitlementHandler {
	return &entitlementHandler{ledger: ledger, serials: serials}
}

func (h *entitlementHandler) register(r chi.Router) {
	r.Get("/entitlements/{id}", h.get)
	r.Delete("/entitlements/{id}", h.unbind)
	r.Get("/serials/{serial}", h.getSerial)
}

type certificateResponse struct {
	Serial  int64  `json:"serial"`
	Revoked bool   `json:"revoked"`
	Cert    string `json:"cert"`
}

type entitlementResponse struct {
	ID           string                `json:"id"`
	Pool         string                `json:"poolId"`
	Consumer     string                `json:"consumerUuid"`
	Quantity     int64                 `json:"quantity"`
	Certificates []certificateResponse `json:"certificates"`
	CreatedAt    time.Time             `json:"createdAt"`
}

func toEntitlementResponse(ent *entitlement.Entitlement) entitlementResponse {
	certs := make([]certificateResponse, len(ent.Certificates))
	for i, c := range ent.Certificates {
		certs[i] = certificateResponse{
			Serial:  int64(c.Serial),
			Revoked: c.Revoked,
			Cert:    string(c.CertBytes),
		}
	}
	return entitlementResponse{
		ID:           ent.ID.String(),
		Pool:         ent.Pool.String(),
		Consumer:     ent.Consumer.String(),
		Quantity:     ent.Quantity,
		Certificates: certs,
		CreatedAt:    ent.CreatedAt,
	}
}

func (h *entitlementHandler) get(w http.ResponseWriter, r *http.Request) {
	entID, err := id.ParseEntitlementID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	ent, err := h.ledger.Get(r.Context(), entID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementResponse(ent))
}

func (h *entitlementHandler) unbind(w http.ResponseWriter, r *http.Request) {
	entID, err := id.ParseEntitlementID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.ledger.Unbind(r.Context(), entID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type serialResponse struct {
	Serial   int64     `json:"serial"`
	Revoked  bool      `json:"revoked"`
	IssuedAt time.Time `json:"issuedAt"`
}

func (h *entitlementHandler) getSerial(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "serial")
	serial, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || serial <= 0 {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed serial"))
		return
	}
	status, err := h.serials.Get(r.Context(), id.SerialID(serial))
	if err != nil {
		writeError(w, translateSerialLookup(err))
		return
	}
	writeJSON(w, http.StatusOK, serialResponse{
		Serial:   int64(status.Serial),
		Revoked:  status.Revoked,
		IssuedAt: status.IssuedAt,
	})
}

func translateSerialLookup(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "serial not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load serial")
}
