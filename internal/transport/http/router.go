// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services without embedding business logic so transport concerns remain
// isolated.
package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dErrors "entpool/pkg/domain-errors"
)

// Services bundles the domain surface the router exposes.
type Services struct {
	Subscriptions SubscriptionService
	Pools         PoolService
	Ledger        LedgerService
	Consumers     ConsumerService
	Unregistrar   Unregistrar
	Imports       ImportService
	Serials       SerialService
	Catalog       CatalogService
}

// NewRouter wires all public endpoints.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	newSubscriptionHandler(svc.Subscriptions, svc.Pools, svc.Imports).register(r)
	newPoolHandler(svc.Pools).register(r)
	newConsumerHandler(svc.Consumers, svc.Unregistrar, svc.Ledger).register(r)
	newEntitlementHandler(svc.Ledger, svc.Serials).register(r)
	newCatalogHandler(svc.Catalog).register(r)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError centralizes domain error translation so every handler produces
// the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := dErrors.ToHTTPStatus(dErrors.CodeOf(err))
	writeJSON(w, status, map[string]string{
		"error":   string(dErrors.CodeOf(err)),
		"message": err.Error(),
	})
}
