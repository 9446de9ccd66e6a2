package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entpool/internal/catalog"
	"entpool/internal/consumer"
	"entpool/internal/entitlement"
	"entpool/internal/events"
	"entpool/internal/manifest"
	"entpool/internal/pool"
	"entpool/internal/revocation"
	"entpool/internal/subscription"
	id "entpool/pkg/domain"
	"entpool/pkg/testutil"
)

type testServer struct {
	srv     *httptest.Server
	catalog *catalog.InMemoryStore
	owner   id.OwnerID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	subStore := subscription.NewInMemoryStore()
	poolStore := pool.NewInMemoryStore()
	entStore := entitlement.NewInMemoryStore()
	consumerStore := consumer.NewInMemoryStore()
	catalogStore := catalog.NewInMemoryStore()
	serialStore := entitlement.NewInMemorySerialStore()
	recordStore := manifest.NewInMemoryRecordStore()
	bus := events.NewRecorder()

	ca := entitlement.NewSigningAuthority([]byte("test-signing-key"), serialStore)
	coordinator, err := revocation.New(entStore, poolStore, consumerStore, ca, bus)
	require.NoError(t, err)
	engine, err := pool.New(poolStore, subStore, catalogStore, coordinator, bus)
	require.NoError(t, err)
	ledger, err := entitlement.New(entStore, poolStore, consumerStore, catalogStore, ca, engine, coordinator, bus)
	require.NoError(t, err)
	consumers, err := consumer.New(consumerStore, bus)
	require.NoError(t, err)
	subs, err := subscription.NewService(subStore, engine, coordinator)
	require.NoError(t, err)
	reconciler, err := manifest.New(subStore, engine, coordinator, recordStore)
	require.NoError(t, err)

	router := NewRouter(Services{
		Subscriptions: subs,
		Pools:         engine,
		Ledger:        ledger,
		Consumers:     consumers,
		Unregistrar:   coordinator,
		Imports:       reconciler,
		Serials:       serialStore,
		Catalog:       catalogStore,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, catalog: catalogStore, owner: id.NewOwnerID()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func decodeInto(t *testing.T, raw []byte, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func (ts *testServer) createSubscription(t *testing.T, product string, qty int64) {
	t.Helper()
	start := time.Now().UTC()
	resp, _ := ts.do(t, http.MethodPost, "/owners/"+ts.owner.String()+"/subscriptions", map[string]any{
		"productId": product,
		"quantity":  qty,
		"startDate": start,
		"endDate":   start.AddDate(1, 0, 0),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (ts *testServer) listPools(t *testing.T) []poolResponse {
	t.Helper()
	resp, raw := ts.do(t, http.MethodGet, "/owners/"+ts.owner.String()+"/pools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pools []poolResponse
	decodeInto(t, raw, &pools)
	return pools
}

func (ts *testServer) registerConsumer(t *testing.T, name string) consumerResponse {
	t.Helper()
	resp, raw := ts.do(t, http.MethodPost, "/consumers", map[string]any{
		"owner": ts.owner.String(),
		"type":  "system",
		"name":  name,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var c consumerResponse
	decodeInto(t, raw, &c)
	return c
}

func TestBindUnbindOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.catalog.Upsert(context.Background(), &catalog.Product{ID: "monitoring"}))

	ts.createSubscription(t, "monitoring", 4)
	pools := ts.listPools(t)
	require.Len(t, pools, 1)
	assert.Equal(t, int64(4), pools[0].Quantity)

	c := ts.registerConsumer(t, "alpha")

	resp, raw := ts.do(t, http.MethodPost, "/consumers/"+c.ID+"/entitlements", map[string]any{
		"pool":     pools[0].ID,
		"quantity": 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ent entitlementResponse
	decodeInto(t, raw, &ent)
	require.Len(t, ent.Certificates, 1)

	resp, _ = ts.do(t, http.MethodDelete, "/entitlements/"+ent.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	pools = ts.listPools(t)
	require.Len(t, pools, 1)
	assert.Equal(t, int64(4), pools[0].Quantity)
	assert.Equal(t, int64(0), pools[0].Consumed)

	resp, raw = ts.do(t, http.MethodGet, fmt.Sprintf("/serials/%d", ent.Certificates[0].Serial), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var serial serialResponse
	decodeInto(t, raw, &serial)
	assert.True(t, serial.Revoked)
}

func TestBindByProductOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.catalog.Upsert(context.Background(), &catalog.Product{ID: "os"}))

	ts.createSubscription(t, "os", 10)
	c := ts.registerConsumer(t, "alpha")

	resp, raw := ts.do(t, http.MethodPost, "/consumers/"+c.ID+"/entitlements", map[string]any{
		"product": "os",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ent entitlementResponse
	decodeInto(t, raw, &ent)
	assert.Equal(t, int64(1), ent.Quantity)
}

func TestErrorEnvelopes(t *testing.T) {
	t.Run("unknown pool binds 404", func(t *testing.T) {
		ts := newTestServer(t)
		c := ts.registerConsumer(t, "alpha")

		resp, raw := ts.do(t, http.MethodPost, "/consumers/"+c.ID+"/entitlements", map[string]any{
			"pool": id.NewPoolID().String(),
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var envelope map[string]string
		decodeInto(t, raw, &envelope)
		assert.Equal(t, "not_found", envelope["error"])
	})

	t.Run("duplicate bind conflicts with 409", func(t *testing.T) {
		ts := newTestServer(t)
		require.NoError(t, ts.catalog.Upsert(context.Background(), &catalog.Product{ID: "os"}))
		ts.createSubscription(t, "os", 10)
		pools := ts.listPools(t)
		c := ts.registerConsumer(t, "alpha")

		body := map[string]any{"pool": pools[0].ID}
		resp, _ := ts.do(t, http.MethodPost, "/consumers/"+c.ID+"/entitlements", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp, _ = ts.do(t, http.MethodPost, "/consumers/"+c.ID+"/entitlements", body)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unregistered consumer is gone with 410", func(t *testing.T) {
		ts := newTestServer(t)
		c := ts.registerConsumer(t, "alpha")

		resp, _ := ts.do(t, http.MethodDelete, "/consumers/"+c.ID, nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, _ = ts.do(t, http.MethodGet, "/consumers/"+c.ID, nil)
		assert.Equal(t, http.StatusGone, resp.StatusCode)
	})

	t.Run("malformed owner id is a 400", func(t *testing.T) {
		ts := newTestServer(t)
		resp, _ := ts.do(t, http.MethodGet, "/owners/not-a-uuid/pools", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestImportOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.catalog.Upsert(context.Background(), &catalog.Product{ID: "prod-a"}))

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	body := map[string]any{
		"origin":    "upstream-a",
		"signature": "sig-1",
		"entitlements": []map[string]any{{
			"upstreamEntitlementId": "up-1",
			"productId":             "prod-a",
			"quantity":              5,
			"startDate":             start,
			"endDate":               start.AddDate(1, 0, 0),
		}},
	}
	resp, raw := ts.do(t, http.MethodPost, "/owners/"+ts.owner.String()+"/imports", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec importRecordResponse
	decodeInto(t, raw, &rec)
	assert.Equal(t, "SUCCESS", rec.Status)

	pools := ts.listPools(t)
	require.Len(t, pools, 1)

	resp, raw = ts.do(t, http.MethodGet, "/owners/"+ts.owner.String()+"/imports", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recs []importRecordResponse
	decodeInto(t, raw, &recs)
	require.Len(t, recs, 1)
}

func TestHealthAndCatalogOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	testutil.Given(t, "a running router", func(t *testing.T) {
		testutil.When(t, "probing the health endpoint", func(t *testing.T) {
			resp, _ := ts.do(t, http.MethodGet, "/healthz", nil)
			testutil.Then(t, "it reports healthy", func(t *testing.T) {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			})
		})

		testutil.When(t, "publishing a product", func(t *testing.T) {
			body := map[string]any{
				"multiplier": 2,
				"attributes": map[string]string{"virt_limit": "4"},
			}
			resp, _ := ts.do(t, http.MethodPut, "/products/awesomeos-server", body)
			require.Equal(t, http.StatusNoContent, resp.StatusCode)

			testutil.Then(t, "the catalog serves it back", func(t *testing.T) {
				resp, raw := ts.do(t, http.MethodGet, "/products/awesomeos-server", nil)
				require.Equal(t, http.StatusOK, resp.StatusCode)
				var got struct {
					ID         string            `json:"id"`
					Multiplier int64             `json:"multiplier"`
					Attributes map[string]string `json:"attributes"`
				}
				decodeInto(t, raw, &got)
				assert.Equal(t, "awesomeos-server", got.ID)
				assert.Equal(t, int64(2), got.Multiplier)
				assert.Equal(t, "4", got.Attributes["virt_limit"])
			})
		})
	})
}
