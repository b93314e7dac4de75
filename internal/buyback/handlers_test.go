package buyback_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-buyback/internal/buyback"
	"github.com/noah-isme/backend-buyback/internal/catalog"
	"github.com/noah-isme/backend-buyback/internal/common"
	"github.com/noah-isme/backend-buyback/internal/currency"
	"github.com/noah-isme/backend-buyback/internal/events"
	"github.com/noah-isme/backend-buyback/internal/lock"
	"github.com/noah-isme/backend-buyback/internal/market"
	"github.com/noah-isme/backend-buyback/internal/obs"
	"github.com/noah-isme/backend-buyback/internal/persist"
	"github.com/noah-isme/backend-buyback/internal/session"
)

const (
	sessionA = "0b7c3b52-7f43-4c2b-9d8e-4a1f0d6e2c10"
	sessionB = "5e0f2d9a-1c8b-4f7e-a3d2-6b9c8e7f1a20"
)

type testServer struct {
	handler http.Handler
	kv      *persist.Memory
	metrics *obs.BuybackMetrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	table := currency.All()
	seed, err := catalog.Seed()
	require.NoError(t, err)
	svc, err := catalog.NewService(catalog.ServiceConfig{Source: seed, Logger: zerolog.Nop()})
	require.NoError(t, err)

	metrics := obs.NewBuybackMetrics("test", prometheus.NewRegistry())
	kv := persist.NewMemory()
	mgr, err := buyback.NewManager(buyback.ManagerConfig{
		Policies:    table,
		Slot:        buyback.SlotFactory(kv, 64<<10),
		Locker:      lock.NewLocal(),
		MaxQuantity: 10,
		Bus:         &events.Bus{Notifiers: []events.Notifier{metrics}},
		Metrics:     metrics,
		Logger:      zerolog.Nop(),
		NewID:       sequentialIDs(),
		Now:         func() time.Time { return time.Unix(0, 0) },
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(session.Resolver{}.Middleware)
	r.Use(market.NewResolver("", "us", table.Has).Middleware)
	buyback.NewHandler(buyback.HandlerConfig{Manager: mgr, Catalog: svc, Logger: zerolog.Nop()}).Routes(r, nil)
	return &testServer{handler: r, kv: kv, metrics: metrics}
}

type call struct {
	method  string
	path    string
	body    any
	session string
	market  string
	headers map[string]string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	switch v := c.body.(type) {
	case nil:
	case string:
		body.WriteString(v)
	default:
		require.NoError(t, json.NewEncoder(&body).Encode(v))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	sess := c.session
	if sess == "" {
		sess = sessionA
	}
	req.Header.Set("X-Buyback-Session", sess)
	if c.market != "" {
		req.Header.Set("X-Market", c.market)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) buyback.ListView {
	t.Helper()
	var body struct {
		Data buyback.ListView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) common.ErrorBody {
	t.Helper()
	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestAddItemAndOffer(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{
		"productId": "iphone-13-128", "condition": "very good", "quantity": 2,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeList(t, rec)
	require.Equal(t, "item-1", view.ItemID)
	require.Equal(t, int64(1), view.Revision)
	require.Equal(t, "1", rec.Header().Get(buyback.RevisionHeader))
	require.Len(t, view.Items, 1)
	line := view.Items[0]
	require.Equal(t, "VERY_GOOD", line.Condition.String())
	require.Equal(t, "232.50", line.UnitPrice.Amount)
	require.Equal(t, "465.00", line.LineTotal.Amount)
	require.Equal(t, "$465.00", view.Offer.Total.Formatted)
	require.Equal(t, "0.00", view.Offer.FamilyDiscount.Amount)
	require.Equal(t, 2, view.Offer.ItemCount)

	rec = srv.do(t, call{method: http.MethodGet, path: "/buyback?family=1"})
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeList(t, rec)
	require.True(t, view.FamilyMember)
	require.Equal(t, "465.00", view.Offer.Subtotal.Amount)
	require.Equal(t, "46.50", view.Offer.FamilyDiscount.Amount)
	require.Equal(t, "511.50", view.Offer.Total.Amount)

	require.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.Mutations.WithLabelValues("us", "item_added")))
}

func TestThreeDecimalMarket(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, call{method: http.MethodPost, path: "/buyback/items", market: "KW", body: map[string]any{
		"productId": "iphone-13-128", "condition": "WELL_USED",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeList(t, rec)
	require.Equal(t, "kw", view.Market)
	require.Equal(t, "42.975", view.Items[0].UnitPrice.Amount)
	require.Equal(t, "KD42.975", view.Offer.Total.Formatted)
	require.Equal(t, "975", view.Offer.Total.DecimalValue)

	rec = srv.do(t, call{method: http.MethodGet, path: "/buyback", market: "us"})
	require.True(t, decodeList(t, rec).IsEmpty, "lists are kept per market")
}

func TestUpdateAndRemove(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{
		"productId": "ipad-air-5", "condition": "LIKE_NEW", "quantity": 3,
	}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, call{method: http.MethodPatch, path: "/buyback/items/item-1", body: map[string]any{"quantity": 0}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, decodeList(t, rec).Items[0].Quantity)

	rec = srv.do(t, call{method: http.MethodPatch, path: "/buyback/items/item-1", body: map[string]any{"condition": "well-used", "quantity": 50}})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeList(t, rec)
	require.Equal(t, "WELL_USED", view.Items[0].Condition.String())
	require.Equal(t, 10, view.Items[0].Quantity, "quantity capped at configured maximum")
	require.Equal(t, int64(3), view.Revision, "condition and quantity saved together")
	require.Equal(t, float64(2), testutil.ToFloat64(srv.metrics.Mutations.WithLabelValues("us", "item_updated")))

	rec = srv.do(t, call{method: http.MethodPatch, path: "/buyback/items/missing", body: map[string]any{"quantity": 2}})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "ITEM_NOT_FOUND", decodeError(t, rec).Code)

	rec = srv.do(t, call{method: http.MethodPatch, path: "/buyback/items/item-1", body: map[string]any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, common.CodeBadRequest, decodeError(t, rec).Code)

	rec = srv.do(t, call{method: http.MethodDelete, path: "/buyback/items/missing"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeList(t, rec).Items, 1)

	rec = srv.do(t, call{method: http.MethodDelete, path: "/buyback/items/item-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeList(t, rec).IsEmpty)
}

func TestClearRemovesPersistedList(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{"productId": "watch-series-8", "condition": "LIKE_NEW"}})
	require.Equal(t, 1, srv.kv.Len())

	rec := srv.do(t, call{method: http.MethodDelete, path: "/buyback"})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeList(t, rec)
	require.True(t, view.IsEmpty)
	require.Equal(t, "0.00", view.Offer.Total.Amount)
	require.Zero(t, srv.kv.Len())
}

func TestSessionsAreIsolated(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{"productId": "watch-series-8", "condition": "LIKE_NEW"}})

	rec := srv.do(t, call{method: http.MethodGet, path: "/buyback", session: sessionB})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeList(t, rec).IsEmpty)
}

func TestStaleRevisionIsReported(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{"productId": "watch-series-8", "condition": "LIKE_NEW"}})
	srv.do(t, call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{"productId": "ipad-air-5", "condition": "LIKE_NEW"}})

	rec := srv.do(t, call{method: http.MethodGet, path: "/buyback", headers: map[string]string{buyback.RevisionHeader: "1"}})
	view := decodeList(t, rec)
	require.True(t, view.Stale)
	require.Equal(t, int64(2), view.Revision)
	require.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.StaleLists.WithLabelValues("us")))

	rec = srv.do(t, call{method: http.MethodPost, path: "/buyback/reload", headers: map[string]string{buyback.RevisionHeader: "2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeList(t, rec)
	require.False(t, view.Stale)
	require.Len(t, view.Items, 2)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	cases := []struct {
		name   string
		call   call
		status int
		code   string
	}{
		{"unknown market", call{method: http.MethodGet, path: "/buyback", market: "zz"}, http.StatusBadRequest, "UNKNOWN_MARKET"},
		{"unknown product", call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{"productId": "nope", "condition": "LIKE_NEW"}}, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
		{"bad condition", call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{"productId": "ipad-air-5", "condition": "MINT"}}, http.StatusUnprocessableEntity, "INVALID_ITEM_STATE"},
		{"missing product", call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{"condition": "LIKE_NEW"}}, http.StatusBadRequest, common.CodeBadRequest},
		{"malformed json", call{method: http.MethodPost, path: "/buyback/items", body: "{"}, http.StatusBadRequest, common.CodeBadRequest},
		{"unknown field", call{method: http.MethodPost, path: "/buyback/items", body: map[string]any{"productId": "ipad-air-5", "condition": "LIKE_NEW", "price": 1}}, http.StatusBadRequest, common.CodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.do(t, tc.call)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
}

func TestMarketsAndProducts(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, call{method: http.MethodGet, path: "/markets"})
	require.Equal(t, http.StatusOK, rec.Code)
	var markets struct {
		Data []currency.Policy `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &markets))
	require.Len(t, markets.Data, len(currency.Markets()))

	rec = srv.do(t, call{method: http.MethodGet, path: "/products", market: "se"})
	require.Equal(t, http.StatusOK, rec.Code)
	var products struct {
		Data []buyback.ProductView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.NotEmpty(t, products.Data)
	first := products.Data[0]
	require.Equal(t, "iphone-13-128", first.ID)
	require.Equal(t, "3250.00 kr", first.BasePrice.Formatted)
	require.Equal(t, "2437.50", first.Offers["VERY_GOOD"].Amount)
	require.Equal(t, "1462.50", first.Offers["WELL_USED"].Amount)
}

func TestManagerRequiresSession(t *testing.T) {
	mgr, err := buyback.NewManager(buyback.ManagerConfig{
		Policies: currency.All(),
		Slot:     buyback.SlotFactory(persist.NewMemory(), 0),
		Locker:   lock.NewLocal(),
	})
	require.NoError(t, err)
	err = mgr.View(context.Background(), "", "us", func(*buyback.Store) error { return nil })
	require.ErrorIs(t, err, buyback.ErrNoSession)

	_, err = buyback.NewManager(buyback.ManagerConfig{})
	require.Error(t, err)
}
