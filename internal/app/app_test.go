package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-buyback/internal/app"
	"github.com/noah-isme/backend-buyback/internal/buyback"
	"github.com/noah-isme/backend-buyback/internal/config"
)

const sessionID = "0b7c3b52-7f43-4c2b-9d8e-4a1f0d6e2c10"

func newApp(t *testing.T, env map[string]string) *app.App {
	t.Helper()
	base := map[string]string{
		"APP_ENV": "test", "DATABASE_URL": "", "REDIS_URL": "", "BUYBACK_STORAGE": "",
		"BUYBACK_MARKETS": "", "BUYBACK_DEFAULT_MARKET": "", "CATALOG_SOURCE": "",
		"OBS_ENABLE_TRACING": "", "OBS_ENABLE_PROMETHEUS": "", "OBS_METRICS_NAMESPACE": "",
		"RATE_LIMIT_MAX": "", "RATE_LIMIT_MUTATIONS_MAX": "",
	}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.LoadForTests(base)
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func send(t *testing.T, a *app.App, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Buyback-Session", sessionID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
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

func TestInMemoryAppServesBuybackList(t *testing.T) {
	a := newApp(t, nil)

	rec := send(t, a, http.MethodGet, "/health/live", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = send(t, a, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = send(t, a, http.MethodPost, "/api/v1/buyback/items", map[string]any{
		"productId": "iphone-13-128", "condition": "LIKE_NEW",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	list := decodeList(t, rec)
	require.Equal(t, "us", list.Market)
	require.Len(t, list.Items, 1)

	rec = send(t, a, http.MethodGet, "/api/v1/buyback", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeList(t, rec).Items, 1)

	rec = send(t, a, http.MethodGet, "/api/v1/buyback", nil, map[string]string{"X-Market": "se"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeList(t, rec).IsEmpty)

	rec = send(t, a, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `buyback_buyback_mutations_total{kind="item_added",market="us"} 1`)
	require.Contains(t, rec.Body.String(), "buyback_http_requests_total")
}

func TestMutationLimitPerSession(t *testing.T) {
	a := newApp(t, map[string]string{"RATE_LIMIT_MUTATIONS_MAX": "1"})

	item := map[string]any{"productId": "iphone-13-128", "condition": "LIKE_NEW"}
	rec := send(t, a, http.MethodPost, "/api/v1/buyback/items", item, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = send(t, a, http.MethodPost, "/api/v1/buyback/items", item, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "RATE_LIMITED"))

	rec = send(t, a, http.MethodPost, "/api/v1/buyback/items", item, map[string]string{
		"X-Buyback-Session": "5e0f2d9a-1c8b-4f7e-a3d2-6b9c8e7f1a20",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRedisBackedAppReplaysIdempotentAdds(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newApp(t, map[string]string{"REDIS_URL": "redis://" + mr.Addr()})

	rec := send(t, a, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	headers := map[string]string{"Idempotency-Key": "add-1"}
	item := map[string]any{"productId": "iphone-13-128", "condition": "WELL_USED"}
	first := send(t, a, http.MethodPost, "/api/v1/buyback/items", item, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := send(t, a, http.MethodPost, "/api/v1/buyback/items", item, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())

	rec = send(t, a, http.MethodGet, "/api/v1/buyback", nil, nil)
	require.Len(t, decodeList(t, rec).Items, 1)
	require.True(t, mr.Exists("buyback:us:"+sessionID))
}
