package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/backend-buyback/internal/pricing"
	"github.com/noah-isme/backend-buyback/internal/resilience"
)

const maxCatalogBody = 4 << 20

// HTTP reads the catalog from a remote JSON API at
// {BaseURL}/markets/{market}/products answering {"data": [...]}.
type HTTP struct {
	BaseURL string
	Client  resilience.HTTPClient
}

// Products fetches the market's catalog.
func (h HTTP) Products(ctx context.Context, market string) ([]pricing.Product, error) {
	endpoint := strings.TrimRight(h.BaseURL, "/") + "/markets/" + url.PathEscape(market) + "/products"
	resp, err := h.Client.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch %s: %w", market, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("catalog: fetch %s: unexpected status %s", market, resp.Status)
	}
	var body struct {
		Data []record `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCatalogBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", market, err)
	}
	return toProducts(body.Data), nil
}
