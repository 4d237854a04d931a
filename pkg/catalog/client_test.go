package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/httpx"
)

type gqlCall struct {
	Query     string
	Variables map[string]interface{}
	Headers   http.Header
}

// gqlServer records GraphQL requests and answers from a canned response map
// keyed by operation name substring
func gqlServer(t *testing.T, responses map[string]string) (*httptest.Server, *[]gqlCall) {
	t.Helper()
	var calls []gqlCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls = append(calls, gqlCall{Query: req.Query, Variables: req.Variables, Headers: r.Header})

		for op, body := range responses {
			if strings.Contains(req.Query, op) {
				w.Write([]byte(body))
				return
			}
		}
		w.Write([]byte(`{"data":{}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// TestProductBySKU tests the single-product lookup and its headers
func TestProductBySKU(t *testing.T) {
	srv, calls := gqlServer(t, map[string]string{
		"ProductQuery": `{"data":{"products":[{"sku":"W1","urlKey":"widget-one","name":"Widget One"}]}}`,
	})

	c := NewClient(srv.URL, Headers{StoreCode: "us", APIKey: "key1"}, httpx.NewClient())
	p, err := c.ProductBySKU(context.Background(), "W1")
	require.NoError(t, err)
	assert.Equal(t, "widget-one", p.URLKey)
	assert.Equal(t, "Widget One", p.Name)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "W1", call.Variables["sku"])
	assert.Equal(t, "us", call.Headers.Get("Magento-Store-Code"))
	assert.Equal(t, "key1", call.Headers.Get("x-api-key"))
}

// TestProductBySKUNotFound tests that an empty products array is NotFound
func TestProductBySKUNotFound(t *testing.T) {
	srv, _ := gqlServer(t, map[string]string{
		"ProductQuery": `{"data":{"products":[]}}`,
	})

	c := NewClient(srv.URL, Headers{}, httpx.NewClient())
	_, err := c.ProductBySKU(context.Background(), "GONE")
	assert.True(t, errkind.IsNotFound(err))
}

// TestProductByURLKey tests the productSearch-shaped lookup
func TestProductByURLKey(t *testing.T) {
	srv, calls := gqlServer(t, map[string]string{
		"ProductByUrlKey": `{"data":{"productSearch":{"items":[{"product":{"sku":"W1","urlKey":"widget-one"}}]}}}`,
	})

	c := NewClient(srv.URL, Headers{}, httpx.NewClient())
	p, err := c.ProductByURLKey(context.Background(), "widget-one")
	require.NoError(t, err)
	assert.Equal(t, "W1", p.SKU)
	assert.Equal(t, "widget-one", (*calls)[0].Variables["urlKey"])

	srv2, _ := gqlServer(t, map[string]string{
		"ProductByUrlKey": `{"data":{"productSearch":{"items":[]}}}`,
	})
	c2 := NewClient(srv2.URL, Headers{}, httpx.NewClient())
	_, err = c2.ProductByURLKey(context.Background(), "nope")
	assert.True(t, errkind.IsNotFound(err))
}

// TestGraphQLErrorSurfaces tests that errors in a 200 envelope fail the call
func TestGraphQLErrorSurfaces(t *testing.T) {
	srv, _ := gqlServer(t, map[string]string{
		"ProductQuery": `{"errors":[{"message":"store not found"}]}`,
	})

	c := NewClient(srv.URL, Headers{}, httpx.NewClient())
	_, err := c.ProductBySKU(context.Background(), "W1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store not found")
}

// TestURLKeys tests bulk url-key resolution
func TestURLKeys(t *testing.T) {
	srv, calls := gqlServer(t, map[string]string{
		"GetUrlKeyQuery": `{"data":{"products":[{"sku":"W1","urlKey":"widget-one"},{"sku":"W2","urlKey":"widget-two"}]}}`,
	})

	c := NewClient(srv.URL, Headers{}, httpx.NewClient())
	keys, err := c.URLKeys(context.Background(), []string{"W1", "W2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"W1": "widget-one", "W2": "widget-two"}, keys)

	skus := (*calls)[0].Variables["skus"].([]interface{})
	assert.Len(t, skus, 2)
}

// TestAllSKUsPaginates tests that the full index walk follows page_info
func TestAllSKUsPaginates(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		fmt.Fprintf(w, `{"data":{"productSearch":{
			"items":[{"product":{"sku":"P%d","urlKey":"product-%d"}}],
			"page_info":{"current_page":%d,"total_pages":2}}}}`, page, page, page)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Headers{}, httpx.NewClient())
	idx, err := c.AllSKUs(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"P1": "product-1", "P2": "product-2"}, idx)
	assert.Equal(t, 2, page)
}

// TestLastModified tests the bulk last-modified lookup
func TestLastModified(t *testing.T) {
	srv, calls := gqlServer(t, map[string]string{
		"GetLastModifiedQuery": `{"data":{"products":[
			{"sku":"W1","lastModifiedAt":"2026-08-01T10:00:00Z"},
			{"sku":"W2","lastModifiedAt":"2026-08-02T11:30:00Z"}]}}`,
	})

	c := NewClient(srv.URL, Headers{}, httpx.NewClient())
	stamps, err := c.LastModified(context.Background(), []string{"W1", "W2"})
	require.NoError(t, err)
	require.Len(t, stamps, 2)
	assert.Equal(t, 2026, stamps["W1"].Year())
	assert.True(t, stamps["W2"].After(stamps["W1"]))
	assert.Len(t, *calls, 1, "two skus fit one chunk")
}

// TestFetchHeaders tests config sheet resolution with path overrides
func TestFetchHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/configs.json", r.URL.Path)
		assert.Equal(t, "prod", r.URL.Query().Get("sheet"))
		w.Write([]byte(`{"data":[
			{"key":"commerce-store-code","value":"base"},
			{"key":"commerce-x-api-key","value":"key1"},
			{"key":"/:commerce-store-code","value":"scoped"}
		]}`))
	}))
	defer srv.Close()

	h, err := FetchHeaders(context.Background(), httpx.NewClient(), srv.URL, "configs", "prod", "/")
	require.NoError(t, err)
	assert.Equal(t, "scoped", h.StoreCode, "path-scoped override wins")
	assert.Equal(t, "key1", h.APIKey)
	assert.Empty(t, h.WebsiteCode)
}

// TestFetchHeadersNoConfigName tests the no-op path
func TestFetchHeadersNoConfigName(t *testing.T) {
	h, err := FetchHeaders(context.Background(), httpx.NewClient(), "http://unused.invalid", "", "", "/")
	require.NoError(t, err)
	assert.Equal(t, Headers{}, h)
}
