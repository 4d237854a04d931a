package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/httpx"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
)

// lastModifiedConcurrency bounds parallel last-modified chunk fetches
const lastModifiedConcurrency = 50

// lastModifiedChunkSize is the sku count per GetLastModified query
const lastModifiedChunkSize = 100

// Headers are the service headers derived from the resolved store
// configuration
type Headers struct {
	CustomerGroup string `json:"ac-customer-group"`
	EnvironmentID string `json:"ac-environment-id"`
	StoreCode     string `json:"ac-store-code"`
	StoreViewCode string `json:"ac-store-view-code"`
	WebsiteCode   string `json:"ac-website-code"`
	APIKey        string `json:"x-api-key"`
}

func (h Headers) toMap() map[string]string {
	m := map[string]string{
		"Content-Type": "application/json",
	}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("Magento-Customer-Group", h.CustomerGroup)
	set("Magento-Environment-Id", h.EnvironmentID)
	set("Magento-Store-Code", h.StoreCode)
	set("Magento-Store-View-Code", h.StoreViewCode)
	set("Magento-Website-Code", h.WebsiteCode)
	set("x-api-key", h.APIKey)
	return m
}

// Product is the catalog payload rendered into a page
type Product struct {
	SKU            string          `json:"sku"`
	URLKey         string          `json:"urlKey"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	MetaTitle      string          `json:"metaTitle"`
	MetaDescription string         `json:"metaDescription"`
	Images         []Image         `json:"images"`
	Price          *Price          `json:"price"`
	LastModifiedAt time.Time       `json:"lastModifiedAt"`
	Attributes     json.RawMessage `json:"attributes,omitempty"`
}

// Image is one product image
type Image struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

// Price is the display price for a product
type Price struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// Variant is one option of a complex product
type Variant struct {
	SKU     string   `json:"sku"`
	Name    string   `json:"name"`
	Options []string `json:"options"`
	Price   *Price   `json:"price"`
}

// Category is a catalog category node
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"urlPath"`
}

// Client queries the catalog service over GraphQL
type Client struct {
	url     string
	headers Headers
	client  *httpx.Client
}

// NewClient creates a catalog client
func NewClient(catalogURL string, headers Headers, client *httpx.Client) *Client {
	return &Client{url: catalogURL, headers: headers, client: client}
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

func (c *Client) query(ctx context.Context, name, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	err = c.client.RequestJSON(ctx, name, c.url, httpx.Options{
		Method:  http.MethodPost,
		Headers: c.headers.toMap(),
		Body:    body,
	}, &envelope)
	if err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%s: graphql error: %s", name, envelope.Errors[0].Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%s: failed to decode data: %w", name, err)
		}
	}
	return nil
}

const productQuery = `query ProductQuery($sku: String!) {
  products(skus: [$sku]) {
    sku urlKey name description metaTitle metaDescription
    images { url label }
    price { currency amount }
    lastModifiedAt
  }
}`

// ProductBySKU fetches one product; a missing product is NotFound
func (c *Client) ProductBySKU(ctx context.Context, sku string) (*Product, error) {
	var data struct {
		Products []*Product `json:"products"`
	}
	if err := c.query(ctx, "catalog-product", productQuery, map[string]interface{}{"sku": sku}, &data); err != nil {
		return nil, err
	}
	if len(data.Products) == 0 || data.Products[0] == nil {
		return nil, &errkind.NotFound{SKU: sku}
	}
	return data.Products[0], nil
}

const productByURLKeyQuery = `query ProductByUrlKey($urlKey: String!) {
  productSearch(filter: [{attribute: "url_key", eq: $urlKey}], page_size: 1) {
    items {
      product {
        sku urlKey name description metaTitle metaDescription
        images { url label }
        price { currency amount }
        lastModifiedAt
      }
    }
  }
}`

// ProductByURLKey fetches one product addressed by its URL key
func (c *Client) ProductByURLKey(ctx context.Context, urlKey string) (*Product, error) {
	var data struct {
		ProductSearch struct {
			Items []struct {
				Product *Product `json:"product"`
			} `json:"items"`
		} `json:"productSearch"`
	}
	if err := c.query(ctx, "catalog-product-by-urlkey", productByURLKeyQuery, map[string]interface{}{"urlKey": urlKey}, &data); err != nil {
		return nil, err
	}
	if len(data.ProductSearch.Items) == 0 || data.ProductSearch.Items[0].Product == nil {
		return nil, &errkind.NotFound{URLKey: urlKey}
	}
	return data.ProductSearch.Items[0].Product, nil
}

const lastModifiedQuery = `query GetLastModifiedQuery($skus: [String!]!) {
  products(skus: $skus) { sku lastModifiedAt }
}`

// LastModified fetches last-modified stamps for skus, chunked and fetched
// concurrently
func (c *Client) LastModified(ctx context.Context, skus []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(skus))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(lastModifiedConcurrency)

	for start := 0; start < len(skus); start += lastModifiedChunkSize {
		end := start + lastModifiedChunkSize
		if end > len(skus) {
			end = len(skus)
		}
		chunk := skus[start:end]
		g.Go(func() error {
			var data struct {
				Products []struct {
					SKU            string    `json:"sku"`
					LastModifiedAt time.Time `json:"lastModifiedAt"`
				} `json:"products"`
			}
			if err := c.query(ctx, "catalog-last-modified", lastModifiedQuery, map[string]interface{}{"skus": chunk}, &data); err != nil {
				return err
			}
			mu.Lock()
			for _, p := range data.Products {
				out[p.SKU] = p.LastModifiedAt
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

const urlKeyQuery = `query GetUrlKeyQuery($skus: [String!]!) {
  products(skus: $skus) { sku urlKey }
}`

// URLKeys resolves url keys for a set of skus
func (c *Client) URLKeys(ctx context.Context, skus []string) (map[string]string, error) {
	var data struct {
		Products []struct {
			SKU    string `json:"sku"`
			URLKey string `json:"urlKey"`
		} `json:"products"`
	}
	if err := c.query(ctx, "catalog-url-keys", urlKeyQuery, map[string]interface{}{"skus": skus}, &data); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(data.Products))
	for _, p := range data.Products {
		out[p.SKU] = p.URLKey
	}
	return out, nil
}

const variantsQuery = `query VariantsQuery($sku: String!) {
  variants(sku: $sku) {
    variants {
      product { sku name price { currency amount } }
      selections
    }
  }
}`

// Variants fetches the option variants of a complex product
func (c *Client) Variants(ctx context.Context, sku string) ([]Variant, error) {
	var data struct {
		Variants struct {
			Variants []struct {
				Product struct {
					SKU   string `json:"sku"`
					Name  string `json:"name"`
					Price *Price `json:"price"`
				} `json:"product"`
				Selections []string `json:"selections"`
			} `json:"variants"`
		} `json:"variants"`
	}
	if err := c.query(ctx, "catalog-variants", variantsQuery, map[string]interface{}{"sku": sku}, &data); err != nil {
		return nil, err
	}
	out := make([]Variant, 0, len(data.Variants.Variants))
	for _, v := range data.Variants.Variants {
		out = append(out, Variant{
			SKU:     v.Product.SKU,
			Name:    v.Product.Name,
			Options: v.Selections,
			Price:   v.Product.Price,
		})
	}
	return out, nil
}

const categoriesQuery = `query CategoriesQuery {
  categories { id name urlPath }
}`

// Categories fetches the category tree roots
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var data struct {
		Categories []Category `json:"categories"`
	}
	if err := c.query(ctx, "catalog-categories", categoriesQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.Categories, nil
}

const productCountQuery = `query ProductCountQuery {
  productSearch(phrase: "", page_size: 1) { total_count }
}`

// ProductCount returns the catalog's total product count
func (c *Client) ProductCount(ctx context.Context) (int, error) {
	var data struct {
		ProductSearch struct {
			TotalCount int `json:"total_count"`
		} `json:"productSearch"`
	}
	if err := c.query(ctx, "catalog-product-count", productCountQuery, nil, &data); err != nil {
		return 0, err
	}
	return data.ProductSearch.TotalCount, nil
}

const productsQuery = `query ProductsQuery($currentPage: Int!, $categoryPath: String!) {
  productSearch(phrase: "", page_size: 500, current_page: $currentPage,
                filter: [{attribute: "categoryPath", eq: $categoryPath}]) {
    items { product { sku urlKey } }
    page_info { current_page total_pages }
  }
}`

// ProductPage is one page of the catalog listing
type ProductPage struct {
	SKUs       map[string]string // sku -> urlKey
	Page       int
	TotalPages int
}

// Products lists one page of products under a category path
func (c *Client) Products(ctx context.Context, currentPage int, categoryPath string) (*ProductPage, error) {
	var data struct {
		ProductSearch struct {
			Items []struct {
				Product struct {
					SKU    string `json:"sku"`
					URLKey string `json:"urlKey"`
				} `json:"product"`
			} `json:"items"`
			PageInfo struct {
				CurrentPage int `json:"current_page"`
				TotalPages  int `json:"total_pages"`
			} `json:"page_info"`
		} `json:"productSearch"`
	}
	vars := map[string]interface{}{"currentPage": currentPage, "categoryPath": categoryPath}
	if err := c.query(ctx, "catalog-products", productsQuery, vars, &data); err != nil {
		return nil, err
	}
	page := &ProductPage{
		SKUs:       make(map[string]string, len(data.ProductSearch.Items)),
		Page:       data.ProductSearch.PageInfo.CurrentPage,
		TotalPages: data.ProductSearch.PageInfo.TotalPages,
	}
	for _, it := range data.ProductSearch.Items {
		page.SKUs[it.Product.SKU] = it.Product.URLKey
	}
	return page, nil
}

// AllSKUs walks ProductsQuery pages and returns the full sku -> urlKey index
func (c *Client) AllSKUs(ctx context.Context, categoryPath string) (map[string]string, error) {
	logger := log.WithComponent("catalog")
	out := make(map[string]string)
	for page := 1; ; page++ {
		p, err := c.Products(ctx, page, categoryPath)
		if err != nil {
			return nil, err
		}
		for sku, urlKey := range p.SKUs {
			out[sku] = urlKey
		}
		if p.TotalPages == 0 || page >= p.TotalPages || len(p.SKUs) == 0 {
			break
		}
	}
	logger.Debug().Int("skus", len(out)).Msg("catalog index fetched")
	return out, nil
}
