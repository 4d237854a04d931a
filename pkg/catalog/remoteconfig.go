package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/httpx"
)

// sheetRow is one key/value pair in the remote config document
type sheetRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FetchHeaders loads the store configuration sheet from the content backend
// and derives the catalog service headers. Path-scoped overrides (keys
// prefixed with "<path>:") are merged over the defaults.
func FetchHeaders(ctx context.Context, client *httpx.Client, contentURL, configName, configSheet, path string) (Headers, error) {
	var h Headers
	if configName == "" {
		return h, nil
	}

	u := strings.TrimSuffix(contentURL, "/") + "/" + strings.TrimPrefix(configName, "/") + ".json"
	if configSheet != "" {
		u += "?sheet=" + url.QueryEscape(configSheet)
	}

	var doc struct {
		Data []sheetRow `json:"data"`
	}
	if err := client.RequestJSON(ctx, "remote-config", u, httpx.Options{}, &doc); err != nil {
		return h, fmt.Errorf("failed to fetch remote config: %w", err)
	}

	resolved := make(map[string]string, len(doc.Data))
	for _, row := range doc.Data {
		if !strings.Contains(row.Key, ":") {
			resolved[row.Key] = row.Value
		}
	}
	if path != "" {
		prefix := path + ":"
		for _, row := range doc.Data {
			if strings.HasPrefix(row.Key, prefix) {
				resolved[strings.TrimPrefix(row.Key, prefix)] = row.Value
			}
		}
	}

	h.CustomerGroup = resolved["commerce-customer-group"]
	h.EnvironmentID = resolved["commerce-environment-id"]
	h.StoreCode = resolved["commerce-store-code"]
	h.StoreViewCode = resolved["commerce-store-view-code"]
	h.WebsiteCode = resolved["commerce-website-code"]
	h.APIKey = resolved["commerce-x-api-key"]
	return h, nil
}
