package orchestrator

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

// stateFileExt is the line-oriented per-locale SKU state record
const stateFileExt = ".state"

// statePath returns the blob location of a locale's SKU state
func statePath(locale string) string {
	if locale == "" {
		locale = "default"
	}
	return "check-product-changes/" + locale + stateFileExt
}

// productsIndexPath returns the blob location of a locale's discovered SKUs
func productsIndexPath(locale string) string {
	if locale == "" {
		locale = "default"
	}
	return "check-product-changes/" + locale + "-products.json"
}

// parseState decodes the line-oriented SKU state record. Each line is
// sku,lastRenderedAtUnixMilli,contentHash,lastPublishedPath with empty
// fields allowed for hash and path. Malformed lines are skipped.
func parseState(data []byte) map[string]types.SKUState {
	out := make(map[string]types.SKUState)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, ",", 4)
		if len(fields) < 2 {
			continue
		}
		ms, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		st := types.SKUState{
			SKU:            fields[0],
			LastRenderedAt: time.UnixMilli(ms).UTC(),
		}
		if len(fields) > 2 {
			st.ContentHash = fields[2]
		}
		if len(fields) > 3 {
			st.LastPublishedPath = fields[3]
		}
		out[st.SKU] = st
	}
	return out
}

// serializeState encodes SKU state sorted by SKU for stable diffs
func serializeState(state map[string]types.SKUState) []byte {
	skus := make([]string, 0, len(state))
	for sku := range state {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	var b bytes.Buffer
	for _, sku := range skus {
		st := state[sku]
		fmt.Fprintf(&b, "%s,%d,%s,%s\n",
			st.SKU, st.LastRenderedAt.UnixMilli(), st.ContentHash, st.LastPublishedPath)
	}
	return b.Bytes()
}
