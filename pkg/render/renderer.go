package render

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/catalog"
)

// templateSlot marks where rendered product markup is injected into the
// layout frame
const templateSlot = "<!-- product-content -->"

var invalidPathChars = regexp.MustCompile(`[^a-z0-9/_-]+`)
var dashRuns = regexp.MustCompile(`-{2,}`)

// BuildPath expands a path template with {locale}, {urlKey} and {sku}
// tokens. The sku is lower-cased per the URL sanitization rule; characters
// outside the delivery platform's document-naming rules are replaced.
func BuildPath(format, locale, urlKey, sku string) string {
	p := format
	p = strings.ReplaceAll(p, "{locale}", locale)
	p = strings.ReplaceAll(p, "{urlKey}", urlKey)
	p = strings.ReplaceAll(p, "{sku}", strings.ToLower(sku))

	p = strings.ToLower(p)
	p = invalidPathChars.ReplaceAllString(p, "-")
	p = dashRuns.ReplaceAllString(p, "-")
	p = strings.ReplaceAll(p, "/-", "/")
	p = strings.TrimSuffix(p, "-")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	// Collapse the double slash a blank locale leaves behind
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// BlobPath maps a page path onto its content-store location
func BlobPath(pagePath string) string {
	return "/public/pdps" + pagePath + ".html"
}

// Render produces deterministic HTML for a product. It is a pure function
// of its inputs: identical product payloads yield identical bytes.
func Render(p *catalog.Product, frame string) []byte {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	title := p.MetaTitle
	if title == "" {
		title = p.Name
	}
	fmt.Fprintf(&b, "  <title>%s</title>\n", html.EscapeString(title))
	if p.MetaDescription != "" {
		fmt.Fprintf(&b, "  <meta name=\"description\" content=\"%s\">\n", html.EscapeString(p.MetaDescription))
	}
	fmt.Fprintf(&b, "  <meta name=\"sku\" content=\"%s\">\n", html.EscapeString(p.SKU))
	b.WriteString("</head>\n<body>\n")

	var content strings.Builder
	content.WriteString("  <main class=\"product-detail\">\n")
	fmt.Fprintf(&content, "    <h1>%s</h1>\n", html.EscapeString(p.Name))
	if p.Price != nil {
		fmt.Fprintf(&content, "    <p class=\"price\">%s %.2f</p>\n", html.EscapeString(p.Price.Currency), p.Price.Amount)
	}
	if p.Description != "" {
		fmt.Fprintf(&content, "    <div class=\"description\">%s</div>\n", html.EscapeString(p.Description))
	}

	// Sort images for byte-stable output regardless of catalog ordering
	images := make([]catalog.Image, len(p.Images))
	copy(images, p.Images)
	sort.Slice(images, func(i, j int) bool { return images[i].URL < images[j].URL })
	for _, img := range images {
		fmt.Fprintf(&content, "    <img src=\"%s\" alt=\"%s\">\n",
			html.EscapeString(img.URL), html.EscapeString(img.Label))
	}
	content.WriteString("  </main>\n")

	if frame != "" && strings.Contains(frame, templateSlot) {
		return []byte(strings.Replace(frame, templateSlot, content.String(), 1))
	}

	b.WriteString(content.String())
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}
