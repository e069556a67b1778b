package collycollector

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sharkted/collector/internal/collect"
)

// JSONLDExtractor pulls product data from schema.org Product blocks
// embedded as application/ld+json. Most retail sites ship these for SEO,
// which makes the extractor resilient to layout redesigns.
type JSONLDExtractor struct{}

var ldScriptRe = regexp.MustCompile(`(?is)<script[^>]+type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)

type ldProduct struct {
	Type   any               `json:"@type"`
	Name   string            `json:"name"`
	Brand  any               `json:"brand"`
	SKU    string            `json:"sku"`
	Image  any               `json:"image"`
	Offers any               `json:"offers"`
	Graph  []json.RawMessage `json:"@graph"`
}

type ldOffer struct {
	Price         any    `json:"price"`
	PriceCurrency string `json:"priceCurrency"`
}

// Extract scans every ld+json block for the first Product entry.
func (JSONLDExtractor) Extract(source, url string, body []byte) (*collect.Item, error) {
	for _, match := range ldScriptRe.FindAllSubmatch(body, -1) {
		if item := parseProduct(source, url, match[1]); item != nil {
			if err := validateItem(item); err != nil {
				return nil, err
			}
			return item, nil
		}
	}
	return nil, collect.NewDataExtractionError(source, url, "no schema.org Product block found")
}

func parseProduct(source, url string, raw []byte) *collect.Item {
	var p ldProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if len(p.Graph) > 0 {
		for _, node := range p.Graph {
			if item := parseProduct(source, url, node); item != nil {
				return item
			}
		}
		return nil
	}
	if !isProductType(p.Type) {
		return nil
	}

	item := &collect.Item{
		Source:      source,
		ExternalID:  p.SKU,
		Title:       strings.TrimSpace(p.Name),
		Brand:       brandName(p.Brand),
		URL:         url,
		ImageURL:    firstImage(p.Image),
		RetrievedAt: time.Now().UTC(),
	}
	if offer, ok := firstOffer(p.Offers); ok {
		item.Price = toFloat(offer.Price)
		item.Currency = offer.PriceCurrency
	}
	if item.ExternalID == "" {
		item.ExternalID = url
	}
	return item
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Product"
	case []any:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == "Product" {
				return true
			}
		}
	}
	return false
}

func brandName(b any) string {
	switch v := b.(type) {
	case string:
		return v
	case map[string]any:
		if name, ok := v["name"].(string); ok {
			return name
		}
	}
	return ""
}

func firstImage(img any) string {
	switch v := img.(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func firstOffer(offers any) (ldOffer, bool) {
	decode := func(m map[string]any) (ldOffer, bool) {
		raw, err := json.Marshal(m)
		if err != nil {
			return ldOffer{}, false
		}
		var o ldOffer
		if err := json.Unmarshal(raw, &o); err != nil {
			return ldOffer{}, false
		}
		return o, true
	}
	switch v := offers.(type) {
	case map[string]any:
		return decode(v)
	case []any:
		for _, entry := range v {
			if m, ok := entry.(map[string]any); ok {
				return decode(m)
			}
		}
	}
	return ldOffer{}, false
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func validateItem(item *collect.Item) error {
	if item.Title == "" {
		return collect.NewValidationError(item.Source, "title", "empty title")
	}
	if item.Price <= 0 {
		return collect.NewValidationError(item.Source, "price", "non-positive price")
	}
	return nil
}
