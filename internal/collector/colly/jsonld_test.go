package collycollector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharkted/collector/internal/collect"
)

const productPage = `<html><head>
<script type="application/ld+json">
{"@type":"Product","name":"Samba OG","sku":"IG1025",
 "brand":{"@type":"Brand","name":"adidas"},
 "image":["https://cdn.example/samba.jpg"],
 "offers":{"@type":"Offer","price":"89.99","priceCurrency":"EUR"}}
</script>
</head><body></body></html>`

func TestJSONLDExtractProduct(t *testing.T) {
	t.Parallel()
	item, err := JSONLDExtractor{}.Extract("size", "https://size.example/p/samba", []byte(productPage))
	require.NoError(t, err)
	require.Equal(t, "IG1025", item.ExternalID)
	require.Equal(t, "Samba OG", item.Title)
	require.Equal(t, "adidas", item.Brand)
	require.InDelta(t, 89.99, item.Price, 0.001)
	require.Equal(t, "EUR", item.Currency)
	require.Equal(t, "https://cdn.example/samba.jpg", item.ImageURL)
	require.Equal(t, "size", item.Source)
}

func TestJSONLDExtractGraph(t *testing.T) {
	t.Parallel()
	page := `<script type="application/ld+json">
{"@graph":[
 {"@type":"BreadcrumbList"},
 {"@type":"Product","name":"Campus 00s","sku":"HQ8708",
  "offers":[{"price":110.0,"priceCurrency":"USD"}]}
]}
</script>`
	item, err := JSONLDExtractor{}.Extract("jd", "https://jd.example/p/campus", []byte(page))
	require.NoError(t, err)
	require.Equal(t, "HQ8708", item.ExternalID)
	require.InDelta(t, 110.0, item.Price, 0.001)
	require.Equal(t, "USD", item.Currency)
}

func TestJSONLDNoProduct(t *testing.T) {
	t.Parallel()
	page := `<script type="application/ld+json">{"@type":"WebSite","name":"Shop"}</script>`
	_, err := JSONLDExtractor{}.Extract("size", "https://size.example/", []byte(page))
	var extractErr *collect.DataExtractionError
	require.True(t, errors.As(err, &extractErr))
}

func TestJSONLDInvalidPrice(t *testing.T) {
	t.Parallel()
	page := `<script type="application/ld+json">
{"@type":"Product","name":"Ghost","sku":"X","offers":{"price":"0","priceCurrency":"EUR"}}
</script>`
	_, err := JSONLDExtractor{}.Extract("size", "https://size.example/p/x", []byte(page))
	var valErr *collect.ValidationError
	require.True(t, errors.As(err, &valErr))
	require.Equal(t, "price", valErr.Field)
}

func TestJSONLDFallsBackToURLForID(t *testing.T) {
	t.Parallel()
	page := `<script type="application/ld+json">
{"@type":"Product","name":"No SKU","offers":{"price":12.5,"priceCurrency":"EUR"}}
</script>`
	item, err := JSONLDExtractor{}.Extract("size", "https://size.example/p/nosku", []byte(page))
	require.NoError(t, err)
	require.Equal(t, "https://size.example/p/nosku", item.ExternalID)
}
