package seo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProductOffer(t *testing.T) {
	raw := JSON(Product("Linen shirt", "Breathable", "https://shop.test/product/p-1", "", "A-100", 499, "SEK"))
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	require.Equal(t, "Product", got["@type"])
	require.Equal(t, "A-100", got["sku"])
	require.NotContains(t, got, "image")
	offer := got["offers"].(map[string]any)
	require.Equal(t, 499.0, offer["price"])
	require.Equal(t, "SEK", offer["priceCurrency"])
}

func TestWebSiteSearchAction(t *testing.T) {
	m := WebSite("Storefront", "https://shop.test", "https://shop.test/search?q=")
	action := m["potentialAction"].(map[string]any)
	require.Equal(t, "https://shop.test/search?q={search_term_string}", action["target"])
	require.NotContains(t, WebSite("Storefront", "", ""), "potentialAction")
}

func TestJSONUnsupported(t *testing.T) {
	require.Empty(t, JSON(make(chan int)))
}

func TestScriptEscapesMarkup(t *testing.T) {
	js := Script(Article("</script><b>", "", "", ""))
	require.NotContains(t, string(js), "</script>")
	require.Contains(t, string(js), `\u003c/script\u003e`)
}
