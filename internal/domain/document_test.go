package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductDocument_Derive(t *testing.T) {
	doc := &ProductDocument{
		ID: "gid://shopify/Product/1",
		Variants: []map[string]any{
			{"price": "19.99", "selectedOptions": []any{
				map[string]any{"name": "Size", "value": "M"},
				map[string]any{"name": "Color", "value": "Red"},
			}},
			{"price": 5.5, "selectedOptions": []any{
				map[string]any{"name": "Size", "value": "L"},
				map[string]any{"name": "Color", "value": "Red"},
			}},
			{"price": map[string]any{"amount": "42"}},
		},
		Options: []map[string]any{
			{"name": "Size", "values": []any{"M", "XL"}},
		},
	}

	doc.Derive()

	assert.Equal(t, []string{"Size:M", "Color:Red", "Size:L", "Size:XL"}, doc.OptionPairs)
	require.NotNil(t, doc.MinPrice)
	require.NotNil(t, doc.MaxPrice)
	assert.InDelta(t, 5.5, *doc.MinPrice, 0.001)
	assert.InDelta(t, 42.0, *doc.MaxPrice, 0.001)
}

func TestProductDocument_Source(t *testing.T) {
	rank := 3
	doc := &ProductDocument{
		ID:     "gid://shopify/Product/77",
		Fields: map[string]any{"title": "Mug"},
		Rank:   &rank,
	}
	doc.AddCollection(CollectionRef{ID: "gid://shopify/Collection/5"})
	doc.AddCollection(CollectionRef{ID: "gid://shopify/Collection/5", Title: "Kitchen"})

	src := doc.Source()
	assert.Equal(t, "Mug", src["title"])
	assert.Equal(t, "77", src["legacyId"])
	assert.Equal(t, 3, src["rank"])
	assert.Equal(t, []string{"5"}, src["collectionIds"])
	assert.Equal(t, []map[string]any{}, src["variants"])
	assert.NotContains(t, src, "minPrice")

	collections := src["collections"].([]map[string]any)
	require.Len(t, collections, 1)
	assert.Equal(t, "Kitchen", collections[0]["title"])
}

func TestAllowList_Filter(t *testing.T) {
	src := map[string]any{"id": "1", "title": "x", "secret": true}

	filtered := NewAllowList("id", "title").Filter(src)
	assert.Equal(t, map[string]any{"id": "1", "title": "x"}, filtered)

	assert.Equal(t, src, NewAllowList().Filter(src))
}
