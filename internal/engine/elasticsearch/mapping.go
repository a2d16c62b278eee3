package elasticsearch

// buildIndexMapping returns the JSON mapping for a catalog products index.
// Unknown fields are mapped dynamically; the declared ones drive filtering,
// faceting and sorting.
func buildIndexMapping() string {
	return `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "autocomplete_analyzer": {
          "type": "custom",
          "tokenizer": "autocomplete_tokenizer",
          "filter": ["lowercase"]
        },
        "autocomplete_search": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase"]
        }
      },
      "tokenizer": {
        "autocomplete_tokenizer": {
          "type": "edge_ngram",
          "min_gram": 2,
          "max_gram": 20,
          "token_chars": ["letter", "digit"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "id":              { "type": "keyword" },
      "legacyId":        { "type": "keyword" },
      "title":           { "type": "text", "fields": { "keyword": { "type": "keyword", "ignore_above": 256 }, "autocomplete": { "type": "text", "analyzer": "autocomplete_analyzer", "search_analyzer": "autocomplete_search" } } },
      "handle":          { "type": "keyword" },
      "description":     { "type": "text" },
      "descriptionHtml": { "type": "text", "index": false },
      "vendor":          { "type": "keyword" },
      "productType":     { "type": "keyword" },
      "tags":            { "type": "keyword" },
      "status":          { "type": "keyword" },
      "createdAt":       { "type": "date" },
      "updatedAt":       { "type": "date" },
      "publishedAt":     { "type": "date" },
      "onlineStoreUrl":  { "type": "keyword", "index": false },
      "totalInventory":  { "type": "integer" },
      "optionPairs":     { "type": "keyword" },
      "collectionIds":   { "type": "keyword" },
      "minPrice":        { "type": "scaled_float", "scaling_factor": 100 },
      "maxPrice":        { "type": "scaled_float", "scaling_factor": 100 },
      "rank":            { "type": "integer" },
      "collections": {
        "properties": {
          "id":     { "type": "keyword" },
          "handle": { "type": "keyword" },
          "title":  { "type": "text", "fields": { "keyword": { "type": "keyword" } } }
        }
      },
      "variants": {
        "properties": {
          "id":                { "type": "keyword" },
          "sku":               { "type": "keyword" },
          "title":             { "type": "text" },
          "price":             { "type": "scaled_float", "scaling_factor": 100 },
          "compareAtPrice":    { "type": "scaled_float", "scaling_factor": 100 },
          "availableForSale":  { "type": "boolean" },
          "inventoryQuantity": { "type": "integer" }
        }
      },
      "images": {
        "properties": {
          "id":  { "type": "keyword" },
          "alt": { "type": "text" }
        }
      }
    }
  }
}`
}
