package domain

// FieldFilter reduces a document source to the fields the index schema accepts.
type FieldFilter interface {
	Filter(source map[string]any) map[string]any
}

// FieldFilterFunc adapts a function to the FieldFilter interface.
type FieldFilterFunc func(source map[string]any) map[string]any

// Filter calls f(source).
func (f FieldFilterFunc) Filter(source map[string]any) map[string]any {
	return f(source)
}

// AllowList keeps only the listed top-level fields. An empty list keeps everything.
type AllowList map[string]struct{}

// NewAllowList builds an allow-list from field names.
func NewAllowList(fields ...string) AllowList {
	a := make(AllowList, len(fields))
	for _, f := range fields {
		a[f] = struct{}{}
	}
	return a
}

// Filter implements FieldFilter.
func (a AllowList) Filter(source map[string]any) map[string]any {
	if len(a) == 0 {
		return source
	}
	out := make(map[string]any, len(a))
	for k, v := range source {
		if _, ok := a[k]; ok {
			out[k] = v
		}
	}
	return out
}

// DefaultDocumentFields is the allow-list applied when none is configured.
var DefaultDocumentFields = []string{
	"id", "legacyId", "title", "handle", "description", "descriptionHtml",
	"vendor", "productType", "tags", "status", "createdAt", "updatedAt",
	"publishedAt", "onlineStoreUrl", "totalInventory", "featuredImage",
	"variants", "images", "options", "collections", "collectionIds",
	"optionPairs", "minPrice", "maxPrice", "rank", "seo",
}
