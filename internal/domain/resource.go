package domain

import (
	"strings"
)

// ResourceType identifies the kind of entity encoded in a resource-typed identifier
// such as "gid://shopify/Product/123".
type ResourceType int

const (
	ResourceUnknown ResourceType = iota
	ResourceProduct
	ResourceProductVariant
	ResourceProductOption
	ResourceMediaImage
	ResourceProductImage
	ResourceCollection
	ResourceImage
)

const gidPrefix = "gid://shopify/"

var resourceTypeNames = map[string]ResourceType{
	"Product":        ResourceProduct,
	"ProductVariant": ResourceProductVariant,
	"ProductOption":  ResourceProductOption,
	"MediaImage":     ResourceMediaImage,
	"ProductImage":   ResourceProductImage,
	"Collection":     ResourceCollection,
	"Image":          ResourceImage,
}

// String returns the platform name of the resource type.
func (t ResourceType) String() string {
	switch t {
	case ResourceProduct:
		return "Product"
	case ResourceProductVariant:
		return "ProductVariant"
	case ResourceProductOption:
		return "ProductOption"
	case ResourceMediaImage:
		return "MediaImage"
	case ResourceProductImage:
		return "ProductImage"
	case ResourceCollection:
		return "Collection"
	case ResourceImage:
		return "Image"
	default:
		return "Unknown"
	}
}

// ParseResourceType decodes the resource type embedded in an identifier.
// Identifiers that are empty or not in gid form decode to ResourceUnknown.
func ParseResourceType(id string) ResourceType {
	rest, ok := strings.CutPrefix(id, gidPrefix)
	if !ok {
		return ResourceUnknown
	}
	name, _, found := strings.Cut(rest, "/")
	if !found {
		return ResourceUnknown
	}
	if rt, ok := resourceTypeNames[name]; ok {
		return rt
	}
	return ResourceUnknown
}

// NormalizeID strips the gid prefix and any query parameters, returning the
// trailing numeric part. Non-gid identifiers are returned unchanged.
func NormalizeID(id string) string {
	if !strings.HasPrefix(id, gidPrefix) {
		return id
	}
	id, _, _ = strings.Cut(id, "?")
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// ProductGID builds the gid form of a numeric product id.
func ProductGID(id string) string {
	if strings.HasPrefix(id, gidPrefix) {
		return id
	}
	return gidPrefix + "Product/" + id
}
