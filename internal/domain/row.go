package domain

import (
	"encoding/json"
	"fmt"
)

// RowKind is the semantic classification of one export line.
type RowKind int

const (
	RowIgnore RowKind = iota
	RowProduct
	RowCollection
	RowProductOption
	RowProductVariant
	RowMediaImage
	// RowProductCollection is a product -> collection membership edge.
	RowProductCollection
	RowCollectionImage
	// RowCollectionProduct is a collection -> product membership edge.
	RowCollectionProduct
)

var rowKindNames = [...]string{
	RowIgnore:            "ignore",
	RowProduct:           "product",
	RowCollection:        "collection",
	RowProductOption:     "product_option",
	RowProductVariant:    "product_variant",
	RowMediaImage:        "media_image",
	RowProductCollection: "product_collection",
	RowCollectionImage:   "collection_image",
	RowCollectionProduct: "collection_product",
}

func (k RowKind) String() string {
	if int(k) < len(rowKindNames) {
		return rowKindNames[k]
	}
	return "ignore"
}

// Classify maps the resource type of a row and of its parent to a row kind.
// It is a pure function; unrecognized combinations return RowIgnore.
func Classify(self, parent ResourceType) RowKind {
	switch parent {
	case ResourceUnknown:
		switch self {
		case ResourceProduct:
			return RowProduct
		case ResourceCollection:
			return RowCollection
		}
	case ResourceProduct:
		switch self {
		case ResourceProductOption:
			return RowProductOption
		case ResourceProductVariant:
			return RowProductVariant
		case ResourceMediaImage, ResourceProductImage, ResourceImage:
			return RowMediaImage
		case ResourceCollection:
			return RowProductCollection
		}
	case ResourceCollection:
		switch self {
		case ResourceImage, ResourceMediaImage:
			return RowCollectionImage
		case ResourceProduct:
			return RowCollectionProduct
		}
	}
	return RowIgnore
}

// Row is one decoded export line. Fields holds every attribute except the
// identifiers.
type Row struct {
	Line     int64
	ID       string
	ParentID string
	Kind     RowKind
	Fields   map[string]any
}

// ParseRow decodes and classifies one export line.
func ParseRow(line int64, data []byte) (*Row, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &RowParseError{Line: line, Err: err}
	}
	id, _ := fields["id"].(string)
	if id == "" {
		return nil, &RowParseError{Line: line, Err: fmt.Errorf("missing id")}
	}
	parentID, _ := fields["__parentId"].(string)
	delete(fields, "id")
	delete(fields, "__parentId")

	return &Row{
		Line:     line,
		ID:       id,
		ParentID: parentID,
		Kind:     Classify(ParseResourceType(id), ParseResourceType(parentID)),
		Fields:   fields,
	}, nil
}

// rowHeader is the minimal shape decoded for lines that are skipped on resume.
type rowHeader struct {
	ID       string `json:"id"`
	ParentID string `json:"__parentId"`
}

// PeekProductID returns the id of a root Product line without decoding the
// remaining fields. ok is false for any other line.
func PeekProductID(data []byte) (id string, ok bool) {
	var h rowHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return "", false
	}
	if h.ParentID != "" || ParseResourceType(h.ID) != ResourceProduct {
		return "", false
	}
	return h.ID, true
}
