package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// CollectionRef is a collection a product belongs to.
type CollectionRef struct {
	ID     string `json:"id"`
	Handle string `json:"handle,omitempty"`
	Title  string `json:"title,omitempty"`
}

// ProductDocument is a product reassembled from its export rows.
type ProductDocument struct {
	ID          string
	Fields      map[string]any
	Variants    []map[string]any
	Images      []map[string]any
	Options     []map[string]any
	Collections []CollectionRef
	OptionPairs []string
	MinPrice    *float64
	MaxPrice    *float64
	Rank        *int

	// FirstLine is the export line of the first row that contributed to the document.
	FirstLine int64
}

// DocID is the index document id: the normalized product id.
func (d *ProductDocument) DocID() string {
	return NormalizeID(d.ID)
}

// AddCollection appends a collection unless it is already present.
func (d *ProductDocument) AddCollection(ref CollectionRef) {
	for i := range d.Collections {
		if d.Collections[i].ID == ref.ID {
			if d.Collections[i].Title == "" {
				d.Collections[i] = ref
			}
			return
		}
	}
	d.Collections = append(d.Collections, ref)
}

// Derive computes option pairs and the price range from variants and options.
func (d *ProductDocument) Derive() {
	seen := make(map[string]struct{})
	d.OptionPairs = d.OptionPairs[:0]
	addPair := func(name, value string) {
		if name == "" || value == "" {
			return
		}
		pair := name + ":" + value
		if _, ok := seen[pair]; ok {
			return
		}
		seen[pair] = struct{}{}
		d.OptionPairs = append(d.OptionPairs, pair)
	}

	d.MinPrice, d.MaxPrice = nil, nil
	for _, v := range d.Variants {
		if opts, ok := v["selectedOptions"].([]any); ok {
			for _, o := range opts {
				if m, ok := o.(map[string]any); ok {
					name, _ := m["name"].(string)
					value, _ := m["value"].(string)
					addPair(name, value)
				}
			}
		}
		if p, ok := parsePrice(v["price"]); ok {
			if d.MinPrice == nil || p < *d.MinPrice {
				d.MinPrice = &p
			}
			if d.MaxPrice == nil || p > *d.MaxPrice {
				pp := p
				d.MaxPrice = &pp
			}
		}
	}
	for _, o := range d.Options {
		name, _ := o["name"].(string)
		values, _ := o["values"].([]any)
		for _, v := range values {
			if s, ok := v.(string); ok {
				addPair(name, s)
			}
		}
	}
}

// parsePrice accepts the shapes a price takes in exports: a decimal string,
// a JSON number, or a money object with an amount.
func parsePrice(v any) (float64, bool) {
	switch p := v.(type) {
	case string:
		f, err := strconv.ParseFloat(p, 64)
		return f, err == nil
	case float64:
		return p, true
	case json.Number:
		f, err := p.Float64()
		return f, err == nil
	case map[string]any:
		return parsePrice(p["amount"])
	default:
		return 0, false
	}
}

// Source renders the document as the map sent to the search index.
func (d *ProductDocument) Source() map[string]any {
	src := make(map[string]any, len(d.Fields)+10)
	for k, v := range d.Fields {
		src[k] = v
	}
	src["id"] = d.ID
	src["legacyId"] = d.DocID()
	src["variants"] = nonNil(d.Variants)
	src["images"] = nonNil(d.Images)
	src["options"] = nonNil(d.Options)

	collections := make([]map[string]any, 0, len(d.Collections))
	collectionIDs := make([]string, 0, len(d.Collections))
	for _, c := range d.Collections {
		collections = append(collections, c.Source())
		collectionIDs = append(collectionIDs, NormalizeID(c.ID))
	}
	src["collections"] = collections
	src["collectionIds"] = collectionIDs

	pairs := d.OptionPairs
	if pairs == nil {
		pairs = []string{}
	}
	src["optionPairs"] = pairs
	if d.MinPrice != nil {
		src["minPrice"] = *d.MinPrice
	}
	if d.MaxPrice != nil {
		src["maxPrice"] = *d.MaxPrice
	}
	if d.Rank != nil {
		src["rank"] = *d.Rank
	}
	return src
}

// Source renders the collection reference for the search index.
func (c CollectionRef) Source() map[string]any {
	return map[string]any{
		"id":     c.ID,
		"handle": c.Handle,
		"title":  c.Title,
	}
}

func nonNil(items []map[string]any) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	return items
}

// String implements fmt.Stringer for log output.
func (d *ProductDocument) String() string {
	return fmt.Sprintf("product %s (%d variants, %d images, %d collections)",
		d.DocID(), len(d.Variants), len(d.Images), len(d.Collections))
}
