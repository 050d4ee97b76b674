package types

import "time"

// ItemRecord is one product sighting extracted from a catalog page.
type ItemRecord struct {
	// Category is the category label derived from the crawl URL.
	Category string `json:"category"`

	// Link is the absolute product URL.
	Link string `json:"link"`

	// Article is the product identifier. Empty means the item cannot be
	// deduplicated and must not be stored.
	Article string `json:"article"`
}

// Identifiable reports whether the record carries an article.
func (r ItemRecord) Identifiable() bool { return r.Article != "" }

// ProductRow is the durable form of an ItemRecord.
type ProductRow struct {
	Article     string    `json:"article"      bson:"article"`
	ProductURL  string    `json:"product_url"  bson:"product_url"`
	CategoryRaw string    `json:"category_raw" bson:"category_raw"`
	Category    string    `json:"category"     bson:"category"`
	CategoryL1  string    `json:"category_l1"  bson:"category_l1"`
	CategoryL2  string    `json:"category_l2"  bson:"category_l2"`
	CategoryL3  string    `json:"category_l3"  bson:"category_l3"`
	CategoryL4  string    `json:"category_l4"  bson:"category_l4"`
	ParsedAt    time.Time `json:"parsed_at"    bson:"parsed_at"`
}
