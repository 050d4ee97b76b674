// Package parser extracts product records and result counts from rendered
// catalog pages.
package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// productLinkSelector matches anchors that point at a product card.
const productLinkSelector = `a[href*="detail.aspx"]`

var articleRe = regexp.MustCompile(`/catalog/(\d+)/detail\.aspx`)

// ProductExtractor pulls product records out of a listing page.
type ProductExtractor struct{}

// NewProductExtractor creates a product extractor.
func NewProductExtractor() *ProductExtractor {
	return &ProductExtractor{}
}

// Extract returns one record per product anchor in doc. Relative links are
// joined to baseDomain, absolute http(s) links are kept and anything else
// is ignored. Records whose link carries no article are returned with an
// empty Article so the caller can account for them.
func (e *ProductExtractor) Extract(doc, baseDomain, category string) []types.ItemRecord {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil
	}
	baseDomain = strings.TrimSuffix(baseDomain, "/")

	var records []types.ItemRecord
	d.Find(productLinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}

		var link string
		switch {
		case strings.HasPrefix(href, "/"):
			link = baseDomain + href
		case strings.HasPrefix(href, "https://"), strings.HasPrefix(href, "http://"):
			link = href
		default:
			return
		}

		rec := types.ItemRecord{Category: category, Link: link}
		if m := articleRe.FindStringSubmatch(link); m != nil {
			rec.Article = m[1]
		}
		records = append(records, rec)
	})

	return records
}
