package catalog

import "strings"

// CategorySeparator joins path segments in a category label.
const CategorySeparator = "_"

// MaxCategoryLevels is the number of hierarchy levels kept per product.
const MaxCategoryLevels = 4

// CategoryLevels is a parsed category label, most specific level first.
type CategoryLevels struct {
	Raw     string
	Primary string
	Levels  [MaxCategoryLevels]string
}

// ParseCategory splits a label such as "odezhda_zhenschinam_bluzki" into
// its primary category ("bluzki") and up to four levels ordered from the
// most specific. Missing levels are empty; an empty label yields an empty
// result.
func ParseCategory(raw string) CategoryLevels {
	out := CategoryLevels{Raw: raw}
	if raw == "" {
		return out
	}
	parts := strings.Split(raw, CategorySeparator)
	out.Primary = parts[len(parts)-1]
	for i := 0; i < MaxCategoryLevels && i < len(parts); i++ {
		out.Levels[i] = parts[len(parts)-1-i]
	}
	return out
}
