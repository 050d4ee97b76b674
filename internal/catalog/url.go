package catalog

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PriceParam is the query parameter carrying the price filter as
// "<lower>;<upper>" in kopecks.
const PriceParam = "priceU"

// Default filter bounds applied when the crawl URL has none.
var (
	DefaultLower = Rubles(1)
	DefaultUpper = Rubles(10_000_000)
)

// parseQuery tolerates a literal ';' inside the price filter, which
// net/url would otherwise reject as a separator.
func parseQuery(u *url.URL) url.Values {
	raw := strings.ReplaceAll(u.RawQuery, ";", "%3B")
	q, _ := url.ParseQuery(raw)
	if q == nil {
		q = url.Values{}
	}
	return q
}

func parseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url must have a host")
	}
	return u, nil
}

// PrepareURL normalizes a catalog URL for crawling: popularity sort, first
// page, and a price filter. An existing price filter is kept.
func PrepareURL(rawURL string) (string, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return "", err
	}
	q := parseQuery(u)
	q.Set("sort", "popular")
	q.Set("page", "1")
	if _, ok := priceRange(q); !ok {
		q.Set(PriceParam, formatRange(DefaultLower, DefaultUpper))
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// PriceRange reads the price filter of a catalog URL.
func PriceRange(rawURL string) (Window, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Window{}, false
	}
	return priceRange(parseQuery(u))
}

func priceRange(q url.Values) (Window, bool) {
	v := q.Get(PriceParam)
	if v == "" {
		return Window{}, false
	}
	lo, hi, ok := strings.Cut(v, ";")
	if !ok {
		return Window{}, false
	}
	lower, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return Window{}, false
	}
	upper, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
	if err != nil {
		return Window{}, false
	}
	w, err := NewWindow(Price(lower), Price(upper))
	if err != nil {
		return Window{}, false
	}
	return w, true
}

func formatRange(lower, upper Price) string {
	return strconv.FormatInt(lower.Kopecks(), 10) + ";" + strconv.FormatInt(upper.Kopecks(), 10)
}

// WindowURL returns base with its price filter replaced by w.
func WindowURL(base string, w Window) (string, error) {
	u, err := parseHTTPURL(base)
	if err != nil {
		return "", err
	}
	q := parseQuery(u)
	q.Set(PriceParam, formatRange(w.Lower, w.Upper))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CategoryFromURL derives the category label from the URL path: the part
// after "/catalog/" (or the whole path) with "/" replaced by "_" and
// percent-decoded.
func CategoryFromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	path := u.EscapedPath()
	path = strings.TrimSuffix(path, "/")

	var catPath string
	if _, after, ok := strings.Cut(path, "/catalog/"); ok {
		catPath = after
	} else {
		catPath = strings.Trim(path, "/")
	}
	label := strings.ReplaceAll(catPath, "/", "_")
	if decoded, err := url.PathUnescape(label); err == nil {
		return decoded
	}
	return label
}

// BaseDomain returns "scheme://host" of a URL.
func BaseDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}
