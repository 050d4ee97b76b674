package catalog

import (
	"net/url"
	"strings"
	"testing"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		raw     string
		primary string
		levels  [MaxCategoryLevels]string
	}{
		{
			raw:     "odezhda_zhenschinam_bluzki-i-rubashki",
			primary: "bluzki-i-rubashki",
			levels:  [4]string{"bluzki-i-rubashki", "zhenschinam", "odezhda", ""},
		},
		{raw: "", primary: "", levels: [4]string{}},
		{raw: "a_b_c_d_e", primary: "e", levels: [4]string{"e", "d", "c", "b"}},
		{raw: "elektronika", primary: "elektronika", levels: [4]string{"elektronika", "", "", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseCategory(tt.raw)
			if got.Raw != tt.raw {
				t.Errorf("raw = %q", got.Raw)
			}
			if got.Primary != tt.primary {
				t.Errorf("primary = %q, want %q", got.Primary, tt.primary)
			}
			if got.Levels != tt.levels {
				t.Errorf("levels = %q, want %q", got.Levels, tt.levels)
			}
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want Price
		err  bool
	}{
		{"5000", 500000, false},
		{"0.1", 10, false},
		{"0.10", 10, false},
		{"123.45", 12345, false},
		{".5", 50, false},
		{"1.234", 0, true},
		{"", 0, true},
		{"abc", 0, true},
		{"1.", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePrice(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("ParsePrice(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePrice(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePrice(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPriceStringAndFloor(t *testing.T) {
	if s := Price(12345).String(); s != "123.45" {
		t.Errorf("String = %q", s)
	}
	if s := Price(5).String(); s != "0.05" {
		t.Errorf("String = %q", s)
	}
	if got := Price(12345).FloorTo(10); got != 12340 {
		t.Errorf("FloorTo = %d", got)
	}
	if got := Price(12345).FloorTo(0); got != 12345 {
		t.Errorf("FloorTo(0) = %d", got)
	}
}

func TestNewWindow(t *testing.T) {
	if _, err := NewWindow(10, 5); err == nil {
		t.Error("expected error for inverted window")
	}
	if _, err := NewWindow(-1, 5); err == nil {
		t.Error("expected error for negative bound")
	}
	w, err := NewWindow(100, 100)
	if err != nil || w.Width() != 0 {
		t.Errorf("single point window: %v %v", w, err)
	}
}

func TestPrepareURL(t *testing.T) {
	got, err := PrepareURL("https://www.wildberries.ru/catalog/obuv/detskaya?xsubject=1&page=3")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(got)
	q := u.Query()
	if q.Get("sort") != "popular" || q.Get("page") != "1" || q.Get("xsubject") != "1" {
		t.Errorf("query = %v", q)
	}
	if q.Get(PriceParam) != "100;1000000000" {
		t.Errorf("priceU = %q", q.Get(PriceParam))
	}
	if !strings.Contains(got, "priceU=100%3B1000000000") {
		t.Errorf("priceU should be percent-encoded: %s", got)
	}

	kept, err := PrepareURL("https://www.wildberries.ru/catalog/obuv?priceU=50000;90000")
	if err != nil {
		t.Fatal(err)
	}
	w, ok := PriceRange(kept)
	if !ok || w.Lower != 50000 || w.Upper != 90000 {
		t.Errorf("existing filter not kept: %v %v", w, ok)
	}

	if _, err := PrepareURL("not a url"); err == nil {
		t.Error("expected error")
	}
}

func TestWindowURL(t *testing.T) {
	base := "https://www.wildberries.ru/catalog/obuv?page=1&priceU=100%3B1000000000&sort=popular"
	got, err := WindowURL(base, Window{Lower: Rubles(1), Upper: 12345})
	if err != nil {
		t.Fatal(err)
	}
	w, ok := PriceRange(got)
	if !ok || w.Lower != 100 || w.Upper != 12345 {
		t.Errorf("window = %v %v (%s)", w, ok, got)
	}
	if !strings.Contains(got, "sort=popular") {
		t.Errorf("other params lost: %s", got)
	}
}

func TestPriceRangeMissing(t *testing.T) {
	for _, raw := range []string{
		"https://www.wildberries.ru/catalog/obuv",
		"https://www.wildberries.ru/catalog/obuv?priceU=abc",
		"https://www.wildberries.ru/catalog/obuv?priceU=500%3B100",
	} {
		if _, ok := PriceRange(raw); ok {
			t.Errorf("PriceRange(%q) should be absent", raw)
		}
	}
}

func TestCategoryFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.wildberries.ru/catalog/obuv/detskaya", "obuv_detskaya"},
		{"https://www.wildberries.ru/catalog/obuv/detskaya/?page=1", "obuv_detskaya"},
		{"https://www.wildberries.ru/catalog/elektronika", "elektronika"},
		{"https://www.wildberries.ru/brands/nike", "brands_nike"},
		{"https://www.wildberries.ru/catalog/%D0%BE%D0%B1%D1%83%D0%B2%D1%8C", "обувь"},
	}
	for _, tt := range tests {
		if got := CategoryFromURL(tt.url); got != tt.want {
			t.Errorf("CategoryFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestBaseDomain(t *testing.T) {
	if got := BaseDomain("https://www.wildberries.ru/catalog/obuv?x=1"); got != "https://www.wildberries.ru" {
		t.Errorf("BaseDomain = %q", got)
	}
	if got := BaseDomain("/relative"); got != "" {
		t.Errorf("BaseDomain(relative) = %q", got)
	}
}
