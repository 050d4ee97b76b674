// Package catalog holds the price arithmetic and URL conventions of the
// product catalog being crawled.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Price is an amount in kopecks. All window arithmetic is done on this
// integer form; decimal rubles only appear at the edges.
type Price int64

const (
	Kopeck Price = 1
	Ruble  Price = 100
)

// Rubles builds a Price from a whole number of rubles.
func Rubles(n int64) Price { return Price(n) * Ruble }

// String formats the price as decimal rubles, e.g. "123.45".
func (p Price) String() string {
	sign := ""
	if p < 0 {
		sign = "-"
		p = -p
	}
	return fmt.Sprintf("%s%d.%02d", sign, int64(p/Ruble), int64(p%Ruble))
}

// Kopecks returns the raw integer amount.
func (p Price) Kopecks() int64 { return int64(p) }

// FloorTo rounds p down to a multiple of step. Non-positive steps return p.
func (p Price) FloorTo(step Price) Price {
	if step <= 0 {
		return p
	}
	return p - p%step
}

// ParsePrice parses a decimal ruble amount such as "5000", "0.1" or
// "123.45". More than two fractional digits is an error.
func ParsePrice(s string) (Price, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse price: empty string")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	rub, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	var kop int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("parse price %q: expected 1 or 2 fractional digits", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		kop, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse price %q: %w", s, err)
		}
	}
	p := Price(rub)*Ruble + Price(kop)
	if neg {
		p = -p
	}
	return p, nil
}

// Window is an inclusive price interval used as a catalog filter.
type Window struct {
	Lower Price `json:"lower"`
	Upper Price `json:"upper"`
}

// NewWindow returns a validated window.
func NewWindow(lower, upper Price) (Window, error) {
	if lower < 0 || upper < 0 {
		return Window{}, fmt.Errorf("window bounds must be non-negative, got [%s, %s]", lower, upper)
	}
	if lower > upper {
		return Window{}, fmt.Errorf("window lower %s exceeds upper %s", lower, upper)
	}
	return Window{Lower: lower, Upper: upper}, nil
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.Lower, w.Upper)
}

// Width returns Upper - Lower.
func (w Window) Width() Price { return w.Upper - w.Lower }
