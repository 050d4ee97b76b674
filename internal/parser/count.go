package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// CountExtractor reads the "N items" figure a listing page shows for the
// current filter.
type CountExtractor struct {
	xpaths  []string
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// NewCountExtractor compiles the count pattern. The pattern's first group
// must capture the number; any non-digit inside it is ignored.
func NewCountExtractor(xpaths []string, pattern string, logger *slog.Logger) (*CountExtractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &types.ParseError{Selector: pattern, Err: fmt.Errorf("compile count pattern: %w", err)}
	}
	if re.NumSubexp() < 1 {
		return nil, &types.ParseError{Selector: pattern, Err: errors.New("count pattern has no capture group")}
	}
	return &CountExtractor{
		xpaths:  xpaths,
		pattern: re,
		logger:  logger.With("component", "count_extractor"),
	}, nil
}

// Count returns the result count shown on the page. ok is false when the
// page does not expose one, which is not the same as zero results.
func (c *CountExtractor) Count(doc string) (n int, ok bool) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return 0, false
	}

	for _, expr := range c.xpaths {
		nodes, err := htmlquery.QueryAll(root, expr)
		if err != nil {
			c.logger.Warn("invalid count xpath", "xpath", expr, "error", err)
			continue
		}
		for _, node := range nodes {
			if n, ok := c.match(htmlquery.InnerText(node)); ok {
				return n, true
			}
		}
	}

	// Fallback: anywhere in the page text.
	return c.match(htmlquery.InnerText(root))
}

func (c *CountExtractor) match(text string) (int, bool) {
	m := c.pattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, m[1])
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
