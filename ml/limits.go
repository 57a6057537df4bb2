package ml

import (
	"strings"

	"golang.org/x/net/html"
)

// Parse limits. Pages longer than MaxHTMLBytes are truncated before parsing; pages nested deeper than
// MaxHTMLDepth are not parsed at all and extract as a zero vector.
const (
	MaxHTMLBytes = 1 << 20
	MaxHTMLDepth = 512
)

// Elements that never hold children, and elements whose end tag is implied by the next sibling.
// Neither deepens the tree the parser builds.
var flatElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
	"input": true, "link": true, "meta": true, "param": true, "source": true, "track": true, "wbr": true,
	"p": true, "li": true, "dt": true, "dd": true, "option": true, "optgroup": true,
	"tr": true, "td": true, "th": true, "thead": true, "tbody": true, "tfoot": true, "colgroup": true,
	"rb": true, "rt": true, "rp": true,
}

// truncateHTML cuts page to at most MaxHTMLBytes, backing off to a rune boundary.
func truncateHTML(page string) string {
	if len(page) <= MaxHTMLBytes {
		return page
	}
	cut := MaxHTMLBytes
	for cut > 0 && !isRuneStart(page[cut]) {
		cut--
	}
	return page[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// nestingDepth returns the deepest open-element count seen while tokenizing page, stopping early once
// limit is exceeded. It runs in time linear in len(page).
func nestingDepth(page string, limit int) int {
	z := html.NewTokenizer(strings.NewReader(page))
	depth, deepest := 0, 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return deepest
		case html.StartTagToken:
			name, _ := z.TagName()
			if flatElements[string(name)] {
				continue
			}
			depth++
			if depth > deepest {
				deepest = depth
				if deepest > limit {
					return deepest
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if depth > 0 && !flatElements[string(name)] {
				depth--
			}
		}
	}
}
