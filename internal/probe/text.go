package probe

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var stripAll = bluemonday.StrictPolicy()

// blockElements get a trailing space so adjacent blocks do not run together.
const blockElements = "p, div, li, br, tr, td, th, h1, h2, h3, h4, h5, h6, section, article, header, footer"

// ExtractText returns the visible text of an HTML page with whitespace
// collapsed. Script and style contents are dropped.
func ExtractText(page string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return collapse(html.UnescapeString(stripAll.Sanitize(page)))
	}
	doc.Find("script, style, noscript, template, svg").Remove()
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return collapse(doc.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
