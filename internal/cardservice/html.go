package cardservice

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// newPolicy allows user-generated HTML plus card-link references.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("card-link")
	p.AllowAttrs("card").Matching(cardIDPattern).OnElements("card-link")
	return p
}

// ExtractLinks returns the distinct card ids referenced by card-link
// elements, in document order.
func ExtractLinks(body string) ([]string, error) {
	links := []string{}
	if strings.TrimSpace(body) == "" {
		return links, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	doc.Find("card-link[card]").Each(func(_ int, sel *goquery.Selection) {
		id := strings.TrimSpace(sel.AttrOr("card", ""))
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		links = append(links, id)
	})
	return links, nil
}
