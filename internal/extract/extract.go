// Package extract pulls the small amount of page metadata candidate capture
// needs out of fetched HTML.
package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// PageMeta is the extracted landing-page metadata.
type PageMeta struct {
	Title       string
	Description string
}

// FromHTML parses the document and returns its <title> text and the content
// of the description meta tag (name or og:description). A parse failure
// returns the zero value; callers treat metadata as best-effort.
func FromHTML(input string) PageMeta {
	node, err := html.Parse(strings.NewReader(input))
	if err != nil || node == nil {
		return PageMeta{}
	}

	var meta PageMeta
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if meta.Title == "" && n.FirstChild != nil {
					meta.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				var name, property, content string
				for _, a := range n.Attr {
					switch strings.ToLower(a.Key) {
					case "name":
						name = strings.ToLower(a.Val)
					case "property":
						property = strings.ToLower(a.Val)
					case "content":
						content = a.Val
					}
				}
				if meta.Description == "" && content != "" &&
					(name == "description" || property == "og:description") {
					meta.Description = strings.TrimSpace(content)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return meta
}
