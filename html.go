package signin

import (
	"strings"

	"golang.org/x/net/html"
)

// LinkRel returns the href of the first <link> element in root that carries
// rel in its rel list. The href is returned as written, so relative
// references need resolving against the page URL.
func LinkRel(root *html.Node, rel string) (string, bool) {
	if root == nil {
		return "", false
	}

	for _, node := range searchAll(root, isLink) {
		for _, r := range strings.Fields(getAttr(node, "rel")) {
			if r == rel {
				return getAttr(node, "href"), true
			}
		}
	}

	return "", false
}

func searchAll(node *html.Node, pred func(*html.Node) bool) (results []*html.Node) {
	if pred(node) {
		results = append(results, node)
		return
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		result := searchAll(child, pred)
		results = append(results, result...)
	}

	return
}

func isLink(node *html.Node) bool {
	return node.Type == html.ElementNode && node.Data == "link"
}

func getAttr(node *html.Node, attrName string) string {
	for _, attr := range node.Attr {
		if attr.Key == attrName {
			return attr.Val
		}
	}

	return ""
}
