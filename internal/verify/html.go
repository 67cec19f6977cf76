package verify

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// eachTag calls fn with the attributes of every start or self-closing tag in
// body until fn returns true. It reports whether fn stopped the scan.
// Attribute names arrive lowercased and values unescaped.
func eachTag(body []byte, fn func(attrs map[string]string) bool) bool {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			_, hasAttr := z.TagName()
			if !hasAttr {
				continue
			}
			attrs := make(map[string]string)
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				attrs[string(k)] = string(v)
			}
			if fn(attrs) {
				return true
			}
		}
	}
}

// webmentionHrefs returns the href of every element whose rel attribute
// carries the webmention token, in document order.
func webmentionHrefs(body []byte) []string {
	var out []string
	eachTag(body, func(attrs map[string]string) bool {
		href, ok := attrs["href"]
		if !ok || !hasRelToken(attrs["rel"], "webmention") {
			return false
		}
		out = append(out, href)
		return false
	})
	return out
}

// referencesURL reports whether any element has an href or src attribute
// exactly equal to target.
func referencesURL(body []byte, target string) bool {
	return eachTag(body, func(attrs map[string]string) bool {
		if v, ok := attrs["href"]; ok && v == target {
			return true
		}
		v, ok := attrs["src"]
		return ok && v == target
	})
}

func hasRelToken(rel, token string) bool {
	for _, f := range strings.Fields(rel) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}
