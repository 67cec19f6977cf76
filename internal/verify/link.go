package verify

import (
	"net/http"
	"strings"
)

// Link is one entry of an HTTP Link header.
type Link struct {
	URL    string
	Params map[string]string
}

// Rel returns the rel parameter, or "".
func (l Link) Rel() string { return l.Params["rel"] }

// ParseLinkHeader splits every Link header value of h into entries. Commas
// and semicolons inside <...> or quoted strings do not split. Entries
// without a bracketed URL are skipped.
func ParseLinkHeader(h http.Header) []Link {
	var out []Link
	for _, value := range h.Values("Link") {
		for _, entry := range splitOutside(value, ',') {
			if l, ok := parseLink(entry); ok {
				out = append(out, l)
			}
		}
	}
	return out
}

// webmentionLinks returns the URLs of Link entries whose rel contains
// "webmention".
func webmentionLinks(h http.Header) []string {
	var out []string
	for _, l := range ParseLinkHeader(h) {
		if strings.Contains(strings.ToLower(l.Rel()), "webmention") {
			out = append(out, l.URL)
		}
	}
	return out
}

func parseLink(entry string) (Link, bool) {
	parts := splitOutside(entry, ';')
	if len(parts) == 0 {
		return Link{}, false
	}
	ref := strings.TrimSpace(parts[0])
	if len(ref) < 2 || ref[0] != '<' || ref[len(ref)-1] != '>' {
		return Link{}, false
	}

	l := Link{URL: strings.TrimSpace(ref[1 : len(ref)-1]), Params: map[string]string{}}
	for _, p := range parts[1:] {
		k, v, _ := strings.Cut(p, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		l.Params[k] = v
	}
	return l, true
}

// splitOutside splits s on sep, ignoring separators inside <...> and double
// quotes.
func splitOutside(s string, sep byte) []string {
	var out []string
	var inAngle, inQuote bool
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' && !inAngle:
			inQuote = !inQuote
		case c == '<' && !inQuote:
			inAngle = true
		case c == '>' && !inQuote:
			inAngle = false
		case c == sep && !inAngle && !inQuote:
			if part := strings.TrimSpace(s[start:i]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}
