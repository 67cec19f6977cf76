package verify

import (
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Resource is one retrieved document together with what its strategy could
// learn about it.
type Resource struct {
	// URL is the address the resource was retrieved for.
	URL string

	// Strategy names the retriever that produced the resource.
	Strategy string

	// Metadata holds drive file metadata. Empty for fetched resources.
	Metadata map[string]string

	// Header holds the response headers. Nil for drive resources.
	Header http.Header

	Body        []byte
	ContentType string
}

// IsHTML reports whether the resource is an HTML document: the URL path ends
// in .htm or .html, or the content type (declared or sniffed) is text/html.
func (r *Resource) IsHTML() bool {
	p := r.URL
	if u, err := url.Parse(r.URL); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	if strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".htm") {
		return true
	}

	ct := r.ContentType
	if ct == "" && len(r.Body) > 0 {
		ct = http.DetectContentType(r.Body)
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "text/html"
}
