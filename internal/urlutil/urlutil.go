// Package urlutil resolves relative references, normalizes origins, and
// derives the drive locations used for mention records.
package urlutil

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/sha256-simd"
)

// Absolute resolves ref against base using path-segment resolution.
//
// A ref containing "://" is returned unchanged. A ref starting with "/" is
// joined to the scheme and host of base. Anything else replaces the last
// segment of base's path, skipping "." segments and popping one segment per
// "..". Popping never climbs above the host. An empty ref returns base.
func Absolute(base, ref string) string {
	if strings.Contains(ref, "://") {
		return ref
	}
	if ref == "" {
		return base
	}

	parts := strings.Split(trimQuery(base), "/")
	// parts[0] is "scheme:", parts[1] is empty, parts[2] is the host.
	if len(parts) < 3 {
		return ref
	}
	if strings.HasPrefix(ref, "/") {
		return parts[0] + "//" + parts[2] + ref
	}

	if len(parts) > 3 {
		parts = parts[:len(parts)-1]
	}
	for _, seg := range strings.Split(ref, "/") {
		switch seg {
		case ".":
			continue
		case "..":
			if len(parts) > 3 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "/")
}

func trimQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

// Origin returns the normalized origin "scheme://host/" of rawURL.
func Origin(rawURL string) (string, error) {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host + "/", nil
}

// HashOrigin returns the lowercase hex SHA-256 of origin.
func HashOrigin(origin string) string {
	sum := sha256.Sum256([]byte(origin))
	return hex.EncodeToString(sum[:])
}

// OriginHash returns HashOrigin(Origin(rawURL)).
func OriginHash(rawURL string) (string, error) {
	origin, err := Origin(rawURL)
	if err != nil {
		return "", err
	}
	return HashOrigin(origin), nil
}

// HostPath splits rawURL into the drive host and an absolute path. Query and
// fragment are dropped.
func HostPath(rawURL string) (host, path string, err error) {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return "", "", err
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return u.Host, path, nil
}

// MentionPath returns the drive path holding the mention records of target:
// "/mentions/<scheme>/<host><path>.json", with "index" standing in for a
// trailing slash.
func MentionPath(target string) (string, error) {
	u, err := parseAbsolute(target)
	if err != nil {
		return "", err
	}
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		p += "index"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "/mentions/" + u.Scheme + "/" + u.Host + p + ".json", nil
}

// MentionKey normalizes target into the identity used for per-target
// locking: lowercase scheme and host, path kept, query and fragment dropped.
// Unparseable targets are used verbatim.
func MentionKey(target string) string {
	u, err := parseAbsolute(target)
	if err != nil {
		return target
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + p
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse %q: not an absolute URL", rawURL)
	}
	return u, nil
}
