package access

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveOrigin returns scheme://host for the remote lookup. A configured
// origin wins; otherwise the forwarded host and proto are used, with the proto
// defaulting to https. Only the first value of comma-joined proxy headers counts.
func ResolveOrigin(configured string, f Forwarded) (string, error) {
	if o := strings.TrimSpace(configured); o != "" {
		return normalizeOrigin(o)
	}
	host := firstHeaderValue(f.Host)
	if host == "" {
		return "", fmt.Errorf("%w: no workspace origin configured or forwarded", ErrLookupUnavailable)
	}
	proto := strings.ToLower(firstHeaderValue(f.Proto))
	if proto == "" {
		proto = "https"
	}
	return normalizeOrigin(proto + "://" + host)
}

func normalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid workspace origin %q", ErrLookupUnavailable, raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
