// Package frontier implements the prioritized, deduplicated, domain-aware
// queue of pending fetch targets.
package frontier

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Normalize canonicalizes a URL so the dedup set keys on one form:
// lowercased scheme and host, default port stripped, fragment removed,
// and trailing slash trimmed on non-root paths.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Scheme = scheme
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	if host == "" || strings.HasPrefix(host, ":") {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	u.Host = host
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String(), nil
}

// RegistrableDomain returns the eTLD+1 for the URL's host, falling back to
// the bare host when the public suffix list cannot derive one (private
// hosts, IPs, single-label names).
func RegistrableDomain(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

func pathSegments(normalized string) int {
	u, err := url.Parse(normalized)
	if err != nil {
		return 0
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "/") + 1
}
