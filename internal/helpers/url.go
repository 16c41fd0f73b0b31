package helpers

import (
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"
)

// ErrUnsupportedScheme is returned for URLs outside http/https.
var ErrUnsupportedScheme = errors.New("only http/https URLs are supported")

// NormalizeURL canonicalises a URL string for storage and deduplication.
// It lowercases scheme/host, removes default ports, strips fragments,
// collapses duplicate path slashes, drops utm_* tracking parameters and
// sorts the remaining query parameters deterministically. Non-http(s)
// schemes are rejected.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrUnsupportedScheme
	}
	parsed.Scheme = scheme

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", errors.New("url missing host")
	}
	if port := parsed.Port(); port != "" {
		if !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
			host = host + ":" + port
		}
	}
	parsed.Host = host

	if parsed.Path == "" {
		parsed.Path = "/"
	}
	cleanPath := path.Clean(parsed.Path)
	if cleanPath == "." {
		cleanPath = "/"
	}
	if !strings.HasPrefix(cleanPath, "/") {
		cleanPath = "/" + cleanPath
	}
	parsed.Path = cleanPath
	parsed.RawPath = ""

	parsed.Fragment = ""
	query := parsed.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	if len(query) == 0 {
		parsed.RawQuery = ""
	} else {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, key := range keys {
			values := append([]string(nil), query[key]...)
			sort.Strings(values)
			for _, value := range values {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(key))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(value))
			}
		}
		parsed.RawQuery = b.String()
	}

	return parsed.String(), nil
}

// AbsoluteURL resolves href against base and returns the absolute URL
// without normalising it. Non-http(s) results are rejected.
func AbsoluteURL(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	resolved := baseURL.ResolveReference(ref)
	if s := strings.ToLower(resolved.Scheme); s != "http" && s != "https" {
		return "", ErrUnsupportedScheme
	}
	return resolved.String(), nil
}

// ResolveRef resolves href against base and normalises the result.
func ResolveRef(base, href string) (string, error) {
	absolute, err := AbsoluteURL(base, href)
	if err != nil {
		return "", err
	}
	return NormalizeURL(absolute)
}

// SameDomain reports whether candidate is the base host or one of its subdomains.
func SameDomain(baseHost, candidateHost string) bool {
	base := strings.ToLower(strings.TrimSpace(baseHost))
	candidate := strings.ToLower(strings.TrimSpace(candidateHost))
	if base == "" || candidate == "" {
		return false
	}
	return candidate == base || strings.HasSuffix(candidate, "."+base)
}

// HostOf extracts the hostname (without port) from a URL string.
func HostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
