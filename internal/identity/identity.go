// Package identity derives canonical tool identities from raw user input.
//
// Two inputs that refer to the same tool must normalize to the same
// canonical form, which is then hashed into the shared cache key. All
// functions are pure and normalization is idempotent.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/starford/toolvault/internal/apperr"
)

// aliasNamespace prefixes text-alias hash seeds so a tool literally named
// "notion.so" cannot collide with the id derived from the domain notion.so.
const aliasNamespace = "name:"

// trackingParams are query parameters stripped during URL normalization,
// in addition to any key starting with "utm_".
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"msclkid": {},
	"yclid":   {},
	"igshid":  {},
	"mc_eid":  {},
}

// LooksLikeURL classifies raw input as a URL or free text. Input is a URL
// if it carries an explicit http(s) scheme, or contains a dot and neither
// spaces nor "@".
func LooksLikeURL(input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return true
	}
	if strings.ContainsAny(trimmed, " @") {
		return false
	}
	return strings.Contains(trimmed, ".")
}

// NormalizeURL turns a raw URL (scheme optional) into its canonical form:
// https scheme assumed when absent, lowercased host with a leading "www."
// stripped, default ports and fragments dropped, trailing slash removed,
// tracking parameters deleted, and remaining query parameters sorted by key.
func NormalizeURL(input string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", apperr.ErrInvalidInput)
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", apperr.ErrInvalidInput, err)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: url has no host", apperr.ErrInvalidInput)
	}
	host = strings.TrimPrefix(host, "www.")

	scheme := strings.ToLower(u.Scheme)
	if port := u.Port(); port != "" {
		if !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
			host += ":" + port
		}
	}

	path := u.EscapedPath()
	if path == "/" {
		path = ""
	}
	path = strings.TrimSuffix(path, "/")

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") {
			delete(q, key)
			continue
		}
		if _, ok := trackingParams[lk]; ok {
			delete(q, key)
		}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if enc := q.Encode(); enc != "" {
		b.WriteByte('?')
		b.WriteString(enc)
	}
	return b.String(), nil
}

// RootDomain strips the leading "www." and "app." labels from a lowercased
// hostname. The result is the hash seed for URL-derived identities.
func RootDomain(hostname string) string {
	host := strings.ToLower(strings.TrimSpace(hostname))
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "app.")
	return host
}

// RootDomainOf extracts the root domain from a canonical URL.
func RootDomainOf(canonicalURL string) (string, error) {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse canonical url: %v", apperr.ErrInvalidInput, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: canonical url has no host", apperr.ErrInvalidInput)
	}
	return RootDomain(host), nil
}

// NormalizeTextAlias canonicalizes a free-text tool name: trimmed,
// lowercased, internal whitespace runs collapsed to single spaces.
func NormalizeTextAlias(input string) string {
	return strings.ToLower(strings.Join(strings.Fields(input), " "))
}

// ToolIDFromDomain returns the deterministic cache key for a root domain.
func ToolIDFromDomain(rootDomain string) string {
	sum := sha256.Sum256([]byte(rootDomain))
	return hex.EncodeToString(sum[:])
}

// ToolIDFromAlias returns the deterministic cache key for a text alias.
// The seed is namespaced so alias-derived ids never collide with
// domain-derived ones.
func ToolIDFromAlias(alias string) string {
	sum := sha256.Sum256([]byte(aliasNamespace + alias))
	return hex.EncodeToString(sum[:])
}
