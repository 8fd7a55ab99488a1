// Package links implements canonical URL normalization shared by the ingest
// path and the river query. Host normalization must stay in sync with the
// SQL regex in get_river_clusters; the fixture in canonical_test.go covers
// both representations.
package links

import (
	"net/url"
	"sort"
	"strings"
)

// Host prefixes folded away during normalization.
var strippedHostPrefixes = []string{"www.", "m.", "amp.", "edition.", "news.", "beta."}

// Aggregator hosts whose articles are rejected at ingest and filtered from
// the river.
var aggregatorHosts = map[string]struct{}{
	"news.google.com": {},
	"news.yahoo.com":  {},
	"msn.com":         {},
}

// Tracking query parameters removed during canonicalization.
var trackingParams = map[string]struct{}{
	"fbclid":      {},
	"gclid":       {},
	"dclid":       {},
	"msclkid":     {},
	"igshid":      {},
	"mc_cid":      {},
	"mc_eid":      {},
	"smid":        {},
	"cmpid":       {},
	"ncid":        {},
	"sref":        {},
	"ref":         {},
	"partner":     {},
	"smtyp":       {},
	"source":      {},
	"ftag":        {},
	"taid":        {},
	"__twitter_impression": {},
}

const trackingPrefix = "utm_"

// NormalizeHost lowercases a host and strips mobile/AMP/edition prefixes.
// The aggregator blocklist and the subs one-per-host rule both key on this
// form.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")

	for _, prefix := range strippedHostPrefixes {
		if rest := strings.TrimPrefix(host, prefix); rest != host && strings.Contains(rest, ".") {
			return rest
		}
	}

	return host
}

// IsAggregatorHost reports whether host is a known news aggregator. The
// check runs before prefix folding: stripping "news." would turn
// news.google.com into google.com and hide it from the blocklist.
func IsAggregatorHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "www.")

	_, ok := aggregatorHosts[host]

	return ok
}

// Canonicalize normalizes a URL into the article's identity form: lowercased
// normalized host, tracking parameters removed, fragment dropped, remaining
// query sorted for stability.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}

	u.Host = NormalizeHost(u.Host)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		lower := strings.ToLower(param)
		if _, tracked := trackingParams[lower]; tracked || strings.HasPrefix(lower, trackingPrefix) {
			q.Del(param)
		}
	}

	u.RawQuery = stableEncode(q)

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// HostOf returns the normalized host of a URL, or "" when unparseable.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return NormalizeHost(u.Host)
}

// RawHostOf returns the host of a URL lowercased with only "www." stripped,
// before any prefix folding. IsAggregatorHost must be checked against this
// form: folding would turn news.google.com into google.com and hide it from
// the blocklist. This is also the form persisted in publisher_host, matching
// the SQL aggregator filter in get_river_clusters.
func RawHostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	host := strings.ToLower(strings.TrimSpace(u.Host))
	host = strings.TrimSuffix(host, ".")

	return strings.TrimPrefix(host, "www.")
}

// stableEncode encodes query values with sorted keys so canonical URLs are
// byte-stable across runs.
func stableEncode(q url.Values) string {
	if len(q) == 0 {
		return ""
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var sb strings.Builder

	for _, k := range keys {
		for _, v := range q[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}

			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}

	return sb.String()
}
