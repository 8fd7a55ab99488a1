package domain

import (
	"errors"
	"fmt"
	"strings"
)

// FeedKind identifies how a source yields articles.
type FeedKind string

// Feed descriptor kinds.
const (
	FeedRSS          FeedKind = "rss"
	FeedWeb          FeedKind = "web"
	FeedWebDiscovery FeedKind = "web-discovery"
)

// Descriptor scheme prefixes.
const (
	prefixRSS          = "rss://"
	prefixWeb          = "web://"
	prefixWebDiscovery = "web-discovery://"
)

// ErrUnknownFeedDescriptor is returned for descriptors with an unknown scheme.
var ErrUnknownFeedDescriptor = errors.New("unknown feed descriptor")

// FeedDescriptor is a parsed source feed descriptor.
//
//   - rss://<url-without-scheme> : an RSS/Atom feed, fetched over https
//   - web://<host>               : a site without a known feed
//   - web-discovery://<query>    : a chat-model discovery query
type FeedDescriptor struct {
	Kind  FeedKind
	Value string
}

// ParseFeedDescriptor parses a source's feed_url column.
func ParseFeedDescriptor(raw string) (FeedDescriptor, error) {
	switch {
	case strings.HasPrefix(raw, prefixRSS):
		return FeedDescriptor{Kind: FeedRSS, Value: strings.TrimPrefix(raw, prefixRSS)}, nil
	case strings.HasPrefix(raw, prefixWebDiscovery):
		return FeedDescriptor{Kind: FeedWebDiscovery, Value: strings.TrimPrefix(raw, prefixWebDiscovery)}, nil
	case strings.HasPrefix(raw, prefixWeb):
		return FeedDescriptor{Kind: FeedWeb, Value: strings.TrimPrefix(raw, prefixWeb)}, nil
	default:
		return FeedDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownFeedDescriptor, raw)
	}
}

// FetchURL returns the HTTP URL to fetch for rss:// descriptors.
func (d FeedDescriptor) FetchURL() string {
	if d.Kind != FeedRSS {
		return ""
	}

	if strings.HasPrefix(d.Value, "http://") || strings.HasPrefix(d.Value, "https://") {
		return d.Value
	}

	return "https://" + d.Value
}

// RSSDescriptor builds an rss:// descriptor from a feed URL.
func RSSDescriptor(feedURL string) string {
	feedURL = strings.TrimPrefix(feedURL, "https://")

	return prefixRSS + feedURL
}

// WebDescriptor builds a web:// descriptor from a normalized host.
func WebDescriptor(host string) string {
	return prefixWeb + host
}

// WebDiscoveryDescriptor builds a web-discovery:// descriptor from a query.
func WebDiscoveryDescriptor(query string) string {
	return prefixWebDiscovery + query
}
