package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFeedDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    FeedDescriptor
		wantErr bool
	}{
		{
			name: "rss",
			in:   "rss://example.com/feed.xml",
			want: FeedDescriptor{Kind: FeedRSS, Value: "example.com/feed.xml"},
		},
		{
			name: "web",
			in:   "web://example.com",
			want: FeedDescriptor{Kind: FeedWeb, Value: "example.com"},
		},
		{
			name: "web discovery",
			in:   "web-discovery://wildfire smoke air quality",
			want: FeedDescriptor{Kind: FeedWebDiscovery, Value: "wildfire smoke air quality"},
		},
		{
			name:    "unknown scheme",
			in:      "ftp://example.com",
			wantErr: true,
		},
		{
			name:    "bare url",
			in:      "https://example.com/feed",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeedDescriptor(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownFeedDescriptor)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFetchURL(t *testing.T) {
	d, err := ParseFeedDescriptor("rss://example.com/feed")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/feed", d.FetchURL())

	d, err = ParseFeedDescriptor("rss://http://legacy.example.com/rss")
	require.NoError(t, err)
	require.Equal(t, "http://legacy.example.com/rss", d.FetchURL())

	web, err := ParseFeedDescriptor("web://example.com")
	require.NoError(t, err)
	require.Equal(t, "", web.FetchURL())
}

func TestDescriptorBuilders(t *testing.T) {
	require.Equal(t, "rss://example.com/feed", RSSDescriptor("https://example.com/feed"))
	require.Equal(t, "web://example.com", WebDescriptor("example.com"))
	require.Equal(t, "web-discovery://heat wave", WebDiscoveryDescriptor("heat wave"))
}

func TestDisplayTitle(t *testing.T) {
	a := Article{Title: "original"}
	require.Equal(t, "original", a.DisplayTitle())

	a.RewrittenTitle = "rewritten"
	require.Equal(t, "rewritten", a.DisplayTitle())
}
