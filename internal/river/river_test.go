package river

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/climateriver/river/internal/core/links"
	"github.com/climateriver/river/internal/storage"
)

type fakeRiverRepo struct {
	rows      []storage.RiverClusterRow
	members   []storage.ClusterMemberRow
	gotLimit  int
	gotLatest bool
	gotCat    *string
}

func (r *fakeRiverRepo) GetRiverClusters(_ context.Context, isLatest bool, _, limit int, category *string) ([]storage.RiverClusterRow, error) {
	r.gotLimit = limit
	r.gotLatest = isLatest
	r.gotCat = category

	if limit < len(r.rows) {
		return r.rows[:limit], nil
	}

	return r.rows, nil
}

func (r *fakeRiverRepo) ListClusterMembers(_ context.Context, clusterIDs []int64) ([]storage.ClusterMemberRow, error) {
	var out []storage.ClusterMemberRow

	for _, m := range r.members {
		for _, id := range clusterIDs {
			if m.ClusterID == id {
				out = append(out, m)
			}
		}
	}

	return out, nil
}

func ts(h int) *time.Time {
	t := time.Date(2026, 8, 17, h, 0, 0, 0, time.UTC)

	return &t
}

func member(cluster, article int64, host, title string, h int) storage.ClusterMemberRow {
	return storage.ClusterMemberRow{
		ClusterID:     cluster,
		ArticleID:     article,
		Title:         title,
		URL:           "https://" + host + "/a",
		PublisherHost: host,
		SourceName:    host,
		PublishedAt:   ts(h),
	}
}

// storedMember derives publisher_host from the URL the way ingest does, so
// the row carries exactly what the write path persists.
func storedMember(cluster, article int64, url, title string, h int) storage.ClusterMemberRow {
	host := links.RawHostOf(url)

	return storage.ClusterMemberRow{
		ClusterID:     cluster,
		ArticleID:     article,
		Title:         title,
		URL:           url,
		PublisherHost: host,
		SourceName:    host,
		PublishedAt:   ts(h),
	}
}

func TestRiverSubsFilterOnStoredHosts(t *testing.T) {
	repo := &fakeRiverRepo{
		rows: []storage.RiverClusterRow{
			{ClusterID: 1, LeadArticleID: 10, LeadTitle: "lead", LeadHost: "grist.org", Size: 4, Score: 2.0},
		},
		members: []storage.ClusterMemberRow{
			storedMember(1, 10, "https://grist.org/lead", "lead", 12),
			storedMember(1, 11, "https://news.yahoo.com/story", "aggregated", 11),
			storedMember(1, 12, "https://m.theguardian.com/env/one", "guardian mobile", 10),
			storedMember(1, 13, "https://www.theguardian.com/env/two", "guardian www", 9),
		},
	}

	views, err := NewQuery(repo).River(context.Background(), ViewTop, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)

	subs := views[0].Subs
	require.Len(t, subs, 1, "aggregator dropped, guardian variants folded into one host")

	require.Equal(t, "theguardian.com", subs[0].Host)
	require.Equal(t, "guardian mobile", subs[0].Title, "newest article per folded host wins")
	require.Equal(t, 2, subs[0].ArticleCount)
}

func TestRiverBuildsSubsOnePerHost(t *testing.T) {
	repo := &fakeRiverRepo{
		rows: []storage.RiverClusterRow{
			{ClusterID: 1, LeadArticleID: 10, LeadTitle: "lead", LeadHost: "grist.org", Size: 5, Score: 2.5},
		},
		members: []storage.ClusterMemberRow{
			member(1, 10, "grist.org", "lead", 12),
			member(1, 11, "theguardian.com", "guardian one", 11),
			member(1, 12, "www.theguardian.com", "guardian two", 10),
			member(1, 13, "carbonbrief.org", "brief", 9),
			member(1, 14, "news.google.com", "agg", 8),
		},
	}

	views, err := NewQuery(repo).River(context.Background(), ViewTop, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)

	v := views[0]
	require.Len(t, v.Subs, 2, "one per host, aggregators and lead host excluded")

	require.Equal(t, "theguardian.com", v.Subs[0].Host)
	require.Equal(t, "guardian one", v.Subs[0].Title, "newest article per host wins")
	require.Equal(t, 2, v.Subs[0].ArticleCount)

	require.Equal(t, "carbonbrief.org", v.Subs[1].Host)
	require.Equal(t, 1, v.Subs[1].ArticleCount)
}

func TestRiverLeadHostAllowedWhenOnlyOutlet(t *testing.T) {
	repo := &fakeRiverRepo{
		rows: []storage.RiverClusterRow{
			{ClusterID: 1, LeadArticleID: 10, LeadHost: "grist.org"},
		},
		members: []storage.ClusterMemberRow{
			member(1, 10, "grist.org", "lead", 12),
			member(1, 11, "grist.org", "followup", 11),
		},
	}

	views, err := NewQuery(repo).River(context.Background(), ViewTop, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, views[0].Subs, 1)
	require.Equal(t, "grist.org", views[0].Subs[0].Host)
}

func TestRiverSubsCapped(t *testing.T) {
	members := []storage.ClusterMemberRow{member(1, 10, "lead.org", "lead", 23)}
	hosts := []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com", "g.com", "h.com", "i.com", "j.com"}

	for i, h := range hosts {
		members = append(members, member(1, int64(20+i), h, "story", 20-i))
	}

	repo := &fakeRiverRepo{
		rows:    []storage.RiverClusterRow{{ClusterID: 1, LeadArticleID: 10, LeadHost: "lead.org"}},
		members: members,
	}

	views, err := NewQuery(repo).River(context.Background(), ViewTop, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, views[0].Subs, maxSubs)
}

func TestRiverAllArticlesBySource(t *testing.T) {
	repo := &fakeRiverRepo{
		rows: []storage.RiverClusterRow{{ClusterID: 1, LeadArticleID: 10, LeadHost: "grist.org"}},
		members: []storage.ClusterMemberRow{
			member(1, 10, "grist.org", "lead", 12),
			member(1, 11, "theguardian.com", "one", 11),
			member(1, 12, "www.theguardian.com", "two", 10),
		},
	}

	views, err := NewQuery(repo).River(context.Background(), ViewTop, "", 0, 0)
	require.NoError(t, err)

	bySource := views[0].AllArticlesBySource
	require.Len(t, bySource, 2)
	require.Len(t, bySource["theguardian.com"], 2, "www. variant folds into the same host")
	require.Equal(t, "one", bySource["theguardian.com"][0].Title)
	require.Len(t, bySource["grist.org"], 1)
}

func TestRiverClampsLimit(t *testing.T) {
	repo := &fakeRiverRepo{}

	_, err := NewQuery(repo).River(context.Background(), ViewTop, "", 0, 500)
	require.NoError(t, err)
	require.Equal(t, MaxLimit, repo.gotLimit)

	_, err = NewQuery(repo).River(context.Background(), ViewTop, "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultLimit, repo.gotLimit)
}

func TestRiverPassesViewAndCategory(t *testing.T) {
	repo := &fakeRiverRepo{}

	_, err := NewQuery(repo).River(context.Background(), ViewLatest, "impacts", 0, 10)
	require.NoError(t, err)
	require.True(t, repo.gotLatest)
	require.NotNil(t, repo.gotCat)
	require.Equal(t, "impacts", *repo.gotCat)

	_, err = NewQuery(repo).River(context.Background(), ViewTop, "", 0, 10)
	require.NoError(t, err)
	require.False(t, repo.gotLatest)
	require.Nil(t, repo.gotCat)
}

func TestRiverDeterministicOutput(t *testing.T) {
	repo := &fakeRiverRepo{
		rows: []storage.RiverClusterRow{{ClusterID: 1, LeadArticleID: 10, LeadHost: "grist.org"}},
		members: []storage.ClusterMemberRow{
			member(1, 10, "grist.org", "lead", 12),
			member(1, 11, "theguardian.com", "one", 11),
			member(1, 12, "carbonbrief.org", "two", 10),
		},
	}

	q := NewQuery(repo)

	first, err := q.River(context.Background(), ViewTop, "", 0, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := q.River(context.Background(), ViewTop, "", 0, 0)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}
