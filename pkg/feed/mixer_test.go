package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackway/stackrank/internal/store"
	"github.com/stackway/stackrank/pkg/ranking"
)

type fakeRankings struct {
	rows map[ranking.ItemType][]ranking.Row // pre-sorted by norm_score desc
}

func (f *fakeRankings) TopRanked(_ context.Context, t ranking.ItemType, limit, offset int) ([]ranking.Row, error) {
	rows := f.rows[t]
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeRankings) UpsertRawScore(context.Context, ranking.ItemType, string, float64) error {
	return nil
}

func (f *fakeRankings) UpsertNormScore(context.Context, ranking.ItemType, string, float64) error {
	return nil
}

func (f *fakeRankings) RankingSnapshot(context.Context, int) ([]ranking.Row, error) {
	return nil, nil
}

type fakeContent struct {
	cards       map[string]store.Card
	collections map[string]store.Collection
	recentCards []store.Card // recency order
	recentCols  []store.Collection
	attrs       map[string][]store.Attribution
}

func (f *fakeContent) CardsByID(_ context.Context, ids []string) ([]store.Card, error) {
	var out []store.Card
	for _, id := range ids {
		if c, ok := f.cards[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContent) CollectionsByID(_ context.Context, ids []string) ([]store.Collection, error) {
	var out []store.Collection
	for _, id := range ids {
		if c, ok := f.collections[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContent) RecentCards(_ context.Context, limit int) ([]store.Card, error) {
	cards := f.recentCards
	if len(cards) > limit {
		cards = cards[:limit]
	}
	return cards, nil
}

func (f *fakeContent) RecentCollections(_ context.Context, limit int) ([]store.Collection, error) {
	cols := f.recentCols
	if len(cols) > limit {
		cols = cols[:limit]
	}
	return cols, nil
}

func (f *fakeContent) AttributionsFor(_ context.Context, cardIDs []string) (map[string][]store.Attribution, error) {
	out := make(map[string][]store.Attribution)
	for _, id := range cardIDs {
		if a, ok := f.attrs[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func card(id, canonical string) store.Card {
	return store.Card{ID: id, Title: "card " + id, URL: canonical, CanonicalURL: canonical, CreatedAt: time.Now()}
}

func collection(id string) store.Collection {
	return store.Collection{ID: id, Title: "collection " + id, CreatedAt: time.Now()}
}

func TestParseMix(t *testing.T) {
	tests := []struct {
		in      string
		want    Mix
		wantErr bool
	}{
		{in: "", want: DefaultMix()},
		{in: "cards:0.6,stacks:0.4", want: Mix{Cards: 0.6, Collections: 0.4}},
		{in: "cards:3,stacks:1", want: Mix{Cards: 0.75, Collections: 0.25}},
		{in: "cards:0.75,collections:0.25", want: Mix{Cards: 0.75, Collections: 0.25}},
		{in: "cards:1", want: Mix{Cards: 1, Collections: 0}},
		{in: "cards:0,stacks:0", wantErr: true},
		{in: "widgets:1", wantErr: true},
		{in: "cards", wantErr: true},
		{in: "cards:abc", wantErr: true},
		{in: "cards:-1,stacks:2", wantErr: true},
	}

	for _, tc := range tests {
		got, err := ParseMix(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.InDelta(t, tc.want.Cards, got.Cards, 1e-9, "input %q", tc.in)
		assert.InDelta(t, tc.want.Collections, got.Collections, 1e-9, "input %q", tc.in)
	}
}

func TestParseMixRatioEquivalence(t *testing.T) {
	a, err := ParseMix("cards:3,stacks:1")
	require.NoError(t, err)
	b, err := ParseMix("cards:0.75,stacks:0.25")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseTypeFilter(t *testing.T) {
	for in, want := range map[string]TypeFilter{
		"":            FilterBoth,
		"both":        FilterBoth,
		"card":        FilterCard,
		"cards":       FilterCard,
		"collection":  FilterCollection,
		"collections": FilterCollection,
		"stack":       FilterCollection,
		"Stacks":      FilterCollection,
	} {
		got, err := ParseTypeFilter(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	_, err := ParseTypeFilter("widget")
	assert.Error(t, err)
}

func TestFeedMergesAcrossTypesByScore(t *testing.T) {
	rankings := &fakeRankings{rows: map[ranking.ItemType][]ranking.Row{
		ranking.TypeCard: {
			{ItemType: ranking.TypeCard, ItemID: "c1", NormScore: 2.0},
			{ItemType: ranking.TypeCard, ItemID: "c2", NormScore: 1.0},
		},
		ranking.TypeCollection: {
			{ItemType: ranking.TypeCollection, ItemID: "s1", NormScore: 3.0},
		},
	}}
	content := &fakeContent{
		cards:       map[string]store.Card{"c1": card("c1", "https://a.com"), "c2": card("c2", "https://b.com")},
		collections: map[string]store.Collection{"s1": collection("s1")},
	}

	m := NewMixer(content, rankings, nil)
	page, err := m.Feed(context.Background(), Request{Limit: 10})
	require.NoError(t, err)

	require.Len(t, page.Feed, 3)
	assert.Equal(t, "s1", page.Feed[0].Collection.ID)
	assert.Equal(t, "c1", page.Feed[1].Card.ID)
	assert.Equal(t, "c2", page.Feed[2].Card.ID)
	assert.Equal(t, 3, page.Total)
}

func TestFeedDedupByCanonicalURL(t *testing.T) {
	rankings := &fakeRankings{rows: map[ranking.ItemType][]ranking.Row{
		ranking.TypeCard: {
			{ItemType: ranking.TypeCard, ItemID: "c1", NormScore: 8},
			{ItemType: ranking.TypeCard, ItemID: "c2", NormScore: 5},
		},
	}}
	content := &fakeContent{
		cards: map[string]store.Card{
			"c1": card("c1", "https://x.com"),
			"c2": card("c2", "https://x.com"),
		},
		attrs: map[string][]store.Attribution{
			"c1": {{CardID: "c1", UserID: "B"}},
			"c2": {{CardID: "c2", UserID: "A"}},
		},
	}

	m := NewMixer(content, rankings, nil)
	page, err := m.Feed(context.Background(), Request{Type: FilterCard, Limit: 10})
	require.NoError(t, err)

	require.Len(t, page.Feed, 1)
	got := page.Feed[0]
	assert.Equal(t, "c1", got.Card.ID)
	assert.Equal(t, 8.0, got.Score)
	require.Len(t, got.Attributions, 2)
	assert.Equal(t, "B", got.Attributions[0].UserID)
	assert.Equal(t, "A", got.Attributions[1].UserID)
	assert.Equal(t, 1, page.Total)
}

func TestDedupPromotesHigherDuplicateScore(t *testing.T) {
	c1 := card("c1", "https://x.com")
	c2 := card("c2", "https://x.com")
	items := []Item{
		{Type: ranking.TypeCard, Score: 5, Card: &c1, Attributions: []store.Attribution{{UserID: "A"}}},
		{Type: ranking.TypeCard, Score: 8, Card: &c2, Attributions: []store.Attribution{{UserID: "B"}}},
	}

	out := dedupCards(items)
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].Card.ID)
	assert.Equal(t, 8.0, out[0].Score)
	assert.Len(t, out[0].Attributions, 2)
}

func TestFeedFallbackToRecency(t *testing.T) {
	rankings := &fakeRankings{rows: map[ranking.ItemType][]ranking.Row{}}
	content := &fakeContent{
		recentCards: []store.Card{card("new", "https://n.com"), card("old", "https://o.com")},
	}

	m := NewMixer(content, rankings, nil)
	page, err := m.Feed(context.Background(), Request{Type: FilterCard, Limit: 10})
	require.NoError(t, err)

	require.Len(t, page.Feed, 2)
	assert.Equal(t, "new", page.Feed[0].Card.ID)
	assert.Equal(t, "old", page.Feed[1].Card.ID)
	for _, it := range page.Feed {
		assert.Zero(t, it.Score)
	}
}

func TestFeedTruncationAndTotal(t *testing.T) {
	var rows []ranking.Row
	cards := make(map[string]store.Card)
	for i := 0; i < 30; i++ {
		id := string(rune('a' + i%26)) + string(rune('0'+i/26))
		rows = append(rows, ranking.Row{ItemType: ranking.TypeCard, ItemID: id, NormScore: float64(30 - i)})
		cards[id] = card(id, "https://"+id+".com")
	}
	rankings := &fakeRankings{rows: map[ranking.ItemType][]ranking.Row{ranking.TypeCard: rows}}
	content := &fakeContent{cards: cards}

	m := NewMixer(content, rankings, nil)
	page, err := m.Feed(context.Background(), Request{Type: FilterCard, Limit: 10})
	require.NoError(t, err)

	assert.Len(t, page.Feed, 10)
	assert.Equal(t, 20, page.Total) // pool bounded by the 2x over-fetch quota
}

func TestFeedOffsetPaging(t *testing.T) {
	rankings := &fakeRankings{rows: map[ranking.ItemType][]ranking.Row{
		ranking.TypeCard: {
			{ItemType: ranking.TypeCard, ItemID: "c1", NormScore: 3},
			{ItemType: ranking.TypeCard, ItemID: "c2", NormScore: 2},
			{ItemType: ranking.TypeCard, ItemID: "c3", NormScore: 1},
		},
	}}
	content := &fakeContent{cards: map[string]store.Card{
		"c1": card("c1", "https://1.com"),
		"c2": card("c2", "https://2.com"),
		"c3": card("c3", "https://3.com"),
	}}

	m := NewMixer(content, rankings, nil)

	page, err := m.Feed(context.Background(), Request{Type: FilterCard, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page.Feed, 2)
	assert.Equal(t, "c2", page.Feed[0].Card.ID)
	assert.Equal(t, "c3", page.Feed[1].Card.ID)

	page, err = m.Feed(context.Background(), Request{Type: FilterCard, Limit: 2, Offset: 99})
	require.NoError(t, err)
	assert.Empty(t, page.Feed)
	assert.Equal(t, 3, page.Total)
}

func TestFeedDropsDanglingRankings(t *testing.T) {
	rankings := &fakeRankings{rows: map[ranking.ItemType][]ranking.Row{
		ranking.TypeCard: {
			{ItemType: ranking.TypeCard, ItemID: "live", NormScore: 2},
			{ItemType: ranking.TypeCard, ItemID: "ghost", NormScore: 5},
		},
	}}
	content := &fakeContent{cards: map[string]store.Card{"live": card("live", "https://l.com")}}

	m := NewMixer(content, rankings, nil)
	page, err := m.Feed(context.Background(), Request{Type: FilterCard, Limit: 10})
	require.NoError(t, err)

	require.Len(t, page.Feed, 1)
	assert.Equal(t, "live", page.Feed[0].Card.ID)
}

func TestFeedTypeFilterExcludesOtherType(t *testing.T) {
	rankings := &fakeRankings{rows: map[ranking.ItemType][]ranking.Row{
		ranking.TypeCard: {
			{ItemType: ranking.TypeCard, ItemID: "c1", NormScore: 1},
		},
		ranking.TypeCollection: {
			{ItemType: ranking.TypeCollection, ItemID: "s1", NormScore: 9},
		},
	}}
	content := &fakeContent{
		cards:       map[string]store.Card{"c1": card("c1", "https://a.com")},
		collections: map[string]store.Collection{"s1": collection("s1")},
	}

	m := NewMixer(content, rankings, nil)
	page, err := m.Feed(context.Background(), Request{Type: FilterCollection, Limit: 10})
	require.NoError(t, err)

	require.Len(t, page.Feed, 1)
	assert.Equal(t, ranking.TypeCollection, page.Feed[0].Type)
}
