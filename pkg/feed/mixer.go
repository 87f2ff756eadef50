// Package feed assembles the mixed card/collection feed from ranking rows,
// over-fetching a per-type candidate pool, merging by normalized score, and
// deduplicating cards that share a canonical URL.
package feed

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/stackway/stackrank/internal/store"
	"github.com/stackway/stackrank/pkg/ranking"
)

// TypeFilter selects which populations a feed request draws from.
type TypeFilter string

const (
	FilterCard       TypeFilter = "card"
	FilterCollection TypeFilter = "collection"
	FilterBoth       TypeFilter = "both"
)

// ParseTypeFilter normalizes a request's type parameter. "stack" is the
// external alias for collection.
func ParseTypeFilter(s string) (TypeFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both", "all":
		return FilterBoth, nil
	case "card", "cards":
		return FilterCard, nil
	case "collection", "collections", "stack", "stacks":
		return FilterCollection, nil
	}
	return "", fmt.Errorf("unknown feed type %q", s)
}

// Mix is the target card/collection ratio for the candidate pool. It shapes
// how many candidates of each type enter the merge, not final positions.
type Mix struct {
	Cards       float64
	Collections float64
}

// DefaultMix returns the 60/40 card/collection ratio.
func DefaultMix() Mix {
	return Mix{Cards: 0.6, Collections: 0.4}
}

// ParseMix parses "cards:0.6,stacks:0.4". Ratios need not sum to 1; they
// are normalized. Collection keys accept the stack alias.
func ParseMix(s string) (Mix, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultMix(), nil
	}

	var m Mix
	for _, part := range strings.Split(s, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found {
			return Mix{}, fmt.Errorf("malformed mix component %q", part)
		}
		ratio, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || ratio < 0 {
			return Mix{}, fmt.Errorf("invalid mix ratio %q", part)
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "card", "cards":
			m.Cards = ratio
		case "collection", "collections", "stack", "stacks":
			m.Collections = ratio
		default:
			return Mix{}, fmt.Errorf("unknown mix key %q", key)
		}
	}

	if m.Cards+m.Collections <= 0 {
		return Mix{}, fmt.Errorf("mix ratios sum to zero: %q", s)
	}
	return m.normalized(), nil
}

func (m Mix) normalized() Mix {
	sum := m.Cards + m.Collections
	if sum <= 0 {
		return DefaultMix()
	}
	return Mix{Cards: m.Cards / sum, Collections: m.Collections / sum}
}

// Request is one feed read.
type Request struct {
	Type   TypeFilter
	Mix    Mix
	Limit  int
	Offset int
}

// Item is a fully hydrated feed entry. Exactly one of Card/Collection is set.
type Item struct {
	Type         ranking.ItemType    `json:"type"`
	Score        float64             `json:"score"`
	Card         *store.Card         `json:"card,omitempty"`
	Collection   *store.Collection   `json:"collection,omitempty"`
	Attributions []store.Attribution `json:"attributions,omitempty"`
}

// Page is the response: the ordered feed slice plus the pre-truncation
// deduplicated candidate count.
type Page struct {
	Feed  []Item `json:"feed"`
	Total int    `json:"total"`
}

// ContentStore hydrates candidate ids into full records and serves the
// recency fallback. Hydration silently omits ids that no longer resolve.
type ContentStore interface {
	CardsByID(ctx context.Context, ids []string) ([]store.Card, error)
	CollectionsByID(ctx context.Context, ids []string) ([]store.Collection, error)
	RecentCards(ctx context.Context, limit int) ([]store.Card, error)
	RecentCollections(ctx context.Context, limit int) ([]store.Collection, error)
	AttributionsFor(ctx context.Context, cardIDs []string) (map[string][]store.Attribution, error)
}

// Mixer builds feed pages. Stateless between requests; every call builds
// its own candidate pool.
type Mixer struct {
	content  ContentStore
	rankings ranking.RankingStore
	logger   *log.Logger
}

func NewMixer(content ContentStore, rankings ranking.RankingStore, logger *log.Logger) *Mixer {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Mixer{content: content, rankings: rankings, logger: logger}
}

// overfetch leaves slack for dedup losses and hydration misses.
const overfetch = 2

// Feed assembles one page: per-type top-ranked candidates (recency fallback
// when the ranking table has no rows for a type), a global stable sort by
// score, canonical-URL dedup for cards, then offset/limit slicing.
func (m *Mixer) Feed(ctx context.Context, req Request) (*Page, error) {
	if req.Type == "" {
		req.Type = FilterBoth
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	mix := req.Mix.normalized()
	switch req.Type {
	case FilterCard:
		mix = Mix{Cards: 1}
	case FilterCollection:
		mix = Mix{Collections: 1}
	}

	// The pool has to cover the whole window being paged into.
	window := req.Limit + req.Offset
	cardQuota := int(math.Ceil(overfetch * float64(window) * mix.Cards))
	colQuota := int(math.Ceil(overfetch * float64(window) * mix.Collections))

	var cardItems, colItems []Item

	// The two type branches are independent until the merge.
	g, gctx := errgroup.WithContext(ctx)
	if cardQuota > 0 {
		g.Go(func() error {
			var err error
			cardItems, err = m.cardCandidates(gctx, cardQuota)
			return err
		})
	}
	if colQuota > 0 {
		g.Go(func() error {
			var err error
			colItems, err = m.collectionCandidates(gctx, colQuota)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Cards enter the pool first, so equal scores tie-break card-first.
	merged := make([]Item, 0, len(cardItems)+len(colItems))
	merged = append(merged, cardItems...)
	merged = append(merged, colItems...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	deduped := dedupCards(merged)

	// Dedup can promote a survivor's score, which may perturb order.
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})

	total := len(deduped)
	if req.Offset >= total {
		return &Page{Feed: []Item{}, Total: total}, nil
	}
	end := req.Offset + req.Limit
	if end > total {
		end = total
	}
	return &Page{Feed: deduped[req.Offset:end], Total: total}, nil
}

// cardCandidates pulls top-ranked cards, falling back to recency when the
// ranking table is empty for cards. Ranking is a quality enhancement, not a
// hard dependency; the feed must never be empty just because the batch
// worker hasn't run.
func (m *Mixer) cardCandidates(ctx context.Context, quota int) ([]Item, error) {
	rows, err := m.rankings.TopRanked(ctx, ranking.TypeCard, quota, 0)
	if err != nil {
		return nil, fmt.Errorf("ranked cards: %w", err)
	}

	var cards []store.Card
	scores := make(map[string]float64, len(rows))
	order := make([]string, 0, len(rows))

	if len(rows) == 0 {
		m.logger.Debug("no card rankings, using recency fallback")
		cards, err = m.content.RecentCards(ctx, quota)
		if err != nil {
			return nil, fmt.Errorf("recent cards: %w", err)
		}
		for _, c := range cards {
			order = append(order, c.ID)
		}
	} else {
		for _, r := range rows {
			scores[r.ItemID] = r.NormScore
			order = append(order, r.ItemID)
		}
		cards, err = m.content.CardsByID(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("hydrate cards: %w", err)
		}
	}

	byID := make(map[string]*store.Card, len(cards))
	ids := make([]string, 0, len(cards))
	for i := range cards {
		byID[cards[i].ID] = &cards[i]
		ids = append(ids, cards[i].ID)
	}

	attrs, err := m.content.AttributionsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("card attributions: %w", err)
	}

	items := make([]Item, 0, len(cards))
	for _, id := range order {
		c, ok := byID[id]
		if !ok {
			// Ranked but since deleted; drop before merge.
			continue
		}
		items = append(items, Item{
			Type:         ranking.TypeCard,
			Score:        scores[id],
			Card:         c,
			Attributions: attrs[id],
		})
	}
	return items, nil
}

func (m *Mixer) collectionCandidates(ctx context.Context, quota int) ([]Item, error) {
	rows, err := m.rankings.TopRanked(ctx, ranking.TypeCollection, quota, 0)
	if err != nil {
		return nil, fmt.Errorf("ranked collections: %w", err)
	}

	var cols []store.Collection
	scores := make(map[string]float64, len(rows))
	order := make([]string, 0, len(rows))

	if len(rows) == 0 {
		m.logger.Debug("no collection rankings, using recency fallback")
		cols, err = m.content.RecentCollections(ctx, quota)
		if err != nil {
			return nil, fmt.Errorf("recent collections: %w", err)
		}
		for _, c := range cols {
			order = append(order, c.ID)
		}
	} else {
		for _, r := range rows {
			scores[r.ItemID] = r.NormScore
			order = append(order, r.ItemID)
		}
		cols, err = m.content.CollectionsByID(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("hydrate collections: %w", err)
		}
	}

	byID := make(map[string]*store.Collection, len(cols))
	for i := range cols {
		byID[cols[i].ID] = &cols[i]
	}

	items := make([]Item, 0, len(cols))
	for _, id := range order {
		c, ok := byID[id]
		if !ok {
			continue
		}
		items = append(items, Item{
			Type:       ranking.TypeCollection,
			Score:      scores[id],
			Collection: c,
		})
	}
	return items, nil
}

// dedupCards collapses cards sharing a canonical URL. The first occurrence
// in the (score-sorted) input survives; duplicates contribute their
// attributions, and a duplicate with a strictly higher score promotes the
// survivor's score. Collections pass through untouched.
func dedupCards(items []Item) []Item {
	out := make([]Item, 0, len(items))
	seen := make(map[string]int)

	for _, it := range items {
		if it.Type != ranking.TypeCard {
			out = append(out, it)
			continue
		}

		key := it.Card.DedupKey()
		if key == "" {
			out = append(out, it)
			continue
		}

		if idx, ok := seen[key]; ok {
			survivor := &out[idx]
			survivor.Attributions = append(survivor.Attributions, it.Attributions...)
			if it.Score > survivor.Score {
				survivor.Score = it.Score
			}
			continue
		}

		seen[key] = len(out)
		out = append(out, it)
	}
	return out
}
