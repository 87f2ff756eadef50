package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/stackway/stackrank/pkg/ranking"
)

// Card is a single saved resource with live engagement counters. Content
// rows are written by the wider platform's sync; this service reads them
// as score inputs and for feed hydration.
type Card struct {
	ID             string    `json:"id" db:"id"`
	Title          string    `json:"title" db:"title"`
	URL            string    `json:"url" db:"url"`
	CanonicalURL   string    `json:"canonical_url" db:"canonical_url"`
	ThumbnailURL   string    `json:"thumbnail_url" db:"thumbnail_url"`
	OwnerID        string    `json:"owner_id" db:"owner_id"`
	CreatorQuality int       `json:"creator_quality" db:"creator_quality"`
	Upvotes        int       `json:"upvotes" db:"upvotes"`
	Saves          int       `json:"saves" db:"saves"`
	Comments       int       `json:"comments" db:"comments"`
	Visits         int       `json:"visits" db:"visits"`
	Public         bool      `json:"public" db:"public"`
	Hidden         bool      `json:"-" db:"hidden"`
	Deleted        bool      `json:"-" db:"deleted"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DedupKey is the canonical-URL dedup key; two cards with the same key are
// the same underlying resource saved independently.
func (c *Card) DedupKey() string {
	if c.CanonicalURL != "" {
		return c.CanonicalURL
	}
	return c.URL
}

// Collection is an owned group of cards with its own counters. The external
// API also calls this entity a "stack"; that alias never reaches this layer.
type Collection struct {
	ID             string     `json:"id" db:"id"`
	Title          string     `json:"title" db:"title"`
	Description    string     `json:"description" db:"description"`
	CoverURL       string     `json:"cover_url" db:"cover_url"`
	OwnerID        string     `json:"owner_id" db:"owner_id"`
	CreatorQuality int        `json:"creator_quality" db:"creator_quality"`
	Upvotes        int        `json:"upvotes" db:"upvotes"`
	Saves          int        `json:"saves" db:"saves"`
	Comments       int        `json:"comments" db:"comments"`
	PromotedUntil  *time.Time `json:"promoted_until,omitempty" db:"promoted_until"`
	Public         bool       `json:"public" db:"public"`
	Hidden         bool       `json:"-" db:"hidden"`
	Deleted        bool       `json:"-" db:"deleted"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// PromotionActive reports whether a paid promotion is live at t.
func (c *Collection) PromotionActive(t time.Time) bool {
	return c.PromotedUntil != nil && t.Before(*c.PromotedUntil)
}

// Attribution records who surfaced a card's URL and via which collection.
type Attribution struct {
	ID           int64     `json:"id" db:"id"`
	CardID       string    `json:"card_id" db:"card_id"`
	CanonicalURL string    `json:"canonical_url" db:"canonical_url"`
	UserID       string    `json:"user_id" db:"user_id"`
	CollectionID string    `json:"collection_id" db:"collection_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// SQLiteStore backs the ranking store, the score-inputs provider, and feed
// hydration with a single SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const eligible = "public = 1 AND hidden = 0 AND deleted = 0"

func tableFor(t ranking.ItemType) (string, error) {
	switch t {
	case ranking.TypeCard:
		return "cards", nil
	case ranking.TypeCollection:
		return "collections", nil
	}
	return "", fmt.Errorf("unknown item type %q", t)
}

// EligibleIDs lists public, active items of one type, oldest first so a
// scoped rerun touches the same prefix.
func (s *SQLiteStore) EligibleIDs(ctx context.Context, t ranking.ItemType, changedSince time.Time) ([]string, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	query := "SELECT id FROM " + table + " WHERE " + eligible
	var args []any
	if !changedSince.IsZero() {
		query += " AND updated_at >= ?"
		args = append(args, changedSince)
	}
	query += " ORDER BY created_at"

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list eligible %s: %w", table, err)
	}
	return ids, nil
}

// ScoreInput returns the current counters for one item. Age is measured
// from creation to now, so rerunning the batch later naturally decays
// older items.
func (s *SQLiteStore) ScoreInput(ctx context.Context, t ranking.ItemType, id string) (*ranking.ScoreInput, error) {
	now := time.Now().UTC()

	switch t {
	case ranking.TypeCard:
		var c Card
		if err := s.db.GetContext(ctx, &c, "SELECT * FROM cards WHERE id = ? AND "+eligible, id); err != nil {
			return nil, fmt.Errorf("card %s: %w", id, err)
		}
		return &ranking.ScoreInput{
			Upvotes:        c.Upvotes,
			Saves:          c.Saves,
			Comments:       c.Comments,
			Visits:         c.Visits,
			AgeHours:       now.Sub(c.CreatedAt).Hours(),
			CreatorQuality: float64(c.CreatorQuality),
		}, nil
	case ranking.TypeCollection:
		var c Collection
		if err := s.db.GetContext(ctx, &c, "SELECT * FROM collections WHERE id = ? AND "+eligible, id); err != nil {
			return nil, fmt.Errorf("collection %s: %w", id, err)
		}
		return &ranking.ScoreInput{
			Upvotes:         c.Upvotes,
			Saves:           c.Saves,
			Comments:        c.Comments,
			AgeHours:        now.Sub(c.CreatedAt).Hours(),
			CreatorQuality:  float64(c.CreatorQuality),
			PromotionActive: c.PromotionActive(now),
		}, nil
	}
	return nil, fmt.Errorf("unknown item type %q", t)
}

// UpsertRawScore replaces the raw score for (item_type, item_id), leaving
// the previous norm score in place until the normalization pass rewrites it.
func (s *SQLiteStore) UpsertRawScore(ctx context.Context, t ranking.ItemType, id string, raw float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rankings (item_type, item_id, raw_score, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_type, item_id) DO UPDATE SET
			raw_score = excluded.raw_score,
			updated_at = excluded.updated_at
	`, t, id, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert raw score %s/%s: %w", t, id, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertNormScore(ctx context.Context, t ranking.ItemType, id string, norm float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rankings (item_type, item_id, norm_score, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_type, item_id) DO UPDATE SET
			norm_score = excluded.norm_score,
			updated_at = excluded.updated_at
	`, t, id, norm, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert norm score %s/%s: %w", t, id, err)
	}
	return nil
}

// TopRanked returns ranking rows of one type ordered by norm_score descending.
func (s *SQLiteStore) TopRanked(ctx context.Context, t ranking.ItemType, limit, offset int) ([]ranking.Row, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ranking.Row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM rankings WHERE item_type = ?
		ORDER BY norm_score DESC LIMIT ? OFFSET ?
	`, t, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("top ranked %s: %w", t, err)
	}
	return rows, nil
}

// RankingSnapshot returns the most recently updated rows across all types,
// the bounded window the normalization pass runs over.
func (s *SQLiteStore) RankingSnapshot(ctx context.Context, limit int) ([]ranking.Row, error) {
	if limit <= 0 {
		limit = 5000
	}
	var rows []ranking.Row
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM rankings ORDER BY updated_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("ranking snapshot: %w", err)
	}
	return rows, nil
}

// CardsByID hydrates eligible cards for the given ids. Ids that no longer
// resolve are simply absent from the result.
func (s *SQLiteStore) CardsByID(ctx context.Context, ids []string) ([]Card, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT * FROM cards WHERE id IN (?) AND "+eligible, ids)
	if err != nil {
		return nil, fmt.Errorf("cards by id: %w", err)
	}
	var cards []Card
	if err := s.db.SelectContext(ctx, &cards, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("cards by id: %w", err)
	}
	return cards, nil
}

func (s *SQLiteStore) CollectionsByID(ctx context.Context, ids []string) ([]Collection, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT * FROM collections WHERE id IN (?) AND "+eligible, ids)
	if err != nil {
		return nil, fmt.Errorf("collections by id: %w", err)
	}
	var cols []Collection
	if err := s.db.SelectContext(ctx, &cols, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("collections by id: %w", err)
	}
	return cols, nil
}

// RecentCards is the feed fallback when no ranking rows exist for cards.
func (s *SQLiteStore) RecentCards(ctx context.Context, limit int) ([]Card, error) {
	if limit <= 0 {
		limit = 50
	}
	var cards []Card
	err := s.db.SelectContext(ctx, &cards,
		"SELECT * FROM cards WHERE "+eligible+" ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("recent cards: %w", err)
	}
	return cards, nil
}

func (s *SQLiteStore) RecentCollections(ctx context.Context, limit int) ([]Collection, error) {
	if limit <= 0 {
		limit = 50
	}
	var cols []Collection
	err := s.db.SelectContext(ctx, &cols,
		"SELECT * FROM collections WHERE "+eligible+" ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("recent collections: %w", err)
	}
	return cols, nil
}

// AttributionsFor returns attribution records grouped by card id.
func (s *SQLiteStore) AttributionsFor(ctx context.Context, cardIDs []string) (map[string][]Attribution, error) {
	if len(cardIDs) == 0 {
		return map[string][]Attribution{}, nil
	}
	query, args, err := sqlx.In("SELECT * FROM card_attributions WHERE card_id IN (?) ORDER BY created_at", cardIDs)
	if err != nil {
		return nil, fmt.Errorf("attributions: %w", err)
	}
	var attrs []Attribution
	if err := s.db.SelectContext(ctx, &attrs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("attributions: %w", err)
	}
	byCard := make(map[string][]Attribution, len(cardIDs))
	for _, a := range attrs {
		byCard[a.CardID] = append(byCard[a.CardID], a)
	}
	return byCard, nil
}

// UpsertCard writes a content row. The platform's content sync calls this;
// tests use it to build fixtures.
func (s *SQLiteStore) UpsertCard(ctx context.Context, c *Card) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cards (id, title, url, canonical_url, thumbnail_url, owner_id, creator_quality,
			upvotes, saves, comments, visits, public, hidden, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			canonical_url = excluded.canonical_url,
			thumbnail_url = excluded.thumbnail_url,
			creator_quality = excluded.creator_quality,
			upvotes = excluded.upvotes,
			saves = excluded.saves,
			comments = excluded.comments,
			visits = excluded.visits,
			public = excluded.public,
			hidden = excluded.hidden,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`, c.ID, c.Title, c.URL, c.CanonicalURL, c.ThumbnailURL, c.OwnerID, c.CreatorQuality,
		c.Upvotes, c.Saves, c.Comments, c.Visits, c.Public, c.Hidden, c.Deleted, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert card %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertCollection(ctx context.Context, c *Collection) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, title, description, cover_url, owner_id, creator_quality,
			upvotes, saves, comments, promoted_until, public, hidden, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			cover_url = excluded.cover_url,
			creator_quality = excluded.creator_quality,
			upvotes = excluded.upvotes,
			saves = excluded.saves,
			comments = excluded.comments,
			promoted_until = excluded.promoted_until,
			public = excluded.public,
			hidden = excluded.hidden,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`, c.ID, c.Title, c.Description, c.CoverURL, c.OwnerID, c.CreatorQuality,
		c.Upvotes, c.Saves, c.Comments, c.PromotedUntil, c.Public, c.Hidden, c.Deleted, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert collection %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) AddAttribution(ctx context.Context, a *Attribution) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO card_attributions (card_id, canonical_url, user_id, collection_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.CardID, a.CanonicalURL, a.UserID, a.CollectionID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("add attribution for card %s: %w", a.CardID, err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}
