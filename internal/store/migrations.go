package store

const schema = `
CREATE TABLE IF NOT EXISTS cards (
    id              TEXT PRIMARY KEY,
    title           TEXT NOT NULL,
    url             TEXT NOT NULL DEFAULT '',
    canonical_url   TEXT NOT NULL DEFAULT '',
    thumbnail_url   TEXT NOT NULL DEFAULT '',
    owner_id        TEXT NOT NULL DEFAULT '',
    creator_quality INTEGER NOT NULL DEFAULT 50,
    upvotes         INTEGER NOT NULL DEFAULT 0,
    saves           INTEGER NOT NULL DEFAULT 0,
    comments        INTEGER NOT NULL DEFAULT 0,
    visits          INTEGER NOT NULL DEFAULT 0,
    public          BOOLEAN NOT NULL DEFAULT 1,
    hidden          BOOLEAN NOT NULL DEFAULT 0,
    deleted         BOOLEAN NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cards_created_at ON cards(created_at);
CREATE INDEX IF NOT EXISTS idx_cards_canonical ON cards(canonical_url);
CREATE INDEX IF NOT EXISTS idx_cards_updated_at ON cards(updated_at);

CREATE TABLE IF NOT EXISTS collections (
    id              TEXT PRIMARY KEY,
    title           TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    cover_url       TEXT NOT NULL DEFAULT '',
    owner_id        TEXT NOT NULL DEFAULT '',
    creator_quality INTEGER NOT NULL DEFAULT 50,
    upvotes         INTEGER NOT NULL DEFAULT 0,
    saves           INTEGER NOT NULL DEFAULT 0,
    comments        INTEGER NOT NULL DEFAULT 0,
    promoted_until  DATETIME,
    public          BOOLEAN NOT NULL DEFAULT 1,
    hidden          BOOLEAN NOT NULL DEFAULT 0,
    deleted         BOOLEAN NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_collections_created_at ON collections(created_at);
CREATE INDEX IF NOT EXISTS idx_collections_updated_at ON collections(updated_at);

CREATE TABLE IF NOT EXISTS card_attributions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    card_id       TEXT NOT NULL REFERENCES cards(id),
    canonical_url TEXT NOT NULL DEFAULT '',
    user_id       TEXT NOT NULL,
    collection_id TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attributions_card ON card_attributions(card_id);

CREATE TABLE IF NOT EXISTS rankings (
    item_type  TEXT NOT NULL,
    item_id    TEXT NOT NULL,
    raw_score  REAL NOT NULL DEFAULT 0,
    norm_score REAL NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL,
    UNIQUE(item_type, item_id)
);

CREATE INDEX IF NOT EXISTS idx_rankings_norm ON rankings(item_type, norm_score DESC);
CREATE INDEX IF NOT EXISTS idx_rankings_updated ON rankings(updated_at DESC);
`
