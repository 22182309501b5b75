package db

const schema = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- URLs table: every source URL seen in an archived turn
CREATE TABLE IF NOT EXISTS urls (
    url_id INTEGER PRIMARY KEY AUTOINCREMENT,
    original_url TEXT NOT NULL UNIQUE,
    canonical_url TEXT NOT NULL,
    scheme TEXT NOT NULL,
    domain TEXT NOT NULL,
    path TEXT,
    fragment TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_urls_domain ON urls(domain);
CREATE INDEX IF NOT EXISTS idx_urls_canonical ON urls(canonical_url);

-- URL query parameters: normalized query strings
CREATE TABLE IF NOT EXISTS url_query_params (
    param_id INTEGER PRIMARY KEY AUTOINCREMENT,
    url_id INTEGER NOT NULL,
    key TEXT NOT NULL,
    value TEXT,
    FOREIGN KEY (url_id) REFERENCES urls(url_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_params_url ON url_query_params(url_id);
CREATE INDEX IF NOT EXISTS idx_params_key ON url_query_params(key);

-- URL accesses: one row per processed source
CREATE TABLE IF NOT EXISTS url_accesses (
    access_id INTEGER PRIMARY KEY AUTOINCREMENT,
    url_id INTEGER NOT NULL,
    accessed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    kind TEXT NOT NULL,
    error_message TEXT,
    success BOOLEAN NOT NULL,
    FOREIGN KEY (url_id) REFERENCES urls(url_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_accesses_url ON url_accesses(url_id);
CREATE INDEX IF NOT EXISTS idx_accesses_success ON url_accesses(success);

-- Sessions: conversations, titled after their first query
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at TEXT NOT NULL
);

-- Turns: one query and its final answer
CREATE TABLE IF NOT EXISTS turns (
    turn_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    query TEXT NOT NULL,
    language TEXT,
    status TEXT NOT NULL,
    final_answer TEXT,
    answer_done BOOLEAN NOT NULL DEFAULT 0,
    error_message TEXT,
    invalid_citations TEXT,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
CREATE INDEX IF NOT EXISTS idx_turns_started ON turns(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_turns_status ON turns(status);

-- Turn queries: optimized web and image queries plus follow-ups, in order
CREATE TABLE IF NOT EXISTS turn_queries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    turn_id TEXT NOT NULL,
    role TEXT NOT NULL,          -- web, image, follow_up
    position INTEGER NOT NULL,
    query TEXT NOT NULL,
    FOREIGN KEY (turn_id) REFERENCES turns(turn_id) ON DELETE CASCADE,
    UNIQUE(turn_id, role, position)
);

CREATE INDEX IF NOT EXISTS idx_turn_queries_turn ON turn_queries(turn_id);

-- Turn sources: processed results with their citation numbers
CREATE TABLE IF NOT EXISTS turn_sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    turn_id TEXT NOT NULL,
    url_id INTEGER NOT NULL,
    kind TEXT NOT NULL,          -- web, image
    source_number INTEGER NOT NULL,
    title TEXT,
    image_url TEXT,
    thumbnail_url TEXT,
    favicon TEXT,
    status TEXT NOT NULL,
    summary TEXT,
    error_message TEXT,
    FOREIGN KEY (turn_id) REFERENCES turns(turn_id) ON DELETE CASCADE,
    FOREIGN KEY (url_id) REFERENCES urls(url_id),
    UNIQUE(turn_id, kind, source_number)
);

CREATE INDEX IF NOT EXISTS idx_turn_sources_turn ON turn_sources(turn_id);
CREATE INDEX IF NOT EXISTS idx_turn_sources_url ON turn_sources(url_id);
`
