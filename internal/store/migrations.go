package store

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS podcasts (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    publisher  TEXT NOT NULL DEFAULT '',
    category   TEXT NOT NULL DEFAULT '',
    rss_url    TEXT NOT NULL DEFAULT '',
    country    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_podcasts_category ON podcasts(category);
CREATE INDEX IF NOT EXISTS idx_podcasts_country ON podcasts(country);

CREATE TABLE IF NOT EXISTS ranks_daily (
    podcast_id  TEXT NOT NULL REFERENCES podcasts(id),
    source      TEXT NOT NULL,
    rank        INTEGER NOT NULL,
    country     TEXT NOT NULL,
    captured_on TEXT NOT NULL,
    PRIMARY KEY (podcast_id, source, captured_on, country)
);

CREATE INDEX IF NOT EXISTS idx_ranks_day ON ranks_daily(captured_on, source);

CREATE TABLE IF NOT EXISTS metrics_daily (
    podcast_id     TEXT NOT NULL REFERENCES podcasts(id),
    captured_on    TEXT NOT NULL,
    rank           INTEGER NOT NULL,
    delta_7d       INTEGER,
    delta_30d      INTEGER,
    momentum_score REAL,
    PRIMARY KEY (podcast_id, captured_on)
);

CREATE INDEX IF NOT EXISTS idx_metrics_day ON metrics_daily(captured_on);

CREATE TABLE IF NOT EXISTS episodes (
    id           TEXT PRIMARY KEY,
    podcast_id   TEXT NOT NULL REFERENCES podcasts(id),
    title        TEXT NOT NULL,
    audio_url    TEXT NOT NULL DEFAULT '',
    published_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_episodes_podcast ON episodes(podcast_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS podcasts (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    publisher  TEXT NOT NULL DEFAULT '',
    category   TEXT NOT NULL DEFAULT '',
    rss_url    TEXT NOT NULL DEFAULT '',
    country    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_podcasts_category ON podcasts(category);
CREATE INDEX IF NOT EXISTS idx_podcasts_country ON podcasts(country);

CREATE TABLE IF NOT EXISTS ranks_daily (
    podcast_id  TEXT NOT NULL REFERENCES podcasts(id),
    source      TEXT NOT NULL,
    rank        INTEGER NOT NULL,
    country     TEXT NOT NULL,
    captured_on DATE NOT NULL,
    PRIMARY KEY (podcast_id, source, captured_on, country)
);

CREATE INDEX IF NOT EXISTS idx_ranks_day ON ranks_daily(captured_on, source);

CREATE TABLE IF NOT EXISTS metrics_daily (
    podcast_id     TEXT NOT NULL REFERENCES podcasts(id),
    captured_on    DATE NOT NULL,
    rank           INTEGER NOT NULL,
    delta_7d       INTEGER,
    delta_30d      INTEGER,
    momentum_score DOUBLE PRECISION,
    PRIMARY KEY (podcast_id, captured_on)
);

CREATE INDEX IF NOT EXISTS idx_metrics_day ON metrics_daily(captured_on);

CREATE TABLE IF NOT EXISTS episodes (
    id           TEXT PRIMARY KEY,
    podcast_id   TEXT NOT NULL REFERENCES podcasts(id),
    title        TEXT NOT NULL,
    audio_url    TEXT NOT NULL DEFAULT '',
    published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_episodes_podcast ON episodes(podcast_id);
`

func schemaFor(dialect Dialect) string {
	if dialect == DialectPostgres {
		return postgresSchema
	}
	return sqliteSchema
}
