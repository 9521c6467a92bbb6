package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/podcharts/pkg/ranking"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Dialect selects SQL placeholders and schema.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const batchSize = 500

// Podcast is the descriptive metadata of a tracked podcast.
type Podcast struct {
	ID        string `db:"id" json:"id"`
	Title     string `db:"title" json:"title"`
	Publisher string `db:"publisher" json:"publisher"`
	Category  string `db:"category" json:"category"`
	RSSURL    string `db:"rss_url" json:"rss_url"`
	Country   string `db:"country" json:"country"`
}

// Rank is one raw snapshot row.
type Rank struct {
	PodcastID  string      `db:"podcast_id" json:"podcast_id"`
	Source     string      `db:"source" json:"source"`
	Rank       int         `db:"rank" json:"rank"`
	Country    string      `db:"country" json:"country"`
	CapturedOn ranking.Day `db:"captured_on" json:"captured_on"`
}

// Metrics is the derived row for one podcast on one day.
type Metrics struct {
	PodcastID     string      `db:"podcast_id" json:"podcast_id"`
	CapturedOn    ranking.Day `db:"captured_on" json:"captured_on"`
	Rank          int         `db:"rank" json:"rank"`
	Delta7d       *int        `db:"delta_7d" json:"delta_7d"`
	Delta30d      *int        `db:"delta_30d" json:"delta_30d"`
	MomentumScore *float64    `db:"momentum_score" json:"momentum_score"`
}

// Episode is a recent episode parsed from a podcast feed.
type Episode struct {
	ID          string     `db:"id" json:"id"`
	PodcastID   string     `db:"podcast_id" json:"podcast_id"`
	Title       string     `db:"title" json:"title"`
	AudioURL    string     `db:"audio_url" json:"audio_url"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
}

// Queries are the reads and writes the ingestion pipeline performs. They run
// either directly on the pool or inside a transaction opened by InTx.
type Queries interface {
	UpsertPodcasts(ctx context.Context, records []ranking.RankedPodcast) error
	UpsertRanks(ctx context.Context, records []ranking.RankedPodcast) error
	DayRanks(ctx context.Context, day ranking.Day, source string) ([]Rank, error)

	MetricsRanks(ctx context.Context, day ranking.Day) (map[string]int, error)
	UpsertMetrics(ctx context.Context, rows []Metrics) error
	InsertMetricsIfAbsent(ctx context.Context, rows []Metrics) error
	CountMetrics(ctx context.Context, day ranking.Day) (int, error)
	LatestMetricsDay(ctx context.Context) (ranking.Day, bool, error)
	DayMetrics(ctx context.Context, day ranking.Day) ([]Metrics, error)

	UpsertEpisodes(ctx context.Context, episodes []Episode) error
	PodcastFeeds(ctx context.Context, day ranking.Day, limit int) ([]Podcast, error)
}

// Store is the persistence interface.
type Store interface {
	Queries

	// InTx runs fn in a transaction, committing only when fn returns nil.
	InTx(ctx context.Context, fn func(q Queries) error) error

	Leaderboard(ctx context.Context, opts LeaderboardOpts) ([]LeaderboardEntry, error)
	Trending(ctx context.Context, opts TrendingOpts) ([]LeaderboardEntry, error)
	GetPodcast(ctx context.Context, id string) (*Podcast, error)
	History(ctx context.Context, podcastID string, since ranking.Day) ([]Metrics, error)
	Coverage(ctx context.Context, day ranking.Day) (*Coverage, error)

	Close() error
}

// SQLStore implements Store on SQLite or Postgres.
type SQLStore struct {
	*repo
	db *sqlx.DB
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database named by dsn and runs migrations.
// postgres:// and postgresql:// URLs use Postgres; anything else is a SQLite path.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	dialect, driverName, source := resolveDSN(dsn)

	db, err := sqlx.Open(driverName, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	s := NewWithDB(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection without running migrations.
func NewWithDB(db *sqlx.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		repo: newRepo(db, dialect),
		db:   db,
	}
}

func resolveDSN(dsn string) (Dialect, string, string) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres, "postgres", dsn
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return DialectSQLite, "sqlite", path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Migrate applies the schema. It is safe to run repeatedly.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaFor(s.dialect)); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Dialect reports which SQL dialect the store speaks.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(newRepo(tx, s.dialect)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// repo runs queries against either the pool or a transaction.
type repo struct {
	ext     sqlx.ExtContext
	sb      sq.StatementBuilderType
	dialect Dialect
}

func newRepo(ext sqlx.ExtContext, dialect Dialect) *repo {
	var format sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		format = sq.Dollar
	}
	return &repo{
		ext:     ext,
		sb:      sq.StatementBuilder.PlaceholderFormat(format),
		dialect: dialect,
	}
}

func (r *repo) exec(ctx context.Context, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = r.ext.ExecContext(ctx, query, args...)
	return err
}

func (r *repo) selectInto(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, r.ext, dest, query, args...)
}

func (r *repo) getInto(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, r.ext, dest, query, args...)
}

// nullable turns a nil pointer into an untyped nil so every driver binds NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// chunks calls fn with consecutive [lo, hi) windows of at most batchSize.
func chunks(n int, fn func(lo, hi int) error) error {
	for lo := 0; lo < n; lo += batchSize {
		hi := min(lo+batchSize, n)
		if err := fn(lo, hi); err != nil {
			return err
		}
	}
	return nil
}

// dedupe keeps the last occurrence of each key, preserving first-seen order.
// A multi-row upsert may not touch the same conflict key twice.
func dedupe[T any](items []T, key func(T) string) []T {
	index := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if i, ok := index[k]; ok {
			out[i] = it
			continue
		}
		index[k] = len(out)
		out = append(out, it)
	}
	return out
}

func (r *repo) UpsertPodcasts(ctx context.Context, records []ranking.RankedPodcast) error {
	records = dedupe(records, func(p ranking.RankedPodcast) string { return p.PodcastID })
	return chunks(len(records), func(lo, hi int) error {
		ins := r.sb.Insert("podcasts").
			Columns("id", "title", "publisher", "category", "rss_url", "country")
		for _, p := range records[lo:hi] {
			ins = ins.Values(p.PodcastID, p.Title, p.Publisher, p.Category, p.RSSURL, p.Country)
		}
		ins = ins.Suffix(`ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			publisher = excluded.publisher,
			category = excluded.category,
			rss_url = excluded.rss_url,
			country = excluded.country`)
		if err := r.exec(ctx, ins); err != nil {
			return fmt.Errorf("upsert podcasts: %w", err)
		}
		return nil
	})
}

func (r *repo) UpsertRanks(ctx context.Context, records []ranking.RankedPodcast) error {
	records = dedupe(records, func(p ranking.RankedPodcast) string {
		return p.PodcastID + "\x00" + p.Source + "\x00" + p.CapturedOn.String() + "\x00" + p.Country
	})
	return chunks(len(records), func(lo, hi int) error {
		ins := r.sb.Insert("ranks_daily").
			Columns("podcast_id", "source", "rank", "country", "captured_on")
		for _, p := range records[lo:hi] {
			ins = ins.Values(p.PodcastID, p.Source, p.Rank, p.Country, p.CapturedOn)
		}
		ins = ins.Suffix("ON CONFLICT (podcast_id, source, captured_on, country) DO UPDATE SET rank = excluded.rank")
		if err := r.exec(ctx, ins); err != nil {
			return fmt.Errorf("upsert ranks: %w", err)
		}
		return nil
	})
}

func (r *repo) DayRanks(ctx context.Context, day ranking.Day, source string) ([]Rank, error) {
	q := r.sb.Select("podcast_id", "source", "rank", "country", "captured_on").
		From("ranks_daily").
		Where(sq.Eq{"source": source, "captured_on": day}).
		OrderBy("rank", "podcast_id", "country")

	var ranks []Rank
	if err := r.selectInto(ctx, &ranks, q); err != nil {
		return nil, fmt.Errorf("day ranks %s: %w", day, err)
	}
	return ranks, nil
}

func (r *repo) MetricsRanks(ctx context.Context, day ranking.Day) (map[string]int, error) {
	q := r.sb.Select("podcast_id", "rank").
		From("metrics_daily").
		Where(sq.Eq{"captured_on": day})

	var rows []struct {
		PodcastID string `db:"podcast_id"`
		Rank      int    `db:"rank"`
	}
	if err := r.selectInto(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("metrics ranks %s: %w", day, err)
	}

	ranks := make(map[string]int, len(rows))
	for _, row := range rows {
		ranks[row.PodcastID] = row.Rank
	}
	return ranks, nil
}

func (r *repo) insertMetrics(ctx context.Context, rows []Metrics, suffix string) error {
	rows = dedupe(rows, func(m Metrics) string { return m.PodcastID + "\x00" + m.CapturedOn.String() })
	return chunks(len(rows), func(lo, hi int) error {
		ins := r.sb.Insert("metrics_daily").
			Columns("podcast_id", "captured_on", "rank", "delta_7d", "delta_30d", "momentum_score")
		for _, m := range rows[lo:hi] {
			ins = ins.Values(m.PodcastID, m.CapturedOn, m.Rank, nullable(m.Delta7d), nullable(m.Delta30d), nullable(m.MomentumScore))
		}
		return r.exec(ctx, ins.Suffix(suffix))
	})
}

func (r *repo) UpsertMetrics(ctx context.Context, rows []Metrics) error {
	err := r.insertMetrics(ctx, rows, `ON CONFLICT (podcast_id, captured_on) DO UPDATE SET
		rank = excluded.rank,
		delta_7d = excluded.delta_7d,
		delta_30d = excluded.delta_30d,
		momentum_score = excluded.momentum_score`)
	if err != nil {
		return fmt.Errorf("upsert metrics: %w", err)
	}
	return nil
}

func (r *repo) InsertMetricsIfAbsent(ctx context.Context, rows []Metrics) error {
	if err := r.insertMetrics(ctx, rows, "ON CONFLICT (podcast_id, captured_on) DO NOTHING"); err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}
	return nil
}

func (r *repo) CountMetrics(ctx context.Context, day ranking.Day) (int, error) {
	q := r.sb.Select("COUNT(*)").From("metrics_daily").Where(sq.Eq{"captured_on": day})
	var n int
	if err := r.getInto(ctx, &n, q); err != nil {
		return 0, fmt.Errorf("count metrics %s: %w", day, err)
	}
	return n, nil
}

func (r *repo) LatestMetricsDay(ctx context.Context) (ranking.Day, bool, error) {
	var day ranking.Day
	if err := r.getInto(ctx, &day, r.sb.Select("MAX(captured_on)").From("metrics_daily")); err != nil {
		return ranking.Day{}, false, fmt.Errorf("latest metrics day: %w", err)
	}
	return day, !day.IsZero(), nil
}

func (r *repo) DayMetrics(ctx context.Context, day ranking.Day) ([]Metrics, error) {
	q := r.sb.Select("podcast_id", "captured_on", "rank", "delta_7d", "delta_30d", "momentum_score").
		From("metrics_daily").
		Where(sq.Eq{"captured_on": day}).
		OrderBy("rank", "podcast_id")

	var rows []Metrics
	if err := r.selectInto(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("day metrics %s: %w", day, err)
	}
	return rows, nil
}

func (r *repo) UpsertEpisodes(ctx context.Context, episodes []Episode) error {
	episodes = dedupe(episodes, func(e Episode) string { return e.ID })
	return chunks(len(episodes), func(lo, hi int) error {
		ins := r.sb.Insert("episodes").
			Columns("id", "podcast_id", "title", "audio_url", "published_at")
		for _, e := range episodes[lo:hi] {
			ins = ins.Values(e.ID, e.PodcastID, e.Title, e.AudioURL, nullable(e.PublishedAt))
		}
		ins = ins.Suffix(`ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			audio_url = excluded.audio_url,
			published_at = excluded.published_at`)
		if err := r.exec(ctx, ins); err != nil {
			return fmt.Errorf("upsert episodes: %w", err)
		}
		return nil
	})
}

func (r *repo) PodcastFeeds(ctx context.Context, day ranking.Day, limit int) ([]Podcast, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.sb.Select("p.id", "p.title", "p.publisher", "p.category", "p.rss_url", "p.country").
		From("metrics_daily m").
		Join("podcasts p ON p.id = m.podcast_id").
		Where(sq.Eq{"m.captured_on": day}).
		Where(sq.NotEq{"p.rss_url": ""}).
		OrderBy("m.rank", "p.id").
		Limit(uint64(limit))

	var podcasts []Podcast
	if err := r.selectInto(ctx, &podcasts, q); err != nil {
		return nil, fmt.Errorf("podcast feeds %s: %w", day, err)
	}
	return podcasts, nil
}

func (s *SQLStore) GetPodcast(ctx context.Context, id string) (*Podcast, error) {
	q := s.sb.Select("id", "title", "publisher", "category", "rss_url", "country").
		From("podcasts").
		Where(sq.Eq{"id": id})

	var p Podcast
	if err := s.getInto(ctx, &p, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get podcast %s: %w", id, err)
	}
	return &p, nil
}

func (s *SQLStore) History(ctx context.Context, podcastID string, since ranking.Day) ([]Metrics, error) {
	q := s.sb.Select("podcast_id", "captured_on", "rank", "delta_7d", "delta_30d", "momentum_score").
		From("metrics_daily").
		Where(sq.Eq{"podcast_id": podcastID}).
		Where(sq.GtOrEq{"captured_on": since}).
		OrderBy("captured_on")

	var rows []Metrics
	if err := s.selectInto(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("history %s: %w", podcastID, err)
	}
	return rows, nil
}
