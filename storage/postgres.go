package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"merchant/config"
	"merchant/models"
	"merchant/utils"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PostgresStore is the historical listing store.
type PostgresStore struct {
	db     *sql.DB
	logger *utils.Logger

	mu         sync.Mutex
	noGroup    int64
	multiGroup int64
	categories map[string]int64
}

// Open connects to PostgreSQL, retrying the ping up to pingAttempts times.
// It does not create the schema; see Initialize.
func Open(dsn string, pingAttempts int, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if pingAttempts < 1 {
		pingAttempts = 1
	}
	for i := 0; i < pingAttempts; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i < pingAttempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after %d attempts: %w", pingAttempts, err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Initialize creates the schema, the sentinel items and one category per
// entry of codes. It refuses to touch a database that is already fully
// initialized. A database left half done by an interrupted Initialize (schema
// present, seed missing) is completed instead.
func (s *PostgresStore) Initialize(ctx context.Context, codes *config.CategoryCodes) error {
	seeded, err := s.seeded(ctx)
	if err != nil {
		return err
	}
	if seeded {
		return ErrAlreadyInitialized
	}

	if err := s.migrate(ctx); err != nil {
		return err
	}
	if err := s.seed(ctx, codes); err != nil {
		return fmt.Errorf("postgres: seed: %w", err)
	}

	s.logger.Info("[store] Initialized: %d categories, sentinel items %q and %q",
		len(codes.Categories), models.ItemNoGroup, models.ItemMultiGroup)
	return nil
}

// seeded reports whether the schema exists and holds both sentinel items.
func (s *PostgresStore) seeded(ctx context.Context) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT to_regclass('items') IS NOT NULL`).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: check schema: %w", err)
	}
	if !exists {
		return false, nil
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE name = ANY($1)`,
		pq.Array([]string{models.ItemNoGroup, models.ItemMultiGroup})).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("postgres: check sentinels: %w", err)
	}
	return n == 2, nil
}

// migrate applies pending embedded migrations.
func (s *PostgresStore) migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *PostgresStore) seed(ctx context.Context, codes *config.CategoryCodes) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, name := range []string{models.ItemNoGroup, models.ItemMultiGroup} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO items (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
				return fmt.Errorf("insert sentinel %q: %w", name, err)
			}
		}
		for _, c := range codes.Categories {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO categories (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, c.Name); err != nil {
				return fmt.Errorf("insert category %q: %w", c.Name, err)
			}
		}
		return nil
	})
}

// SentinelIDs returns the ids of the "no group" and "multi group" items.
func (s *PostgresStore) SentinelIDs(ctx context.Context) (noGroup, multiGroup int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noGroup != 0 {
		return s.noGroup, s.multiGroup, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM items WHERE name = ANY($1)`,
		pq.Array([]string{models.ItemNoGroup, models.ItemMultiGroup}))
	if err != nil {
		return 0, 0, notInitialized(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return 0, 0, fmt.Errorf("postgres: scan sentinel: %w", err)
		}
		if name == models.ItemNoGroup {
			noGroup = id
		} else {
			multiGroup = id
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	if noGroup == 0 || multiGroup == 0 {
		return 0, 0, fmt.Errorf("%w: sentinel items missing", ErrNotInitialized)
	}

	s.noGroup, s.multiGroup = noGroup, multiGroup
	return noGroup, multiGroup, nil
}

func (s *PostgresStore) categoryIDs(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.categories != nil {
		return s.categories, nil
	}

	cats, err := s.Categories(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(cats))
	for _, c := range cats {
		ids[c.Name] = c.ID
	}
	s.categories = ids
	return ids, nil
}

// Categories lists every category ordered by id.
func (s *PostgresStore) Categories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, notInitialized(err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("postgres: scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Upsert records one observation of every record at observedAt. The whole
// batch commits in one transaction or not at all.
//
// A new cid is inserted with post_date = last_seen = observedAt and the
// "no group" item. A known cid gets last_seen advanced; its price is
// replaced by the observed ask unless the observation is older than
// last_seen. Every price a listing takes is appended to price_history; two
// asks at the same instant keep the later one in both places.
func (s *PostgresStore) Upsert(ctx context.Context, records []*models.RawListing, observedAt time.Time) (models.UpsertResult, error) {
	var res models.UpsertResult
	if len(records) == 0 {
		return res, nil
	}

	noGroup, _, err := s.SentinelIDs(ctx)
	if err != nil {
		return res, err
	}
	cats, err := s.categoryIDs(ctx)
	if err != nil {
		return res, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			catID, reason := validateRecord(r, cats)
			if reason != "" {
				s.logger.Warn("[store] Rejected cid %d: %s", r.CID, reason)
				res.Rejected++
				continue
			}

			inserted, err := insertListing(ctx, tx, r, catID, noGroup, observedAt)
			if err != nil {
				return err
			}
			if inserted {
				res.Inserted++
				continue
			}

			// Existing row, or another writer won the insert race.
			if err := observeListing(ctx, tx, r, observedAt); err != nil {
				return err
			}
			res.Updated++
		}
		return nil
	})
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("postgres: upsert: %w", err)
	}
	return res, nil
}

func validateRecord(r *models.RawListing, cats map[string]int64) (int64, string) {
	switch {
	case r == nil:
		return 0, "nil record"
	case r.CID <= 0:
		return 0, "non-positive cid"
	case r.Price < 0:
		return 0, "negative price"
	case strings.TrimSpace(r.Title) == "":
		return 0, "empty title"
	case strings.TrimSpace(r.URL) == "":
		return 0, "empty url"
	}
	catID, ok := cats[r.Category]
	if !ok {
		return 0, fmt.Sprintf("unknown category %q", r.Category)
	}
	return catID, ""
}

func insertListing(ctx context.Context, tx *sql.Tx, r *models.RawListing, catID, itemID int64, observedAt time.Time) (bool, error) {
	var postedAt sql.NullTime
	if !r.PostedAt.IsZero() {
		postedAt = sql.NullTime{Time: r.PostedAt, Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO listings (cid, url, post_date, posted_at, title, price, area, cat_id, item_id, location, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $3)
		ON CONFLICT (cid) DO NOTHING
	`, r.CID, r.URL, observedAt, postedAt, r.Title, r.Price, r.Area, catID, itemID, r.Location)
	if err != nil {
		return false, fmt.Errorf("insert cid %d: %w", r.CID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return true, appendPrice(ctx, tx, r.CID, observedAt, r.Price)
}

func observeListing(ctx context.Context, tx *sql.Tx, r *models.RawListing, observedAt time.Time) error {
	var (
		price    int
		lastSeen time.Time
	)
	err := tx.QueryRowContext(ctx,
		`SELECT price, last_seen FROM listings WHERE cid = $1 FOR UPDATE`, r.CID,
	).Scan(&price, &lastSeen)
	if err != nil {
		return fmt.Errorf("lock cid %d: %w", r.CID, err)
	}

	newPrice := price
	if !observedAt.Before(lastSeen) {
		newPrice = r.Price
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE listings SET last_seen = GREATEST(last_seen, $2), price = $3
		WHERE cid = $1
	`, r.CID, observedAt, newPrice); err != nil {
		return fmt.Errorf("update cid %d: %w", r.CID, err)
	}

	if newPrice != price {
		return appendPrice(ctx, tx, r.CID, observedAt, newPrice)
	}
	return nil
}

func appendPrice(ctx context.Context, tx *sql.Tx, cid int64, observedAt time.Time, price int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO price_history (cid, observed_at, price) VALUES ($1, $2, $3)
		ON CONFLICT (cid, observed_at) DO UPDATE SET price = EXCLUDED.price
	`, cid, observedAt, price)
	if err != nil {
		return fmt.Errorf("price history cid %d: %w", cid, err)
	}
	return nil
}

// Listing returns the stored listing with the given cid.
func (s *PostgresStore) Listing(ctx context.Context, cid int64) (*models.Listing, error) {
	var (
		l        models.Listing
		postedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT cid, url, post_date, posted_at, last_seen, title, price, area, location, cat_id, item_id
		FROM listings WHERE cid = $1
	`, cid).Scan(&l.CID, &l.URL, &l.PostDate, &postedAt, &l.LastSeen, &l.Title, &l.Price,
		&l.Area, &l.Location, &l.CatID, &l.ItemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %d: %w", cid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: listing %d: %w", cid, err)
	}
	if postedAt.Valid {
		l.PostedAt = &postedAt.Time
	}
	return &l, nil
}

// PriceHistory returns the price log of cid, oldest first.
func (s *PostgresStore) PriceHistory(ctx context.Context, cid int64) ([]models.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cid, observed_at, price FROM price_history
		WHERE cid = $1 ORDER BY observed_at
	`, cid)
	if err != nil {
		return nil, fmt.Errorf("postgres: price history: %w", err)
	}
	defer rows.Close()

	var out []models.PriceObservation
	for rows.Next() {
		var o models.PriceObservation
		if err := rows.Scan(&o.CID, &o.ObservedAt, &o.Price); err != nil {
			return nil, fmt.Errorf("postgres: scan price: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Items lists every item, sentinels included, ordered by id.
func (s *PostgresStore) Items(ctx context.Context) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM items ORDER BY id`)
	if err != nil {
		return nil, notInitialized(err)
	}
	defer rows.Close()

	var out []models.Item
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.Name); err != nil {
			return nil, fmt.Errorf("postgres: scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// InsertItems adds every name not yet present, in one transaction, and
// returns how many rows were created.
func (s *PostgresStore) InsertItems(ctx context.Context, names []string) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO items (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
			if err != nil {
				return fmt.Errorf("insert item %q: %w", name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: insert items: %w", err)
	}
	return inserted, nil
}

// UnclassifiedTitles returns titles of listings still in the "no group"
// item, ordered by cid. limit <= 0 means no limit.
func (s *PostgresStore) UnclassifiedTitles(ctx context.Context, limit int) ([]string, error) {
	noGroup, _, err := s.SentinelIDs(ctx)
	if err != nil {
		return nil, err
	}

	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT title FROM listings WHERE item_id = $1 ORDER BY cid LIMIT $2`, noGroup, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres: unclassified titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// ListingTitles returns cid, title and current item of every listing.
func (s *PostgresStore) ListingTitles(ctx context.Context) ([]models.TitleRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cid, title, item_id FROM listings ORDER BY cid`)
	if err != nil {
		return nil, notInitialized(err)
	}
	defer rows.Close()

	var out []models.TitleRef
	for rows.Next() {
		var t models.TitleRef
		if err := rows.Scan(&t.CID, &t.Title, &t.ItemID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AssignItems sets item_id per cid in one transaction and returns how many
// rows changed.
func (s *PostgresStore) AssignItems(ctx context.Context, assignments map[int64]int64) (int, error) {
	cids := make([]int64, 0, len(assignments))
	for cid := range assignments {
		cids = append(cids, cid)
	}
	// Fixed lock order between concurrent linkers.
	sort.Slice(cids, func(i, j int) bool { return cids[i] < cids[j] })

	changed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, cid := range cids {
			res, err := tx.ExecContext(ctx,
				`UPDATE listings SET item_id = $2 WHERE cid = $1 AND item_id <> $2`, cid, assignments[cid])
			if err != nil {
				return fmt.Errorf("assign cid %d: %w", cid, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			changed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: assign items: %w", err)
	}
	return changed, nil
}

// PriceObservations returns (price, post_date, last_seen) for listings of
// the named category and item asking at least minPrice.
func (s *PostgresStore) PriceObservations(ctx context.Context, category, item string, minPrice int) ([]models.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.price, l.post_date, l.last_seen
		FROM listings l
		INNER JOIN categories c ON c.id = l.cat_id
		INNER JOIN items i ON i.id = l.item_id
		WHERE c.name = $1 AND i.name = $2 AND l.price >= $3
		ORDER BY l.cid
	`, category, item, minPrice)
	if err != nil {
		return nil, fmt.Errorf("postgres: price observations: %w", err)
	}
	defer rows.Close()

	var out []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.Price, &p.PostDate, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("postgres: scan price point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordRun stores the summary of one ingestion run.
func (s *PostgresStore) RecordRun(ctx context.Context, run *models.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (id, category, started_at, finished_at, total_count, pages,
			pages_failed, rows_malformed, inserted, updated, rejected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, run.ID.String(), run.Category, run.StartedAt, run.FinishedAt, run.TotalCount, run.Pages,
		run.PagesFailed, run.RowsMalformed, run.Inserted, run.Updated, run.Rejected)
	if err != nil {
		return fmt.Errorf("postgres: record run: %w", err)
	}
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// notInitialized maps "relation does not exist" onto ErrNotInitialized.
func notInitialized(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	return fmt.Errorf("postgres: %w", err)
}
