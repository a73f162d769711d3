// Package history keeps a log of completed analyses in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Sidhtang/medpassport/pkg/config"
	"github.com/Sidhtang/medpassport/pkg/models"
)

// DefaultLimit is the number of records Recent returns when no limit is given.
const DefaultLimit = 10

// QueryOpts filters Recent.
type QueryOpts struct {
	Limit       int
	Kind        models.ArtifactKind
	Role        string
	Fingerprint string
	Since       time.Time
}

// Stat is a per-category summary.
type Stat struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
	Cached   int64  `json:"cached"`
}

// Store writes and queries analysis records.
type Store struct {
	db        *sql.DB
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New opens the history database, creates the schema and starts the
// retention loop when a retention period is configured.
func New(cfg config.HistoryConfig, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		db:        db,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		log:       log,
		now:       time.Now,
		done:      make(chan struct{}),
	}

	if s.retention > 0 {
		s.wg.Add(1)
		go s.retentionLoop()
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS analysis_history (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		category    TEXT NOT NULL,
		role        TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		result      TEXT NOT NULL,
		cached      INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_created ON analysis_history(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_fingerprint ON analysis_history(fingerprint)`)
	return err
}

// Record inserts rec, assigning an ID and timestamp when they are missing.
func (s *Store) Record(ctx context.Context, rec models.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_history (id, kind, category, role, fingerprint, result, cached, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.Category, rec.Role, rec.Fingerprint, rec.Result,
		rec.Cached, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record analysis: %w", err)
	}
	return nil
}

// Recent returns the newest records matching opts, newest first.
func (s *Store) Recent(ctx context.Context, opts QueryOpts) ([]models.AnalysisRecord, error) {
	q := `SELECT id, kind, category, role, fingerprint, result, cached, created_at
		FROM analysis_history WHERE 1=1`
	var args []any

	if opts.Kind != "" {
		q += " AND kind = ?"
		args = append(args, string(opts.Kind))
	}
	if opts.Role != "" {
		q += " AND role = ?"
		args = append(args, opts.Role)
	}
	if opts.Fingerprint != "" {
		q += " AND fingerprint = ?"
		args = append(args, opts.Fingerprint)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UnixMilli())
	}

	q += " ORDER BY created_at DESC, rowid DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var recs []models.AnalysisRecord
	for rows.Next() {
		var r models.AnalysisRecord
		var kind string
		var createdAt int64
		if err := rows.Scan(&r.ID, &kind, &r.Category, &r.Role, &r.Fingerprint, &r.Result, &r.Cached, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Kind = models.ArtifactKind(kind)
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Stats returns record counts grouped by category.
func (s *Store) Stats(ctx context.Context) ([]Stat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, count(*), sum(cached) FROM analysis_history
		 GROUP BY category ORDER BY count(*) DESC, category`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	var stats []Stat
	for rows.Next() {
		var st Stat
		if err := rows.Scan(&st.Category, &st.Count, &st.Cached); err != nil {
			return nil, fmt.Errorf("scan history stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the retention period.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_history WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			n, err := s.Cleanup(context.Background())
			if err != nil {
				s.log.Warn("history cleanup failed", zap.Error(err))
			} else if n > 0 {
				s.log.Info("history cleanup removed records", zap.Int64("removed", n))
			}
		}
	}
}
