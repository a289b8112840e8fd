package tracking

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// Credentials identify a remote tracking project. They are recorded with
// the run; nothing is uploaded.
type Credentials struct {
	APIKey      string
	ProjectName string
	Workspace   string
}

// Remote reports whether an API key was supplied
func (c Credentials) Remote() bool {
	return c.APIKey != ""
}

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	project     TEXT NOT NULL DEFAULT '',
	workspace   TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE TABLE IF NOT EXISTS params(
	run_id TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  TEXT NOT NULL,
	PRIMARY KEY(run_id, key)
);
CREATE TABLE IF NOT EXISTS metrics(
	run_id TEXT NOT NULL,
	epoch  INTEGER NOT NULL,
	name   TEXT NOT NULL,
	value  REAL NOT NULL,
	PRIMARY KEY(run_id, epoch, name)
);`

var _ Tracker = (*SQLiteTracker)(nil)

// SQLiteTracker stores runs, parameters and metrics in a SQLite file
type SQLiteTracker struct {
	db     *sql.DB
	runID  string
	logger *zap.Logger
	now    func() time.Time
}

// OpenSQLite opens (or creates) the database at path and starts a new run.
// ":memory:" keeps everything in memory.
func OpenSQLite(path string, creds Credentials, logger *zap.Logger) (*SQLiteTracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracking database %s: %v", path, err)
	}
	// one connection so ":memory:" is a single database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tracking tables: %v", err)
	}

	t := &SQLiteTracker{db: db, runID: uuid.New().String(), logger: logger, now: time.Now}
	if _, err := db.Exec("INSERT INTO runs(id, project, workspace, started_at) VALUES(?,?,?,?)",
		t.runID, creds.ProjectName, creds.Workspace, t.timestamp()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record run: %v", err)
	}

	if creds.Remote() {
		logger.Info("tracking run",
			zap.String("run_id", t.runID),
			zap.String("project", creds.ProjectName),
			zap.String("workspace", creds.Workspace),
			zap.String("db", path))
	} else {
		logger.Info("no tracking credentials, recording local-only",
			zap.String("run_id", t.runID),
			zap.String("db", path))
	}
	return t, nil
}

func (t *SQLiteTracker) timestamp() string {
	return t.now().UTC().Format(time.RFC3339)
}

// RunID is the uuid of the current run
func (t *SQLiteTracker) RunID() string {
	return t.runID
}

// SetName names the current run
func (t *SQLiteTracker) SetName(name string) error {
	if _, err := t.db.Exec("UPDATE runs SET name=? WHERE id=?", name, t.runID); err != nil {
		return fmt.Errorf("failed to name run: %v", err)
	}
	return nil
}

// LogParameters records params, replacing earlier values of the same key
func (t *SQLiteTracker) LogParameters(params map[string]interface{}) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := t.db.Begin()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := tx.Exec("INSERT OR REPLACE INTO params(run_id, key, value) VALUES(?,?,?)",
			t.runID, k, fmt.Sprint(params[k])); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record parameter %s: %v", k, err)
		}
	}
	return tx.Commit()
}

// LogMetrics records the metrics of one epoch. Non-finite values are skipped.
func (t *SQLiteTracker) LogMetrics(epoch int, metrics map[string]float64) error {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := t.db.Begin()
	if err != nil {
		return err
	}
	var skipped []string
	for _, name := range names {
		v := metrics[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			skipped = append(skipped, name)
			continue
		}
		if _, err := tx.Exec("INSERT OR REPLACE INTO metrics(run_id, epoch, name, value) VALUES(?,?,?,?)",
			t.runID, epoch, name, v); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record metric %s: %v", name, err)
		}
	}
	if len(skipped) > 0 {
		t.logger.Debug("skipped non-finite metrics", zap.Int("epoch", epoch), zap.Strings("metrics", skipped))
	}
	return tx.Commit()
}

// Metric returns the recorded values of name keyed by epoch
func (t *SQLiteTracker) Metric(name string) (map[int]float64, error) {
	rows, err := t.db.Query("SELECT epoch, value FROM metrics WHERE run_id=? AND name=? ORDER BY epoch", t.runID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[int]float64)
	for rows.Next() {
		var epoch int
		var v float64
		if err := rows.Scan(&epoch, &v); err != nil {
			return nil, err
		}
		values[epoch] = v
	}
	return values, rows.Err()
}

// Close marks the run finished and closes the database
func (t *SQLiteTracker) Close() error {
	_, err := t.db.Exec("UPDATE runs SET finished_at=? WHERE id=?", t.timestamp(), t.runID)
	if cerr := t.db.Close(); err == nil {
		err = cerr
	}
	return err
}
