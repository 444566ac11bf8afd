package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLiteExporter persists exported rows into a SQLite database, one session
// per session_id. Re-exporting a session replaces its rows.
type SQLiteExporter struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteExporter opens (or creates) the database at path.
func NewSQLiteExporter(path string, logger *slog.Logger) (*SQLiteExporter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteExporter{db: db, path: path, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS gaze_rows(
	  session_id TEXT    NOT NULL,
	  seq        INTEGER NOT NULL,
	  timestamp  REAL    NOT NULL,
	  type       TEXT    NOT NULL,
	  field1     TEXT    NOT NULL,
	  field2     TEXT    NOT NULL,
	  field3     TEXT    NOT NULL,
	  PRIMARY KEY (session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_gaze_rows_type ON gaze_rows(type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

// Export writes rows for sessionID in a single transaction.
func (x *SQLiteExporter) Export(ctx context.Context, sessionID string, rows []Row) (int, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM gaze_rows WHERE session_id = ?`, sessionID); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO gaze_rows(session_id, seq, timestamp, type, field1, field2, field3) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, sessionID, i, row.Timestamp, row.Type, row.Field1, row.Field2, row.Field3); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	x.logger.Info("gaze log exported",
		"rows", len(rows),
		"sqlite", x.path,
		"session_id", sessionID,
	)
	return len(rows), nil
}

// SessionRows reads back the rows of sessionID in emission order.
func (x *SQLiteExporter) SessionRows(ctx context.Context, sessionID string) ([]Row, error) {
	rs, err := x.db.QueryContext(ctx,
		`SELECT timestamp, type, field1, field2, field3 FROM gaze_rows WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	defer rs.Close()

	var rows []Row
	for rs.Next() {
		var r Row
		if err := rs.Scan(&r.Timestamp, &r.Type, &r.Field1, &r.Field2, &r.Field3); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rows = append(rows, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return rows, nil
}

// Close closes the database.
func (x *SQLiteExporter) Close() error {
	return x.db.Close()
}
