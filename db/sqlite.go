package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"speech-commands/models"
	"speech-commands/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// DefaultCatalogTable is the catalog table used when none is given.
const DefaultCatalogTable = "resources"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" && !strings.HasPrefix(dbPath, "file:") {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createRunsTable := `
    CREATE TABLE IF NOT EXISTS training_runs (
        id TEXT PRIMARY KEY,
        started_at DATETIME NOT NULL,
        finished_at DATETIME,
        from_scratch INTEGER NOT NULL DEFAULT 0,
        epochs INTEGER NOT NULL DEFAULT 0,
        best_val_accuracy REAL NOT NULL DEFAULT 0,
        samples INTEGER NOT NULL DEFAULT 0,
        classes INTEGER NOT NULL DEFAULT 0,
        status TEXT NOT NULL,
        error TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_training_runs_started ON training_runs(started_at);
    `

	if _, err := db.Exec(createRunsTable); err != nil {
		return fmt.Errorf("error creating training_runs table: %w", err)
	}
	return createCatalogTable(db, DefaultCatalogTable)
}

func createCatalogTable(db *sql.DB, table string) error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        name TEXT NOT NULL,
        type TEXT NOT NULL,
        location TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_%s_type ON %s(type);
    `, table, table, table)

	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("error creating %s table: %w", table, err)
	}
	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// ValidateTable rejects catalog table names that are not plain SQL identifiers.
func ValidateTable(table string) error {
	if !identifierPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// EnsureCatalog creates the catalog table if needed.
func (db *SQLiteClient) EnsureCatalog(table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	return createCatalogTable(db.db, table)
}

// AddResource registers one catalog row.
func (db *SQLiteClient) AddResource(ctx context.Context, table, name, resourceType, location string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (name, type, location) VALUES (?, ?, ?)", table)
	if _, err := db.db.ExecContext(ctx, query, name, resourceType, location); err != nil {
		return fmt.Errorf("error inserting resource: %w", err)
	}
	return nil
}

// ResourceTypes returns the distinct resource types in table, sorted.
func (db *SQLiteClient) ResourceTypes(ctx context.Context, table string) ([]string, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT type FROM %s GROUP BY type ORDER BY type", table)
	return db.queryStrings(ctx, query)
}

// Resources returns the distinct names of resourceType stored under
// root/resourceType/.
func (db *SQLiteClient) Resources(ctx context.Context, table, root, resourceType string) ([]string, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT name FROM %s WHERE type = ? AND location LIKE ? ESCAPE '\' GROUP BY name ORDER BY name`, table)
	prefix := escapeLike(root+"/"+resourceType+"/") + "%"
	return db.queryStrings(ctx, query, resourceType, prefix)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (db *SQLiteClient) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying database: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

// StartRun inserts a training run.
func (db *SQLiteClient) StartRun(ctx context.Context, run models.TrainingRun) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO training_runs (id, started_at, from_scratch, samples, status)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FromScratch, run.Samples, run.Status,
	)
	if err != nil {
		return fmt.Errorf("error storing training run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a training run.
func (db *SQLiteClient) FinishRun(ctx context.Context, run models.TrainingRun) error {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	var errText *string
	if run.Error != "" {
		errText = &run.Error
	}

	res, err := db.db.ExecContext(ctx, `
		UPDATE training_runs
		SET finished_at = ?, epochs = ?, best_val_accuracy = ?, samples = ?, classes = ?, status = ?, error = ?
		WHERE id = ?`,
		finished, run.Epochs, run.BestValAccuracy, run.Samples, run.Classes, run.Status, errText, run.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating training run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("training run %s not found", run.ID)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (db *SQLiteClient) ListRuns(ctx context.Context, limit int) ([]models.TrainingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, from_scratch, epochs, best_val_accuracy,
		       samples, classes, status, error
		FROM training_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying training runs: %w", err)
	}
	defer rows.Close()

	runs := []models.TrainingRun{}
	for rows.Next() {
		var run models.TrainingRun
		var finished sql.NullTime
		var errText sql.NullString
		err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&finished,
			&run.FromScratch,
			&run.Epochs,
			&run.BestValAccuracy,
			&run.Samples,
			&run.Classes,
			&run.Status,
			&errText,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning training run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		run.Error = errText.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
