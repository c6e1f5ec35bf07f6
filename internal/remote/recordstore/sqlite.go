package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kilupskalvis/qsync/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements RecordStore on a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates it
// to the current schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// dataColumns are the stored fields other than the id.
var dataColumns = func() []string {
	cols := make([]string, 0, len(models.Fields)-1)
	for _, f := range models.Fields {
		if f != models.FieldID {
			cols = append(cols, string(f))
		}
	}
	return cols
}()

var selectColumns = string(models.FieldID) + ", " + strings.Join(dataColumns, ", ")

func checkFields(fields models.Delta) error {
	for f := range fields {
		if !f.Known() || f == models.FieldID {
			return fmt.Errorf("%w: %q", ErrInvalidField, f)
		}
	}
	return nil
}

// Create inserts a row. Ids are "Q-" followed by the row sequence number.
func (s *SQLiteStore) Create(ctx context.Context, clientKey string, fields models.Delta) (string, bool, error) {
	fields = fields.Clone()
	delete(fields, models.FieldID)
	if err := checkFields(fields); err != nil {
		return "", false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if clientKey != "" {
		var existing string
		err := tx.QueryRowContext(ctx, "SELECT id FROM records WHERE client_key = ?", clientKey).Scan(&existing)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", false, fmt.Errorf("lookup client key: %w", err)
		}
	}

	cols := []string{"client_key", "updated_at"}
	args := []any{nullable(clientKey), s.now().UTC().Format(time.RFC3339Nano)}
	for _, f := range fields.Fields() {
		cols = append(cols, string(f))
		args = append(args, fields[f])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO records (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders),
		args...)
	if err != nil {
		return "", false, fmt.Errorf("insert record: %w", err)
	}
	row, err := res.LastInsertId()
	if err != nil {
		return "", false, fmt.Errorf("row id: %w", err)
	}

	id := fmt.Sprintf("Q-%d", row)
	if _, err := tx.ExecContext(ctx, "UPDATE records SET id = ? WHERE seq = ?", id, row); err != nil {
		return "", false, fmt.Errorf("assign id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit: %w", err)
	}
	return id, true, nil
}

// SetFields writes the given cells with one UPDATE.
func (s *SQLiteStore) SetFields(ctx context.Context, id string, fields models.Delta) error {
	if err := checkFields(fields); err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{s.now().UTC().Format(time.RFC3339Nano)}
	for _, f := range fields.Fields() {
		sets = append(sets, string(f)+" = ?")
		args = append(args, fields[f])
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE records SET %s WHERE id = ?", strings.Join(sets, ", ")),
		args...)
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one row.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Query, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM records WHERE id = ?", id)
	q, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return q, nil
}

// All returns every row in insertion order.
func (s *SQLiteStore) All(ctx context.Context) ([]models.Query, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM records WHERE id IS NOT NULL ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []models.Query{}
	for rows.Next() {
		q, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *q)
	}
	return records, rows.Err()
}

// PurgeDeleted removes approved deletions older than the cutoff.
func (s *SQLiteStore) PurgeDeleted(ctx context.Context, olderThan time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT seq, delete_approved_at FROM records WHERE bucket = ? AND delete_approved_at != ''",
		string(models.BucketH))
	if err != nil {
		return 0, fmt.Errorf("query deleted: %w", err)
	}

	var expired []int64
	for rows.Next() {
		var row int64
		var approvedAt string
		if err := rows.Scan(&row, &approvedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan deleted: %w", err)
		}
		t, err := models.ParseTime(approvedAt)
		if err != nil {
			continue
		}
		if t.Before(olderThan) {
			expired = append(expired, row)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, row := range expired {
		if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE seq = ?", row); err != nil {
			return 0, fmt.Errorf("delete row %d: %w", row, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(expired), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*models.Query, error) {
	var id string
	cells := make([]string, len(dataColumns))
	dest := make([]any, 0, len(cells)+1)
	dest = append(dest, &id)
	for i := range cells {
		dest = append(dest, &cells[i])
	}
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	q := &models.Query{ID: id}
	for i, col := range dataColumns {
		if err := q.Set(models.Field(col), cells[i]); err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
	}
	return q, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
