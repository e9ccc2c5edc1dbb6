package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"treesync/internal/models"
)

// Get assembles the subtree at path from the rows beneath it.
func (s *Store) Get(ctx context.Context, path string) (any, bool, error) {
	segments := models.SplitPath(path)
	switch len(segments) {
	case 0:
		rows, err := s.queryRows(ctx, "SELECT path, doc FROM records ORDER BY path")
		if err != nil {
			return nil, false, wrapSQLiteError("get", path, err)
		}
		if len(rows) == 0 {
			return nil, false, nil
		}
		return assembleRows(rows), true, nil
	case 1:
		rows, err := s.queryRows(ctx, "SELECT path, doc FROM records WHERE collection = ? ORDER BY path", segments[0])
		if err != nil {
			return nil, false, wrapSQLiteError("get", path, err)
		}
		value, ok := models.Lookup(assembleRows(rows), segments[0])
		return value, ok, nil
	default:
		doc, ok, err := getRow(ctx, s.db, models.JoinPath(segments[0], segments[1]))
		if err != nil || !ok {
			return nil, false, wrapSQLiteError("get", path, err)
		}
		value, ok := models.Lookup(doc, segments[2:]...)
		return value, ok, nil
	}
}

// Set replaces the subtree at path inside one transaction.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	value, err := models.Normalize(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	segments := models.SplitPath(path)
	if len(segments) == 0 {
		if _, ok := value.(map[string]any); !ok && value != nil {
			return fmt.Errorf("root value must be an object")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLiteError("set", path, err)
	}
	if err := setInTx(ctx, tx, segments, value); err != nil {
		_ = tx.Rollback()
		return wrapSQLiteError("set", path, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapSQLiteError("set", path, err)
	}
	return nil
}

func setInTx(ctx context.Context, tx *sql.Tx, segments []string, value any) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch len(segments) {
	case 0:
		if _, err := tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
			return err
		}
		root, _ := value.(map[string]any)
		for _, key := range models.SortedKeys(root) {
			if err := insertCollection(ctx, tx, key, root[key], now); err != nil {
				return err
			}
		}
		return nil
	case 1:
		if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE collection = ?", segments[0]); err != nil {
			return err
		}
		return insertCollection(ctx, tx, segments[0], value, now)
	}

	collection := segments[0]
	rowPath := models.JoinPath(collection, segments[1])
	// A scalar stored directly under the collection is replaced by the object.
	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE path = ?", collection); err != nil {
		return err
	}

	doc := value
	if len(segments) > 2 {
		current, _, err := getRow(ctx, tx, rowPath)
		if err != nil {
			return err
		}
		doc = models.SetIn(current, segments[2:], value)
	}
	if nested, ok := doc.(map[string]any); doc == nil || (ok && len(nested) == 0) {
		_, err := tx.ExecContext(ctx, "DELETE FROM records WHERE path = ?", rowPath)
		return err
	}
	return upsertRow(ctx, tx, rowPath, collection, doc, now)
}

func insertCollection(ctx context.Context, tx *sql.Tx, collection string, value any, now string) error {
	if value == nil {
		return nil
	}
	children, ok := value.(map[string]any)
	if !ok {
		return upsertRow(ctx, tx, collection, collection, value, now)
	}
	for _, id := range models.SortedKeys(children) {
		child := children[id]
		if models.IsEmpty(child) {
			continue
		}
		if err := upsertRow(ctx, tx, models.JoinPath(collection, id), collection, child, now); err != nil {
			return err
		}
	}
	return nil
}

func upsertRow(ctx context.Context, tx *sql.Tx, path, collection string, doc any, now string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO records (path, collection, doc, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET collection = excluded.collection, doc = excluded.doc, updated_at = excluded.updated_at`,
		path, collection, string(data), now)
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRow(ctx context.Context, q queryer, path string) (any, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT doc FROM records WHERE path = ?", path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("decode record %s: %w", path, err)
	}
	return doc, true, nil
}

type recordRow struct {
	path string
	doc  any
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]recordRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recordRow
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, err
		}
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", path, err)
		}
		out = append(out, recordRow{path: path, doc: doc})
	}
	return out, rows.Err()
}

func assembleRows(rows []recordRow) map[string]any {
	root := map[string]any{}
	for _, row := range rows {
		segments := models.SplitPath(row.path)
		root = models.SetIn(root, segments, row.doc).(map[string]any)
	}
	return root
}

func wrapSQLiteError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	transient := strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
	return models.NewStoreError(op, path, transient, err)
}
