// Package backup exports the local mirror as JSONL, one object per
// line of the form {"table": ..., "row": {...}}.
//
// The conflict resolver writes a snapshot before discarding a foreign
// identity's data, so a wrong button press at sign-in never destroys
// offline work irrecoverably. The same exporter backs the export CLI
// command.
package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Tables lists every exported table, parents before children so an
// import can replay lines in file order.
var Tables = []string{
	"identities",
	"classes",
	"subjects",
	"students",
	"assignments",
	"teacher_attendance",
	"student_attendance",
	"sync_status",
}

// Line is one exported row.
type Line struct {
	Table string         `json:"table"`
	Row   map[string]any `json:"row"`
}

// Stats summarizes an export.
type Stats struct {
	Tables int
	Rows   int
}

// Export writes every row of every mirror table to w as JSONL.
func Export(ctx context.Context, db *sql.DB, w io.Writer) (*Stats, error) {
	enc := json.NewEncoder(w)
	stats := &Stats{}

	for _, table := range Tables {
		n, err := exportTable(ctx, db, table, enc)
		if err != nil {
			return nil, err
		}
		stats.Tables++
		stats.Rows += n
	}
	return stats, nil
}

// ExportFile writes a timestamped snapshot into dir and returns its
// path.
func ExportFile(ctx context.Context, db *sql.DB, dir string) (string, *Stats, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("rollcall-%s.jsonl", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	stats, err := Export(ctx, db, f)
	if err != nil {
		os.Remove(path)
		return "", nil, err
	}
	return path, stats, nil
}

func exportTable(ctx context.Context, db *sql.DB, table string, enc *json.Encoder) (int, error) {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	count := 0
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, fmt.Errorf("failed to scan %s row: %w", table, err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}

		if err := enc.Encode(Line{Table: table, Row: row}); err != nil {
			return 0, fmt.Errorf("failed to encode %s row: %w", table, err)
		}
		count++
	}
	return count, rows.Err()
}
