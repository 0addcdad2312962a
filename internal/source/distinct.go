// Package source provides row sources backed by external data: distinct
// values of SQLite tables, value collections stored as CSV objects, and
// SQLite snapshots of any row source.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/filter"
	"github.com/martforge/martforge/internal/partition"
	_ "github.com/mattn/go-sqlite3"
)

// DistinctSource yields the distinct value combinations of some columns of
// a SQLite table, ordered by those columns.
type DistinctSource struct {
	db      *sql.DB
	ownsDB  bool
	table   string
	columns []string
	logger  *slog.Logger
}

// OpenDistinctSource opens the SQLite database at path read-only. When
// columns is empty every column of table is used.
func OpenDistinctSource(ctx context.Context, path, table string, columns []string, logger *slog.Logger) (*DistinctSource, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
			fmt.Sprintf("failed to open SQLite database %s", path), err)
	}
	src, err := NewDistinctSource(ctx, db, table, columns, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	src.ownsDB = true
	return src, nil
}

// NewDistinctSource creates a source over an open database. The caller
// keeps ownership of db.
func NewDistinctSource(ctx context.Context, db *sql.DB, table string, columns []string, logger *slog.Logger) (*DistinctSource, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	available, err := tableColumns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, apperrors.NewSourceError(apperrors.CodeObjectNotFound,
			fmt.Sprintf("table %q not found", table), nil)
	}
	if len(columns) == 0 {
		columns = available
	} else {
		known := make(map[string]bool, len(available))
		for _, c := range available {
			known[c] = true
		}
		for _, c := range columns {
			if !known[c] {
				return nil, apperrors.NewPartitionError(apperrors.CodeUnknownColumn,
					fmt.Sprintf("table %q has no column %q", table, c))
			}
		}
	}
	return &DistinctSource{
		db:      db,
		table:   table,
		columns: append([]string(nil), columns...),
		logger:  logger,
	}, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", filter.QuoteIdent(table)))
	if err != nil {
		return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
			fmt.Sprintf("failed to read columns of %q", table), err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
				fmt.Sprintf("failed to read columns of %q", table), err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Columns implements partition.RowSource.
func (s *DistinctSource) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Query returns the SQL and arguments Scan runs.
func (s *DistinctSource) Query(where filter.Expression, limit int) (string, []interface{}) {
	quoted := make([]string, len(s.columns))
	for i, c := range s.columns {
		quoted[i] = filter.QuoteIdent(c)
	}
	cols := strings.Join(quoted, ", ")

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT DISTINCT %s FROM %s", cols, filter.QuoteIdent(s.table))
	var args []interface{}
	if where != nil {
		cond, condArgs := filter.ToSQL(where)
		sb.WriteString(" WHERE ")
		sb.WriteString(cond)
		args = condArgs
	}
	fmt.Fprintf(&sb, " ORDER BY %s", cols)
	if limit != partition.Unlimited {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return sb.String(), args
}

// Scan implements partition.RowSource.
func (s *DistinctSource) Scan(ctx context.Context, where filter.Expression, limit int) (partition.RowIterator, error) {
	if err := partition.CheckFilter(s.columns, where); err != nil {
		return nil, err
	}
	query, args := s.Query(where, limit)
	s.logger.Debug("source: distinct scan", "table", s.table, "query", query)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
			fmt.Sprintf("distinct query on %q failed", s.table), err)
	}
	return &sqlIterator{rows: rows, columns: s.columns}, nil
}

// Close closes the database if the source opened it.
func (s *DistinctSource) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// sqlIterator adapts *sql.Rows. NULL values are left out of the record.
type sqlIterator struct {
	rows    *sql.Rows
	columns []string
}

func (it *sqlIterator) Next(ctx context.Context) (partition.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	values := make([]sql.NullString, len(it.columns))
	dest := make([]interface{}, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := it.rows.Scan(dest...); err != nil {
		return nil, err
	}
	rec := make(partition.Record, len(it.columns))
	for i, c := range it.columns {
		if values[i].Valid {
			rec[c] = values[i].String
		}
	}
	return rec, nil
}

func (it *sqlIterator) Close() error {
	return it.rows.Close()
}
