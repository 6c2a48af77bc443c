package remote

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kimhsiao/attendsync/internal/models"
)

// Schema is the DDL PostgresStore expects.
//
//go:embed schema.sql
var Schema string

// columns whitelists the writable columns of each remote table.
var columns = map[models.Table][]string{
	models.TableMembers: {
		"id", "full_name", "phone", "email", "qr_code", "role", "status", "registered_by", "created_at",
	},
	models.TableEvents: {
		"id", "title", "event_date", "start_time", "location", "status", "created_by", "created_at",
	},
	models.TableAttendance: {
		"id", "member_id", "event_id", "check_in_at", "status", "method", "is_excused", "notes",
		"recorded_by", "created_at",
	},
}

// PostgresStore is a Store backed by PostgreSQL through lib/pq.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresStore creates a PostgresStore over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("attendsync/remote"),
	}
}

// ConnectPostgres opens a PostgreSQL handle without contacting the server.
// Connections are made on first use, so a device can start offline.
func ConnectPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// OpenPostgres opens and pings a PostgreSQL database.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	s, err := ConnectPostgres(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies Schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "remote.migrate")
	defer span.End()

	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return s.fail(span, fmt.Errorf("apply schema: %w", err))
	}
	return nil
}

func (s *PostgresStore) start(ctx context.Context, op string, table models.Table) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "remote."+op,
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.table", string(table)),
		),
	)
}

func (s *PostgresStore) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if IsUniqueViolation(err) {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// writable returns the whitelisted columns present in rec, sorted for stable
// statements.
func writable(table models.Table, rec Record, skip ...string) ([]string, []any, error) {
	allowed, ok := columns[table]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	var cols []string
	for _, c := range allowed {
		if _, present := rec[c]; !present {
			continue
		}
		skipped := false
		for _, sk := range skip {
			if c == sk {
				skipped = true
			}
		}
		if !skipped {
			cols = append(cols, c)
		}
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = normalize(rec[c])
	}
	return cols, args, nil
}

// normalize turns whole JSON numbers back into integers for BIGINT columns.
func normalize(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return int64(f)
	}
	return v
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, table models.Table, rec Record) (Record, error) {
	ctx, span := s.start(ctx, "insert", table)
	defer span.End()

	cols, args, err := writable(table, rec)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if len(cols) == 0 {
		return nil, s.fail(span, fmt.Errorf("insert %s: no columns", table))
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	row, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("insert %s: %w", table, err))
	}
	span.SetAttributes(attribute.String("row.id", row.ID()))
	return row, nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, table models.Table, id string, fields Record) (Record, error) {
	ctx, span := s.start(ctx, "update", table)
	defer span.End()
	span.SetAttributes(attribute.String("row.id", id))

	cols, args, err := writable(table, fields, "id", "created_at")
	if err != nil {
		return nil, s.fail(span, err)
	}
	if len(cols) == 0 {
		return s.Get(ctx, table, id)
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d RETURNING *`,
		table, strings.Join(sets, ", "), len(args))

	row, err := s.queryOne(ctx, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail(span, fmt.Errorf("%w: %s %s", ErrNotFound, table, id))
	}
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("update %s: %w", table, err))
	}
	return row, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, table models.Table, id string) error {
	ctx, span := s.start(ctx, "delete", table)
	defer span.End()
	span.SetAttributes(attribute.String("row.id", id))

	if _, ok := columns[table]; !ok {
		return s.fail(span, fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return s.fail(span, fmt.Errorf("delete %s: %w", table, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.fail(span, fmt.Errorf("%w: %s %s", ErrNotFound, table, id))
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, table models.Table, id string) (Record, error) {
	ctx, span := s.start(ctx, "get", table)
	defer span.End()

	if _, ok := columns[table]; !ok {
		return nil, s.fail(span, fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}
	row, err := s.queryOne(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE id = $1`, table), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail(span, fmt.Errorf("%w: %s %s", ErrNotFound, table, id))
	}
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("get %s: %w", table, err))
	}
	return row, nil
}

// FindAttendance implements Store.
func (s *PostgresStore) FindAttendance(ctx context.Context, memberID, eventID string) (Record, error) {
	ctx, span := s.start(ctx, "find_attendance", models.TableAttendance)
	defer span.End()

	row, err := s.queryOne(ctx, `SELECT * FROM attendance WHERE member_id = $1 AND event_id = $2`,
		memberID, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail(span, fmt.Errorf("%w: attendance of %s at %s", ErrNotFound, memberID, eventID))
	}
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("find attendance: %w", err))
	}
	return row, nil
}

// ChangedSince implements Store.
func (s *PostgresStore) ChangedSince(ctx context.Context, table models.Table, since int64, inclusive bool) ([]Record, error) {
	ctx, span := s.start(ctx, "changed_since", table)
	defer span.End()
	span.SetAttributes(attribute.Int64("since", since), attribute.Bool("inclusive", inclusive))

	if _, ok := columns[table]; !ok {
		return nil, s.fail(span, fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}
	op := ">"
	if inclusive {
		op = ">="
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE updated_at %s $1 ORDER BY updated_at, id`, table, op), since)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("query %s: %w", table, err))
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("scan %s: %w", table, err))
	}
	span.SetAttributes(attribute.Int("rows.loaded", len(records)))
	return records, nil
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, sql.ErrNoRows
	}
	return records[0], nil
}

// scanRecords reads every row into a Record keyed by column name.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Record
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
