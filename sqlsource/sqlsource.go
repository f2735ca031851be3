// Package sqlsource provides a database/sql backed implementation of the
// confirm.Source interface on top of an outbox table.
//
// Confirmed messages are deleted from the table; failed messages are parked
// with a failure reason for manual intervention; messages with any other
// outcome are left untouched and picked up again on the next fetch.
//
// The package is dialect aware and works with any database/sql driver for
// the supported dialects. Expected table schema (postgres):
//
//	CREATE TABLE outbox (
//	    id         UUID PRIMARY KEY,
//	    created_at TIMESTAMP NOT NULL,
//	    metadata   BYTEA,
//	    payload    BYTEA NOT NULL,
//	    failed_at  TIMESTAMP,
//	    failure    TEXT
//	);
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oagudo/confirm"
)

// Dialect represents a SQL database dialect.
type Dialect string

// Supported database dialects.
const (
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectMariaDB   Dialect = "mariadb"
	DialectSQLite    Dialect = "sqlite"
	DialectOracle    Dialect = "oracle"
	DialectSQLServer Dialect = "sqlserver"
)

// Queryer represents a query executor.
// It is compatible with the standard sql.DB type.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Source is a confirm.Source backed by an outbox table.
type Source struct {
	db        Queryer
	dialect   Dialect
	tableName string
}

// Option is a function that configures a Source instance.
type Option func(*Source)

// WithTableName sets a custom table name for the outbox table.
// Default is "outbox". The table name must be a valid SQL identifier
// matching the pattern [a-zA-Z_][a-zA-Z0-9_]*.
func WithTableName(tableName string) Option {
	return func(s *Source) {
		s.tableName = tableName
	}
}

// New creates a Source reading from and reporting to the given database.
func New(db Queryer, dialect Dialect, opts ...Option) (*Source, error) {
	s := &Source{
		db:        db,
		dialect:   dialect,
		tableName: "outbox",
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := validateTableName(s.tableName); err != nil {
		return nil, err
	}

	return s, nil
}

var sqlIdentifierRegexp = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if !sqlIdentifierRegexp.MatchString(name) {
		return fmt.Errorf(
			"invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*",
			name,
		)
	}
	return nil
}

// FetchUnconfirmed returns up to limit messages that have neither been
// confirmed nor parked as failed, in creation order.
func (s *Source) FetchUnconfirmed(ctx context.Context, limit int) ([]*confirm.Message, error) {
	// nolint:gosec
	query := s.buildSelectQuery()
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var messages []*confirm.Message
	for rows.Next() {
		msg := &confirm.Message{}
		if err := rows.Scan(&msg.ID, &msg.Payload, &msg.CreatedAt, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("scanning outbox message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox messages: %w", err)
	}
	return messages, nil
}

// ReportOutcomes applies terminal outcomes to the outbox table: confirmed
// messages are deleted in one batch, failed messages are parked with their
// failure reason. Other outcomes leave the row untouched so the message is
// fetched again on the next pass.
func (s *Source) ReportOutcomes(ctx context.Context, outcomes []confirm.Outcome) error {
	var confirmed []confirm.Outcome
	for _, o := range outcomes {
		switch o.Status {
		case confirm.StatusConfirmed:
			confirmed = append(confirmed, o)
		case confirm.StatusFailed:
			if err := s.parkFailed(ctx, o); err != nil {
				return err
			}
		}
	}

	return s.deleteConfirmed(ctx, confirmed)
}

func (s *Source) parkFailed(ctx context.Context, o confirm.Outcome) error {
	// nolint:gosec
	query := fmt.Sprintf("UPDATE %s SET failed_at = %s, failure = %s WHERE id = %s",
		s.tableName,
		s.placeholder(1),
		s.placeholder(2),
		s.placeholder(3))
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), o.Reason.Code, s.formatID(o))
	if err != nil {
		return fmt.Errorf("parking failed message %s: %w", o.MessageID, err)
	}
	return nil
}

func (s *Source) deleteConfirmed(ctx context.Context, confirmed []confirm.Outcome) error {
	if len(confirmed) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(confirmed))
	ids := make([]any, 0, len(confirmed))
	for idx, o := range confirmed {
		placeholders = append(placeholders, s.placeholder(idx+1))
		ids = append(ids, s.formatID(o))
	}

	// nolint:gosec
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", s.tableName, strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, ids...); err != nil {
		return fmt.Errorf("deleting %d confirmed messages: %w", len(confirmed), err)
	}
	return nil
}

// formatID formats the message ID based on the SQL dialect.
func (s *Source) formatID(o confirm.Outcome) any {
	switch s.dialect {
	case DialectMySQL, DialectOracle, DialectSQLServer:
		bytes, _ := o.MessageID.MarshalBinary() // Convert UUID to binary for better storage
		return bytes
	case DialectPostgres, DialectMariaDB:
		return o.MessageID // Native support
	default:
		return o.MessageID.String()
	}
}

// placeholder returns the appropriate SQL placeholder for the given index.
func (s *Source) placeholder(index int) string {
	switch s.dialect {
	case DialectPostgres:
		return fmt.Sprintf("$%d", index)

	case DialectOracle:
		return fmt.Sprintf(":%d", index)

	case DialectSQLServer:
		return fmt.Sprintf("@p%d", index)

	default:
		return "?"
	}
}

func (s *Source) buildSelectQuery() string {
	limitPlaceholder := s.placeholder(1)

	switch s.dialect {
	case DialectOracle:
		return fmt.Sprintf(`SELECT id, payload, created_at, metadata
			FROM %s
			WHERE failed_at IS NULL
			ORDER BY created_at ASC FETCH FIRST %s ROWS ONLY`, s.tableName, limitPlaceholder)

	case DialectSQLServer:
		return fmt.Sprintf(`SELECT TOP (%s) id, payload, created_at, metadata
			FROM %s
			WHERE failed_at IS NULL
			ORDER BY created_at ASC`, limitPlaceholder, s.tableName)

	default:
		return fmt.Sprintf(`SELECT id, payload, created_at, metadata
			FROM %s
			WHERE failed_at IS NULL
			ORDER BY created_at ASC LIMIT %s`, s.tableName, limitPlaceholder)
	}
}
