// Package pgstore implements the durable call store on PostgreSQL, for
// deployments that run multiple coordinator instances against a shared
// database instead of the default embedded SQLite file.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/memharbor/callcoord/internal/call"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements call.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql call store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

const callColumns = `call_id, channel_name, group_id, caller_id, receiver_id,
	 caller_name, group_name, receiver_name, status, created_at,
	 answered_at, ended_at, duration_sec, push_sent, push_platform`

func (s *Store) Insert(ctx context.Context, c *call.Call) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (`+callColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (call_id) DO NOTHING`,
		c.CallID, c.ChannelName, c.GroupID, c.CallerID, c.ReceiverID,
		c.CallerName, c.GroupNameSnapshot, c.ReceiverNameSnapshot,
		string(c.Status), c.CreatedAt.UTC(),
		c.AnsweredAt, c.EndedAt, c.DurationSec,
		c.PushSent, c.PushPlatform,
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking insert result: %w", err)
	}
	if rows == 0 {
		return call.ErrDuplicateCall
	}
	return nil
}

func (s *Store) Get(ctx context.Context, callID string) (*call.Call, error) {
	var (
		c          call.Call
		status     string
		answeredAt sql.NullTime
		endedAt    sql.NullTime
		duration   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_id = $1`, callID,
	).Scan(&c.CallID, &c.ChannelName, &c.GroupID, &c.CallerID, &c.ReceiverID,
		&c.CallerName, &c.GroupNameSnapshot, &c.ReceiverNameSnapshot,
		&status, &c.CreatedAt, &answeredAt, &endedAt, &duration,
		&c.PushSent, &c.PushPlatform)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call: %w", err)
	}

	c.Status = call.Status(status)
	if answeredAt.Valid {
		t := answeredAt.Time
		c.AnsweredAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSec = &d
	}
	return &c, nil
}

func (s *Store) TryTransition(ctx context.Context, callID string, from call.Status, tr call.Transition) (bool, error) {
	set := "status = $1"
	args := []any{string(tr.To)}

	if tr.AnsweredAt != nil {
		args = append(args, tr.AnsweredAt.UTC())
		set += fmt.Sprintf(", answered_at = $%d", len(args))
	}
	if tr.EndedAt != nil {
		args = append(args, tr.EndedAt.UTC())
		set += fmt.Sprintf(", ended_at = $%d", len(args))
	}
	if tr.DurationSec != nil {
		args = append(args, *tr.DurationSec)
		set += fmt.Sprintf(", duration_sec = $%d", len(args))
	}

	args = append(args, callID)
	idArg := len(args)
	args = append(args, string(from))
	fromArg := len(args)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE calls SET %s WHERE call_id = $%d AND status = $%d", set, idArg, fromArg),
		args...)
	if err != nil {
		return false, fmt.Errorf("transitioning call: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking transition result: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) UpdatePush(ctx context.Context, callID string, sent bool, platform string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calls SET push_sent = $1, push_platform = $2 WHERE call_id = $3`,
		sent, platform, callID)
	if err != nil {
		return fmt.Errorf("updating push outcome: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking push update result: %w", err)
	}
	if rows == 0 {
		return call.ErrCallNotFound
	}
	return nil
}

func (s *Store) ExpirePendingBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE calls SET status = $1
		 WHERE status = $2 AND created_at <= $3
		 RETURNING call_id`,
		string(call.StatusMissed), string(call.StatusPending), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("expiring pending calls: %w", err)
	}
	defer rows.Close()

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired call id: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired call rows: %w", err)
	}

	return expired, nil
}

// DeleteTerminalBefore removes terminal call records created before cutoff.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM calls
		 WHERE status IN ($1, $2, $3, $4) AND created_at < $5`,
		string(call.StatusDeclined), string(call.StatusCancelled),
		string(call.StatusMissed), string(call.StatusEnded), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired call history: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns call record counts grouped by lifecycle status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM calls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting calls by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
