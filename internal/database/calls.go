package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/memharbor/callcoord/internal/call"
)

// callStore implements call.Store on SQLite. Transition guards compile to
// UPDATE ... WHERE status = ? so concurrent writers racing the same record
// resolve through the database, not application locks.
type callStore struct {
	db *DB
}

// NewCallStore creates a durable call store backed by the given database.
func NewCallStore(db *DB) call.Store {
	return &callStore{db: db}
}

const callColumns = `call_id, channel_name, group_id, caller_id, receiver_id,
	 caller_name, group_name, receiver_name, status, created_at,
	 answered_at, ended_at, duration_sec, push_sent, push_platform`

func (s *callStore) Insert(ctx context.Context, c *call.Call) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO calls (`+callColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CallID, c.ChannelName, c.GroupID, c.CallerID, c.ReceiverID,
		c.CallerName, c.GroupNameSnapshot, c.ReceiverNameSnapshot,
		string(c.Status), c.CreatedAt.UTC(),
		nullTime(c.AnsweredAt), nullTime(c.EndedAt), nullInt(c.DurationSec),
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

func (s *callStore) Get(ctx context.Context, callID string) (*call.Call, error) {
	return scanCall(s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_id = ?`, callID))
}

func (s *callStore) TryTransition(ctx context.Context, callID string, from call.Status, tr call.Transition) (bool, error) {
	set := "status = ?"
	args := []any{string(tr.To)}

	if tr.AnsweredAt != nil {
		set += ", answered_at = ?"
		args = append(args, tr.AnsweredAt.UTC())
	}
	if tr.EndedAt != nil {
		set += ", ended_at = ?"
		args = append(args, tr.EndedAt.UTC())
	}
	if tr.DurationSec != nil {
		set += ", duration_sec = ?"
		args = append(args, *tr.DurationSec)
	}
	args = append(args, callID, string(from))

	res, err := s.db.ExecContext(ctx,
		"UPDATE calls SET "+set+" WHERE call_id = ? AND status = ?", args...)
	if err != nil {
		return false, fmt.Errorf("transitioning call: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking transition result: %w", err)
	}
	return rows > 0, nil
}

func (s *callStore) UpdatePush(ctx context.Context, callID string, sent bool, platform string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calls SET push_sent = ?, push_platform = ? WHERE call_id = ?`,
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

func (s *callStore) ExpirePendingBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE calls SET status = ?
		 WHERE status = ? AND created_at <= ?
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
// Used by the retention sweep; Pending and Accepted calls are never touched.
func (s *callStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM calls
		 WHERE status IN (?, ?, ?, ?) AND created_at < ?`,
		string(call.StatusDeclined), string(call.StatusCancelled),
		string(call.StatusMissed), string(call.StatusEnded), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired call history: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns call record counts grouped by lifecycle status.
// Used by the metrics collector.
func (s *callStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
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

func scanCall(row *sql.Row) (*call.Call, error) {
	var (
		c          call.Call
		status     string
		answeredAt sql.NullTime
		endedAt    sql.NullTime
		duration   sql.NullInt64
	)
	err := row.Scan(&c.CallID, &c.ChannelName, &c.GroupID, &c.CallerID, &c.ReceiverID,
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

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}
