package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an update would give a participant a
	// second membership in the same experiment.
	ErrConflict = errors.New("membership conflict")
)

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS memberships (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    participant_type TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    experiment TEXT NOT NULL,
    variant TEXT NOT NULL,
    converted INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_participant ON memberships(participant_type, participant_id, experiment);
CREATE INDEX IF NOT EXISTS idx_memberships_experiment ON memberships(experiment, variant);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    membership_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (membership_id) REFERENCES memberships(id)
);

CREATE INDEX IF NOT EXISTS idx_events_membership ON events(membership_id, name);

CREATE TABLE IF NOT EXISTS winners (
    experiment TEXT PRIMARY KEY,
    variant TEXT NOT NULL,
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const membershipColumns = `id, participant_type, participant_id, experiment, variant, converted, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(row scanner) (*Membership, error) {
	var m Membership
	var converted int
	var createdAt int64
	if err := row.Scan(&m.ID, &m.ParticipantType, &m.ParticipantID, &m.Experiment, &m.Variant, &converted, &createdAt); err != nil {
		return nil, err
	}
	m.Converted = converted != 0
	m.CreatedAt = time.Unix(createdAt, 0)
	return &m, nil
}

func (s *SQLiteStore) getMembership(ctx context.Context, experiment string, p Participant) (*Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE participant_type = ? AND participant_id = ? AND experiment = ?`,
		p.Type, p.ID, experiment,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// FindMembership returns the membership of the first participant, in
// priority order, that has one.
func (s *SQLiteStore) FindMembership(ctx context.Context, experiment string, participants []Participant) (*Membership, error) {
	for _, p := range participants {
		m, err := s.getMembership(ctx, experiment, p)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, ErrNotFound
}

// InsertMembership stores m unless the participant already has a membership
// in the experiment, in which case the existing row is returned. The bool
// reports whether m was inserted.
func (s *SQLiteStore) InsertMembership(ctx context.Context, m Membership) (*Membership, bool, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	// ON CONFLICT DO NOTHING leaves the first writer's row in place
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (participant_type, participant_id, experiment, variant, converted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(participant_type, participant_id, experiment) DO NOTHING`,
		m.ParticipantType, m.ParticipantID, m.Experiment, m.Variant, boolToInt(m.Converted), m.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert membership: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		existing, err := s.getMembership(ctx, m.Experiment, m.Participant())
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	m.ID = id
	m.CreatedAt = time.Unix(m.CreatedAt.Unix(), 0)
	return &m, true, nil
}

// UpdateMembership writes the participant and variant of m. The converted
// flag is only ever set by MarkConverted.
func (s *SQLiteStore) UpdateMembership(ctx context.Context, m *Membership) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE OR IGNORE memberships SET participant_type = ?, participant_id = ?, variant = ?
		 WHERE id = ?`,
		m.ParticipantType, m.ParticipantID, m.Variant, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM memberships WHERE id = ?`, m.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	return ErrConflict
}

func (s *SQLiteStore) ListMemberships(ctx context.Context, experiment string) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE experiment = ? ORDER BY id`,
		experiment,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (s *SQLiteStore) MarkConverted(ctx context.Context, membershipID int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE memberships SET converted = 1 WHERE id = ?`, membershipID)
	if err != nil {
		return fmt.Errorf("failed to mark converted: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddEvent(ctx context.Context, membershipID int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (membership_id, name, created_at) VALUES (?, ?, ?)`,
		membershipID, name, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, membershipID int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, membership_id, name, created_at FROM events WHERE membership_id = ? ORDER BY id`,
		membershipID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.MembershipID, &e.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// CountVariants counts participants and conversions per variant. With
// UseEvents a participant converted when it has at least one event named
// Goal; otherwise the membership's converted flag counts.
func (s *SQLiteStore) CountVariants(ctx context.Context, q CountQuery) ([]VariantCounts, error) {
	var converted string
	args := []any{}
	if q.UseEvents {
		converted = `EXISTS (SELECT 1 FROM events e WHERE e.membership_id = m.id AND e.name = ?)`
		args = append(args, q.Goal)
	} else {
		converted = `m.converted = 1`
	}

	where := []string{"m.experiment = ?"}
	args = append(args, q.Experiment)
	if !q.From.IsZero() {
		where = append(where, "m.created_at >= ?")
		args = append(args, q.From.Unix())
	}
	if !q.To.IsZero() {
		where = append(where, "m.created_at <= ?")
		args = append(args, q.To.Unix())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			m.variant,
			COUNT(*) as participated,
			COALESCE(SUM(CASE WHEN `+converted+` THEN 1 ELSE 0 END), 0) as converted
		FROM memberships m
		WHERE `+strings.Join(where, " AND ")+`
		GROUP BY m.variant
		ORDER BY m.variant
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count variants: %w", err)
	}
	defer rows.Close()

	var counts []VariantCounts
	for rows.Next() {
		var c VariantCounts
		if err := rows.Scan(&c.Variant, &c.Participated, &c.Converted); err != nil {
			return nil, fmt.Errorf("failed to scan counts: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) SetWinner(ctx context.Context, experiment, variant string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO winners (experiment, variant, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(experiment) DO UPDATE SET variant = excluded.variant, updated_at = excluded.updated_at`,
		experiment, variant, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set winner: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearWinner(ctx context.Context, experiment string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM winners WHERE experiment = ?`, experiment)
	if err != nil {
		return fmt.Errorf("failed to clear winner: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Winners(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT experiment, variant FROM winners`)
	if err != nil {
		return nil, fmt.Errorf("failed to list winners: %w", err)
	}
	defer rows.Close()

	winners := make(map[string]string)
	for rows.Next() {
		var experiment, variant string
		if err := rows.Scan(&experiment, &variant); err != nil {
			return nil, fmt.Errorf("failed to scan winner: %w", err)
		}
		winners[experiment] = variant
	}
	return winners, rows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
