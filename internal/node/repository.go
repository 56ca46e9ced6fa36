package node

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository defines node persistence.
type Repository interface {
	// SaveReading stores r as the device's latest value and marks the node seen.
	SaveReading(ctx context.Context, r Reading) error

	// SaveSignal stores the node's latest signal strength and marks it seen.
	SaveSignal(ctx context.Context, s Signal) error

	// List returns every node with its readings, ordered by node id.
	List(ctx context.Context) ([]Node, error)

	// Get returns one node. Returns ErrNodeNotFound if it was never heard.
	Get(ctx context.Context, id int) (*Node, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveReading upserts the node and the device reading in one transaction.
func (r *SQLiteRepository) SaveReading(ctx context.Context, rd Reading) error {
	at := rd.UpdatedAt.UTC().Format(time.RFC3339Nano)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (node_id, last_seen) VALUES (?, ?)
		ON CONFLICT(node_id) DO UPDATE SET last_seen = excluded.last_seen`,
		rd.Node, at,
	); err != nil {
		return fmt.Errorf("upserting node %d: %w", rd.Node, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO readings (node_id, device_id, class, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(node_id, device_id) DO UPDATE SET
			class = excluded.class,
			value = excluded.value,
			updated_at = excluded.updated_at`,
		rd.Node, rd.Device, rd.Class, rd.Value, at,
	); err != nil {
		return fmt.Errorf("upserting reading %d/%d: %w", rd.Node, rd.Device, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reading: %w", err)
	}
	return nil
}

// SaveSignal upserts the node's signal strength.
func (r *SQLiteRepository) SaveSignal(ctx context.Context, s Signal) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO nodes (node_id, rssi, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET rssi = excluded.rssi, last_seen = excluded.last_seen`,
		s.Node, s.RSSI, s.At.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("upserting signal for node %d: %w", s.Node, err)
	}
	return nil
}

// List returns every node with its readings.
func (r *SQLiteRepository) List(ctx context.Context) ([]Node, error) {
	nodes, err := r.queryNodes(ctx, "SELECT node_id, rssi, last_seen FROM nodes ORDER BY node_id")
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nodes, nil
	}

	byID := make(map[int]*Node, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}

	readings, err := r.queryReadings(ctx, `
		SELECT node_id, device_id, class, value, updated_at
		FROM readings ORDER BY node_id, device_id`)
	if err != nil {
		return nil, err
	}
	for _, rd := range readings {
		if n, ok := byID[rd.Node]; ok {
			n.Readings = append(n.Readings, rd)
		}
	}
	return nodes, nil
}

// Get returns one node with its readings.
func (r *SQLiteRepository) Get(ctx context.Context, id int) (*Node, error) {
	nodes, err := r.queryNodes(ctx, "SELECT node_id, rssi, last_seen FROM nodes WHERE node_id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNodeNotFound
	}

	n := &nodes[0]
	n.Readings, err = r.queryReadings(ctx, `
		SELECT node_id, device_id, class, value, updated_at
		FROM readings WHERE node_id = ? ORDER BY device_id`, id)
	if err != nil {
		return nil, err
	}
	if n.Readings == nil {
		n.Readings = []Reading{}
	}
	return n, nil
}

func (r *SQLiteRepository) queryNodes(ctx context.Context, query string, args ...any) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	nodes := []Node{}
	for rows.Next() {
		var (
			n        Node
			rssi     sql.NullInt64
			lastSeen string
		)
		if err := rows.Scan(&n.ID, &rssi, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning node row: %w", err)
		}
		if rssi.Valid {
			v := int(rssi.Int64)
			n.RSSI = &v
		}
		if n.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, err
		}
		n.Readings = []Reading{}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return nodes, nil
}

func (r *SQLiteRepository) queryReadings(ctx context.Context, query string, args ...any) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var (
			rd        Reading
			updatedAt string
		)
		if err := rows.Scan(&rd.Node, &rd.Device, &rd.Class, &rd.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning reading row: %w", err)
		}
		if rd.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
