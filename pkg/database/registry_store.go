package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/heuristics"
)

// RegistryStore keeps the heuristics registry in the flow_heuristics table,
// one row per listed address. A label with no addresses is stored as a
// single row with a NULL address.
type RegistryStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRegistryStore creates a store over db.
func NewRegistryStore(db *sql.DB, logger *slog.Logger) *RegistryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryStore{
		db:     db,
		logger: logger.With(slog.String("component", "heuristics_db")),
	}
}

// Load reads the whole registry. It returns heuristics.ErrNotFound when the
// table is empty and no registry was ever saved.
func (s *RegistryStore) Load(ctx context.Context) (*heuristics.Registry, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, label, address FROM flow_heuristics
		ORDER BY role, label, position
	`)
	if err != nil {
		return nil, fmt.Errorf("query flow_heuristics: %w", err)
	}
	defer rows.Close()

	snap := heuristics.Snapshot{
		CEX:    make(map[string][]string),
		Bridge: make(map[string][]string),
	}
	n := 0
	for rows.Next() {
		n++
		var (
			role, label string
			address     sql.NullString
		)
		if err := rows.Scan(&role, &label, &address); err != nil {
			return nil, fmt.Errorf("scan flow_heuristics: %w", err)
		}

		var m map[string][]string
		switch heuristics.Role(role) {
		case heuristics.RoleCEX:
			m = snap.CEX
		case heuristics.RoleBridge:
			m = snap.Bridge
		default:
			return nil, fmt.Errorf("%w: unknown role %q", heuristics.ErrMalformed, role)
		}
		if _, ok := m[label]; !ok {
			m[label] = []string{}
		}
		if address.Valid {
			m[label] = append(m[label], address.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow_heuristics: %w", err)
	}
	if n == 0 {
		var saved bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM flow_heuristics_saved)`).Scan(&saved); err != nil {
			return nil, fmt.Errorf("query flow_heuristics_saved: %w", err)
		}
		if !saved {
			return nil, fmt.Errorf("%w: flow_heuristics is empty", heuristics.ErrNotFound)
		}
	}

	r := heuristics.FromSnapshot(snap)
	cex, bridge := r.Count()
	s.logger.Info("loaded heuristics",
		slog.Int("cex", cex),
		slog.Int("bridge", bridge),
		slog.Duration("duration", time.Since(start)),
	)
	return r, nil
}

// Save replaces the table contents with r in one transaction.
func (s *RegistryStore) Save(ctx context.Context, r *heuristics.Registry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flow_heuristics`); err != nil {
		return fmt.Errorf("clear flow_heuristics: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flow_heuristics (role, label, position, address)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range registryRows(r.Snapshot()) {
		if _, err := stmt.ExecContext(ctx, row.role, row.label, row.position, row.address); err != nil {
			return fmt.Errorf("insert %s/%s: %w", row.role, row.label, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO flow_heuristics_saved (id, saved_at) VALUES (1, now())
		ON CONFLICT (id) DO UPDATE SET saved_at = EXCLUDED.saved_at
	`); err != nil {
		return fmt.Errorf("stamp flow_heuristics_saved: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flow_heuristics: %w", err)
	}
	return nil
}

type registryRow struct {
	role     heuristics.Role
	label    string
	position int
	address  sql.NullString
}

// registryRows flattens a snapshot into table rows, ordered by role then
// label so writes are deterministic.
func registryRows(snap heuristics.Snapshot) []registryRow {
	var rows []registryRow
	add := func(role heuristics.Role, m map[string][]string) {
		labels := make([]string, 0, len(m))
		for label := range m {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		for _, label := range labels {
			addrs := m[label]
			if len(addrs) == 0 {
				rows = append(rows, registryRow{role: role, label: label})
				continue
			}
			for i, addr := range addrs {
				rows = append(rows, registryRow{
					role:     role,
					label:    label,
					position: i,
					address:  sql.NullString{String: addr, Valid: true},
				})
			}
		}
	}
	add(heuristics.RoleCEX, snap.CEX)
	add(heuristics.RoleBridge, snap.Bridge)
	return rows
}
