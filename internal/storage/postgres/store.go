// Package postgres stores ledger snapshots in the relational layout created
// by internal/storage/migrations. Only the columns of the snapshot's
// generation are read or written, so a generation-1 deployment never
// touches columns a later migration added.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/vault_ledger/internal/ledger"
	"github.com/R3E-Network/vault_ledger/internal/roles"
	"github.com/R3E-Network/vault_ledger/internal/schema"
	"github.com/R3E-Network/vault_ledger/internal/storage"
)

const stateRowID = 1

// Store implements storage.SnapshotStore backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.SnapshotStore = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Open connects to dsn with the lib/pq driver.
func Open(ctx context.Context, dsn string) (*Store, *sql.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: db}, db.DB, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type header struct {
	Generation         int `db:"generation"`
	InitializedVersion int `db:"initialized_version"`
}

type roleRow struct {
	Permission string `db:"permission"`
	Identity   string `db:"identity"`
}

// Load reads the snapshot back using the column set of its stored generation.
func (s *Store) Load(ctx context.Context) (*ledger.Snapshot, error) {
	var h header
	err := s.db.GetContext(ctx, &h, `
		SELECT generation, initialized_version
		FROM ledger_state
		WHERE id = $1
	`, stateRowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger header: %w", err)
	}

	snap := &ledger.Snapshot{
		Generation:         schema.Generation(h.Generation),
		InitializedVersion: schema.Generation(h.InitializedVersion),
	}
	if !snap.Generation.Valid() {
		return nil, fmt.Errorf("%w: stored generation %d", ledger.ErrInvalidSnapshot, h.Generation)
	}

	if err := s.loadState(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadAccounts(ctx, snap); err != nil {
		return nil, err
	}

	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT permission, identity
		FROM ledger_roles
		ORDER BY permission, identity
	`); err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	snap.Roles = make(map[roles.Permission][]string)
	for _, r := range rows {
		p := roles.Permission(r.Permission)
		snap.Roles[p] = append(snap.Roles[p], r.Identity)
	}
	return snap, nil
}

func (s *Store) loadState(ctx context.Context, snap *ledger.Snapshot) error {
	cols := snap.Columns(schema.TableState)
	values := make([]sql.NullString, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", strings.Join(cols, ", "), schema.TableState)
	if err := s.db.QueryRowxContext(ctx, query, stateRowID).Scan(dest...); err != nil {
		return fmt.Errorf("load ledger state: %w", err)
	}
	for i, col := range cols {
		if err := snap.SetStateColumn(col, values[i].String, values[i].Valid); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadAccounts(ctx context.Context, snap *ledger.Snapshot) error {
	cols := snap.Columns(schema.TableAccounts)
	query := fmt.Sprintf("SELECT identity, %s FROM %s ORDER BY identity", strings.Join(cols, ", "), schema.TableAccounts)
	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec ledger.AccountRecord
		values := make([]sql.NullString, len(cols))
		dest := make([]interface{}, 0, len(cols)+1)
		dest = append(dest, &rec.Identity)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan account: %w", err)
		}
		for i, col := range cols {
			if err := rec.SetColumn(col, values[i].String, values[i].Valid); err != nil {
				return err
			}
		}
		snap.Accounts = append(snap.Accounts, rec)
	}
	return rows.Err()
}

// Save writes the snapshot in one transaction. Accounts are upserted and
// never deleted, and the role table is replaced wholesale.
func (s *Store) Save(ctx context.Context, snap *ledger.Snapshot) (err error) {
	if snap == nil || !snap.Generation.Valid() {
		return ledger.ErrInvalidSnapshot
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = saveState(ctx, tx, snap); err != nil {
		return err
	}
	if err = saveAccounts(ctx, tx, snap); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM ledger_roles`); err != nil {
		return fmt.Errorf("clear roles: %w", err)
	}
	for _, row := range snap.RoleRows() {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_roles (permission, identity)
			VALUES ($1, $2)
		`, row[0], row[1]); err != nil {
			return fmt.Errorf("save role: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func saveState(ctx context.Context, tx *sqlx.Tx, snap *ledger.Snapshot) error {
	cols := snap.Columns(schema.TableState)
	args := []interface{}{stateRowID, int(snap.Generation), int(snap.InitializedVersion)}
	for _, col := range cols {
		v, ok, err := snap.StateColumn(col)
		if err != nil {
			return err
		}
		args = append(args, nullable(v, ok))
	}
	all := append([]string{"id", "generation", "initialized_version"}, cols...)
	query := upsert(schema.TableState, "id", all) + ", updated_at = NOW()"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save ledger state: %w", err)
	}
	return nil
}

func saveAccounts(ctx context.Context, tx *sqlx.Tx, snap *ledger.Snapshot) error {
	cols := snap.Columns(schema.TableAccounts)
	query := upsert(schema.TableAccounts, "identity", append([]string{"identity"}, cols...))
	for i := range snap.Accounts {
		rec := &snap.Accounts[i]
		args := []interface{}{rec.Identity}
		for _, col := range cols {
			v, ok, err := rec.Column(col)
			if err != nil {
				return err
			}
			args = append(args, nullable(v, ok))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("save account %s: %w", rec.Identity, err)
		}
	}
	return nil
}

// upsert builds INSERT ... ON CONFLICT (key) DO UPDATE over cols.
func upsert(table, key string, cols []string) string {
	placeholders := make([]string, len(cols))
	var sets []string
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != key {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), key, strings.Join(sets, ", "))
}

func nullable(v string, ok bool) sql.NullString {
	return sql.NullString{String: v, Valid: ok}
}
