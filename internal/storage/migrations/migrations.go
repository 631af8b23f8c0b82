// Package migrations evolves the relational ledger schema. There is one
// migration per generation, and each one only adds the columns of the
// fields that generation appends.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/R3E-Network/vault_ledger/internal/schema"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

//go:embed sql/*.sql
var files embed.FS

// Migration is one embedded up script.
type Migration struct {
	Version    uint
	Name       string
	Generation schema.Generation
	Up         string
}

var (
	addColumn   = regexp.MustCompile(`(?i)ADD COLUMN (?:IF NOT EXISTS )?([a-z_]+)`)
	destructive = regexp.MustCompile(`(?i)\b(DROP|RENAME|ALTER COLUMN)\b`)
)

// All returns the embedded up migrations in version order.
func All() ([]Migration, error) {
	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		body, err := fs.ReadFile(files, "sql/"+name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{
			Version:    uint(version),
			Name:       name,
			Generation: schema.Generation(version),
			Up:         string(body),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Columns lists the columns an up script adds, in order.
func (m Migration) Columns() []string {
	var cols []string
	for _, match := range addColumn.FindAllStringSubmatch(m.Up, -1) {
		cols = append(cols, match[1])
	}
	return cols
}

// Check verifies that every migration adds exactly the columns its
// generation appends to the layout, and nothing is dropped or rewritten.
func Check() error {
	all, err := All()
	if err != nil {
		return err
	}
	return check(all)
}

func check(all []Migration) error {
	if len(all) != len(schema.Generations()) {
		return fmt.Errorf("have %d migrations for %d generations", len(all), len(schema.Generations()))
	}
	for i, m := range all {
		if m.Version != uint(i+1) || !m.Generation.Valid() {
			return fmt.Errorf("migration %s: unexpected version %d", m.Name, m.Version)
		}
		if destructive.MatchString(m.Up) {
			return fmt.Errorf("migration %s: up scripts may only add columns", m.Name)
		}
		if got, want := m.Columns(), schema.AddedColumns(m.Generation); !reflect.DeepEqual(got, want) {
			return fmt.Errorf("migration %s adds %v, layout %s appends %v", m.Name, got, m.Generation, want)
		}
	}
	return nil
}

// Up migrates db to the latest generation with golang-migrate version tracking.
func Up(db *sql.DB, log *logger.Logger) error {
	if err := Check(); err != nil {
		return err
	}
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	if log != nil {
		log.WithField("version", version).WithField("dirty", dirty).Info("schema migrated")
	}
	return nil
}

// To migrates db to the schema of generation g.
func To(db *sql.DB, g schema.Generation) error {
	if !g.Valid() {
		return fmt.Errorf("unknown generation %d", g)
	}
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Migrate(uint(g)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate to %s: %w", g, err)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}
