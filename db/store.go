package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"monsterlab/ml"
	"monsterlab/monster"
)

const (
	platform  = "SQLite"
	tableName = "monsters"
)

// ErrUnknownField is returned by CountBy for a field that cannot be grouped.
var ErrUnknownField = errors.New("unknown field")

// Store keeps monsters in a single SQLite table and exposes them to the
// training pipeline as an ml.Table.
type Store struct {
	path      string
	db        *sql.DB
	logger    *zap.Logger
	generator *monster.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithGenerator sets the generator used by Seed.
func WithGenerator(g *monster.Generator) Option {
	return func(s *Store) { s.generator = g }
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:      path,
		logger:    zap.NewNop(),
		generator: monster.NewGenerator(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	s.logger.Info("database opened", zap.String("path", path))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS monsters (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            type TEXT NOT NULL,
            level INTEGER NOT NULL,
            rarity TEXT NOT NULL,
            damage TEXT NOT NULL,
            health REAL NOT NULL,
            energy REAL NOT NULL,
            sanity REAL NOT NULL,
            time_stamp TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_monsters_rarity ON monsters(rarity)`,
		`CREATE INDEX IF NOT EXISTS idx_monsters_type ON monsters(type)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// FindAll returns the monsters matching q in insertion order.
func (s *Store) FindAll(ctx context.Context, q monster.Query) ([]monster.Monster, error) {
	where, args := whereClause(q)
	rows, err := s.db.QueryContext(ctx, `
        SELECT name, type, level, rarity, damage, health, energy, sanity, time_stamp
        FROM monsters`+where+`
        ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	monsters := make([]monster.Monster, 0)
	for rows.Next() {
		var m monster.Monster
		if err := rows.Scan(&m.Name, &m.Type, &m.Level, &m.Rarity, &m.Damage,
			&m.Health, &m.Energy, &m.Sanity, &m.TimeStamp); err != nil {
			return nil, err
		}
		monsters = append(monsters, m)
	}
	return monsters, rows.Err()
}

// Insert validates and stores one monster.
func (s *Store) Insert(ctx context.Context, m monster.Monster) error {
	return s.InsertMany(ctx, []monster.Monster{m})
}

// InsertMany validates every monster and inserts them in one transaction.
// Nothing is written if any monster is invalid.
func (s *Store) InsertMany(ctx context.Context, monsters []monster.Monster) error {
	if len(monsters) == 0 {
		return nil
	}
	for i, m := range monsters {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("monster %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO monsters (name, type, level, rarity, damage, health, energy, sanity, time_stamp)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range monsters {
		if _, err := stmt.ExecContext(ctx, m.Name, m.Type, m.Level, m.Rarity, m.Damage,
			m.Health, m.Energy, m.Sanity, m.TimeStamp); err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
	}
	return tx.Commit()
}

// Update sets the fields present in patch on every monster matching q and
// returns the number of monsters changed.
func (s *Store) Update(ctx context.Context, q monster.Query, patch monster.Query) (int64, error) {
	if patch.Level != nil {
		if err := monster.ValidateLevel(*patch.Level); err != nil {
			return 0, err
		}
	}
	columns, values := queryColumns(patch)
	if len(columns) == 0 {
		return 0, nil
	}
	sets := make([]string, len(columns))
	for i, column := range columns {
		sets[i] = column + " = ?"
	}
	where, args := whereClause(q)
	res, err := s.db.ExecContext(ctx,
		"UPDATE monsters SET "+strings.Join(sets, ", ")+where, append(values, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes every monster matching q. An empty query empties the table.
func (s *Store) Delete(ctx context.Context, q monster.Query) (int64, error) {
	where, args := whereClause(q)
	res, err := s.db.ExecContext(ctx, "DELETE FROM monsters"+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of monsters matching q.
func (s *Store) Count(ctx context.Context, q monster.Query) (int, error) {
	where, args := whereClause(q)
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM monsters"+where, args...).Scan(&n)
	return n, err
}

// Seed inserts amount freshly generated monsters.
func (s *Store) Seed(ctx context.Context, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("seed amount must be positive, got %d", amount)
	}
	if err := s.InsertMany(ctx, s.generator.Monsters(amount)); err != nil {
		return err
	}
	s.logger.Info("database seeded", zap.Int("amount", amount))
	return nil
}

// Backup writes every monster to path as a JSON array.
func (s *Store) Backup(ctx context.Context, path string) error {
	monsters, err := s.FindAll(ctx, monster.Query{})
	if err != nil {
		return err
	}
	data, err := json.Marshal(monsters)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	s.logger.Info("database backed up", zap.String("file", path), zap.Int("monsters", len(monsters)))
	return nil
}

// Restore inserts the monsters of a file written by Backup.
func (s *Store) Restore(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	var monsters []monster.Monster
	if err := json.Unmarshal(data, &monsters); err != nil {
		return fmt.Errorf("parse backup: %w", err)
	}
	if err := s.InsertMany(ctx, monsters); err != nil {
		return err
	}
	s.logger.Info("database restored", zap.String("file", path), zap.Int("monsters", len(monsters)))
	return nil
}

// CountBy returns how many monsters share each value of a categorical field.
func (s *Store) CountBy(ctx context.Context, field string) (map[string]int, error) {
	switch field {
	case "type", "rarity", "name", "damage":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+field+", COUNT(*) FROM monsters GROUP BY "+field)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var value string
		var n int
		if err := rows.Scan(&value, &n); err != nil {
			return nil, err
		}
		counts[value] = n
	}
	return counts, rows.Err()
}

func (s *Store) Info(ctx context.Context) (map[string]string, error) {
	n, err := s.Count(ctx, monster.Query{})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Platform": platform,
		"Database": filepath.Base(s.path),
		"Table":    tableName,
		"Size":     fmt.Sprintf("%d Monsters", n),
	}, nil
}

// Table returns every monster as a training record in insertion order.
func (s *Store) Table(ctx context.Context) (ml.Table, error) {
	monsters, err := s.FindAll(ctx, monster.Query{})
	if err != nil {
		return nil, err
	}
	table := make(ml.Table, len(monsters))
	for i, m := range monsters {
		table[i] = ml.Record{Values: m.Features(), Labels: m.Labels()}
	}
	return table, nil
}

func whereClause(q monster.Query) (string, []any) {
	columns, values := queryColumns(q)
	if len(columns) == 0 {
		return "", nil
	}
	conds := make([]string, len(columns))
	for i, column := range columns {
		conds[i] = column + " = ?"
	}
	return " WHERE " + strings.Join(conds, " AND "), values
}

func queryColumns(q monster.Query) ([]string, []any) {
	var columns []string
	var values []any
	add := func(column string, value any) {
		columns = append(columns, column)
		values = append(values, value)
	}
	if q.Name != nil {
		add("name", *q.Name)
	}
	if q.Type != nil {
		add("type", *q.Type)
	}
	if q.Level != nil {
		add("level", *q.Level)
	}
	if q.Rarity != nil {
		add("rarity", *q.Rarity)
	}
	if q.Damage != nil {
		add("damage", *q.Damage)
	}
	if q.Health != nil {
		add("health", *q.Health)
	}
	if q.Energy != nil {
		add("energy", *q.Energy)
	}
	if q.Sanity != nil {
		add("sanity", *q.Sanity)
	}
	if q.TimeStamp != nil {
		add("time_stamp", *q.TimeStamp)
	}
	return columns, values
}
