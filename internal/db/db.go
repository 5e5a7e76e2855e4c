// Package db keeps an audit log of pinger repositions in a local SQLite
// file. Measurements are never written here.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"pinger-sim/internal/geometry"
)

type DB struct {
	*sql.DB
	Session string
}

// Reposition is one row of the audit log.
type Reposition struct {
	Source   string
	Position geometry.Position
	At       time.Time
}

func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection, so the pragmas below hold for every statement.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB}
	if err := db.MigrateUp(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// RecordReposition logs a pinger position change and where it came from.
func (db *DB) RecordReposition(ctx context.Context, source string, p geometry.Position) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO repositions (session, source, x, y, z) VALUES (?, ?, ?, ?, ?)",
		db.Session, source, p.X, p.Y, p.Z,
	)
	return err
}

// Repositions returns up to limit of this session's moves, oldest first.
// limit <= 0 returns all of them.
func (db *DB) Repositions(ctx context.Context, limit int) ([]Reposition, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		"SELECT source, x, y, z, timestamp FROM repositions WHERE session = ? ORDER BY rowid LIMIT ?",
		db.Session, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reposition
	for rows.Next() {
		var r Reposition
		if err := rows.Scan(&r.Source, &r.Position.X, &r.Position.Y, &r.Position.Z, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
