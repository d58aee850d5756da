package store

import (
	"database/sql"
	"fmt"

	"github.com/phuslu/log"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) a SQLite database and runs migrations.
func OpenSQLite(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s, err := newSQLStore(db, dialect{name: "sqlite", float: "REAL"})
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("sqlite store opened")
	return s, nil
}
