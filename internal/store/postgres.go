package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phuslu/log"
)

// OpenPostgres connects through pgx's database/sql driver and runs
// migrations.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := newSQLStore(db, dialect{name: "postgres", float: "DOUBLE PRECISION", numbered: true})
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Msg("postgres store opened")
	return s, nil
}
