package db

import (
	"context"
	"database/sql"
	"embed"

	"go.uber.org/zap"

	libdb "chargepay/backend/libs/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewPostgres returns shared DB connection.
func NewPostgres(dsn string) (*sql.DB, error) {
	return libdb.NewPostgresDB(dsn)
}

// Migrate brings the billing schema up to date.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	return libdb.Migrate(ctx, db, migrations, "migrations", logger)
}
