package storage

import (
	"database/sql"
	"io"
	"log/slog"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}
