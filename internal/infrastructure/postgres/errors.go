package postgres

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// notLoadedMarker is the message fragment PostgreSQL emits when pg_cron is
// installed as an extension but missing from shared_preload_libraries.
const notLoadedMarker = `must be loaded via "shared_preload_libraries"`

// IsExtensionNotLoaded classifies the pg_cron not-loaded failure. The only
// signal PostgreSQL gives is the message text, so this is a substring match.
func IsExtensionNotLoaded(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.Contains(pgErr.Message, notLoadedMarker)
	}
	return strings.Contains(err.Error(), notLoadedMarker)
}

// IsTransientIO reports whether err looks like a connection or IO fault
// rather than a server-side rejection. Used to pick DEBUG over WARN when
// absorbing background scheduling errors.
func IsTransientIO(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 — connection exceptions.
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return pgconn.Timeout(err)
}
