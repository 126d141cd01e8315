package store

import (
	"errors"

	"cloud.google.com/go/spanner"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"google.golang.org/grpc/codes"
)

const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
)

// ErrOutboxEntryNotFound is returned when confirming an event that was never written.
var ErrOutboxEntryNotFound = errors.New("outbox entry not found")

// isUniqueViolation reports whether err is a storage rejection of a duplicate key,
// whichever driver produced it.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	return spanner.ErrCode(err) == codes.AlreadyExists
}
