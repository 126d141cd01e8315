package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/zoff-tech/go-eventual/pkg/config"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

// Repository bundles the storage components of one durable store.
type Repository struct {
	Send     eventual.EventSendStore
	Receive  eventual.EventReceiveStore
	Schedule eventual.EventSchedule
	Guard    eventual.IntegrityGuard

	closeFn func() error
}

func (r *Repository) Close() error {
	if r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}

var sqlOpen = sqlx.Open

var NewSpannerClient = func(ctx context.Context, uri string) (*spanner.Client, error) {
	return spanner.NewClient(ctx, uri)
}

// NewRepository connects to the configured store. It never creates schema.
func NewRepository(ctx context.Context, cfg config.DbSettings, schedule config.ScheduleSettings, opts ...Option) (*Repository, error) {
	switch cfg.Type {
	case "postgres", "pgx", "mysql":
		db, err := OpenSQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewSQLRepository(db, schedule.ClaimDuration(), opts...), nil
	case "spanner":
		client, err := NewSpannerClient(ctx, cfg.URI)
		if err != nil {
			return nil, err
		}
		return NewSpannerRepository(client, schedule.ClaimDuration(), opts...), nil
	default:
		return nil, fmt.Errorf("unsupported DB type: %s", cfg.Type)
	}
}

func NewSQLRepository(db *sqlx.DB, claimDuration time.Duration, opts ...Option) *Repository {
	base := NewSQLEventStore(db, opts...)
	guard := NewSQLIntegrityGuard(base)

	return &Repository{
		Send:     NewSQLEventSendStore(base),
		Receive:  NewSQLEventReceiveStore(base, guard),
		Schedule: NewSQLEventSchedule(base, claimDuration),
		Guard:    guard,
		closeFn:  db.Close,
	}
}

func NewSpannerRepository(client *spanner.Client, claimDuration time.Duration, opts ...Option) *Repository {
	base := NewSpannerEventStore(client, opts...)
	guard := NewSpannerIntegrityGuard(base)

	return &Repository{
		Send:     NewSpannerEventSendStore(base),
		Receive:  NewSpannerEventReceiveStore(base, guard),
		Schedule: NewSpannerEventSchedule(base, claimDuration),
		Guard:    guard,
		closeFn: func() error {
			client.Close()
			return nil
		},
	}
}

// OpenSQL opens a pooled *sqlx.DB and checks it answers within the ping timeout.
func OpenSQL(ctx context.Context, cfg config.DbSettings) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty %s DSN", cfg.Type)
	}

	dsn := cfg.DSN
	if cfg.Type == "mysql" {
		var err error
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlOpen(cfg.Type, dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Type, err)
	}

	return db, nil
}

// mysqlDSN forces the DSN options the stores rely on: DATETIME columns scanned as
// time.Time in UTC.
func mysqlDSN(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql DSN: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}
