package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
	"github.com/zoff-tech/go-eventual/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// SQLEventStore is the work-unit factory shared by the SQL components.
type SQLEventStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
	now    func() time.Time
}

func NewSQLEventStore(db *sqlx.DB, opts ...Option) *SQLEventStore {
	o := applyOptions(opts)
	return &SQLEventStore{
		db:     db,
		tracer: otel.Tracer(telemetry.TracerName),
		now:    o.now,
	}
}

func (s *SQLEventStore) CreateWorkUnit(ctx context.Context, fn eventual.WorkFunc) (eventual.WorkUnit, error) {
	if wu, ok := sqlWorkUnitFrom(ctx); ok {
		if wu.done.Load() {
			return wu, eventual.ErrWorkUnitDone
		}
		return wu, fn(ctx)
	}

	ctx, span := s.tracer.Start(ctx, "CreateWorkUnit")
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("begin work unit: %w", err)
	}

	wu := &SQLWorkUnit{tx: tx}
	if err := wu.run(ctx, fn); err != nil {
		span.RecordError(err)
		return wu, err
	}

	return wu, nil
}

// withWorkUnit runs fn on the transaction of the work unit carried by ctx, or in a
// work unit of its own when there is none. fn reports the number of rows it touched.
func (s *SQLEventStore) withWorkUnit(ctx context.Context, spanName, statement string, fn func(ctx context.Context, tx *sqlx.Tx) (int, error)) error {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	var rowsCount int
	work := func(ctx context.Context) error {
		wu, _ := sqlWorkUnitFrom(ctx)
		n, err := fn(ctx, wu.tx)
		rowsCount = n
		return err
	}

	var err error
	if wu, ok := sqlWorkUnitFrom(ctx); ok {
		if wu.done.Load() {
			err = eventual.ErrWorkUnitDone
		} else {
			err = work(ctx)
		}
	} else {
		_, err = s.CreateWorkUnit(ctx, work)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, s.db.DriverName(), statement, rowsCount, time.Since(startTime))

	return nil
}

// count runs a COUNT(*) query and returns its result.
func (s *SQLEventStore) count(ctx context.Context, spanName, query string, args ...any) (int, error) {
	var n int
	err := s.withWorkUnit(ctx, spanName, query, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		if err := tx.GetContext(ctx, &n, tx.Rebind(query), args...); err != nil {
			return 0, err
		}
		return 1, nil
	})
	return n, err
}
