package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
	"github.com/zoff-tech/go-eventual/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type spannerWorkUnitKey struct{}

// errWorkPanicked makes the client roll back before the panic is raised again.
var errWorkPanicked = errors.New("work function panicked")

// SpannerWorkUnit is one read-write transaction. Spanner may re-run the work
// function when the transaction aborts, so work functions must not have effects
// outside the transaction.
type SpannerWorkUnit struct {
	txn       *spanner.ReadWriteTransaction
	committed bool
	done      atomic.Bool
}

func (w *SpannerWorkUnit) Committed() bool {
	return w.committed
}

func spannerWorkUnitFrom(ctx context.Context) (*SpannerWorkUnit, bool) {
	wu, ok := ctx.Value(spannerWorkUnitKey{}).(*SpannerWorkUnit)
	return wu, ok
}

// SpannerEventStore is the work-unit factory shared by the Spanner components.
type SpannerEventStore struct {
	client *spanner.Client
	tracer trace.Tracer
	now    func() time.Time
}

func NewSpannerEventStore(client *spanner.Client, opts ...Option) *SpannerEventStore {
	o := applyOptions(opts)
	return &SpannerEventStore{
		client: client,
		tracer: otel.Tracer(telemetry.TracerName),
		now:    o.now,
	}
}

func (s *SpannerEventStore) CreateWorkUnit(ctx context.Context, fn eventual.WorkFunc) (eventual.WorkUnit, error) {
	if wu, ok := spannerWorkUnitFrom(ctx); ok {
		if wu.done.Load() {
			return wu, eventual.ErrWorkUnitDone
		}
		return wu, fn(ctx)
	}

	ctx, span := s.tracer.Start(ctx, "CreateWorkUnit")
	defer span.End()

	wu := &SpannerWorkUnit{}
	defer wu.done.Store(true)

	// fnErr keeps the caller's error value intact whatever the client wraps it in
	var (
		fnErr     error
		recovered any
	)
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		defer func() {
			if r := recover(); r != nil {
				recovered = r
				fnErr = errWorkPanicked
			}
		}()
		wu.txn = txn
		fnErr = fn(context.WithValue(ctx, spannerWorkUnitKey{}, wu))
		return fnErr
	})
	if recovered != nil {
		panic(recovered)
	}

	switch {
	case fnErr != nil && errors.Is(fnErr, eventual.ErrInterruptWork):
		return wu, nil
	case fnErr != nil:
		span.RecordError(fnErr)
		return wu, fnErr
	case err != nil && isUniqueViolation(err):
		span.RecordError(err)
		return wu, fmt.Errorf("%w: commit work unit: %w", eventual.ErrIntegrityViolation, err)
	case err != nil:
		span.RecordError(err)
		return wu, fmt.Errorf("commit work unit: %w", err)
	}

	wu.committed = true
	return wu, nil
}

func (s *SpannerEventStore) withWorkUnit(ctx context.Context, spanName string, stmt spanner.Statement, fn func(ctx context.Context, txn *spanner.ReadWriteTransaction) (int, error)) error {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	var rowsCount int
	work := func(ctx context.Context) error {
		wu, _ := spannerWorkUnitFrom(ctx)
		n, err := fn(ctx, wu.txn)
		rowsCount = n
		return err
	}

	var err error
	if wu, ok := spannerWorkUnitFrom(ctx); ok {
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

	addDBStatsToSpan(span, "spanner", stmt.SQL, rowsCount, time.Since(startTime))

	return nil
}

func (s *SpannerEventStore) update(ctx context.Context, spanName string, stmt spanner.Statement) (int64, error) {
	var affected int64
	err := s.withWorkUnit(ctx, spanName, stmt, func(ctx context.Context, txn *spanner.ReadWriteTransaction) (int, error) {
		n, err := txn.Update(ctx, stmt)
		if err != nil {
			return 0, err
		}
		affected = n
		return int(n), nil
	})
	return affected, err
}

func (s *SpannerEventStore) count(ctx context.Context, spanName string, stmt spanner.Statement) (int64, error) {
	var n int64
	err := s.withWorkUnit(ctx, spanName, stmt, func(ctx context.Context, txn *spanner.ReadWriteTransaction) (int, error) {
		iter := txn.Query(ctx, stmt)
		defer iter.Stop()

		row, err := iter.Next()
		if err != nil {
			return 0, err
		}
		if err := row.Columns(&n); err != nil {
			return 0, err
		}
		return 1, nil
	})
	return n, err
}

// queryBodies returns the JSON body column of every row the statement yields.
func (s *SpannerEventStore) queryBodies(ctx context.Context, spanName string, stmt spanner.Statement) ([]eventual.EventBody, error) {
	var bodies []eventual.EventBody
	err := s.withWorkUnit(ctx, spanName, stmt, func(ctx context.Context, txn *spanner.ReadWriteTransaction) (int, error) {
		bodies = bodies[:0]
		err := txn.Query(ctx, stmt).Do(func(row *spanner.Row) error {
			var raw string
			if err := row.ColumnByName("body", &raw); err != nil {
				return err
			}
			var body jsonBody
			if err := body.Scan(raw); err != nil {
				return err
			}
			bodies = append(bodies, eventual.EventBody(body))
			return nil
		})
		return len(bodies), err
	})
	return bodies, err
}

func encodeBody(body eventual.EventBody) (string, error) {
	v, err := jsonBody(body).Value()
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
