package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

type sqlWorkUnitKey struct{}

// SQLWorkUnit binds the store calls of one scope to a single *sqlx.Tx.
type SQLWorkUnit struct {
	tx        *sqlx.Tx
	committed bool
	done      atomic.Bool
}

func (w *SQLWorkUnit) Committed() bool {
	return w.committed
}

func sqlWorkUnitFrom(ctx context.Context) (*SQLWorkUnit, bool) {
	wu, ok := ctx.Value(sqlWorkUnitKey{}).(*SQLWorkUnit)
	return wu, ok
}

// run executes fn and ends the transaction exactly once. A panic in fn rolls back
// and keeps unwinding.
func (w *SQLWorkUnit) run(ctx context.Context, fn eventual.WorkFunc) error {
	defer w.done.Store(true)

	finished := false
	defer func() {
		if !finished {
			_ = w.tx.Rollback()
		}
	}()

	err := fn(context.WithValue(ctx, sqlWorkUnitKey{}, w))
	finished = true

	if err != nil {
		rbErr := w.tx.Rollback()
		if errors.Is(err, eventual.ErrInterruptWork) {
			if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				return fmt.Errorf("rollback interrupted work unit: %w", rbErr)
			}
			return nil
		}
		return err
	}

	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit work unit: %w", err)
	}
	w.committed = true

	return nil
}
