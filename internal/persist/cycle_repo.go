package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/l1jgo/objcore/internal/core/gc"
)

const (
	kindSoftKilled = "soft_killed"
	kindReclaimed  = "reclaimed"
)

// CycleRow is one stored collection cycle.
type CycleRow struct {
	RunID      uuid.UUID
	Cycle      uint64
	StartedAt  time.Time
	Duration   time.Duration
	Roots      int
	Marked     int
	SoftKilled int
	Reclaimed  int
	Purged     int
	Tracked    int
}

// CycleRepo stores collection cycle reports. Every process run gets its own
// run id so cycle numbers from different runs do not collide.
type CycleRepo struct {
	db    *DB
	runID uuid.UUID
}

func NewCycleRepo(db *DB) *CycleRepo {
	return &CycleRepo{db: db, runID: uuid.New()}
}

func (r *CycleRepo) RunID() uuid.UUID { return r.runID }

// WriteBatch stores reports and their casualties in a single transaction.
func (r *CycleRepo) WriteBatch(ctx context.Context, reports []gc.CycleReport) error {
	if len(reports) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cycles begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rep := range reports {
		var id int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO gc_cycles (run_id, cycle, started_at, duration_us, roots, marked,
			                        soft_killed, reclaimed, purged, tracked)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id`,
			r.runID, int64(rep.Cycle), rep.Started, rep.Duration.Microseconds(), rep.Roots, rep.Marked,
			rep.SoftKilled, rep.Reclaimed, rep.Purged, rep.Tracked,
		).Scan(&id); err != nil {
			return fmt.Errorf("cycle %d insert: %w", rep.Cycle, err)
		}
		if err := insertCasualties(ctx, tx, id, kindSoftKilled, rep.Killed); err != nil {
			return err
		}
		if err := insertCasualties(ctx, tx, id, kindReclaimed, rep.Freed); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func insertCasualties(ctx context.Context, tx pgx.Tx, cycleID int64, kind string, cs []gc.Casualty) error {
	if len(cs) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, []any{cycleID, kind, c.GUID, int64(c.Handle), c.Type, c.Name})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"gc_casualties"},
		[]string{"cycle_id", "kind", "guid", "handle", "type_name", "name"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("casualties copy: %w", err)
	}
	return nil
}

// Recent returns the latest cycles across all runs, newest first.
func (r *CycleRepo) Recent(ctx context.Context, limit int) ([]CycleRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT run_id, cycle, started_at, duration_us, roots, marked,
		        soft_killed, reclaimed, purged, tracked
		 FROM gc_cycles ORDER BY started_at DESC, cycle DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CycleRow, error) {
		var c CycleRow
		var cycle, durUS int64
		err := row.Scan(&c.RunID, &cycle, &c.StartedAt, &durUS, &c.Roots, &c.Marked,
			&c.SoftKilled, &c.Reclaimed, &c.Purged, &c.Tracked)
		c.Cycle = uint64(cycle)
		c.Duration = time.Duration(durUS) * time.Microsecond
		return c, err
	})
}

// History returns the casualty trail of one object by GUID, oldest first.
func (r *CycleRepo) History(ctx context.Context, guid uuid.UUID) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT c.cycle, x.kind, x.type_name, x.name
		 FROM gc_casualties x JOIN gc_cycles c ON c.id = x.cycle_id
		 WHERE x.guid = $1 ORDER BY c.cycle`, guid)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var cycle int64
		var kind, typeName, name string
		if err := row.Scan(&cycle, &kind, &typeName, &name); err != nil {
			return "", err
		}
		return fmt.Sprintf("cycle %d: %s %s %q", cycle, kind, typeName, name), nil
	})
}
