package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceSpec describes a full-table replacement.
type ReplaceSpec struct {
	Table     string   // target table, optionally schema-qualified
	CreateSQL string   // complete CREATE TABLE statement
	PostSQL   []string // statements run after the load, e.g. index creation
}

// LoadFunc inserts the new rows inside the replacement transaction and
// returns how many it wrote.
type LoadFunc func(ctx context.Context, tx pgx.Tx) (int64, error)

// ReplaceTable atomically swaps a table's contents:
//  1. DROP TABLE IF EXISTS
//  2. recreate from CreateSQL
//  3. run load inside the same transaction
//  4. run PostSQL statements
//
// Readers never observe a partially loaded table; a failed load leaves the
// previous contents untouched.
func ReplaceTable(ctx context.Context, pool Pool, spec ReplaceSpec, load LoadFunc) (int64, error) {
	if spec.CreateSQL == "" {
		return 0, eris.New("db: replace: no create statement")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx)

	dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s", TableIdent(spec.Table).Sanitize())
	if _, err := tx.Exec(ctx, dropSQL); err != nil {
		return 0, eris.Wrapf(err, "db: replace: drop %s", spec.Table)
	}
	if _, err := tx.Exec(ctx, spec.CreateSQL); err != nil {
		return 0, eris.Wrapf(err, "db: replace: create %s", spec.Table)
	}

	n, err := load(ctx, tx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: replace: load %s", spec.Table)
	}

	for _, stmt := range spec.PostSQL {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, eris.Wrapf(err, "db: replace: post-load statement for %s", spec.Table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return n, nil
}
