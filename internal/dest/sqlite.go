package dest

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/parcelworks/geoharvest/internal/feature"
)

// SQLite loads feature sets into a local SQLite file, the offline mirror of
// the PostGIS destination. Geometry is stored as a WKB blob.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "dest: sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "dest: sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

// Replace swaps the table's contents inside one transaction.
func (s *SQLite) Replace(ctx context.Context, table string, set *feature.Set) (int64, error) {
	if err := set.Validate(); err != nil {
		return 0, eris.Wrapf(err, "dest: sqlite: validate set for %s", table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "dest: sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(table))); err != nil {
		return 0, eris.Wrapf(err, "dest: sqlite: drop %s", table)
	}
	if _, err := tx.ExecContext(ctx, s.createSQL(table, set)); err != nil {
		return 0, eris.Wrapf(err, "dest: sqlite: create %s", table)
	}

	stmt, err := tx.PrepareContext(ctx, s.insertSQL(table, set))
	if err != nil {
		return 0, eris.Wrapf(err, "dest: sqlite: prepare insert for %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, f := range set.Features {
		args, err := sqliteRow(f, set)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, eris.Wrapf(err, "dest: sqlite: insert into %s", table)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "dest: sqlite: commit tx")
	}

	zap.L().Info("table replaced",
		zap.String("component", "dest.sqlite"),
		zap.String("table", table),
		zap.Int64("rows", n),
		zap.Bool("spatial", set.Spatial()),
	)
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createSQL(table string, set *feature.Set) string {
	cols := make([]string, 0, len(set.Schema.Keys)+1)
	for _, k := range set.Schema.Keys {
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(k), sqliteType(set.Schema.TypeOf(k))))
	}
	if set.Spatial() {
		cols = append(cols, fmt.Sprintf("%s BLOB", quoteIdent("geom")))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
}

func (s *SQLite) insertSQL(table string, set *feature.Set) string {
	cols := make([]string, 0, len(set.Schema.Keys)+1)
	for _, k := range set.Schema.Keys {
		cols = append(cols, quoteIdent(k))
	}
	if set.Spatial() {
		cols = append(cols, quoteIdent("geom"))
	}
	params := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(cols, ", "), params)
}

// sqliteRow converts one feature to driver-friendly values: booleans become
// integers, timestamps RFC 3339 text, geometry a WKB blob.
func sqliteRow(f feature.Feature, set *feature.Set) ([]any, error) {
	args := make([]any, 0, len(set.Schema.Keys)+1)
	for _, v := range attrValues(f, set.Schema.Keys) {
		switch t := v.(type) {
		case bool:
			if t {
				args = append(args, int64(1))
			} else {
				args = append(args, int64(0))
			}
		case time.Time:
			args = append(args, t.UTC().Format(time.RFC3339))
		default:
			args = append(args, v)
		}
	}

	if set.Spatial() {
		if f.Geom == nil {
			args = append(args, nil)
		} else {
			b, err := wkb.Marshal(f.Geom, binary.LittleEndian)
			if err != nil {
				return nil, eris.Wrap(err, "dest: sqlite: encode geometry")
			}
			args = append(args, b)
		}
	}
	return args, nil
}

func sqliteType(t feature.Type) string {
	switch t {
	case feature.TypeInt, feature.TypeBool:
		return "INTEGER"
	case feature.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
