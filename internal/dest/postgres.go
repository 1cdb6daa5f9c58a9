package dest

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/db"
	"github.com/parcelworks/geoharvest/internal/feature"
)

// Postgres loads feature sets into PostGIS tables. Spatial sets get a
// geometry column and a GiST index; the geometry type is left generic so
// mixed-geometry sources load without a rejected-type surprise.
type Postgres struct {
	pool db.Pool
}

// NewPostgres wraps an established pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Name() string { return "postgres" }

// Replace drops and recreates the table inside one transaction, then loads
// every feature. Attribute-only sets go through COPY; spatial sets insert
// row by row so the geometry passes through ST_GeomFromEWKB.
func (p *Postgres) Replace(ctx context.Context, table string, set *feature.Set) (int64, error) {
	if err := set.Validate(); err != nil {
		return 0, eris.Wrapf(err, "dest: postgres: validate set for %s", table)
	}

	spec := db.ReplaceSpec{
		Table:     table,
		CreateSQL: p.createSQL(table, set),
	}
	if set.Spatial() {
		spec.PostSQL = []string{fmt.Sprintf(
			"CREATE INDEX %s ON %s USING gist (%s)",
			pgx.Identifier{indexName(table)}.Sanitize(),
			db.TableIdent(table).Sanitize(),
			pgx.Identifier{"geom"}.Sanitize(),
		)}
	}

	n, err := db.ReplaceTable(ctx, p.pool, spec, func(ctx context.Context, tx pgx.Tx) (int64, error) {
		if set.Spatial() {
			return p.loadSpatial(ctx, tx, table, set)
		}
		rows := make([][]any, len(set.Features))
		for i, f := range set.Features {
			rows[i] = attrValues(f, set.Schema.Keys)
		}
		return tx.CopyFrom(ctx, db.TableIdent(table), set.Schema.Keys, pgx.CopyFromRows(rows))
	})
	if err != nil {
		return 0, err
	}

	zap.L().Info("table replaced",
		zap.String("component", "dest.postgres"),
		zap.String("table", table),
		zap.Int64("rows", n),
		zap.Bool("spatial", set.Spatial()),
	)
	return n, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) createSQL(table string, set *feature.Set) string {
	cols := make([]string, 0, len(set.Schema.Keys)+1)
	for _, k := range set.Schema.Keys {
		cols = append(cols, fmt.Sprintf("%s %s", pgx.Identifier{k}.Sanitize(), set.Schema.TypeOf(k)))
	}
	if set.Spatial() {
		cols = append(cols, fmt.Sprintf("%s geometry(Geometry, %d)",
			pgx.Identifier{"geom"}.Sanitize(), feature.CanonicalSRID))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", db.TableIdent(table).Sanitize(), strings.Join(cols, ", "))
}

func (p *Postgres) loadSpatial(ctx context.Context, tx pgx.Tx, table string, set *feature.Set) (int64, error) {
	insertSQL := p.insertSQL(table, set)

	var n int64
	for _, f := range set.Features {
		args := attrValues(f, set.Schema.Keys)
		g, err := geomEWKB(f)
		if err != nil {
			return n, err
		}
		args = append(args, g)

		if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
			return n, eris.Wrapf(err, "dest: postgres: insert into %s", table)
		}
		n++
	}
	return n, nil
}

func (p *Postgres) insertSQL(table string, set *feature.Set) string {
	cols := append(append([]string{}, set.Schema.Keys...), "geom")
	params := make([]string, len(set.Schema.Keys))
	for i := range set.Schema.Keys {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	geomParam := fmt.Sprintf("ST_SetSRID(ST_GeomFromEWKB($%d), %d)", len(cols), feature.CanonicalSRID)

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		db.TableIdent(table).Sanitize(),
		db.QuoteColumns(cols),
		strings.Join(append(params, geomParam), ", "),
	)
}

// geomEWKB encodes a feature's geometry for ST_GeomFromEWKB; nil geometry
// loads as NULL.
func geomEWKB(f feature.Feature) (any, error) {
	if f.Geom == nil {
		return nil, nil
	}
	b, err := ewkb.Marshal(f.Geom, binary.LittleEndian)
	if err != nil {
		return nil, eris.Wrap(err, "dest: postgres: encode geometry")
	}
	return b, nil
}

// indexName derives a spatial index name from a possibly schema-qualified
// table name.
func indexName(table string) string {
	return strings.ReplaceAll(table, ".", "_") + "_geom_idx"
}
