package dest

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/feature"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newPGMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func attributeSet() *feature.Set {
	set := feature.NewSet([]string{"name", "pop"}, feature.CanonicalSRID)
	set.Append(map[string]any{"name": "Albany", "pop": int64(99000)}, nil)
	set.Append(map[string]any{"name": "Troy", "pop": int64(51000)}, nil)
	return set
}

func spatialSet() *feature.Set {
	set := feature.NewSet([]string{"name"}, feature.CanonicalSRID)
	set.Append(map[string]any{"name": "Albany"}, geom.NewPointFlat(geom.XY, []float64{-73.76, 42.65}))
	return set
}

func TestPostgresReplace_AttributesOnly(t *testing.T) {
	mock := newPGMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "towns"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE TABLE "towns" ("name" text, "pop" bigint)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"towns"}, []string{"name", "pop"}).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := NewPostgres(mock).Replace(context.Background(), "towns", attributeSet())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplace_Spatial(t *testing.T) {
	mock := newPGMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "parcels"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE TABLE "parcels" ("name" text, "geom" geometry(Geometry, 4326))`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO "parcels" ("name", "geom") VALUES ($1, ST_SetSRID(ST_GeomFromEWKB($2), 4326))`).
		WithArgs("Albany", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`CREATE INDEX "parcels_geom_idx" ON "parcels" USING gist ("geom")`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	n, err := NewPostgres(mock).Replace(context.Background(), "parcels", spatialSet())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplace_SchemaQualified(t *testing.T) {
	mock := newPGMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "gis"."towns"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE TABLE "gis"."towns" ("name" text, "pop" bigint)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"gis", "towns"}, []string{"name", "pop"}).WillReturnResult(2)
	mock.ExpectCommit()

	_, err := NewPostgres(mock).Replace(context.Background(), "gis.towns", attributeSet())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplace_InsertFailureRollsBack(t *testing.T) {
	mock := newPGMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "parcels"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE TABLE "parcels" ("name" text, "geom" geometry(Geometry, 4326))`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO "parcels" ("name", "geom") VALUES ($1, ST_SetSRID(ST_GeomFromEWKB($2), 4326))`).
		WithArgs("Albany", pgxmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := NewPostgres(mock).Replace(context.Background(), "parcels", spatialSet())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplace_InvalidSet(t *testing.T) {
	set := feature.NewSet([]string{"name"}, feature.CanonicalSRID)
	set.Features = append(set.Features, feature.Feature{Attrs: map[string]any{"rogue": 1}})

	_, err := NewPostgres(nil).Replace(context.Background(), "towns", set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate set")
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, "parcels_geom_idx", indexName("parcels"))
	assert.Equal(t, "gis_parcels_geom_idx", indexName("gis.parcels"))
}
