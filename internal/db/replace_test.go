package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEqualMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestReplaceTable_Success(t *testing.T) {
	mock := newEqualMock(t)

	createSQL := `CREATE TABLE "parcels" ("owner" text, "acres" double precision)`
	indexSQL := `CREATE INDEX "parcels_owner_idx" ON "parcels" ("owner")`

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "parcels"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(createSQL).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"parcels"}, []string{"owner", "acres"}).WillReturnResult(2)
	mock.ExpectExec(indexSQL).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	spec := ReplaceSpec{Table: "parcels", CreateSQL: createSQL, PostSQL: []string{indexSQL}}
	n, err := ReplaceTable(context.Background(), mock, spec, func(ctx context.Context, tx pgx.Tx) (int64, error) {
		rows := [][]any{{"a", 1.0}, {"b", 2.0}}
		return tx.CopyFrom(ctx, pgx.Identifier{"parcels"}, []string{"owner", "acres"}, pgx.CopyFromRows(rows))
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTable_LoadFailureRollsBack(t *testing.T) {
	mock := newEqualMock(t)

	createSQL := `CREATE TABLE "parcels" ("owner" text)`

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "parcels"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(createSQL).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectRollback()

	spec := ReplaceSpec{Table: "parcels", CreateSQL: createSQL}
	_, err := ReplaceTable(context.Background(), mock, spec, func(ctx context.Context, tx pgx.Tx) (int64, error) {
		return 0, fmt.Errorf("bad row")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load parcels")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTable_MissingCreate(t *testing.T) {
	_, err := ReplaceTable(context.Background(), nil, ReplaceSpec{Table: "parcels"}, nil)
	require.Error(t, err)
}

func TestReplaceTable_DropFailure(t *testing.T) {
	mock := newEqualMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "parcels"`).WillReturnError(fmt.Errorf("permission denied"))
	mock.ExpectRollback()

	spec := ReplaceSpec{Table: "parcels", CreateSQL: `CREATE TABLE "parcels" ("owner" text)`}
	_, err := ReplaceTable(context.Background(), mock, spec, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drop parcels")
	assert.NoError(t, mock.ExpectationsWereMet())
}
