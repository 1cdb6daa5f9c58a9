package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitAndTrim("a, b"))
	assert.Equal(t, []string{"parcels"}, splitAndTrim(" parcels ,, "))
	assert.Empty(t, splitAndTrim(""))
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, 202, map[string]string{"status": "accepted"})

	assert.Equal(t, 202, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
}

func TestAwaitShutdownStopsServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: http.NewServeMux()}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	awaitShutdown(ctx, srv)
	assert.ErrorIs(t, <-done, http.ErrServerClosed)
}

func TestContainingFeatures(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT * FROM "parcels" WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)) LIMIT 10`).
		WithArgs(-73.76, 42.65).
		WillReturnRows(pgxmock.NewRows([]string{"owner", "acres", "geom"}).
			AddRow("NYS", 12.5, []byte{0x01}))

	rows, err := containingFeatures(context.Background(), mock, "parcels", -73.76, 42.65)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Geometry is stripped from the response payload.
	assert.Equal(t, "NYS", rows[0]["owner"])
	assert.Equal(t, 12.5, rows[0]["acres"])
	assert.NotContains(t, rows[0], "geom")
	assert.NoError(t, mock.ExpectationsWereMet())
}
