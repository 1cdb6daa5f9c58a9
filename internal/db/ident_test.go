package db

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestTableIdent(t *testing.T) {
	assert.Equal(t, pgx.Identifier{"parcels"}, TableIdent("parcels"))
	assert.Equal(t, pgx.Identifier{"gis", "parcels"}, TableIdent("gis.parcels"))
}

func TestQuoteColumns(t *testing.T) {
	assert.Equal(t, `"owner", "acres"`, QuoteColumns([]string{"owner", "acres"}))
}
