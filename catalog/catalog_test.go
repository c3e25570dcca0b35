package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestDSNStringRedactsNothingButFormatsAllFields(t *testing.T) {
	dsn := DSN{Host: "db.internal", Port: 5432, User: "corpusdb", Password: "secret", Database: "catalog", SSLMode: "require"}
	s := dsn.String()
	assert.Contains(t, s, "host='db.internal'")
	assert.Contains(t, s, "port='5432'")
	assert.Contains(t, s, "user='"+dsn.User+"'")
	assert.Contains(t, s, "password='"+dsn.Password+"'")
	assert.Contains(t, s, "dbname='catalog'")
	assert.Contains(t, s, "sslmode='require'")
}

func TestWrapErrorWithDetailsMapsRecordNotFound(t *testing.T) {
	err := wrapErrorWithDetails(gorm.ErrRecordNotFound, "lookup", "emodb/1.0.0")
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestWrapErrorWithDetailsWrapsOtherErrors(t *testing.T) {
	err := wrapErrorWithDetails(errors.New("connection refused"), "record", "emodb/1.0.0")
	var de *DatabaseError
	assert.True(t, errors.As(err, &de))
}

func TestWrapErrorWithDetailsPassesThroughNil(t *testing.T) {
	assert.NoError(t, wrapErrorWithDetails(nil, "op", "detail"))
}

func TestEntryDetailFormatsAllFields(t *testing.T) {
	d := entryDetail(Entry{Name: "emodb", Version: "1.0.0", Repository: "primary"})
	assert.Contains(t, d, "emodb")
	assert.Contains(t, d, "1.0.0")
	assert.Contains(t, d, "primary")
}
