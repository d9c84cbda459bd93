package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("exec: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "42501"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestLimitArg(t *testing.T) {
	assert.False(t, limitArg(0).Valid)
	assert.False(t, limitArg(-3).Valid)
	assert.True(t, limitArg(5).Valid)
	assert.Equal(t, int64(5), limitArg(5).Int64)
}

func TestNullableBytes(t *testing.T) {
	assert.Nil(t, nullableBytes(nil))
	assert.Equal(t, []byte{0xa0}, nullableBytes([]byte{0xa0}))
}
