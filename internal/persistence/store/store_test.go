package store

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatements(t *testing.T) {
	stmts := SchemaStatements()
	require.NotEmpty(t, stmts)
	for _, stmt := range stmts {
		assert.NotContains(t, stmt, ";")
		assert.True(t, strings.HasPrefix(stmt, "CREATE"), stmt)
	}
	joined := strings.Join(stmts, "\n")
	assert.Contains(t, joined, "signals_instrument_rule_day_uidx")
	assert.Contains(t, joined, "daily_levels")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(fmt.Errorf("boom")))
}

func TestNew_RequiresConnection(t *testing.T) {
	assert.Nil(t, New(Config{}))
}

func TestTradeDate(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	s := &Store{loc: loc}

	// 20:00 UTC on the 5th is already the 6th in IST.
	got := s.tradeDate(time.Date(2025, 1, 5, 20, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, loc), got)
}

func TestCacheableLimit(t *testing.T) {
	assert.True(t, cacheableLimit(50))
	assert.False(t, cacheableLimit(37))
}
