package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureLimit(t *testing.T) {
	t.Run("appends when missing", func(t *testing.T) {
		got := EnsureLimit("SELECT t.ID AS id FROM PEDIDOS t", 200)
		require.Equal(t, "SELECT t.ID AS id FROM PEDIDOS t LIMIT 200", got)
	})

	t.Run("never rewrites an existing limit", func(t *testing.T) {
		sql := "SELECT t.ID AS id FROM PEDIDOS t LIMIT 5"
		require.Equal(t, sql, EnsureLimit(sql, 200))
	})

	t.Run("idempotent", func(t *testing.T) {
		once := EnsureLimit("SELECT 1 FROM DUAL", 10)
		require.Equal(t, once, EnsureLimit(once, 10))
	})

	t.Run("ignores non-select", func(t *testing.T) {
		require.Equal(t, "EXPLAIN SELECT 1", EnsureLimit("EXPLAIN SELECT 1", 10))
	})
}

func TestCapLimit(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		ceiling int
		want    string
	}{
		{
			name:    "appends when missing",
			sql:     "SELECT t.ID FROM PEDIDOS t",
			ceiling: 1000,
			want:    "SELECT t.ID FROM PEDIDOS t LIMIT 1000",
		},
		{
			name:    "reduces oversized limit",
			sql:     "SELECT t.ID FROM PEDIDOS t LIMIT 5000",
			ceiling: 1000,
			want:    "SELECT t.ID FROM PEDIDOS t LIMIT 1000",
		},
		{
			name:    "keeps small limit",
			sql:     "SELECT t.ID FROM PEDIDOS t LIMIT 5",
			ceiling: 1000,
			want:    "SELECT t.ID FROM PEDIDOS t LIMIT 5",
		},
		{
			name:    "preserves offset form",
			sql:     "SELECT t.ID FROM PEDIDOS t LIMIT 40, 5000",
			ceiling: 1000,
			want:    "SELECT t.ID FROM PEDIDOS t LIMIT 40, 1000",
		},
		{
			name:    "offset form within ceiling untouched",
			sql:     "SELECT t.ID FROM PEDIDOS t LIMIT 40, 100",
			ceiling: 1000,
			want:    "SELECT t.ID FROM PEDIDOS t LIMIT 40, 100",
		},
		{
			name:    "zero ceiling disables cap",
			sql:     "SELECT t.ID FROM PEDIDOS t",
			ceiling: 0,
			want:    "SELECT t.ID FROM PEDIDOS t",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CapLimit(tt.sql, tt.ceiling))
		})
	}
}

func TestWithMaxExecutionTime(t *testing.T) {
	got := WithMaxExecutionTime("SELECT t.ID FROM PEDIDOS t", 1800)
	require.Equal(t, "SELECT /*+ MAX_EXECUTION_TIME(1800) */ t.ID FROM PEDIDOS t", got)

	got = WithMaxExecutionTime("SELECT DISTINCT t.ID FROM PEDIDOS t", 1800)
	require.Equal(t, "SELECT DISTINCT /*+ MAX_EXECUTION_TIME(1800) */ t.ID FROM PEDIDOS t", got)

	require.Equal(t, "UPDATE x SET a=1", WithMaxExecutionTime("UPDATE x SET a=1", 1800))
}

func TestDigestStable(t *testing.T) {
	a := Digest("SELECT 1")
	b := Digest("SELECT 1")
	require.Equal(t, a, b)
	require.Len(t, a, 12)
	require.NotEqual(t, a, Digest("SELECT 2"))
}

func TestIsSelect(t *testing.T) {
	require.True(t, IsSelect("  select 1"))
	require.True(t, IsSelect("SELECT t.ID FROM x t"))
	require.False(t, IsSelect("DELETE FROM x"))
}
