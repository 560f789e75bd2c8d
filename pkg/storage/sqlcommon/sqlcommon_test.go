package sqlcommon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := NewConfig()
		require.NotNil(t, cfg.Logger)
		require.Equal(t, time.Minute, cfg.ConnectTimeout)
		require.Equal(t, DefaultMaxIDsPerQuery, cfg.MaxIDsPerQuery)
		require.Equal(t, DefaultMaxRowsPerInsert, cfg.MaxRowsPerInsert)
		require.False(t, cfg.ExportMetrics)
	})

	t.Run("options", func(t *testing.T) {
		cfg := NewConfig(
			WithUsername("u"),
			WithPassword("p"),
			WithMaxOpenConns(8),
			WithMaxIdleConns(4),
			WithConnMaxIdleTime(time.Second),
			WithConnMaxLifetime(time.Hour),
			WithConnectTimeout(5*time.Second),
			WithMaxIDsPerQuery(10),
			WithMaxRowsPerInsert(20),
			WithMetrics(),
		)
		require.Equal(t, "u", cfg.Username)
		require.Equal(t, "p", cfg.Password)
		require.Equal(t, 8, cfg.MaxOpenConns)
		require.Equal(t, 4, cfg.MaxIdleConns)
		require.Equal(t, time.Second, cfg.ConnMaxIdleTime)
		require.Equal(t, time.Hour, cfg.ConnMaxLifetime)
		require.Equal(t, 5*time.Second, cfg.ConnectTimeout)
		require.Equal(t, 10, cfg.MaxIDsPerQuery)
		require.Equal(t, 20, cfg.MaxRowsPerInsert)
		require.True(t, cfg.ExportMetrics)
	})

	t.Run("non_positive_limits_fall_back", func(t *testing.T) {
		cfg := NewConfig(WithMaxIDsPerQuery(-1), WithMaxRowsPerInsert(0))
		require.Equal(t, DefaultMaxIDsPerQuery, cfg.MaxIDsPerQuery)
		require.Equal(t, DefaultMaxRowsPerInsert, cfg.MaxRowsPerInsert)
	})
}
