package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestContainsAndIndex(t *testing.T) {
	engines := []string{"memory", "sqlite", "badger"}

	require.True(t, Contains(engines, "sqlite"))
	require.False(t, Contains(engines, "postgres"))
	require.Equal(t, 2, Index(engines, "badger"))
	require.Equal(t, -1, Index(engines, "mysql"))
}

func TestMustBindPFlag(t *testing.T) {
	t.Cleanup(viper.Reset)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("cache-engine", "memory", "")
	MustBindPFlag("cache.engine", flags.Lookup("cache-engine"))
	require.Equal(t, "memory", viper.GetString("cache.engine"))

	require.Panics(t, func() {
		MustBindPFlag("cache.uri", nil)
	})
}

func TestMustBindEnv(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("TEST_CACHE_URI", "file:objects.db")

	MustBindEnv("cache.uri", "TEST_CACHE_URI")
	require.Equal(t, "file:objects.db", viper.GetString("cache.uri"))

	require.Panics(t, func() {
		MustBindEnv()
	})
}

func TestPrepareTempConfigFile(t *testing.T) {
	PrepareTempConfigFile(t, "log:\n  level: debug\n")

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(home, ".objectloader", "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, "log:\n  level: debug\n", string(contents))
}
