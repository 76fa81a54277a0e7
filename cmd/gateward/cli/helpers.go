package cli

import (
	"os"

	"github.com/spf13/viper"

	"github.com/gateward/gateward/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// GATEWARD_DATA_DIR env var, or ~/.gateward as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("GATEWARD_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.gateward"
}

// openStore opens the configured store backend. SQLite in the data directory
// by default; a postgres DSN under store.dsn switches backends.
func openStore() (*store.Store, error) {
	driver := viper.GetString("store.driver")
	if driver == "" || driver == "sqlite" {
		return store.Open("sqlite", resolveDataDir())
	}
	return store.Open(driver, viper.GetString("store.dsn"))
}
