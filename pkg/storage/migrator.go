package storage

import (
	"context"
	"time"
)

// MigrationProvider migrates the schema of one SQL cache engine.
type MigrationProvider interface {
	// RunMigrations brings the schema to config.TargetVersion, or all the way
	// up when it is zero, and returns the version the database ends at.
	RunMigrations(ctx context.Context, config MigrationConfig) (int64, error)

	// GetCurrentVersion returns the schema version the database is at.
	GetCurrentVersion(ctx context.Context, config MigrationConfig) (int64, error)

	// GetSupportedEngine names the engine, as used in MigrationConfig.Engine.
	GetSupportedEngine() string
}

type MigrationConfig struct {
	Engine        string
	URI           string
	TargetVersion uint
	Timeout       time.Duration
	Verbose       bool
	Username      string
	Password      string
}

// MigratorRegistry maps engine names to their MigrationProvider.
type MigratorRegistry struct {
	providers map[string]MigrationProvider
}

func NewMigratorRegistry(providers ...MigrationProvider) *MigratorRegistry {
	r := &MigratorRegistry{
		providers: make(map[string]MigrationProvider, len(providers)),
	}
	for _, p := range providers {
		r.RegisterProvider(p)
	}
	return r
}

// RegisterProvider registers p under its own engine name, replacing any
// provider registered before it.
func (r *MigratorRegistry) RegisterProvider(p MigrationProvider) {
	r.providers[p.GetSupportedEngine()] = p
}

func (r *MigratorRegistry) GetProvider(engine string) (MigrationProvider, bool) {
	provider, exists := r.providers[engine]
	return provider, exists
}

// GetSupportedEngines returns the registered engine names.
func (r *MigratorRegistry) GetSupportedEngines() []string {
	engines := make([]string, 0, len(r.providers))
	for engine := range r.providers {
		engines = append(engines, engine)
	}
	return engines
}
