package store

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Driver identifiers supported by the verdict store.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	DB *gorm.DB
}

// New creates a verdict store based on the provided configuration.
func New(cfg Config, deps Dependencies) (Store, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverSQLite:
		if deps.DB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewSQLite(deps.DB, cfg)
	case DriverPostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("postgres driver requires database handle")
		}
		return NewPostgres(deps.DB, cfg)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported verdict store driver: %s", driver)
	}
}

// NeedsDatabase reports whether driver reads Dependencies.DB.
func NeedsDatabase(driver string) bool {
	switch strings.ToLower(driver) {
	case DriverSQLite, DriverPostgres:
		return true
	}
	return false
}
