package core

import (
	"fmt"
	"os"

	"haccare/internal/infra/persistence/memory"
	"haccare/internal/infra/persistence/postgres"
	"haccare/internal/infra/persistence/sqlite"
	"haccare/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

// Supported storage drivers.
const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenStore selects a row-store backend using environment variables.
// Defaults to sqlite when unset.
//
//	HACCARE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	HACCARE_SQLITE_PATH: path to sqlite file (default ./haccare.db)
//	HACCARE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenStore() (domain.Store, error) {
	driver := os.Getenv("HACCARE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("HACCARE_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("HACCARE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
