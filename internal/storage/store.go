// Package storage defines the unified persistence interface and driver
// names. Concrete backends live in the postgres and sqlite subpackages.
package storage

import (
	"context"

	"github.com/finsight-ai/finsight/internal/audit"
	"github.com/finsight-ai/finsight/internal/session"
)

// Driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store aggregates the persistence surfaces the service needs. All
// backends share the same GORM models.
type Store interface {
	Sessions() session.Store
	Audit() audit.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
	Driver() string
}
