package test

import (
	"context"
	"os"
	"testing"

	"github.com/hrygo/marketsense/internal/profile"
	"github.com/hrygo/marketsense/store"
	"github.com/hrygo/marketsense/store/db"
)

// NewTestingStore opens a migrated store for the driver named by DRIVER
// (sqlite by default, backed by a private in-memory database).
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	profile := getTestingProfile(t)
	dbDriver, err := db.NewDBDriver(profile)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(dbDriver, profile)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	driver := getDriverFromEnv()
	p := &profile.Profile{
		Mode:    "dev",
		Driver:  driver,
		Version: "test",
	}
	switch driver {
	case "postgres":
		p.DSN = GetPostgresDSN(t)
	default:
		p.DSN = ":memory:"
	}
	return p
}

func getDriverFromEnv() string {
	if driver := os.Getenv("DRIVER"); driver != "" {
		return driver
	}
	if os.Getenv("MARKETSENSE_TESTCONTAINERS") == "1" || os.Getenv("POSTGRES_TEST_DSN") != "" {
		return "postgres"
	}
	return "sqlite"
}
