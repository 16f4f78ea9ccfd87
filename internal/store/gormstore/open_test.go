package gormstore

import (
	"context"
	"path/filepath"
	"testing"
)

func TestResolveDriver(test *testing.T) {
	test.Parallel()
	directory := test.TempDir()
	testCases := []struct {
		name           string
		dsn            string
		expectedDriver string
		expectedPath   string
	}{
		{name: "postgres", dsn: "postgres://user@localhost/berth", expectedDriver: DriverPostgres},
		{name: "postgresql", dsn: "postgresql://user@localhost/berth", expectedDriver: DriverPostgres},
		{name: "sqlite url", dsn: "sqlite://" + filepath.Join(directory, "a", "berth.db"), expectedDriver: DriverSQLite, expectedPath: filepath.Join(directory, "a", "berth.db")},
		{name: "bare path", dsn: filepath.Join(directory, "b.db"), expectedDriver: DriverSQLite, expectedPath: filepath.Join(directory, "b.db")},
		{name: "memory", dsn: ":memory:", expectedDriver: DriverSQLite, expectedPath: ":memory:"},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			driver, path, err := ResolveDriver(testCase.dsn)
			if err != nil {
				test.Fatalf("resolve: %v", err)
			}
			if driver != testCase.expectedDriver || path != testCase.expectedPath {
				test.Fatalf("got (%s, %s), want (%s, %s)", driver, path, testCase.expectedDriver, testCase.expectedPath)
			}
		})
	}
}

func TestOpenSQLiteAndMigrate(test *testing.T) {
	test.Parallel()
	db, cleanup, driver, err := Open("sqlite://"+filepath.Join(test.TempDir(), "berth.db"), nil)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	test.Cleanup(func() { _ = cleanup() })
	if driver != DriverSQLite {
		test.Fatalf("expected sqlite driver, got %s", driver)
	}
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	if err := New(db).Ping(ctx); err != nil {
		test.Fatalf("ping: %v", err)
	}
}
