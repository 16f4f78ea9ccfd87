package gormstore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteFile = "berth.db"
)

// Open connects to dsn. postgres:// and postgresql:// URLs use pgx; sqlite://
// URLs and bare paths use the pure-Go sqlite driver with a single connection.
func Open(dsn string, gormLogger logger.Interface) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := ResolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}
	cfg := &gorm.Config{Logger: gormLogger}

	var db *gorm.DB
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db, cleanup, driver, nil
}

// ResolveDriver picks the driver for dsn and, for sqlite, the file path.
func ResolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return DriverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(dsn)
	return DriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
