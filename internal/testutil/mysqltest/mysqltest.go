// Package mysqltest provisions throwaway MySQL/TiDB databases for
// integration tests. Tests skip when no server is configured.
package mysqltest

import (
	"database/sql"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"splitquery-repro/internal/sqlutil"

	"github.com/go-sql-driver/mysql"
)

// TestDB is an isolated database dropped when the test finishes.
type TestDB struct {
	DB           *sql.DB
	DatabaseName string
	DSN          string
}

// Config holds server connection information.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	TLSMode  string
}

// NewTestDB creates a database named after the test and registers its teardown.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	cfg := getTestConfig(t)
	dbName := fmt.Sprintf("sqr_%s_%d", sanitizeName(t.Name()), time.Now().UnixMilli())
	if !isValidDatabaseName(dbName) {
		t.Fatalf("Invalid database name generated: %s", dbName)
	}

	admin := openPinged(t, buildDSN(cfg, ""))
	if _, err := admin.Exec("CREATE DATABASE IF NOT EXISTS " + sqlutil.QuoteIdentifier(dbName)); err != nil {
		_ = admin.Close()
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}
	if err := admin.Close(); err != nil {
		t.Logf("Warning: failed to close database connection: %v", err)
	}

	dsn := buildDSN(cfg, dbName)
	testDB := &TestDB{
		DB:           openPinged(t, dsn),
		DatabaseName: dbName,
		DSN:          dsn,
	}
	t.Cleanup(func() {
		testDB.Teardown(t)
	})
	return testDB
}

// Teardown drops the test database and closes the connection.
func (tdb *TestDB) Teardown(t *testing.T) {
	t.Helper()
	if tdb.DB == nil {
		return
	}
	if isValidDatabaseName(tdb.DatabaseName) {
		if _, err := tdb.DB.Exec("DROP DATABASE IF EXISTS " + sqlutil.QuoteIdentifier(tdb.DatabaseName)); err != nil {
			t.Logf("Warning: Failed to drop test database %s: %v", tdb.DatabaseName, err)
		}
	}
	if err := tdb.DB.Close(); err != nil {
		t.Logf("Warning: failed to close test database connection: %v", err)
	}
}

func openPinged(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	configureTestPool(db)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to ping database: %v", err)
	}
	return db
}

// getTestConfig reads connection info from SQR_TEST_MYSQL_* environment variables.
func getTestConfig(t *testing.T) Config {
	t.Helper()

	cfg := Config{
		Host:     os.Getenv("SQR_TEST_MYSQL_HOST"),
		Port:     os.Getenv("SQR_TEST_MYSQL_PORT"),
		User:     os.Getenv("SQR_TEST_MYSQL_USER"),
		Password: os.Getenv("SQR_TEST_MYSQL_PASSWORD"),
		TLSMode:  os.Getenv("SQR_TEST_MYSQL_TLS_MODE"),
	}
	if cfg.Host == "" || cfg.User == "" {
		t.Skip("MySQL credentials not set. Set SQR_TEST_MYSQL_HOST and SQR_TEST_MYSQL_USER to run integration tests")
	}
	if cfg.Port == "" {
		cfg.Port = "4000"
	}
	return cfg
}

func buildDSN(cfg Config, database string) string {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	dsn.DBName = database
	dsn.ParseTime = true
	dsn.TLSConfig = cfg.TLSMode
	return dsn.FormatDSN()
}

func configureTestPool(db *sql.DB) {
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
}

// sanitizeName makes a test name safe for use as a database name.
func sanitizeName(name string) string {
	var result strings.Builder
	for _, ch := range name {
		if isValidDatabaseChar(ch) {
			result.WriteRune(ch)
		} else {
			result.WriteRune('_')
		}
	}

	// Leave room for the prefix and timestamp within the 64 character limit.
	sanitized := result.String()
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return sanitized
}

func isValidDatabaseName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, ch := range name {
		if !isValidDatabaseChar(ch) {
			return false
		}
	}
	return true
}

func isValidDatabaseChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '_'
}
