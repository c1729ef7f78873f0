package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// stateDir is the hidden directory holding epoch state inside a workspace.
const stateDir = ".echowar"

const dbFileName = "echowar.db"

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the state directory if missing and returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// Open opens the workspace database. Foreign keys are enforced and a busy
// timeout covers the resolve sweeps and the webhook poller sharing the file.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	pragmas := strings.Join([]string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}, "&")
	dsn := fmt.Sprintf("file:%s?cache=shared&%s", Path(cfg.Workspace), pragmas)
	return sql.Open("sqlite", dsn)
}

// Path returns the database file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, dbFileName)
}
