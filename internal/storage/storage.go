// Package storage provides persistent storage using SQLite.
//
// The database is a journal of what this tool sent to the network. It never
// holds mnemonics, WIF strings or EVM private keys.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the journal file created inside the data directory.
const DBFileName = "utxoforge.db"

// Storage provides persistent storage for the daemon and CLI.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Bitcoin transactions handed to a broadcaster
	CREATE TABLE IF NOT EXISTS broadcasts (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		kind TEXT NOT NULL,                  -- merge, split
		address_type TEXT NOT NULL,          -- p2tr, p2wpkh
		address TEXT NOT NULL,               -- signing address
		txid TEXT NOT NULL,
		raw_hex TEXT NOT NULL,
		fee INTEGER NOT NULL,
		vsize INTEGER NOT NULL,
		fee_rate REAL NOT NULL,
		input_count INTEGER NOT NULL,
		output_count INTEGER NOT NULL,
		total_input INTEGER NOT NULL,
		total_output INTEGER NOT NULL,
		change INTEGER NOT NULL DEFAULT 0,
		endpoint TEXT,
		status TEXT NOT NULL,                -- broadcast, failed
		error_message TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_broadcasts_network ON broadcasts(network, created_at);
	CREATE INDEX IF NOT EXISTS idx_broadcasts_txid ON broadcasts(txid);

	-- EVM transfers sent through the transfer helper
	CREATE TABLE IF NOT EXISTS evm_transfers (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,               -- ETH, BSC, ...
		chain_id INTEGER NOT NULL,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL,
		value TEXT NOT NULL,                 -- wei, decimal
		data TEXT,
		tx_hash TEXT,
		nonce INTEGER,
		status TEXT NOT NULL,
		error_message TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evm_transfers_network ON evm_transfers(network, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
