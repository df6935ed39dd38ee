package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Broadcast errors
var (
	ErrBroadcastNotFound = errors.New("broadcast not found")
)

// BroadcastStatus is the outcome of handing a transaction to a broadcaster.
type BroadcastStatus string

const (
	BroadcastStatusSent   BroadcastStatus = "broadcast"
	BroadcastStatusFailed BroadcastStatus = "failed"
)

// Broadcast is one journaled broadcast attempt.
type Broadcast struct {
	ID          string          `json:"id"`
	Network     string          `json:"network"`
	Kind        string          `json:"kind"`
	AddressType string          `json:"address_type"`
	Address     string          `json:"address"`
	TxID        string          `json:"txid"`
	RawHex      string          `json:"hex"`
	Fee         uint64          `json:"fee"`
	VirtualSize int64           `json:"vsize"`
	FeeRate     float64         `json:"fee_rate"`
	InputCount  int             `json:"input_count"`
	OutputCount int             `json:"output_count"`
	TotalInput  uint64          `json:"total_input"`
	TotalOutput uint64          `json:"total_output"`
	Change      uint64          `json:"change"`
	Endpoint    string          `json:"endpoint,omitempty"`
	Status      BroadcastStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RecordBroadcast stores a broadcast attempt. An empty ID is assigned a new
// UUID and a zero CreatedAt is set to now.
func (s *Storage) RecordBroadcast(b *Broadcast) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO broadcasts (
			id, network, kind, address_type, address, txid, raw_hex,
			fee, vsize, fee_rate, input_count, output_count,
			total_input, total_output, change, endpoint, status, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.Network, b.Kind, b.AddressType, b.Address, b.TxID, b.RawHex,
		b.Fee, b.VirtualSize, b.FeeRate, b.InputCount, b.OutputCount,
		b.TotalInput, b.TotalOutput, b.Change,
		nullString(b.Endpoint), b.Status, nullString(b.Error),
		b.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record broadcast: %w", err)
	}
	return nil
}

const broadcastColumns = `
	id, network, kind, address_type, address, txid, raw_hex,
	fee, vsize, fee_rate, input_count, output_count,
	total_input, total_output, change, endpoint, status, error_message, created_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBroadcast(row rowScanner) (*Broadcast, error) {
	var b Broadcast
	var endpoint, errMsg sql.NullString
	var createdAt int64

	err := row.Scan(
		&b.ID, &b.Network, &b.Kind, &b.AddressType, &b.Address, &b.TxID, &b.RawHex,
		&b.Fee, &b.VirtualSize, &b.FeeRate, &b.InputCount, &b.OutputCount,
		&b.TotalInput, &b.TotalOutput, &b.Change, &endpoint, &b.Status, &errMsg,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	b.Endpoint = endpoint.String
	b.Error = errMsg.String
	b.CreatedAt = time.Unix(createdAt, 0)
	return &b, nil
}

// GetBroadcast retrieves a broadcast by ID.
func (s *Storage) GetBroadcast(id string) (*Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := scanBroadcast(s.db.QueryRow(`SELECT `+broadcastColumns+` FROM broadcasts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrBroadcastNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcast: %w", err)
	}
	return b, nil
}

// BroadcastFilter contains filter options for listing broadcasts.
type BroadcastFilter struct {
	Network string
	Status  BroadcastStatus
	TxID    string
	Limit   int
	Offset  int
}

// ListBroadcasts returns broadcasts matching the filter, newest first.
func (s *Storage) ListBroadcasts(filter BroadcastFilter) ([]*Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE 1=1`
	args := []interface{}{}

	if filter.Network != "" {
		query += " AND network = ?"
		args = append(args, filter.Network)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.TxID != "" {
		query += " AND txid = ?"
		args = append(args, filter.TxID)
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	defer rows.Close()

	var out []*Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
