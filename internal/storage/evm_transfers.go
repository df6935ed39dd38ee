package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EVMTransfer is one journaled EVM transfer attempt.
type EVMTransfer struct {
	ID        string    `json:"id"`
	Network   string    `json:"network"`
	ChainID   uint64    `json:"chain_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     string    `json:"value"` // wei
	Data      string    `json:"data,omitempty"`
	TxHash    string    `json:"hash,omitempty"`
	Nonce     *uint64   `json:"nonce,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordEVMTransfer stores an EVM transfer attempt.
func (s *Storage) RecordEVMTransfer(t *EVMTransfer) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	var nonce sql.NullInt64
	if t.Nonce != nil {
		nonce = sql.NullInt64{Int64: int64(*t.Nonce), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO evm_transfers (
			id, network, chain_id, from_address, to_address, value, data,
			tx_hash, nonce, status, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Network, t.ChainID, t.From, t.To, t.Value, nullString(t.Data),
		nullString(t.TxHash), nonce, t.Status, nullString(t.Error), t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record evm transfer: %w", err)
	}
	return nil
}

// ListEVMTransfers returns EVM transfers for a network (all networks when
// empty), newest first.
func (s *Storage) ListEVMTransfers(network string, limit int) ([]*EVMTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, network, chain_id, from_address, to_address, value, data,
			tx_hash, nonce, status, error_message, created_at
		FROM evm_transfers WHERE 1=1
	`
	args := []interface{}{}
	if network != "" {
		query += " AND network = ?"
		args = append(args, network)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evm transfers: %w", err)
	}
	defer rows.Close()

	var out []*EVMTransfer
	for rows.Next() {
		var t EVMTransfer
		var data, hash, errMsg sql.NullString
		var nonce sql.NullInt64
		var createdAt int64

		if err := rows.Scan(
			&t.ID, &t.Network, &t.ChainID, &t.From, &t.To, &t.Value, &data,
			&hash, &nonce, &t.Status, &errMsg, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evm transfer: %w", err)
		}

		t.Data = data.String
		t.TxHash = hash.String
		t.Error = errMsg.String
		if nonce.Valid {
			n := uint64(nonce.Int64)
			t.Nonce = &n
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &t)
	}
	return out, rows.Err()
}
