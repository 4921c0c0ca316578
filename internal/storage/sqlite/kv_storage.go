package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/etlplatform/internal/interfaces"
)

// KVStorage implements interfaces.KeyValueStorage.
type KVStorage struct {
	db     *DB
	logger arbor.ILogger
}

func NewKVStorage(db *DB, logger arbor.ILogger) *KVStorage {
	return &KVStorage{db: db, logger: logger}
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.conn.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("key %q: %w", key, interfaces.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return value, nil
}

func (s *KVStorage) GetPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	var pair interfaces.KeyValuePair
	err := s.db.conn.QueryRowContext(ctx, `SELECT key, value, description FROM kv_store WHERE key = ?`, key).
		Scan(&pair.Key, &pair.Value, &pair.Description)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("key %q: %w", key, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key pair %q: %w", key, err)
	}
	return &pair, nil
}

func (s *KVStorage) Set(ctx context.Context, key, value, description string) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, description, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, description = excluded.description, updated_at = excluded.updated_at`,
		key, value, description, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Delete(ctx context.Context, key string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

func (s *KVStorage) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT key, value, description FROM kv_store ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list key/value pairs: %w", err)
	}
	defer rows.Close()

	var result []interfaces.KeyValuePair
	for rows.Next() {
		var pair interfaces.KeyValuePair
		if err := rows.Scan(&pair.Key, &pair.Value, &pair.Description); err != nil {
			return nil, fmt.Errorf("failed to scan key/value pair: %w", err)
		}
		result = append(result, pair)
	}
	return result, rows.Err()
}

func (s *KVStorage) GetAll(ctx context.Context) (map[string]string, error) {
	pairs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		result[pair.Key] = pair.Value
	}
	return result, nil
}
