package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

const embeddingModelKey = "embedding_model"

// SetMetadata upserts a key-value pair in the store_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO store_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM store_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// UseEmbeddingModel records the embedding model in use. Cached vectors of a
// different model are dropped; the return value reports whether that happened.
func (s *Store) UseEmbeddingModel(name string) (bool, error) {
	prev, err := s.GetMetadata(embeddingModelKey)
	if err != nil {
		return false, fmt.Errorf("read embedding model: %w", err)
	}
	if prev == name {
		return false, nil
	}
	cleared := false
	if prev != "" {
		if _, err := s.db.Exec(`DELETE FROM embeddings`); err != nil {
			return false, fmt.Errorf("clear embeddings: %w", err)
		}
		cleared = true
		slog.Info("embedding model changed, cache cleared", "from", prev, "to", name)
	}
	if err := s.SetMetadata(embeddingModelKey, name); err != nil {
		return cleared, fmt.Errorf("write embedding model: %w", err)
	}
	return cleared, nil
}
