package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
)

// SetMetadata upserts a key-value pair in the app_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// EnsureSecret returns the random secret stored under key, generating and
// storing one on first use.
func (s *Store) EnsureSecret(key string) (string, error) {
	v, err := s.GetMetadata(key)
	if err != nil || v != "" {
		return v, err
	}
	v, err = generateToken()
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(`INSERT INTO app_metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, key, v)
	if err != nil {
		return "", err
	}
	// Another process may have won the insert.
	return s.GetMetadata(key)
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
