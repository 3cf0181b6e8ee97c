package store

import (
	"time"
)

// RevokeToken records a token ID as unusable until it would have expired.
func (s *Store) RevokeToken(id string, userID int64, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO revoked_tokens (id, user_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, userID, expiresAt,
	)
	return err
}

// IsTokenRevoked reports whether the token ID was revoked.
func (s *Store) IsTokenRevoked(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM revoked_tokens WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// CleanupRevokedTokens drops revocations for tokens that have expired anyway.
func (s *Store) CleanupRevokedTokens() error {
	_, err := s.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now())
	return err
}
