package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"time"
)

// 32 bytes = 256 bits of entropy.
const tokenBytes = 32

// IssueToken generates an opaque, URL-safe link token. Tokens carry no
// structure and are never derived from the session id.
func IssueToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// ValidateToken reports whether token is the live link token of the given
// session. It returns false for an unknown session, a mismatched token and
// an expired session alike; callers cannot distinguish the three, which
// keeps session ids non-enumerable.
func (s *Store) ValidateToken(ctx context.Context, sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}

	var stored string
	var expiresAt time.Time
	err := s.db.QueryRow(ctx, `
		SELECT link_token, expires_at
		FROM sessions
		WHERE id = $1
	`, sessionID).Scan(&stored, &expiresAt)
	if err != nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return false
	}
	return time.Now().Before(expiresAt)
}
