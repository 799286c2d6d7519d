package session

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueToken(t *testing.T) {
	tok := IssueToken()

	// 32 random bytes, base64url without padding.
	assert.Len(t, tok, 43)
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err, "token must be URL-safe base64")
	assert.Len(t, raw, tokenBytes)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tk := IssueToken()
		assert.False(t, seen[tk], "tokens must not repeat")
		seen[tk] = true
	}
}

func TestValidateToken(t *testing.T) {
	const goodToken = "token-abcdefghijklmnopqrstuvwxyz0123456789-ok"

	tests := []struct {
		name      string
		sessionID string
		token     string
		stored    string
		expiresAt time.Time
		unknown   bool
		want      bool
	}{
		{
			name:      "matching live token",
			sessionID: "s1",
			token:     goodToken,
			stored:    goodToken,
			expiresAt: time.Now().Add(time.Hour),
			want:      true,
		},
		{
			name:      "mismatched token",
			sessionID: "s1",
			token:     "invalid-token-12345",
			stored:    goodToken,
			expiresAt: time.Now().Add(time.Hour),
			want:      false,
		},
		{
			name:      "expired session",
			sessionID: "s1",
			token:     goodToken,
			stored:    goodToken,
			expiresAt: time.Now().Add(-time.Minute),
			want:      false,
		},
		{
			name:      "unknown session",
			sessionID: "nope",
			token:     goodToken,
			unknown:   true,
			want:      false,
		},
		{
			name:      "empty token",
			sessionID: "s1",
			token:     "",
			want:      false,
		},
		{
			name:      "empty session id",
			sessionID: "",
			token:     goodToken,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB := &MockDB{
				QueryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return &MockRow{
						ScanFunc: func(dest ...any) error {
							if tt.unknown {
								return pgx.ErrNoRows
							}
							*dest[0].(*string) = tt.stored
							*dest[1].(*time.Time) = tt.expiresAt
							return nil
						},
					}
				},
			}
			store := NewStore(mockDB, time.Hour)

			got := store.ValidateToken(context.Background(), tt.sessionID, tt.token)
			assert.Equal(t, tt.want, got)
		})
	}
}
