package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Sanity cap; encoded cursors are far smaller.
const maxTokenLength = 512

// Cursor wraps the backend's opaque relay cursor so the page token format
// stays stable for callers even if the backend representation shifts.
type Cursor struct {
	After string `json:"after,omitempty"`
}

// EncodeToken serialises the cursor into a URL-safe page token. An empty
// cursor yields an empty token, meaning there are no further pages.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.After == "" {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a page token produced by EncodeToken. Tokens that do
// not decode to a non-empty cursor are rejected.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	if len(token) > maxTokenLength {
		return Cursor{}, fmt.Errorf("%w: token too long", ErrInvalidPageToken)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.After == "" {
		return Cursor{}, fmt.Errorf("%w: empty cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}
