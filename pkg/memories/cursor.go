package memories

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// indexKey is the trailing (created_at, record_id) component shared by every key space.
type indexKey struct {
	CreatedAt int64
	RecordID  string
}

type cursorPayload struct {
	Index     IndexName `json:"i"`
	CreatedAt int64     `json:"t"`
	RecordID  string    `json:"r"`
}

// encodeCursor turns the last key of a page into an opaque resume token.
func encodeCursor(index IndexName, key indexKey) string {
	raw, _ := json.Marshal(cursorPayload{Index: index, CreatedAt: key.CreatedAt, RecordID: key.RecordID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeCursor rejects tokens that are malformed or were minted for another key space.
func decodeCursor(index IndexName, cursor string) (indexKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return indexKey{}, fmt.Errorf("%w: malformed cursor", ErrInvalidQuery)
	}
	var cur cursorPayload
	if err := json.Unmarshal(raw, &cur); err != nil {
		return indexKey{}, fmt.Errorf("%w: malformed cursor", ErrInvalidQuery)
	}
	if cur.Index != index || cur.RecordID == "" {
		return indexKey{}, fmt.Errorf("%w: cursor does not belong to index %s", ErrInvalidQuery, index)
	}
	return indexKey{CreatedAt: cur.CreatedAt, RecordID: cur.RecordID}, nil
}
