package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"token-stream-ledger/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(op_id|seq|kind|stream_id)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(opID string, seq int, kind domain.EventKind, streamID uint64) string {
	data := fmt.Sprintf("%s|%d|%s|%d", opID, seq, string(kind), streamID)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
