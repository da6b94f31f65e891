package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"multipair-engine/internal/domain"
)

// ComputeOpportunityKey computes a deterministic key for an opportunity so that
// replayed opportunities map to the same audit row.
// Formula: SHA256(pair|direction|price|timestamp_ms)
// Returns hex-encoded hash (64 characters).
func ComputeOpportunityKey(
	pair string,
	direction domain.Direction,
	price float64,
	timestampMs int64,
) string {
	data := pair + "|" + string(direction) + "|" +
		strconv.FormatFloat(price, 'f', -1, 64) + "|" +
		strconv.FormatInt(timestampMs, 10)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
